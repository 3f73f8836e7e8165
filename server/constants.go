package server

import (
	"time"

	"github.com/dotside-studios/davi-balance-reader/buildinfo"
)

// mDNS service discovery
var (
	MDNSServiceType = "_balance-reader._tcp"
	MDNSServiceName = buildinfo.DisplayName
	MDNSDomain      = "local."
)

// WebSocket message types pushed to display clients
const (
	WSMessageTypeBalance      = "balance"
	WSMessageTypeAlert        = "alert"
	WSMessageTypeDeviceStatus = "deviceStatus"
)

// HTTP defaults
const (
	DefaultRateLimit      = 120 // requests per minute per IP
	DefaultRequestTimeout = 10 * time.Second
	ShutdownTimeout       = 5 * time.Second
	wsWriteTimeout        = 2 * time.Second
)
