// Package server exposes the balance screen over HTTP and WebSocket so other
// devices on the network can mirror it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dotside-studios/davi-balance-reader/balance"
	"github.com/dotside-studios/davi-balance-reader/buildinfo"
	"github.com/dotside-studios/davi-balance-reader/metrics"
	"github.com/dotside-studios/davi-balance-reader/nfc"
	"github.com/dotside-studios/davi-balance-reader/screen"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Config holds the server configuration
type Config struct {
	Port      int
	APISecret string // Optional secret required on /ws and /api/v1/balance
	MDNS      bool
	RateLimit int // requests per minute per IP

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer // served on /metrics, DefaultGatherer when nil
}

// Server serves the balance screen. It is a screen.Display: every update is
// kept for HTTP readers and pushed to connected WebSocket clients.
type Server struct {
	config     Config
	httpServer *http.Server
	mdnsServer *zeroconf.Server
	log        *log.Entry

	screen screen.StateDisplay

	statusMu sync.RWMutex
	status   nfc.DeviceStatus

	clients    map[*client]bool
	clientsMux sync.RWMutex
	upgrader   websocket.Upgrader
}

// New creates a new server instance
func New(config Config) *Server {
	if config.RateLimit <= 0 {
		config.RateLimit = DefaultRateLimit
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		config:  config,
		log:     log.WithField("component", "server"),
		status:  nfc.DeviceStatus{Message: "Not connected"},
		clients: make(map[*client]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
	}
}

// SetBalance shows res and pushes it to every client.
func (s *Server) SetBalance(res *balance.Result) {
	s.screen.SetBalance(res)
	s.broadcast(&WebsocketMessage{Type: WSMessageTypeBalance, Payload: newBalancePayload(res)})
}

// ShowAlert shows alert and pushes it to every client.
func (s *Server) ShowAlert(alert screen.Alert) {
	s.screen.ShowAlert(alert)
	s.broadcast(&WebsocketMessage{Type: WSMessageTypeAlert, Payload: newAlertPayload(alert)})
}

// BroadcastDeviceStatus records the reader status and pushes it to every
// client. It matches the nfc.Dispatcher status listener signature.
func (s *Server) BroadcastDeviceStatus(status nfc.DeviceStatus) {
	s.statusMu.Lock()
	s.status = status
	s.statusMu.Unlock()
	s.broadcast(&WebsocketMessage{Type: WSMessageTypeDeviceStatus, Payload: status})
}

// DeviceStatus returns the last reader status received.
func (s *Server) DeviceStatus() nfc.DeviceStatus {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// Handler builds the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}).Handler)
	r.Use(httprate.LimitByIP(s.config.RateLimit, time.Minute))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(DefaultRequestTimeout))

		r.With(metrics.HTTPMetricsMiddleware(s.config.Metrics, "/api/v1/health")).
			Get("/health", s.handleHealthCheck)
		r.With(s.requireSecret, metrics.HTTPMetricsMiddleware(s.config.Metrics, "/api/v1/balance")).
			Get("/balance", s.handleBalance)
	})
	r.With(s.requireSecret).Get("/ws", s.handleWebSocket)
	r.Handle("/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s %s running", buildinfo.DisplayName, buildinfo.FullVersion())
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.config.Port, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultRequestTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("Listening on %s", ln.Addr())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if s.config.MDNS {
		if err := s.startMDNS(); err != nil {
			s.log.WithError(err).Warn("mDNS registration failed, auto-discovery disabled")
		}
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.stop()
		return fmt.Errorf("http server: %w", err)
	}

	s.stop()
	return nil
}

func (s *Server) stop() {
	if s.mdnsServer != nil {
		s.mdnsServer.Shutdown()
		s.mdnsServer = nil
		s.log.Info("mDNS service stopped")
	}

	s.closeClients()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("Server shutdown error")
		}
		s.httpServer = nil
	}
}

// startMDNS advertises the display server on the local network.
func (s *Server) startMDNS() error {
	txtRecords := []string{
		"version=" + buildinfo.Version,
		"protocol=websocket",
		"path=/ws",
		fmt.Sprintf("secret=%t", s.config.APISecret != ""),
	}

	server, err := zeroconf.Register(MDNSServiceName, MDNSServiceType, MDNSDomain, s.config.Port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	s.mdnsServer = server
	s.log.Infof("mDNS service registered: %s (%s) on port %d", MDNSServiceName, MDNSServiceType, s.config.Port)
	return nil
}

// requireSecret rejects requests without the configured ?secret=.
func (s *Server) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.APISecret != "" && r.URL.Query().Get("secret") != s.config.APISecret {
			s.log.WithField("remote", r.RemoteAddr).Warn("Request rejected: invalid API secret")
			http.Error(w, "Unauthorized: Invalid API secret", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealthCheck provides a health check endpoint (GET /api/v1/health)
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":    "ok",
		"version":   buildinfo.FullVersion(),
		"device":    s.DeviceStatus(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleBalance returns the current screen (GET /api/v1/balance)
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.snapshot())
}

// Snapshot is the screen content served on /api/v1/balance.
type Snapshot struct {
	Balance *BalancePayload  `json:"balance"`
	Alert   *AlertPayload    `json:"alert"`
	Device  nfc.DeviceStatus `json:"device"`
}

func (s *Server) snapshot() Snapshot {
	state := s.screen.State()
	snap := Snapshot{Device: s.DeviceStatus()}
	if state.Balance != nil {
		p := newBalancePayload(state.Balance)
		snap.Balance = &p
	}
	if state.Alert != nil {
		p := newAlertPayload(*state.Alert)
		snap.Alert = &p
	}
	return snap
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// requestLogger logs one line per request through logrus.
func requestLogger(entry *log.Entry) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				entry.WithFields(log.Fields{
					"method":     r.Method,
					"uri":        r.RequestURI,
					"remote":     r.RemoteAddr,
					"status":     ww.Status(),
					"duration":   time.Since(start),
					"request_id": middleware.GetReqID(r.Context()),
				}).Debug("HTTP request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
