// Package config loads the reader configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dotside-studios/davi-balance-reader/balance"
	"github.com/dotside-studios/davi-balance-reader/nfc"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Environment variable names.
const (
	EnvBackend        = "BALANCE_READER_BACKEND"
	EnvDevice         = "BALANCE_READER_DEVICE"
	EnvPort           = "BALANCE_READER_PORT"
	EnvAPISecret      = "BALANCE_READER_API_SECRET"
	EnvPollInterval   = "BALANCE_READER_POLL_INTERVAL"
	EnvPresenceWindow = "BALANCE_READER_PRESENCE_WINDOW"
	EnvSector         = "BALANCE_READER_SECTOR"
	EnvBlock          = "BALANCE_READER_BLOCK"
	EnvKey            = "BALANCE_READER_KEY"
	EnvMDNS           = "BALANCE_READER_MDNS"
	EnvLogLevel       = "LOG_LEVEL"
	EnvLogFormat      = "LOG_FORMAT"
)

// DefaultPort is the HTTP port of the display server.
const DefaultPort = 18080

// Config holds all reader configuration. Load validates it at startup so a
// bad value stops the process before the reader is opened.
type Config struct {
	// Reader
	Backend        string
	Device         string
	PollInterval   time.Duration
	PresenceWindow time.Duration

	// Balance record location
	Sector int
	Block  int
	Key    [6]byte

	// Server
	Port      int
	APISecret string
	MDNS      bool

	// Logging
	LogLevel  string
	LogFormat string
}

// Override replaces the value read from environment variable Env. Overrides
// run after the environment is read, so a bad environment value they replace
// is not reported.
type Override struct {
	Env   string
	Apply func(*Config) error
}

// Load reads .env when present, then the environment, applies overrides and
// validates the result. Every invalid value is reported, not only the first.
func Load(overrides ...Override) (*Config, error) {
	if err := godotenv.Load("./.env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	errs := make(map[string]error)
	collect := func(env string, err error) {
		if err != nil {
			errs[env] = err
		}
	}

	cfg.Backend = getEnvOrDefault(EnvBackend, nfc.BackendLibNFC)
	cfg.Device = os.Getenv(EnvDevice)
	cfg.APISecret = os.Getenv(EnvAPISecret)
	cfg.LogLevel = getEnvOrDefault(EnvLogLevel, "info")
	cfg.LogFormat = getEnvOrDefault(EnvLogFormat, "text")

	var err error
	cfg.Port, err = parseInt(EnvPort, DefaultPort)
	collect(EnvPort, err)
	cfg.PollInterval, err = parseDuration(EnvPollInterval, nfc.DefaultPollInterval.String())
	collect(EnvPollInterval, err)
	cfg.PresenceWindow, err = parseDuration(EnvPresenceWindow, nfc.DefaultPresenceWindow.String())
	collect(EnvPresenceWindow, err)
	cfg.Sector, err = parseInt(EnvSector, balance.DefaultSector)
	collect(EnvSector, err)
	cfg.Block, err = parseInt(EnvBlock, balance.DefaultBlock)
	collect(EnvBlock, err)
	cfg.MDNS, err = parseBool(EnvMDNS, true)
	collect(EnvMDNS, err)
	cfg.Key = nfc.KeyNFCForum
	if key := os.Getenv(EnvKey); key != "" {
		if cfg.Key, err = ParseKey(key); err != nil {
			collect(EnvKey, fmt.Errorf("%s: %w", EnvKey, err))
		}
	}

	for _, o := range overrides {
		delete(errs, o.Env)
		collect(o.Env, o.Apply(cfg))
	}

	if len(errs) > 0 {
		envs := slices.Sorted(maps.Keys(errs))
		list := make([]error, 0, len(envs))
		for _, env := range envs {
			list = append(list, errs[env])
		}
		return nil, fmt.Errorf("configuration validation failed: %v", list)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains(nfc.Backends(), c.Backend) {
		errs = append(errs, fmt.Errorf("Backend must be one of %s, got %q", strings.Join(nfc.Backends(), ", "), c.Backend))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("Port must be between 1 and 65535, got %d", c.Port))
	}
	if c.PollInterval < 10*time.Millisecond {
		errs = append(errs, fmt.Errorf("PollInterval must be at least 10ms"))
	}
	if c.PresenceWindow < c.PollInterval {
		errs = append(errs, fmt.Errorf("PresenceWindow (%v) cannot be shorter than PollInterval (%v)", c.PresenceWindow, c.PollInterval))
	}
	if c.Sector < 0 || c.Sector > 39 {
		errs = append(errs, fmt.Errorf("Sector must be between 0 and 39, got %d", c.Sector))
	} else if nfc.SectorOfBlock(c.Block) != c.Sector {
		errs = append(errs, fmt.Errorf("Block %d is not in sector %d", c.Block, c.Sector))
	}
	if c.Block == 0 || nfc.IsSectorTrailer(c.Block) {
		errs = append(errs, fmt.Errorf("Block %d holds manufacturer data or keys", c.Block))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LogLevel: %w", err))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LogFormat must be text or json, got %q", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}
	return nil
}

// ParseKey parses a 6-byte MIFARE key written as 12 hex digits.
func ParseKey(s string) ([6]byte, error) {
	var key [6]byte
	s = strings.ReplaceAll(strings.TrimSpace(s), ":", "")
	if len(s) != 2*len(key) {
		return key, fmt.Errorf("key must be %d hex digits, got %d", 2*len(key), len(s))
	}
	text, err := balance.DecodeHexToText(s)
	if err != nil {
		return key, err
	}
	copy(key[:], text)
	return key, nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}
