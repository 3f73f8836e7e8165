package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dotside-studios/davi-balance-reader/nfc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inTempDir runs the test from an empty directory so no .env is picked up.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	inTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "libnfc", cfg.Backend)
	assert.Empty(t, cfg.Device)
	assert.Equal(t, 18080, cfg.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, time.Second, cfg.PresenceWindow)
	assert.Equal(t, 1, cfg.Sector)
	assert.Equal(t, 4, cfg.Block)
	assert.Equal(t, nfc.KeyNFCForum, cfg.Key)
	assert.True(t, cfg.MDNS)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoad_FromEnvironment(t *testing.T) {
	inTempDir(t)
	t.Setenv(EnvBackend, "pcsc")
	t.Setenv(EnvDevice, "ACS ACR122U PICC Interface 00 00")
	t.Setenv(EnvPort, "9000")
	t.Setenv(EnvAPISecret, "s3cret")
	t.Setenv(EnvPollInterval, "100ms")
	t.Setenv(EnvSector, "2")
	t.Setenv(EnvBlock, "9")
	t.Setenv(EnvKey, "ffffffffffff")
	t.Setenv(EnvMDNS, "false")
	t.Setenv(EnvLogFormat, "json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "pcsc", cfg.Backend)
	assert.Equal(t, "ACS ACR122U PICC Interface 00 00", cfg.Device)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "s3cret", cfg.APISecret)
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 2, cfg.Sector)
	assert.Equal(t, 9, cfg.Block)
	assert.Equal(t, [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, cfg.Key)
	assert.False(t, cfg.MDNS)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("BALANCE_READER_BACKEND=rc522\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv(EnvBackend) })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "rc522", cfg.Backend)
}

func TestLoad_CollectsAllErrors(t *testing.T) {
	inTempDir(t)
	t.Setenv(EnvPort, "http")
	t.Setenv(EnvPollInterval, "soon")
	t.Setenv(EnvKey, "D3F7")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "BALANCE_READER_PORT: invalid integer")
	assert.Contains(t, err.Error(), "invalid duration")
	assert.Contains(t, err.Error(), "key must be 12 hex digits")
}

func TestLoad_OverridesReplaceEnvironment(t *testing.T) {
	inTempDir(t)
	t.Setenv(EnvPort, "http")
	t.Setenv(EnvPollInterval, "soon")

	port := Override{Env: EnvPort, Apply: func(c *Config) error {
		c.Port = 9000
		return nil
	}}
	_, err := Load(port)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), EnvPort)
	assert.Contains(t, err.Error(), "invalid duration")

	poll := Override{Env: EnvPollInterval, Apply: func(c *Config) error {
		c.PollInterval = 100 * time.Millisecond
		return nil
	}}
	cfg, err := Load(port, poll)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval)
}

func TestLoad_OverrideErrorsAndValidation(t *testing.T) {
	inTempDir(t)

	_, err := Load(Override{Env: EnvKey, Apply: func(c *Config) error {
		return errors.New("--key: key must be 12 hex digits, got 4")
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--key")

	_, err = Load(Override{Env: EnvPort, Apply: func(c *Config) error {
		c.Port = 70000
		return nil
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Port must be between")
}

func validConfig() *Config {
	return &Config{
		Backend:        "libnfc",
		PollInterval:   250 * time.Millisecond,
		PresenceWindow: time.Second,
		Sector:         1,
		Block:          4,
		Key:            nfc.KeyNFCForum,
		Port:           18080,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "unknown backend", mutate: func(c *Config) { c.Backend = "usb" }, wantErr: "Backend must be one of"},
		{name: "port out of range", mutate: func(c *Config) { c.Port = 70000 }, wantErr: "Port must be between"},
		{name: "poll too fast", mutate: func(c *Config) { c.PollInterval = time.Millisecond }, wantErr: "PollInterval must be at least"},
		{name: "window shorter than poll", mutate: func(c *Config) { c.PresenceWindow = 100 * time.Millisecond }, wantErr: "PresenceWindow"},
		{name: "block outside sector", mutate: func(c *Config) { c.Block = 8 }, wantErr: "not in sector 1"},
		{name: "trailer block", mutate: func(c *Config) { c.Block = 7 }, wantErr: "manufacturer data or keys"},
		{name: "manufacturer block", mutate: func(c *Config) { c.Sector, c.Block = 0, 0 }, wantErr: "manufacturer data or keys"},
		{name: "bad sector", mutate: func(c *Config) { c.Sector = 40 }, wantErr: "Sector must be between"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: "LogLevel"},
		{name: "bad log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: "LogFormat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		in      string
		want    [6]byte
		wantErr bool
	}{
		{in: "D3F7D3F7D3F7", want: nfc.KeyNFCForum},
		{in: "a0:a1:a2:a3:a4:a5", want: [6]byte{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5}},
		{in: "FFFFFFFFFF", wantErr: true},
		{in: "GGFFFFFFFFFF", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKey(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
