// Package main runs the balance reader: it shows the balance stored on
// MIFARE Classic cards presented to an NFC reader and mirrors the screen to
// WebSocket clients and the system tray.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dotside-studios/davi-balance-reader/buildinfo"
	"github.com/dotside-studios/davi-balance-reader/config"
	"github.com/dotside-studios/davi-balance-reader/nfc"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:    buildinfo.Name,
		Usage:   buildinfo.Description,
		Version: buildinfo.FullVersion(),
		Description: `Reads the stored balance from MIFARE Classic cards.

Configuration comes from .env, the environment and the flags below, in
increasing order of precedence.`,
		Commands: []*cli.Command{
			serveCommand(),
			readCommand(),
			setBalanceCommand(),
			devicesCommand(),
			versionCommand(),
		},
		Flags:          globalFlags(),
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// globalFlags are available to all commands. The environment is read by
// config.Load, so the flags carry no EnvVars and a flag always wins over a
// bad environment value.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "backend",
			Usage: envUsage("Reader backend ("+strings.Join(nfc.Backends(), ", ")+")", config.EnvBackend),
		},
		&cli.StringFlag{
			Name:    "device",
			Aliases: []string{"d"},
			Usage:   envUsage("Reader to open, empty for the first one found", config.EnvDevice),
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   envUsage("Port of the display server", config.EnvPort),
		},
		&cli.StringFlag{
			Name:  "api-secret",
			Usage: envUsage("Secret display clients pass as ?secret=", config.EnvAPISecret),
		},
		&cli.DurationFlag{
			Name:  "poll-interval",
			Usage: envUsage("Delay between reader polls", config.EnvPollInterval),
		},
		&cli.DurationFlag{
			Name:  "presence-window",
			Usage: envUsage("How long a card must be away before it is read again", config.EnvPresenceWindow),
		},
		&cli.IntFlag{
			Name:  "sector",
			Usage: envUsage("Sector holding the balance block", config.EnvSector),
		},
		&cli.IntFlag{
			Name:  "block",
			Usage: envUsage("Absolute index of the balance block", config.EnvBlock),
		},
		&cli.StringFlag{
			Name:  "key",
			Usage: envUsage("Key A of the balance sector, 12 hex digits", config.EnvKey),
		},
		&cli.BoolFlag{
			Name:  "mdns",
			Usage: envUsage("Advertise the display server over mDNS", config.EnvMDNS),
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: envUsage("Log level (trace, debug, info, warn, error)", config.EnvLogLevel),
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: envUsage("Log format (text, json)", config.EnvLogFormat),
		},
		&cli.BoolFlag{
			Name:    "json",
			Aliases: []string{"j"},
			Usage:   "Output in JSON format",
		},
	}
}

func envUsage(usage, env string) string {
	return fmt.Sprintf("%s [$%s]", usage, env)
}

// loadConfig reads the configuration with the flags set on the command line
// applied over the environment, then sets up logging.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(flagOverrides(c)...)
	if err != nil {
		return nil, err
	}
	if err := setupLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
		return nil, err
	}
	return cfg, nil
}

func flagOverrides(c *cli.Context) []config.Override {
	var overrides []config.Override
	set := func(flag, env string, apply func(*config.Config) error) {
		if c.IsSet(flag) {
			overrides = append(overrides, config.Override{Env: env, Apply: apply})
		}
	}

	set("backend", config.EnvBackend, func(cfg *config.Config) error {
		cfg.Backend = c.String("backend")
		return nil
	})
	set("device", config.EnvDevice, func(cfg *config.Config) error {
		cfg.Device = c.String("device")
		return nil
	})
	set("port", config.EnvPort, func(cfg *config.Config) error {
		cfg.Port = c.Int("port")
		return nil
	})
	set("api-secret", config.EnvAPISecret, func(cfg *config.Config) error {
		cfg.APISecret = c.String("api-secret")
		return nil
	})
	set("poll-interval", config.EnvPollInterval, func(cfg *config.Config) error {
		cfg.PollInterval = c.Duration("poll-interval")
		return nil
	})
	set("presence-window", config.EnvPresenceWindow, func(cfg *config.Config) error {
		cfg.PresenceWindow = c.Duration("presence-window")
		return nil
	})
	set("sector", config.EnvSector, func(cfg *config.Config) error {
		cfg.Sector = c.Int("sector")
		return nil
	})
	set("block", config.EnvBlock, func(cfg *config.Config) error {
		cfg.Block = c.Int("block")
		return nil
	})
	set("key", config.EnvKey, func(cfg *config.Config) error {
		key, err := config.ParseKey(c.String("key"))
		if err != nil {
			return fmt.Errorf("--key: %w", err)
		}
		cfg.Key = key
		return nil
	})
	set("mdns", config.EnvMDNS, func(cfg *config.Config) error {
		cfg.MDNS = c.Bool("mdns")
		return nil
	})
	set("log-level", config.EnvLogLevel, func(cfg *config.Config) error {
		cfg.LogLevel = c.String("log-level")
		return nil
	})
	set("log-format", config.EnvLogFormat, func(cfg *config.Config) error {
		cfg.LogFormat = c.String("log-format")
		return nil
	})
	return overrides
}

func setupLogging(level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)

	if format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}
