package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dotside-studios/davi-balance-reader/balance"
	"github.com/dotside-studios/davi-balance-reader/buildinfo"
	"github.com/dotside-studios/davi-balance-reader/config"
	"github.com/dotside-studios/davi-balance-reader/metrics"
	"github.com/dotside-studios/davi-balance-reader/nfc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Show the balance of every card presented to the reader",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "tray",
				Usage: "Show the balance screen in the system tray",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			if c.Bool("tray") {
				return runTray(cfg)
			}

			agent, err := NewAgent(cfg, prometheus.NewRegistry())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := agent.Run(ctx); err != nil {
				return err
			}
			log.Info("Shutdown signal received, stopped")
			return nil
		},
	}
}

func readCommand() *cli.Command {
	return &cli.Command{
		Name:  "read",
		Usage: "Wait for a card and print its balance",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for a card",
				Value: 30 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			manager, err := nfc.NewManager(cfg.Backend)
			if err != nil {
				return err
			}
			reader := newBalanceReader(cfg, metrics.NewMetrics(prometheus.NewRegistry()))

			res, err := withCard(c.Context, manager, cfg, c.Duration("timeout"), func(card nfc.ClassicCard) (*balance.Result, error) {
				return reader.Read(card)
			})
			if err != nil {
				return err
			}
			return printResult(c, res)
		},
	}
}

func setBalanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "set-balance",
		Usage:     "Write a new balance to the next card presented",
		ArgsUsage: "<amount>",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for a card",
				Value: 30 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("set-balance takes exactly one amount, e.g. 05.50", 2)
			}
			amount, err := decimal.NewFromString(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", c.Args().First(), err)
			}
			if _, err := balance.FormatAmount(amount); err != nil {
				return err
			}

			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			manager, err := nfc.NewManager(cfg.Backend)
			if err != nil {
				return err
			}
			reader := newBalanceReader(cfg, metrics.NewMetrics(prometheus.NewRegistry()))

			res, err := withCard(c.Context, manager, cfg, c.Duration("timeout"), func(card nfc.ClassicCard) (*balance.Result, error) {
				return reader.Write(card, amount)
			})
			if err != nil {
				return err
			}
			if err := balance.Verify(res, amount); err != nil {
				return err
			}
			return printResult(c, res)
		},
	}
}

func devicesCommand() *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "List the readers of the configured backend",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			manager, err := nfc.NewManager(cfg.Backend)
			if err != nil {
				return err
			}
			devices, err := manager.ListDevices()
			if err != nil {
				return fmt.Errorf("list %s devices: %w", cfg.Backend, err)
			}

			if c.Bool("json") {
				return json.NewEncoder(os.Stdout).Encode(devices)
			}
			if len(devices) == 0 {
				fmt.Printf("No %s readers found\n", cfg.Backend)
				return nil
			}
			for _, d := range devices {
				fmt.Println(d)
			}
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Print(buildinfo.BuildInfo())
			return nil
		},
	}
}

type cardResult struct {
	res *balance.Result
	err error
}

// withCard runs fn on the first MIFARE Classic card presented within timeout.
// fn runs on the dispatcher's poll goroutine.
func withCard(ctx context.Context, manager nfc.Manager, cfg *config.Config, timeout time.Duration, fn func(nfc.ClassicCard) (*balance.Result, error)) (*balance.Result, error) {
	dispatcher, err := nfc.NewDispatcher(manager, cfg.PresenceWindow,
		nfc.WithDevicePath(cfg.Device),
		nfc.WithPollInterval(cfg.PollInterval),
	)
	if err != nil {
		return nil, err
	}
	defer dispatcher.Close()

	results := make(chan cardResult, 1)
	err = dispatcher.EnableForegroundDispatch(nfc.IntentHandlerFunc(func(intent nfc.Intent) {
		if intent.Action != nfc.ActionTechDiscovered {
			log.WithField("uid", intent.UID).Warn("Not a MIFARE Classic card, waiting for another")
			return
		}
		res, err := fn(intent.Card)
		select {
		case results <- cardResult{res, err}:
		default:
			// A result is already waiting to be collected.
		}
	}))
	if err != nil {
		return nil, err
	}
	defer dispatcher.DisableForegroundDispatch()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Info("Present a card to the reader")
	select {
	case r := <-results:
		return r.res, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			status := dispatcher.Status()
			return nil, fmt.Errorf("no card presented within %s (%s)", timeout, status.Message)
		}
		return nil, ctx.Err()
	}
}

func printResult(c *cli.Context, res *balance.Result) error {
	if c.Bool("json") {
		out := map[string]any{
			"scanId":   res.ID,
			"uid":      res.UID,
			"balance":  res.Balance,
			"blockHex": balance.EncodeHex(res.Block),
			"readAt":   res.ReadAt.Format(time.RFC3339),
		}
		if res.Amount.Valid {
			out["amount"] = res.Amount.Decimal.StringFixed(2)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("Card:    %s\n", res.UID)
	fmt.Printf("Balance: %s\n", res.Balance)
	return nil
}
