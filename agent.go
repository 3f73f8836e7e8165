package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dotside-studios/davi-balance-reader/balance"
	"github.com/dotside-studios/davi-balance-reader/config"
	"github.com/dotside-studios/davi-balance-reader/metrics"
	"github.com/dotside-studios/davi-balance-reader/nfc"
	"github.com/dotside-studios/davi-balance-reader/screen"
	"github.com/dotside-studios/davi-balance-reader/server"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// Agent wires the card reader, the balance screen and the display server.
type Agent struct {
	Config  *config.Config
	Manager nfc.Manager
	Metrics *metrics.Metrics
	Server  *server.Server
	Logger  *log.Entry

	displays screen.Displays

	mu         sync.Mutex
	dispatcher *nfc.Dispatcher
	controller *screen.Controller
	device     string
	running    bool

	statusMu sync.Mutex
	onStatus func(nfc.DeviceStatus)
}

// NewAgent builds an agent from cfg. Extra displays receive every screen
// update next to the log and the display server.
func NewAgent(cfg *config.Config, registry *prometheus.Registry, extra ...screen.Display) (*Agent, error) {
	manager, err := nfc.NewManager(cfg.Backend)
	if err != nil {
		return nil, err
	}

	m := metrics.NewMetrics(registry)
	srv := server.New(server.Config{
		Port:      cfg.Port,
		APISecret: cfg.APISecret,
		MDNS:      cfg.MDNS,
		Metrics:   m,
		Gatherer:  registry,
	})

	displays := screen.Displays{screen.LogDisplay{Log: log.WithField("component", "display")}, srv}
	displays = append(displays, extra...)

	return &Agent{
		Config:   cfg,
		Manager:  manager,
		Metrics:  m,
		Server:   srv,
		Logger:   log.WithField("component", "agent"),
		displays: displays,
		device:   cfg.Device,
	}, nil
}

// OnDeviceStatus registers an extra listener for reader status changes.
func (a *Agent) OnDeviceStatus(fn func(nfc.DeviceStatus)) {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	a.onStatus = fn
}

func (a *Agent) deviceStatusChanged(status nfc.DeviceStatus) {
	a.Server.BroadcastDeviceStatus(status)
	a.Metrics.SetDeviceConnected(status.Connected)

	a.statusMu.Lock()
	fn := a.onStatus
	a.statusMu.Unlock()
	if fn != nil {
		fn(status)
	}
}

// Start opens the reader and resumes the balance screen.
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return errors.New("agent is already running")
	}

	dispatcher, err := nfc.NewDispatcher(a.Manager, a.Config.PresenceWindow,
		nfc.WithDevicePath(a.device),
		nfc.WithPollInterval(a.Config.PollInterval),
		nfc.WithStatusListener(a.deviceStatusChanged),
	)
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}

	controller := screen.NewController(
		instrumentedDispatcher{Dispatcher: dispatcher, metrics: a.Metrics},
		newBalanceReader(a.Config, a.Metrics),
		a.displays,
	)
	if err := controller.OnResume(); err != nil {
		dispatcher.Close()
		return err
	}

	a.dispatcher = dispatcher
	a.controller = controller
	a.running = true
	a.Logger.WithFields(log.Fields{"backend": a.Config.Backend, "device": a.device}).Info("Agent started")
	return nil
}

// Stop pauses the balance screen and releases the reader.
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		a.Logger.Debug("Agent is not running")
		return
	}

	a.controller.OnPause()
	if err := a.dispatcher.Close(); err != nil {
		a.Logger.WithError(err).Warn("Failed to close tag cache")
	}
	a.dispatcher = nil
	a.controller = nil
	a.running = false
	a.Logger.Info("Agent stopped")
}

// Running reports whether the screen is receiving cards.
func (a *Agent) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Device returns the selected reader, empty for the first one found.
func (a *Agent) Device() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.device
}

// SwitchDevice selects another reader, restarting the screen if it runs.
func (a *Agent) SwitchDevice(device string) error {
	a.mu.Lock()
	wasRunning := a.running
	a.device = device
	a.mu.Unlock()

	if !wasRunning {
		return nil
	}
	a.Stop()
	return a.Start()
}

// Balance returns the last balance shown, or nil.
func (a *Agent) Balance() *balance.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.controller == nil {
		return nil
	}
	return a.controller.Balance()
}

// Run starts the agent and serves the display server until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return err
	}
	defer a.Stop()

	return a.Server.Run(ctx)
}

func newBalanceReader(cfg *config.Config, rec balance.Recorder) *balance.Reader {
	return balance.NewReader(
		balance.WithSector(cfg.Sector),
		balance.WithBlock(cfg.Block),
		balance.WithKey(cfg.Key),
		balance.WithRecorder(rec),
	)
}

// instrumentedDispatcher counts every intent it delivers.
type instrumentedDispatcher struct {
	*nfc.Dispatcher
	metrics *metrics.Metrics
}

func (d instrumentedDispatcher) EnableForegroundDispatch(handler nfc.IntentHandler) error {
	if handler == nil {
		return d.Dispatcher.EnableForegroundDispatch(nil)
	}
	return d.Dispatcher.EnableForegroundDispatch(nfc.IntentHandlerFunc(func(intent nfc.Intent) {
		d.metrics.RecordIntent(intent.Action)
		handler.OnNewIntent(intent)
	}))
}
