package main

import (
	"context"
	_ "embed"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"fyne.io/systray"
	"github.com/dotside-studios/davi-balance-reader/balance"
	"github.com/dotside-studios/davi-balance-reader/buildinfo"
	"github.com/dotside-studios/davi-balance-reader/config"
	"github.com/dotside-studios/davi-balance-reader/nfc"
	"github.com/dotside-studios/davi-balance-reader/screen"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

var (
	//go:embed icons/idle.png
	iconData []byte
	//go:embed icons/connected.png
	iconDataConnected []byte
	//go:embed icons/error.png
	iconDataError []byte
)

// getLocalIPs returns a list of local IP addresses (excluding loopback)
func getLocalIPs() []string {
	var ips []string
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ips
	}

	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				ips = append(ips, ipNet.IP.String())
			}
		}
	}
	return ips
}

// trayDisplay shows the balance screen in the system tray menu. Updates that
// arrive before the menu exists are kept and applied once it is built.
type trayDisplay struct {
	mu      sync.Mutex
	ready   bool
	balance *balance.Result
	alert   *screen.Alert

	mBalance *systray.MenuItem
	mCardUID *systray.MenuItem
	mAlert   *systray.MenuItem
}

func (t *trayDisplay) SetBalance(res *balance.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balance = res
	t.alert = nil
	t.render()
}

func (t *trayDisplay) ShowAlert(alert screen.Alert) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alert = &alert
	t.render()
}

func (t *trayDisplay) attach(mBalance, mCardUID, mAlert *systray.MenuItem) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mBalance, t.mCardUID, t.mAlert = mBalance, mCardUID, mAlert
	t.ready = true
	t.render()
}

// render must be called with mu held.
func (t *trayDisplay) render() {
	if !t.ready {
		return
	}

	if t.balance == nil {
		t.mBalance.SetTitle("Balance: -")
		t.mCardUID.SetTitle("Card UID: None")
		systray.SetTitle("")
	} else {
		t.mBalance.SetTitle("Balance: " + t.balance.Balance)
		t.mCardUID.SetTitle("Card UID: " + t.balance.UID)
		systray.SetTitle(t.balance.Balance)
	}

	if t.alert == nil {
		t.mAlert.Hide()
		return
	}
	t.mAlert.SetTitle(fmt.Sprintf("%s (%s)", t.alert.Message, t.alert.DismissLabel))
	t.mAlert.Show()
}

func (t *trayDisplay) dismiss() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alert = nil
	t.render()
}

// SystrayApp manages the system tray interface of the balance reader
type SystrayApp struct {
	agent   *Agent
	display *trayDisplay
	cancel  context.CancelFunc

	// Menu items
	mStatus     *systray.MenuItem
	mConnection *systray.MenuItem
	mURL        *systray.MenuItem
	mCopyURL    *systray.MenuItem
	mStart      *systray.MenuItem
	mStop       *systray.MenuItem
	mDeviceMenu *systray.MenuItem

	devicesMu       sync.Mutex
	deviceMenuItems map[string]*systray.MenuItem
}

// runTray runs the agent behind a system tray menu until Quit or a signal.
func runTray(cfg *config.Config) error {
	display := &trayDisplay{}
	agent, err := NewAgent(cfg, prometheus.NewRegistry(), display)
	if err != nil {
		return err
	}

	app := &SystrayApp{
		agent:           agent,
		display:         display,
		deviceMenuItems: make(map[string]*systray.MenuItem),
	}
	agent.OnDeviceStatus(app.updateConnection)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		systray.Quit()
	}()

	app.Run()
	return nil
}

// Run starts the systray application
func (s *SystrayApp) Run() {
	systray.Run(s.onReady, s.onExit)
}

func (s *SystrayApp) onReady() {
	s.setupUI()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		if err := s.agent.Server.Run(ctx); err != nil {
			log.WithError(err).Error("Display server stopped")
			s.mURL.SetTitle("Server: " + err.Error())
		}
	}()

	go s.startAgent()
}

func (s *SystrayApp) onExit() {
	if s.cancel != nil {
		s.cancel()
	}
	s.agent.Stop()
}

// setupUI initializes all menu items
func (s *SystrayApp) setupUI() {
	systray.SetIcon(iconData)
	systray.SetTooltip(buildinfo.DisplayName)

	s.mStatus = systray.AddMenuItem("Starting...", "Reader status")
	s.mStatus.Disable()
	s.mConnection = systray.AddMenuItem("Reader: Not connected", "Reader connection")
	s.mConnection.Disable()

	systray.AddSeparator()

	mBalance := systray.AddMenuItem("Balance: -", "Balance of the last card")
	mBalance.Disable()
	mCardUID := systray.AddMenuItem("Card UID: None", "UID of the last card")
	mCardUID.Disable()
	mAlert := systray.AddMenuItem("", "Click to dismiss")
	mAlert.Hide()
	s.display.attach(mBalance, mCardUID, mAlert)

	systray.AddSeparator()

	s.mURL = systray.AddMenuItem("Display: "+s.displayURL(), "WebSocket display URL")
	s.mURL.Disable()
	s.mCopyURL = systray.AddMenuItem("  Copy Display URL", "Copy the display URL to the clipboard")

	systray.AddSeparator()

	s.mDeviceMenu = systray.AddMenuItem("Device", "Select NFC reader")
	mRefreshDevices := s.mDeviceMenu.AddSubMenuItem("Refresh Devices", "Refresh device list")

	systray.AddSeparator()

	s.mStart = systray.AddMenuItem("Start Reading", "Start reading cards")
	s.mStop = systray.AddMenuItem("Stop Reading", "Stop reading cards")
	s.mStart.Disable()
	s.mStop.Disable()

	systray.AddSeparator()
	mQuit := systray.AddMenuItem("Quit", "Quit the application")

	go s.handleMenuEvents(mRefreshDevices, mAlert, mQuit)
	go s.updateDeviceList()
}

// handleMenuEvents processes all menu click events
func (s *SystrayApp) handleMenuEvents(mRefreshDevices, mAlert, mQuit *systray.MenuItem) {
	for {
		select {
		case <-s.mStart.ClickedCh:
			s.startAgent()
		case <-s.mStop.ClickedCh:
			s.agent.Stop()
			s.updateStatus("Stopped")
			s.mStop.Disable()
			s.mStart.Enable()
		case <-mRefreshDevices.ClickedCh:
			s.updateDeviceList()
		case <-mAlert.ClickedCh:
			s.display.dismiss()
		case <-s.mCopyURL.ClickedCh:
			if err := copyToClipboard(s.displayURL()); err != nil {
				log.WithError(err).Warn("Failed to copy to clipboard")
			}
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		}

		s.handleDeviceSelection()
	}
}

func (s *SystrayApp) startAgent() {
	if err := s.agent.Start(); err != nil {
		log.WithError(err).Error("Failed to start reading")
		s.updateStatus("Failed to Start")
		s.mStart.Enable()
		return
	}
	s.updateStatus("Running")
	s.mStart.Disable()
	s.mStop.Enable()
}

// handleDeviceSelection processes device menu selections
func (s *SystrayApp) handleDeviceSelection() {
	s.devicesMu.Lock()
	defer s.devicesMu.Unlock()

	for deviceName, menuItem := range s.deviceMenuItems {
		select {
		case <-menuItem.ClickedCh:
			if s.agent.Device() == deviceName {
				continue
			}
			for _, item := range s.deviceMenuItems {
				item.Uncheck()
			}
			menuItem.Check()
			if err := s.agent.SwitchDevice(deviceName); err != nil {
				log.WithError(err).WithField("device", deviceName).Error("Failed to switch reader")
				s.updateStatus("Failed to Start")
			}
		default:
			// No click event for this menu item
		}
	}
}

// updateDeviceList refreshes the list of available devices
func (s *SystrayApp) updateDeviceList() {
	s.devicesMu.Lock()
	defer s.devicesMu.Unlock()

	for _, item := range s.deviceMenuItems {
		item.Hide()
	}
	s.deviceMenuItems = make(map[string]*systray.MenuItem)

	devices, err := s.agent.Manager.ListDevices()
	if err != nil {
		log.WithError(err).Warn("Error listing devices")
		return
	}

	current := s.agent.Device()
	for i, device := range devices {
		isChecked := current == device || (current == "" && i == 0)
		s.deviceMenuItems[device] = s.mDeviceMenu.AddSubMenuItemCheckbox(device, "Select this reader", isChecked)
	}
}

// updateStatus updates the status menu item and icon
func (s *SystrayApp) updateStatus(status string) {
	s.mStatus.SetTitle(status)

	switch status {
	case "Running":
		systray.SetIcon(iconDataConnected)
	case "Failed to Start":
		systray.SetIcon(iconDataError)
	default:
		systray.SetIcon(iconData)
	}
}

func (s *SystrayApp) updateConnection(status nfc.DeviceStatus) {
	if s.mConnection == nil {
		return
	}
	if status.Connected {
		s.mConnection.SetTitle("Reader: " + status.Device)
		return
	}
	s.mConnection.SetTitle("Reader: " + status.Message)
}

// displayURL returns the WebSocket URL display clients connect to
func (s *SystrayApp) displayURL() string {
	ip := "localhost"
	if ips := getLocalIPs(); len(ips) > 0 {
		ip = ips[0]
	}

	url := fmt.Sprintf("ws://%s:%d/ws", ip, s.agent.Config.Port)
	if s.agent.Config.APISecret != "" {
		url += "?secret=" + s.agent.Config.APISecret
	}
	return url
}

// copyToClipboard copies text to the system clipboard
func copyToClipboard(text string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("pbcopy")
	case "linux":
		cmd = exec.Command("xclip", "-selection", "clipboard")
	case "windows":
		cmd = exec.Command("clip")
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	if _, err := stdin.Write([]byte(text)); err != nil {
		return err
	}

	stdin.Close()
	return cmd.Wait()
}
