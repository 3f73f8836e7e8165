package nfc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DeviceStatus describes the reader connection.
type DeviceStatus struct {
	Connected   bool   `json:"connected"`
	Device      string `json:"device,omitempty"`
	Message     string `json:"message"`
	CardPresent bool   `json:"cardPresent"`
}

// Dispatcher polls a reader and delivers discovered tags to the foreground
// handler. Only one card is handled per poll and handlers run on the poll
// goroutine.
type Dispatcher struct {
	manager    Manager
	devicePath string
	interval   time.Duration
	cache      *TagCache
	onStatus   func(DeviceStatus)
	log        *log.Entry

	pollMu sync.Mutex // serializes Poll
	device Device

	mu          sync.Mutex
	handler     IntentHandler
	stopChan    chan struct{}
	wg          sync.WaitGroup
	status      DeviceStatus
	cardPresent bool
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDevicePath selects the device to open. The first listed device is used
// when empty.
func WithDevicePath(path string) DispatcherOption {
	return func(d *Dispatcher) { d.devicePath = path }
}

// WithPollInterval sets how often the reader is polled.
func WithPollInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

// WithStatusListener registers fn to be called whenever the device status
// changes.
func WithStatusListener(fn func(DeviceStatus)) DispatcherOption {
	return func(d *Dispatcher) { d.onStatus = fn }
}

// NewDispatcher creates a Dispatcher over manager. A card stays delivered
// until it has been out of the field for presenceWindow.
func NewDispatcher(manager Manager, presenceWindow time.Duration, opts ...DispatcherOption) (*Dispatcher, error) {
	if manager == nil {
		return nil, fmt.Errorf("manager cannot be nil")
	}
	cache, err := NewTagCache(presenceWindow)
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		manager:  manager,
		interval: DefaultPollInterval,
		cache:    cache,
		log:      log.WithField("component", "dispatcher"),
		status:   DeviceStatus{Message: "Not connected"},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// EnableForegroundDispatch routes intents to handler and starts polling. A
// second call replaces the handler.
func (d *Dispatcher) EnableForegroundDispatch(handler IntentHandler) error {
	if handler == nil {
		return fmt.Errorf("intent handler cannot be nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = handler
	if d.stopChan != nil {
		return nil
	}

	d.stopChan = make(chan struct{})
	d.wg.Add(1)
	go d.worker(d.stopChan)
	d.log.WithField("interval", d.interval).Info("Foreground dispatch enabled")
	return nil
}

// DisableForegroundDispatch stops polling, waits for the in-flight handler and
// closes the device. It is safe to call when dispatch is not enabled.
func (d *Dispatcher) DisableForegroundDispatch() {
	d.mu.Lock()
	stop := d.stopChan
	d.stopChan = nil
	d.handler = nil
	d.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	d.wg.Wait()

	d.pollMu.Lock()
	d.closeDevice("Foreground dispatch disabled")
	d.pollMu.Unlock()
	d.log.Info("Foreground dispatch disabled")
}

// Enabled reports whether foreground dispatch is on.
func (d *Dispatcher) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handler != nil
}

// Status returns the last known device status.
func (d *Dispatcher) Status() DeviceStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Close disables dispatch and releases the tag cache.
func (d *Dispatcher) Close() error {
	d.DisableForegroundDispatch()
	return d.cache.Close()
}

func (d *Dispatcher) worker(stop <-chan struct{}) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := d.Poll(); err != nil {
				d.log.WithError(err).Debug("Poll failed")
			}
		}
	}
}

// Poll runs a single poll step: it opens the device if needed, looks for a
// card and delivers it when it is new. Nothing is delivered while dispatch is
// disabled.
func (d *Dispatcher) Poll() error {
	d.pollMu.Lock()
	defer d.pollMu.Unlock()

	handler := d.currentHandler()
	if handler == nil {
		return nil
	}

	if err := d.ensureDevice(); err != nil {
		return err
	}

	card, err := d.device.Poll()
	switch {
	case err == nil:
		d.setCardPresent(true)
		d.deliverCard(handler, card)
		return nil

	case errors.Is(err, ErrNoCard):
		d.setCardPresent(false)
		return nil

	case errors.Is(err, ErrUnsupportedTag):
		d.setCardPresent(true)
		var tagErr *UnsupportedTagError
		if errors.As(err, &tagErr) {
			d.deliverTag(handler, tagErr)
		}
		return nil

	default:
		name := d.device.String()
		d.closeDevice(fmt.Sprintf("Device error: %v", err))
		return fmt.Errorf("poll %s: %w", name, err)
	}
}

func (d *Dispatcher) currentHandler() IntentHandler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handler
}

func (d *Dispatcher) deliverCard(handler IntentHandler, card ClassicCard) {
	uid := card.UID()
	if d.alreadySeen(uid) {
		card.Close()
		return
	}

	d.log.WithFields(log.Fields{"uid": uid, "type": card.Type()}).Info("Card discovered")
	handler.OnNewIntent(Intent{
		Action:     ActionTechDiscovered,
		Card:       card,
		UID:        uid,
		Device:     d.device.String(),
		ReceivedAt: d.cache.now(),
	})
}

func (d *Dispatcher) deliverTag(handler IntentHandler, tag *UnsupportedTagError) {
	if d.alreadySeen(tag.UID) {
		return
	}

	d.log.WithFields(log.Fields{"uid": tag.UID, "type": tag.Type}).Info("Unsupported tag discovered")
	handler.OnNewIntent(Intent{
		Action:     ActionTagDiscovered,
		UID:        tag.UID,
		Device:     d.device.String(),
		ReceivedAt: d.cache.now(),
	})
}

func (d *Dispatcher) alreadySeen(uid string) bool {
	if uid == "" {
		return false
	}
	seen, err := d.cache.Seen(uid)
	if err != nil {
		d.log.WithError(err).Warn("Tag cache lookup failed")
		return false
	}
	return seen
}

// ensureDevice opens the configured device, or the first listed one. A
// failure is left for the next poll to retry.
func (d *Dispatcher) ensureDevice() error {
	if d.device != nil {
		return nil
	}

	path := d.devicePath
	if path == "" {
		devices, err := d.manager.ListDevices()
		if err != nil {
			return fmt.Errorf("error listing NFC devices: %w", err)
		}
		if len(devices) == 0 {
			d.setStatus(DeviceStatus{Message: "No reader found"})
			return fmt.Errorf("no NFC devices found by manager")
		}
		path = devices[0]
	}

	dev, err := d.manager.OpenDevice(path)
	if err != nil {
		d.setStatus(DeviceStatus{Message: "Failed to connect"})
		return fmt.Errorf("failed to open device %s: %w", path, err)
	}

	d.device = dev
	d.log.WithField("device", dev.String()).Info("Connected to reader")
	d.setStatus(DeviceStatus{
		Connected: true,
		Device:    dev.String(),
		Message:   fmt.Sprintf("Connected to %s", dev.String()),
	})
	return nil
}

func (d *Dispatcher) closeDevice(message string) {
	if d.device == nil {
		return
	}
	if err := d.device.Close(); err != nil {
		d.log.WithError(err).Warn("Error closing reader")
	}
	d.device = nil
	d.setStatus(DeviceStatus{Message: message})
}

func (d *Dispatcher) setCardPresent(present bool) {
	d.mu.Lock()
	changed := d.cardPresent != present
	d.cardPresent = present
	d.status.CardPresent = present
	status := d.status
	d.mu.Unlock()

	if changed && d.onStatus != nil {
		d.onStatus(status)
	}
}

func (d *Dispatcher) setStatus(status DeviceStatus) {
	d.mu.Lock()
	if !status.Connected {
		d.cardPresent = false
	}
	status.CardPresent = d.cardPresent
	if status == d.status {
		d.mu.Unlock()
		return
	}
	d.status = status
	d.mu.Unlock()

	if d.onStatus != nil {
		d.onStatus(status)
	}
}
