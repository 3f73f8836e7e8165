package nfc

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var testBlock = []byte("\x03\x1aA123456705.50\x00")

type intentRecorder struct {
	mu      sync.Mutex
	intents []Intent
	notify  chan Intent
}

func newIntentRecorder() *intentRecorder {
	return &intentRecorder{notify: make(chan Intent, 16)}
}

func (r *intentRecorder) OnNewIntent(intent Intent) {
	r.mu.Lock()
	r.intents = append(r.intents, intent)
	r.mu.Unlock()
	r.notify <- intent
}

func (r *intentRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.intents)
}

func (r *intentRecorder) last() Intent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.intents[len(r.intents)-1]
}

// newManualDispatcher returns an enabled dispatcher whose poll loop never
// fires so tests drive it with Poll.
func newManualDispatcher(t *testing.T, manager Manager, opts ...DispatcherOption) (*Dispatcher, *intentRecorder, *time.Time) {
	t.Helper()
	opts = append(opts, WithPollInterval(time.Hour))
	d, err := NewDispatcher(manager, time.Second, opts...)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	d.cache.now = func() time.Time { return now }

	rec := newIntentRecorder()
	if err := d.EnableForegroundDispatch(rec); err != nil {
		t.Fatalf("EnableForegroundDispatch() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d, rec, &now
}

func TestDispatcher_DeliversNewCardOnce(t *testing.T) {
	manager := NewMockManager()
	card := NewMockCard("04A1B2C3", testBlock)
	manager.MockDevice.PresentCard(card)
	d, rec, now := newManualDispatcher(t, manager)

	if err := d.Poll(); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("delivered %d intents, want 1", rec.count())
	}
	got := rec.last()
	if got.Action != ActionTechDiscovered || got.UID != "04A1B2C3" || got.Card != card {
		t.Errorf("intent = %+v", got)
	}
	if got.Device != "Mock NFC Reader" {
		t.Errorf("Device = %q", got.Device)
	}

	// Card left on the reader.
	*now = now.Add(250 * time.Millisecond)
	d.Poll()
	if rec.count() != 1 {
		t.Errorf("card left in the field was delivered again")
	}
	if !card.Closed() {
		t.Error("repeated card should be closed by the dispatcher")
	}

	// Card removed and presented again after the window.
	manager.MockDevice.RemoveCard()
	*now = now.Add(250 * time.Millisecond)
	d.Poll()
	manager.MockDevice.PresentCard(card)
	*now = now.Add(2 * time.Second)
	d.Poll()
	if rec.count() != 2 {
		t.Errorf("delivered %d intents, want 2", rec.count())
	}
}

func TestDispatcher_UnsupportedTag(t *testing.T) {
	manager := NewMockManager()
	manager.MockDevice.SetPollError(&UnsupportedTagError{UID: "04AABBCC", Type: "Ultralight"})
	d, rec, _ := newManualDispatcher(t, manager)

	if err := d.Poll(); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("delivered %d intents, want 1", rec.count())
	}
	got := rec.last()
	if got.Action != ActionTagDiscovered || got.Card != nil || got.UID != "04AABBCC" {
		t.Errorf("intent = %+v", got)
	}
}

func TestDispatcher_DisabledDeliversNothing(t *testing.T) {
	manager := NewMockManager()
	manager.MockDevice.PresentCard(NewMockCard("04A1B2C3", testBlock))
	d, err := NewDispatcher(manager, time.Second)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	defer d.Close()

	if err := d.Poll(); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if log := manager.GetCallLog(); len(log) != 0 {
		t.Errorf("disabled dispatcher touched the manager: %v", log)
	}

	rec := newIntentRecorder()
	d.EnableForegroundDispatch(rec)
	d.DisableForegroundDispatch()
	d.Poll()
	if rec.count() != 0 {
		t.Errorf("delivered %d intents after disable", rec.count())
	}
	if d.Enabled() {
		t.Error("Enabled() should be false after disable")
	}
}

func TestDispatcher_DeviceErrorReopens(t *testing.T) {
	manager := NewMockManager()
	var statuses []DeviceStatus
	d, _, _ := newManualDispatcher(t, manager, WithStatusListener(func(s DeviceStatus) {
		statuses = append(statuses, s)
	}))

	manager.MockDevice.SetPollError(errors.New("usb transfer failed"))
	if err := d.Poll(); err == nil {
		t.Fatal("Poll() should report the device error")
	}
	if d.Status().Connected {
		t.Error("device should be disconnected after an error")
	}
	if manager.MockDevice.IsOpen() {
		t.Error("failed device should be closed")
	}

	manager.MockDevice.SetPollError(nil)
	if err := d.Poll(); err != nil {
		t.Fatalf("Poll() after recovery error = %v", err)
	}
	if !d.Status().Connected {
		t.Error("device should be reconnected")
	}

	opens := 0
	for _, call := range manager.GetCallLog() {
		if call == "OpenDevice(mock:usb:001)" {
			opens++
		}
	}
	if opens != 2 {
		t.Errorf("OpenDevice called %d times, want 2", opens)
	}
	if len(statuses) < 3 || !statuses[0].Connected || statuses[1].Connected {
		t.Errorf("statuses = %+v", statuses)
	}
}

func TestDispatcher_NoReader(t *testing.T) {
	manager := NewMockManager()
	manager.DevicesList = nil
	d, rec, _ := newManualDispatcher(t, manager)

	if err := d.Poll(); err == nil {
		t.Fatal("Poll() should fail without a reader")
	}
	if rec.count() != 0 {
		t.Error("nothing should be delivered")
	}
	if d.Status().Message != "No reader found" {
		t.Errorf("Status().Message = %q", d.Status().Message)
	}
}

func TestDispatcher_PollLoop(t *testing.T) {
	manager := NewMockManager()
	manager.MockDevice.PresentCard(NewMockCard("04A1B2C3", testBlock))
	d, err := NewDispatcher(manager, time.Minute, WithPollInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	defer d.Close()

	if err := d.EnableForegroundDispatch(nil); err == nil {
		t.Error("nil handler should be rejected")
	}

	rec := newIntentRecorder()
	if err := d.EnableForegroundDispatch(rec); err != nil {
		t.Fatalf("EnableForegroundDispatch() error = %v", err)
	}
	// A second enable only swaps the handler.
	if err := d.EnableForegroundDispatch(rec); err != nil {
		t.Fatalf("second EnableForegroundDispatch() error = %v", err)
	}

	select {
	case intent := <-rec.notify:
		if intent.Action != ActionTechDiscovered {
			t.Errorf("Action = %q", intent.Action)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poll loop delivered nothing")
	}

	d.DisableForegroundDispatch()
	d.DisableForegroundDispatch()
	if manager.MockDevice.IsOpen() {
		t.Error("device should be closed after disable")
	}
}
