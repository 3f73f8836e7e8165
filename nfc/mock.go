package nfc

import (
	"fmt"
	"sync"
)

// MockManager is a test implementation of Manager.
//
// Example:
//
//	manager := NewMockManager()
//	manager.MockDevice.PresentCard(NewMockCard("04A1B2C3", block))
//	device, _ := manager.OpenDevice("")
//	card, _ := device.Poll()
type MockManager struct {
	// DevicesList is the list of device strings returned by ListDevices()
	DevicesList []string

	// ListDevicesError, if set, will be returned by ListDevices()
	ListDevicesError error

	// MockDevice is the device returned by OpenDevice()
	MockDevice *MockDevice

	// OpenDeviceError, if set, will be returned by OpenDevice()
	OpenDeviceError error

	// CallLog tracks all method calls for verification in tests
	CallLog []string

	mu sync.Mutex
}

// NewMockManager creates a MockManager with one device and an empty field.
func NewMockManager() *MockManager {
	return &MockManager{
		DevicesList: []string{"mock:usb:001"},
		MockDevice:  NewMockDevice(),
	}
}

func (m *MockManager) OpenDevice(deviceStr string) (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, fmt.Sprintf("OpenDevice(%s)", deviceStr))
	if m.OpenDeviceError != nil {
		return nil, m.OpenDeviceError
	}
	if m.MockDevice == nil {
		m.MockDevice = NewMockDevice()
	}
	m.MockDevice.open()
	return m.MockDevice, nil
}

func (m *MockManager) ListDevices() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "ListDevices")
	if m.ListDevicesError != nil {
		return nil, m.ListDevicesError
	}
	devicesCopy := make([]string, len(m.DevicesList))
	copy(devicesCopy, m.DevicesList)
	return devicesCopy, nil
}

// GetCallLog returns a copy of the call log for verification.
func (m *MockManager) GetCallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	logCopy := make([]string, len(m.CallLog))
	copy(logCopy, m.CallLog)
	return logCopy
}

// MockDevice is a test implementation of Device whose field holds at most
// one card.
type MockDevice struct {
	// DeviceName is returned by String()
	DeviceName string

	// PollError, if set, is returned by Poll() instead of the card
	PollError error

	// CloseError, if set, will be returned by Close()
	CloseError error

	// CallLog tracks all method calls for verification in tests
	CallLog []string

	card   ClassicCard
	isOpen bool
	mu     sync.Mutex
}

// NewMockDevice creates an open MockDevice with an empty field.
func NewMockDevice() *MockDevice {
	return &MockDevice{DeviceName: "Mock NFC Reader", isOpen: true}
}

// PresentCard puts card in the field. A nil card empties it.
func (m *MockDevice) PresentCard(card ClassicCard) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.card = card
}

// RemoveCard empties the field.
func (m *MockDevice) RemoveCard() {
	m.PresentCard(nil)
}

// SetPollError makes Poll fail with err until it is cleared with nil.
func (m *MockDevice) SetPollError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PollError = err
}

// IsOpen reports whether the device is open.
func (m *MockDevice) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isOpen
}

func (m *MockDevice) open() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isOpen = true
}

func (m *MockDevice) Poll() (ClassicCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "Poll")
	if !m.isOpen {
		return nil, ErrDeviceClosed
	}
	if m.PollError != nil {
		return nil, m.PollError
	}
	if m.card == nil {
		return nil, ErrNoCard
	}
	return m.card, nil
}

func (m *MockDevice) String() string {
	return m.DeviceName
}

func (m *MockDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "Close")
	if !m.isOpen {
		return fmt.Errorf("device already closed")
	}
	m.isOpen = false
	return m.CloseError
}

// GetCallLog returns a copy of the call log for verification.
func (m *MockDevice) GetCallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	logCopy := make([]string, len(m.CallLog))
	copy(logCopy, m.CallLog)
	return logCopy
}

// MockCard is a test implementation of ClassicCard backed by an in-memory
// block map.
type MockCard struct {
	// CardUID is returned by UID()
	CardUID string

	// CardType is returned by Type()
	CardType string

	// Blocks holds the card contents keyed by absolute block index
	Blocks map[int][]byte

	// Keys holds the Key A accepted for each sector. Sectors without an entry
	// accept KeyNFCForum.
	Keys map[int][6]byte

	// ConnectError, if set, will be returned by Connect()
	ConnectError error

	// AuthError, if set, will be returned by AuthenticateSectorWithKeyA()
	AuthError error

	// ReadError, if set, will be returned by ReadBlock()
	ReadError error

	// WriteError, if set, will be returned by WriteBlock()
	WriteError error

	// CallLog tracks all method calls for verification in tests
	CallLog []string

	connected bool
	closed    bool
	mu        sync.Mutex
}

// NewMockCard creates a MIFARE Classic 1K card holding block 4.
func NewMockCard(uid string, block4 []byte) *MockCard {
	return &MockCard{
		CardUID:  uid,
		CardType: CardTypeMifareClassic1K,
		Blocks:   map[int][]byte{4: append([]byte(nil), block4...)},
	}
}

func (c *MockCard) UID() string  { return c.CardUID }
func (c *MockCard) Type() string { return c.CardType }

func (c *MockCard) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.CallLog = append(c.CallLog, "Connect")
	if c.ConnectError != nil {
		return c.ConnectError
	}
	c.connected = true
	return nil
}

func (c *MockCard) AuthenticateSectorWithKeyA(sector int, key [6]byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.CallLog = append(c.CallLog, fmt.Sprintf("Authenticate(%d)", sector))
	if !c.connected {
		return false, notConnected("MockCard.Authenticate", c.CardUID)
	}
	if c.AuthError != nil {
		return false, c.AuthError
	}
	want, ok := c.Keys[sector]
	if !ok {
		want = KeyNFCForum
	}
	return key == want, nil
}

func (c *MockCard) ReadBlock(index int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.CallLog = append(c.CallLog, fmt.Sprintf("ReadBlock(%d)", index))
	if !c.connected {
		return nil, notConnected("MockCard.ReadBlock", c.CardUID)
	}
	if c.ReadError != nil {
		return nil, c.ReadError
	}
	return append([]byte(nil), c.Blocks[index]...), nil
}

func (c *MockCard) WriteBlock(index int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.CallLog = append(c.CallLog, fmt.Sprintf("WriteBlock(%d)", index))
	if !c.connected {
		return notConnected("MockCard.WriteBlock", c.CardUID)
	}
	if c.WriteError != nil {
		return c.WriteError
	}
	if err := checkWritable(index, data); err != nil {
		return err
	}
	if c.Blocks == nil {
		c.Blocks = make(map[int][]byte)
	}
	c.Blocks[index] = append([]byte(nil), data...)
	return nil
}

func (c *MockCard) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.CallLog = append(c.CallLog, "Close")
	c.connected = false
	c.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (c *MockCard) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// GetCallLog returns a copy of the call log for verification.
func (c *MockCard) GetCallLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	logCopy := make([]string, len(c.CallLog))
	copy(logCopy, c.CallLog)
	return logCopy
}
