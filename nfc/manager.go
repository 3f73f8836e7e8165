package nfc

import "fmt"

// Manager handles NFC device discovery.
//
// Manager provides methods to list available NFC readers and open connections
// to devices.
//
// Example:
//
//	manager, _ := nfc.NewManager(nfc.BackendPCSC)
//	devices, _ := manager.ListDevices()
//	device, _ := manager.OpenDevice(devices[0])
//	card, _ := device.Poll()
type Manager interface {
	OpenDevice(deviceStr string) (Device, error)
	ListDevices() ([]string, error)
}

// NewManager creates a Manager for the named reader backend. An empty name
// selects libnfc.
func NewManager(backend string) (Manager, error) {
	switch backend {
	case "", BackendLibNFC:
		return &libnfcManager{}, nil
	case BackendPCSC:
		return newPCSCManager(), nil
	case BackendRC522:
		return newRC522Manager(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// Backends lists the names accepted by NewManager.
func Backends() []string {
	return []string{BackendLibNFC, BackendPCSC, BackendRC522}
}
