package nfc

// Device represents an NFC reader/writer hardware device.
//
// A Device is obtained from a Manager. Poll returns the MIFARE Classic card
// currently in the field, ErrNoCard when the field is empty and an error
// wrapping ErrUnsupportedTag when another kind of tag is present.
//
// Example:
//
//	device, err := manager.OpenDevice("")
//	defer device.Close()
//	card, err := device.Poll()
type Device interface {
	Close() error
	String() string
	Poll() (ClassicCard, error)
}
