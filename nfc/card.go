package nfc

import "time"

// ClassicCard is a MIFARE Classic card in the reader field.
//
// Block indexes are absolute. AuthenticateSectorWithKeyA returns false with a
// nil error when the card rejects the key; a non-nil error means the reader
// could not talk to the card.
type ClassicCard interface {
	UID() string
	Type() string
	Connect() error
	AuthenticateSectorWithKeyA(sector int, key [6]byte) (bool, error)
	ReadBlock(index int) ([]byte, error)
	WriteBlock(index int, data []byte) error
	Close() error
}

// Intent actions delivered by the Dispatcher.
const (
	// ActionTechDiscovered is delivered for cards of the supported technology.
	ActionTechDiscovered = "nfc.action.TECH_DISCOVERED"
	// ActionTagDiscovered is delivered for any other tag in the field.
	ActionTagDiscovered = "nfc.action.TAG_DISCOVERED"
)

// Intent is a tag discovery notification.
type Intent struct {
	Action     string
	Card       ClassicCard // nil unless Action is ActionTechDiscovered
	UID        string
	Device     string
	ReceivedAt time.Time
}

// IntentHandler receives intents while foreground dispatch is enabled.
type IntentHandler interface {
	OnNewIntent(intent Intent)
}

// IntentHandlerFunc adapts a function to IntentHandler.
type IntentHandlerFunc func(Intent)

func (f IntentHandlerFunc) OnNewIntent(intent Intent) {
	f(intent)
}
