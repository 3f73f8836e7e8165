package screen

import (
	"sync"

	"github.com/dotside-studios/davi-balance-reader/balance"
	"github.com/dotside-studios/davi-balance-reader/nfc"
	log "github.com/sirupsen/logrus"
)

// Dispatcher is the foreground dispatch the controller toggles with its
// lifecycle.
type Dispatcher interface {
	EnableForegroundDispatch(handler nfc.IntentHandler) error
	DisableForegroundDispatch()
}

// Controller runs the balance screen. While resumed it receives discovered
// cards, reads their balance and updates the display.
type Controller struct {
	dispatcher Dispatcher
	reader     *balance.Reader
	display    Display
	log        *log.Entry

	mu      sync.Mutex
	balance *balance.Result
}

// NewController wires a controller. A nil reader uses balance.NewReader().
func NewController(dispatcher Dispatcher, reader *balance.Reader, display Display) *Controller {
	if reader == nil {
		reader = balance.NewReader()
	}
	return &Controller{
		dispatcher: dispatcher,
		reader:     reader,
		display:    display,
		log:        log.WithField("component", "screen"),
	}
}

// OnResume starts receiving cards.
func (c *Controller) OnResume() error {
	c.log.Debug("Resumed")
	return c.dispatcher.EnableForegroundDispatch(c)
}

// OnPause stops receiving cards.
func (c *Controller) OnPause() {
	c.log.Debug("Paused")
	c.dispatcher.DisableForegroundDispatch()
}

// OnNewIntent reads the balance from a discovered MIFARE Classic card. Other
// intents are ignored. A failed read shows an alert and leaves the balance
// as it was.
func (c *Controller) OnNewIntent(intent nfc.Intent) {
	if intent.Action != nfc.ActionTechDiscovered || intent.Card == nil {
		c.log.WithFields(log.Fields{"action": intent.Action, "uid": intent.UID}).Debug("Ignoring intent")
		if intent.Card != nil {
			intent.Card.Close()
		}
		return
	}

	res, err := c.reader.Read(intent.Card)
	if err != nil {
		c.display.ShowAlert(AlertFor(err))
		return
	}

	c.mu.Lock()
	c.balance = res
	c.mu.Unlock()
	c.display.SetBalance(res)
}

// Balance returns the last balance shown, or nil.
func (c *Controller) Balance() *balance.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance
}
