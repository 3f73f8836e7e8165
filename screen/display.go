// Package screen holds the balance screen: a Controller that reacts to
// discovered cards and the Display surfaces it draws on.
package screen

import (
	"sync"

	"github.com/dotside-studios/davi-balance-reader/balance"
	log "github.com/sirupsen/logrus"
)

// DismissLabel is the single action offered on every alert.
const DismissLabel = "OK"

// Alert is a modal error message.
type Alert struct {
	Kind         balance.ErrorKind
	Message      string
	DismissLabel string
}

// AlertFor builds the alert shown for a failed read.
func AlertFor(err error) Alert {
	kind := balance.KindOf(err)
	return Alert{
		Kind:         kind,
		Message:      balance.AlertFor(kind),
		DismissLabel: DismissLabel,
	}
}

// Display is a surface that shows the balance screen.
type Display interface {
	SetBalance(res *balance.Result)
	ShowAlert(alert Alert)
}

// Displays fans every update out to each display in order.
type Displays []Display

func (ds Displays) SetBalance(res *balance.Result) {
	for _, d := range ds {
		d.SetBalance(res)
	}
}

func (ds Displays) ShowAlert(alert Alert) {
	for _, d := range ds {
		d.ShowAlert(alert)
	}
}

// LogDisplay writes each update as a log line. It is the display used by
// headless deployments.
type LogDisplay struct {
	Log *log.Entry
}

func (d LogDisplay) entry() *log.Entry {
	if d.Log != nil {
		return d.Log
	}
	return log.WithField("component", "display")
}

func (d LogDisplay) SetBalance(res *balance.Result) {
	d.entry().WithFields(log.Fields{"uid": res.UID, "scan": res.ID}).Infof("Balance: %s", res.Balance)
}

func (d LogDisplay) ShowAlert(alert Alert) {
	d.entry().WithField("kind", alert.Kind.String()).Warnf("Alert: %s", alert.Message)
}

// State is the current content of the screen.
type State struct {
	Balance *balance.Result
	Alert   *Alert
}

// StateDisplay keeps the latest screen state for readers on other
// goroutines. An alert stays until the next balance is shown.
type StateDisplay struct {
	mu    sync.RWMutex
	state State
}

func (d *StateDisplay) SetBalance(res *balance.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = State{Balance: res}
}

func (d *StateDisplay) ShowAlert(alert Alert) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state.Alert = &alert
}

// State returns a snapshot of the screen.
func (d *StateDisplay) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}
