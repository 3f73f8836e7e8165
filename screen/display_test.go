package screen

import (
	"testing"

	"github.com/dotside-studios/davi-balance-reader/balance"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisplaysFanOut(t *testing.T) {
	a, b := &recordingDisplay{}, &recordingDisplay{}
	ds := Displays{a, b}
	res := &balance.Result{Balance: "05.50"}

	ds.SetBalance(res)
	ds.ShowAlert(Alert{Message: balance.AlertInvalidCard})

	for _, d := range []*recordingDisplay{a, b} {
		assert.Equal(t, []*balance.Result{res}, d.balances)
		assert.Len(t, d.alerts, 1)
	}
}

func TestStateDisplay(t *testing.T) {
	d := &StateDisplay{}
	assert.Nil(t, d.State().Balance)

	res := &balance.Result{Balance: "05.50"}
	d.SetBalance(res)
	d.ShowAlert(Alert{Kind: balance.AuthFailed, Message: balance.AlertInvalidCard})

	state := d.State()
	assert.Same(t, res, state.Balance)
	require.NotNil(t, state.Alert)
	assert.Equal(t, balance.AuthFailed, state.Alert.Kind)

	d.SetBalance(res)
	assert.Nil(t, d.State().Alert, "a new balance clears the alert")
}

func TestLogDisplay(t *testing.T) {
	logger, hook := test.NewNullLogger()
	d := LogDisplay{Log: logrus.NewEntry(logger)}

	d.SetBalance(&balance.Result{UID: "04A1B2C3", Balance: "05.50"})
	d.ShowAlert(Alert{Kind: balance.Communication, Message: balance.AlertCommunication})

	require.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, "Balance: 05.50", hook.AllEntries()[0].Message)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "Alert: Cannot communicate with the card", hook.LastEntry().Message)
}

func TestAlertFor(t *testing.T) {
	alert := AlertFor(nil)
	assert.Equal(t, balance.KindNone, alert.Kind)
	assert.Equal(t, "OK", alert.DismissLabel)
}
