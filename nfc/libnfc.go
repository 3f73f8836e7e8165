package nfc

import (
	"fmt"
	"strings"
	"time"

	"github.com/clausecker/freefare"
	"github.com/clausecker/nfc/v2"
	log "github.com/sirupsen/logrus"
)

var libnfcLog = log.WithField("component", "libnfc")

// libnfcManager implements Manager using libnfc and libfreefare.
type libnfcManager struct{}

func (m *libnfcManager) OpenDevice(deviceStr string) (Device, error) {
	dev, err := nfc.Open(deviceStr)
	if err != nil {
		return nil, fmt.Errorf("libnfc open %q: %w", deviceStr, err)
	}
	if err := dev.InitiatorInit(); err != nil {
		dev.Close()
		return nil, fmt.Errorf("libnfc initiator init: %w", err)
	}
	return &libnfcDevice{device: dev}, nil
}

func (m *libnfcManager) ListDevices() ([]string, error) {
	var devices []string
	var err error
	for i := 0; i < DeviceEnumRetries; i++ {
		devices, err = nfc.ListDevices()
		if err == nil {
			return devices, nil
		}
		time.Sleep(time.Millisecond * 100)
	}
	return nil, fmt.Errorf("failed to list NFC devices after %d retries: %w", DeviceEnumRetries, err)
}

// libnfcDevice implements Device on top of an open libnfc device.
type libnfcDevice struct {
	device nfc.Device
	closed bool
}

func (d *libnfcDevice) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return d.device.Close()
}

func (d *libnfcDevice) String() string {
	return d.device.String()
}

// Poll asks libfreefare for the tags in the field and returns the first
// MIFARE Classic one.
func (d *libnfcDevice) Poll() (ClassicCard, error) {
	if d.closed {
		return nil, ErrDeviceClosed
	}

	tags, err := freefare.GetTags(d.device)
	if err != nil {
		return nil, fmt.Errorf("freefare get tags: %w", err)
	}
	if len(tags) == 0 {
		return nil, ErrNoCard
	}

	var other freefare.Tag
	for _, tag := range tags {
		if classic, ok := tag.(freefare.ClassicTag); ok {
			return &libnfcCard{tag: classic}, nil
		}
		if other == nil {
			other = tag
		}
	}

	libnfcLog.WithField("uid", other.UID()).Debugf("Ignoring tag of type %T", other)
	return nil, &UnsupportedTagError{UID: strings.ToUpper(other.UID()), Type: fmt.Sprintf("%T", other)}
}

// libnfcCard adapts a freefare.ClassicTag to ClassicCard.
type libnfcCard struct {
	tag       freefare.ClassicTag
	connected bool
}

func (c *libnfcCard) UID() string {
	return strings.ToUpper(c.tag.UID())
}

func (c *libnfcCard) Type() string {
	switch c.tag.Type() {
	case freefare.Classic1k:
		return CardTypeMifareClassic1K
	case freefare.Classic4k:
		return CardTypeMifareClassic4K
	default:
		return CardTypeMifareClassic
	}
}

func (c *libnfcCard) Connect() error {
	if c.connected {
		return nil
	}
	if err := c.tag.Connect(); err != nil {
		return cardError(CodeTransmit, "libnfcCard.Connect", err)
	}
	c.connected = true
	return nil
}

// AuthenticateSectorWithKeyA authenticates against the sector trailer.
// libfreefare reports a rejected key as an error, so only a lost tag is
// treated as a communication failure.
func (c *libnfcCard) AuthenticateSectorWithKeyA(sector int, key [6]byte) (bool, error) {
	if !c.connected {
		return false, notConnected("libnfcCard.Authenticate", c.UID())
	}

	trailer := freefare.ClassicSectorLastBlock(uint8(sector))
	if err := c.tag.Authenticate(trailer, key, int(freefare.KeyA)); err != nil {
		if libnfcTagLost(err) {
			return false, cardError(CodeCardRemoved, "libnfcCard.Authenticate", err)
		}
		libnfcLog.WithFields(log.Fields{"uid": c.UID(), "sector": sector}).WithError(err).Debug("Key A rejected")
		return false, nil
	}
	return true, nil
}

func (c *libnfcCard) ReadBlock(index int) ([]byte, error) {
	if !c.connected {
		return nil, notConnected("libnfcCard.ReadBlock", c.UID())
	}
	data, err := c.tag.ReadBlock(byte(index))
	if err != nil {
		if libnfcTagLost(err) {
			return nil, cardError(CodeCardRemoved, fmt.Sprintf("libnfcCard.ReadBlock(%d)", index), err)
		}
		return nil, cardError(CodeRead, fmt.Sprintf("libnfcCard.ReadBlock(%d)", index), err)
	}
	return data[:], nil
}

func (c *libnfcCard) WriteBlock(index int, data []byte) error {
	if !c.connected {
		return notConnected("libnfcCard.WriteBlock", c.UID())
	}
	if err := checkWritable(index, data); err != nil {
		return err
	}

	var block [BlockSize]byte
	copy(block[:], data)
	if err := c.tag.WriteBlock(byte(index), block); err != nil {
		return cardError(CodeWrite, fmt.Sprintf("libnfcCard.WriteBlock(%d)", index), err)
	}
	return nil
}

func (c *libnfcCard) Close() error {
	if !c.connected {
		return nil
	}
	c.connected = false
	return c.tag.Disconnect()
}

// libnfcTagLost reports whether a libfreefare error means the card left the
// field. libfreefare only returns the libnfc error string.
func libnfcTagLost(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Target was removed") ||
		strings.Contains(msg, "tag lost")
}
