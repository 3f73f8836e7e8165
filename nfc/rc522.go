package nfc

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/experimental/devices/mfrc522"
	"periph.io/x/periph/experimental/devices/mfrc522/commands"
	"periph.io/x/periph/host"
	"periph.io/x/periph/host/rpi"
)

var rc522Log = log.WithField("component", "rc522")

// rc522Timeout bounds every card operation on the MFRC522.
const rc522Timeout = 500 * time.Millisecond

// rc522Manager drives an MFRC522 module wired to the Raspberry Pi SPI bus
// with reset on pin 22 and IRQ on pin 18.
type rc522Manager struct {
	initOnce sync.Once
	initErr  error
}

func newRC522Manager() *rc522Manager {
	return &rc522Manager{}
}

func (m *rc522Manager) init() error {
	m.initOnce.Do(func() {
		if _, err := host.Init(); err != nil {
			m.initErr = fmt.Errorf("periph host init: %w", err)
		}
	})
	return m.initErr
}

// ListDevices lists the registered SPI ports.
func (m *rc522Manager) ListDevices() ([]string, error) {
	if err := m.init(); err != nil {
		return nil, err
	}
	var names []string
	for _, ref := range spireg.All() {
		names = append(names, ref.Name)
	}
	return names, nil
}

// OpenDevice opens the SPI port (the first one when deviceStr is empty) and
// the MFRC522 behind it.
func (m *rc522Manager) OpenDevice(deviceStr string) (Device, error) {
	if err := m.init(); err != nil {
		return nil, err
	}

	port, err := spireg.Open(deviceStr)
	if err != nil {
		return nil, fmt.Errorf("open SPI port %q: %w", deviceStr, err)
	}

	dev, err := mfrc522.NewSPI(port, rpi.P1_22, rpi.P1_18)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("mfrc522 init: %w", err)
	}
	rc522Log.Infof("Started %s", dev.String())

	return &rc522Device{port: port, dev: dev}, nil
}

// rc522Device is an open MFRC522.
type rc522Device struct {
	port   spi.PortCloser
	dev    *mfrc522.Dev
	closed bool
}

func (d *rc522Device) String() string {
	return d.dev.String()
}

func (d *rc522Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.dev.Halt()
	return d.port.Close()
}

// Poll issues REQIDL and anticollision to find a card and read its UID.
func (d *rc522Device) Poll() (ClassicCard, error) {
	if d.closed {
		return nil, ErrDeviceClosed
	}

	ll := d.dev.LowLevel
	if err := ll.Init(); err != nil {
		return nil, fmt.Errorf("mfrc522 init: %w", err)
	}
	if err := ll.DevWrite(commands.BitFramingReg, 0x07); err != nil {
		return nil, fmt.Errorf("mfrc522 bit framing: %w", err)
	}
	_, backBits, err := ll.CardWrite(commands.PCD_TRANSCEIVE, []byte{commands.PICC_REQIDL})
	if err != nil || backBits != 0x10 {
		return nil, ErrNoCard
	}

	if err := ll.DevWrite(commands.BitFramingReg, 0x00); err != nil {
		return nil, fmt.Errorf("mfrc522 bit framing: %w", err)
	}
	data, _, err := ll.CardWrite(commands.PCD_TRANSCEIVE, []byte{commands.PICC_ANTICOLL, 0x20})
	if err != nil {
		return nil, cardError(CodeTransmit, "rc522Device.Poll", err)
	}
	if len(data) != 5 {
		return nil, ErrNoCard
	}

	return &rc522Card{dev: d.dev, uid: fmt.Sprintf("%X", data[:4]), sector: -1}, nil
}

// rc522Card implements ClassicCard with the MFRC522 combined
// select-authenticate-transfer calls. Authentication is tried once and the
// key is replayed for every block access in the same sector.
type rc522Card struct {
	dev       *mfrc522.Dev
	uid       string
	sector    int
	key       [6]byte
	connected bool
}

func (c *rc522Card) UID() string  { return c.uid }
func (c *rc522Card) Type() string { return CardTypeMifareClassic }

func (c *rc522Card) Connect() error {
	c.connected = true
	return nil
}

func (c *rc522Card) AuthenticateSectorWithKeyA(sector int, key [6]byte) (bool, error) {
	if !c.connected {
		return false, notConnected("rc522Card.Authenticate", c.uid)
	}
	if _, err := c.dev.ReadCard(rc522Timeout, byte(commands.PICC_AUTHENT1A), sector, 0, key); err != nil {
		if isRC522AuthError(err) {
			rc522Log.WithFields(log.Fields{"uid": c.uid, "sector": sector}).WithError(err).Debug("Key A rejected")
			return false, nil
		}
		return false, cardError(CodeTransmit, "rc522Card.Authenticate", err)
	}
	c.sector = sector
	c.key = key
	return true, nil
}

func (c *rc522Card) ReadBlock(index int) ([]byte, error) {
	block, err := c.relative(index, "rc522Card.ReadBlock")
	if err != nil {
		return nil, err
	}
	data, err := c.dev.ReadCard(rc522Timeout, byte(commands.PICC_AUTHENT1A), c.sector, block, c.key)
	if err != nil {
		return nil, cardError(CodeRead, fmt.Sprintf("rc522Card.ReadBlock(%d)", index), err)
	}
	return data, nil
}

func (c *rc522Card) WriteBlock(index int, data []byte) error {
	block, err := c.relative(index, "rc522Card.WriteBlock")
	if err != nil {
		return err
	}
	if err := checkWritable(index, data); err != nil {
		return err
	}
	var buf [BlockSize]byte
	copy(buf[:], data)
	if err := c.dev.WriteCard(rc522Timeout, byte(commands.PICC_AUTHENT1A), c.sector, block, buf, c.key); err != nil {
		return cardError(CodeWrite, fmt.Sprintf("rc522Card.WriteBlock(%d)", index), err)
	}
	return nil
}

func (c *rc522Card) Close() error {
	c.connected = false
	return nil
}

// relative converts an absolute block index into the block offset inside the
// authenticated sector.
func (c *rc522Card) relative(index int, op string) (int, error) {
	if !c.connected {
		return 0, notConnected(op, c.uid)
	}
	if c.sector < 0 {
		return 0, &CardError{Code: CodeAuthRejected, Op: op, UID: c.uid, Err: errors.New("no sector authenticated")}
	}
	if SectorOfBlock(index) != c.sector {
		return 0, &CardError{Code: CodeAuthRejected, Op: op, UID: c.uid, Err: fmt.Errorf("block %d is outside authenticated sector %d", index, c.sector)}
	}
	return index - SectorFirstBlock(c.sector), nil
}

func isRC522AuthError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "auth")
}
