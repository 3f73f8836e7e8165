package nfc

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ebfe/scard"
	log "github.com/sirupsen/logrus"
)

var pcscLog = log.WithField("component", "pcsc")

// pcscManager implements Manager using PC/SC via ebfe/scard
type pcscManager struct {
	ctx   *scard.Context
	ctxMu sync.Mutex
}

func newPCSCManager() *pcscManager {
	return &pcscManager{}
}

// context returns a valid PC/SC context, establishing a new one when the
// previous context stopped answering.
func (m *pcscManager) context() (*scard.Context, error) {
	m.ctxMu.Lock()
	defer m.ctxMu.Unlock()

	if m.ctx != nil {
		if _, err := m.ctx.ListReaders(); err == nil {
			return m.ctx, nil
		}
		m.ctx.Release()
		m.ctx = nil
	}

	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("failed to establish PC/SC context: %w", err)
	}
	m.ctx = ctx
	return ctx, nil
}

// OpenDevice binds to a reader. An empty name selects the first contactless
// reader.
func (m *pcscManager) OpenDevice(deviceStr string) (Device, error) {
	ctx, err := m.context()
	if err != nil {
		return nil, err
	}

	readerName := deviceStr
	if readerName == "" {
		readers, err := ctx.ListReaders()
		if err != nil {
			return nil, fmt.Errorf("failed to list readers: %w", err)
		}
		readers = filterContactlessReaders(readers)
		if len(readers) == 0 {
			return nil, fmt.Errorf("no PC/SC readers found")
		}
		readerName = readers[0]
	}

	return &pcscDevice{ctx: ctx, readerName: readerName}, nil
}

// ListDevices lists available PC/SC readers
func (m *pcscManager) ListDevices() ([]string, error) {
	var lastErr error
	for i := 0; i < DeviceEnumRetries; i++ {
		ctx, err := m.context()
		if err != nil {
			lastErr = err
			time.Sleep(time.Millisecond * 100)
			continue
		}

		readers, err := ctx.ListReaders()
		if err != nil {
			lastErr = err
			time.Sleep(time.Millisecond * 100)
			continue
		}
		return filterContactlessReaders(readers), nil
	}
	return nil, fmt.Errorf("failed to list PC/SC readers after %d retries: %w", DeviceEnumRetries, lastErr)
}

// pcscDevice is one PC/SC reader slot.
type pcscDevice struct {
	ctx        *scard.Context
	readerName string
	closed     bool
}

func (d *pcscDevice) String() string {
	return d.readerName
}

func (d *pcscDevice) Close() error {
	d.closed = true
	return nil
}

// Poll connects to the card in the reader, if any, and identifies it from
// its ATR.
func (d *pcscDevice) Poll() (ClassicCard, error) {
	if d.closed {
		return nil, ErrDeviceClosed
	}

	present, err := isCardPresent(d.ctx, d.readerName)
	if err != nil {
		return nil, fmt.Errorf("failed to check card presence: %w", err)
	}
	if !present {
		return nil, ErrNoCard
	}

	card, err := d.ctx.Connect(d.readerName, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		if isCardRemovedPCSCError(err) {
			return nil, ErrNoCard
		}
		return nil, fmt.Errorf("failed to connect to reader %s: %w", d.readerName, err)
	}

	status, err := card.Status()
	if err != nil {
		card.Disconnect(scard.LeaveCard)
		return nil, fmt.Errorf("failed to get card status: %w", err)
	}

	c := &pcscCard{card: card, reader: d.readerName}
	if uid, err := c.getUID(); err == nil {
		c.uid = uid
	} else {
		pcscLog.WithError(err).Warn("Could not read card UID")
	}

	cardType, ok := classicTypeFromATR(status.Atr)
	if !ok {
		card.Disconnect(scard.LeaveCard)
		return nil, &UnsupportedTagError{UID: c.uid, Type: fmt.Sprintf("ATR % X", status.Atr)}
	}
	c.cardType = cardType
	return c, nil
}

// isCardPresent checks the reader state without waiting for a change.
func isCardPresent(ctx *scard.Context, readerName string) (bool, error) {
	readerStates := []scard.ReaderState{
		{Reader: readerName, CurrentState: scard.StateUnaware},
	}

	if err := ctx.GetStatusChange(readerStates, 0); err != nil {
		if !errors.Is(err, scard.ErrTimeout) && !strings.Contains(strings.ToLower(err.Error()), "timeout") {
			return false, err
		}
	}
	return readerStates[0].EventState&scard.StatePresent != 0, nil
}

// pcscTransmitter is the subset of *scard.Card used by pcscCard.
type pcscTransmitter interface {
	Transmit(cmd []byte) ([]byte, error)
	Disconnect(d scard.Disposition) error
}

// pcscCard drives a MIFARE Classic card through the reader's PC/SC
// pseudo-APDUs.
type pcscCard struct {
	card     pcscTransmitter
	reader   string
	uid      string
	cardType string
	closed   bool
}

func (c *pcscCard) UID() string  { return c.uid }
func (c *pcscCard) Type() string { return c.cardType }

// Connect checks the connection made by Poll is still usable.
func (c *pcscCard) Connect() error {
	if c.closed || c.card == nil {
		return notConnected("pcscCard.Connect", c.uid)
	}
	return nil
}

func (c *pcscCard) AuthenticateSectorWithKeyA(sector int, key [6]byte) (bool, error) {
	if err := c.Connect(); err != nil {
		return false, err
	}

	resp, err := c.transmit(LoadKeyAPDU(0x00, key))
	if err != nil {
		return false, err
	}
	if !resp.IsSuccess() {
		return false, cardError(CodeTransmit, "pcscCard.LoadKey", fmt.Errorf("reader refused key: %w", resp.Error()))
	}

	resp, err = c.transmit(MIFAREAuthAPDU(byte(SectorTrailerBlock(sector)), KeyTypeA, 0x00))
	if err != nil {
		return false, err
	}
	if !resp.IsSuccess() {
		pcscLog.WithFields(log.Fields{"uid": c.uid, "sector": sector, "sw": fmt.Sprintf("%04X", resp.StatusWord())}).Debug("Key A rejected")
		return false, nil
	}
	return true, nil
}

func (c *pcscCard) ReadBlock(index int) ([]byte, error) {
	if err := c.Connect(); err != nil {
		return nil, err
	}
	resp, err := c.transmit(ReadBinaryAPDU(byte(index), BlockSize))
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, cardError(CodeRead, fmt.Sprintf("pcscCard.ReadBlock(%d)", index), resp.Error())
	}
	return resp.Data, nil
}

func (c *pcscCard) WriteBlock(index int, data []byte) error {
	if err := c.Connect(); err != nil {
		return err
	}
	if err := checkWritable(index, data); err != nil {
		return err
	}
	resp, err := c.transmit(UpdateBinaryAPDU(byte(index), data))
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return cardError(CodeWrite, fmt.Sprintf("pcscCard.WriteBlock(%d)", index), resp.Error())
	}
	return nil
}

func (c *pcscCard) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.card.Disconnect(scard.LeaveCard)
}

func (c *pcscCard) transmit(cmd []byte) (APDUResponse, error) {
	raw, err := c.card.Transmit(cmd)
	if err != nil {
		if isCardRemovedPCSCError(err) {
			return APDUResponse{}, cardError(CodeCardRemoved, "pcscCard.Transmit", err)
		}
		return APDUResponse{}, cardError(CodeTransmit, "pcscCard.Transmit", err)
	}
	resp, err := ParseAPDUResponse(raw)
	if err != nil {
		return APDUResponse{}, cardError(CodeTransmit, "pcscCard.Transmit", err)
	}
	return resp, nil
}

// getUID retrieves the card UID using GET UID APDU
func (c *pcscCard) getUID() (string, error) {
	resp, err := c.transmit(GetUIDAPDU())
	if err != nil {
		return "", err
	}
	if !resp.IsSuccess() {
		return "", resp.Error()
	}
	return fmt.Sprintf("%X", resp.Data), nil
}

// pcscStorageRID prefixes the card name in PC/SC part 3 storage card ATRs:
// A0 00 00 03 06 SS C0 C1, where C0 C1 names the card.
var pcscStorageRID = []byte{0xA0, 0x00, 0x00, 0x03, 0x06}

func classicTypeFromATR(atr []byte) (string, bool) {
	i := bytes.Index(atr, pcscStorageRID)
	if i < 0 || i+7 >= len(atr) {
		return "", false
	}
	switch atr[i+7] {
	case 0x01:
		return CardTypeMifareClassic1K, true
	case 0x02:
		return CardTypeMifareClassic4K, true
	}
	return "", false
}

// isCardRemovedPCSCError checks if a PC/SC error indicates the card was removed.
func isCardRemovedPCSCError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, scard.ErrRemovedCard) ||
		errors.Is(err, scard.ErrResetCard) ||
		errors.Is(err, scard.ErrNoSmartcard) ||
		errors.Is(err, scard.ErrUnpoweredCard) {
		return true
	}

	// Some drivers only report removal in the message text
	errLower := strings.ToLower(err.Error())
	return strings.Contains(errLower, "removed") ||
		strings.Contains(errLower, "no smart card") ||
		strings.Contains(errLower, "unpowered")
}

// readerContainsPattern checks if reader name contains common NFC reader patterns
func readerContainsPattern(name string) bool {
	patterns := []string{
		"ACR", "ACS", "NFC", "PICC", "CONTACTLESS",
		"SCL", "HID", "IDENTIV", "CCID", "DUAL",
	}
	upperName := strings.ToUpper(name)
	for _, p := range patterns {
		if strings.Contains(upperName, p) {
			return true
		}
	}
	return false
}

// filterContactlessReaders drops SAM slots and puts readers with a known
// contactless name first.
func filterContactlessReaders(readers []string) []string {
	var preferred, others []string
	for _, r := range readers {
		if strings.Contains(strings.ToUpper(r), "SAM") {
			continue
		}
		if readerContainsPattern(r) {
			preferred = append(preferred, r)
		} else {
			others = append(others, r)
		}
	}
	return append(preferred, others...)
}
