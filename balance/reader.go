package balance

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dotside-studios/davi-balance-reader/nfc"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Default location of the balance record.
const (
	DefaultSector = 1
	DefaultBlock  = 4
)

// Card is the card I/O capability the pipeline drives.
type Card interface {
	Connect() error
	AuthenticateSectorWithKeyA(sector int, key [6]byte) (bool, error)
	ReadBlock(index int) ([]byte, error)
}

// WritableCard is a Card that can also store blocks.
type WritableCard interface {
	Card
	WriteBlock(index int, data []byte) error
}

// Recorder observes finished reads. metrics.Metrics implements it.
type Recorder interface {
	ObserveRead(outcome string, duration time.Duration, amount decimal.NullDecimal)
}

// Result is a successful balance read.
type Result struct {
	ID      string
	UID     string
	Block   []byte
	Balance string
	Amount  decimal.NullDecimal
	ReadAt  time.Time
}

// Option configures a Reader.
type Option func(*Reader)

// WithSector overrides the sector authenticated before reading.
func WithSector(sector int) Option {
	return func(r *Reader) { r.sector = sector }
}

// WithBlock overrides the absolute block index holding the balance.
func WithBlock(block int) Option {
	return func(r *Reader) { r.block = block }
}

// WithKey overrides the key A used for authentication.
func WithKey(key [6]byte) Option {
	return func(r *Reader) { r.key = key }
}

// WithRecorder attaches a Recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Reader) { r.recorder = rec }
}

// WithLogger replaces the default logger.
func WithLogger(entry *log.Entry) Option {
	return func(r *Reader) { r.log = entry }
}

// Reader runs the connect, authenticate, read and decode sequence against a
// card. It holds configuration only and is safe for concurrent use.
type Reader struct {
	sector   int
	block    int
	key      [6]byte
	recorder Recorder
	log      *log.Entry
	now      func() time.Time
}

// NewReader returns a Reader for sector 1, block 4 and the NFC Forum key.
func NewReader(opts ...Option) *Reader {
	r := &Reader{
		sector: DefaultSector,
		block:  DefaultBlock,
		key:    nfc.KeyNFCForum,
		log:    log.WithField("component", "balance"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read authenticates the balance sector and decodes its balance block.
// When authentication is refused the block is never read.
func (r *Reader) Read(card Card) (*Result, error) {
	start := r.now()
	res, err := r.read(card)
	r.observe(start, res, err)
	return res, err
}

func (r *Reader) read(card Card) (*Result, error) {
	if c, ok := card.(io.Closer); ok {
		defer c.Close()
	}

	block, err := r.openBlock(card)
	if err != nil {
		return nil, err
	}
	return r.decode(card, block)
}

// Write stores amount in the balance field and reads it back.
func (r *Reader) Write(card WritableCard, amount decimal.Decimal) (*Result, error) {
	field, err := FormatAmount(amount)
	if err != nil {
		return nil, err
	}

	start := r.now()
	res, err := r.write(card, field)
	r.observe(start, res, err)
	return res, err
}

func (r *Reader) write(card WritableCard, field string) (*Result, error) {
	if c, ok := card.(io.Closer); ok {
		defer c.Close()
	}

	current, err := r.openBlock(card)
	if err != nil {
		return nil, err
	}
	updated, err := ReplaceField(current, field)
	if err != nil {
		return nil, newReadError(EmptyPrimaryBlock, "replace field", err)
	}
	if err := card.WriteBlock(r.block, updated); err != nil {
		return nil, newReadError(Communication, "write block", err)
	}

	readBack, err := card.ReadBlock(r.block)
	if err != nil {
		return nil, newReadError(Communication, "verify block", err)
	}
	res, err := r.decode(card, readBack)
	if err != nil {
		return nil, err
	}
	if res.Balance != field {
		return nil, newReadError(Communication, "verify block",
			fmt.Errorf("wrote %q but card holds %q", field, res.Balance))
	}
	r.log.WithFields(log.Fields{"uid": res.UID, "balance": field}).Info("Balance written")
	return res, nil
}

// openBlock connects, authenticates and reads the raw balance block.
func (r *Reader) openBlock(card Card) ([]byte, error) {
	if err := card.Connect(); err != nil {
		return nil, newReadError(Communication, "connect", err)
	}

	ok, err := card.AuthenticateSectorWithKeyA(r.sector, r.key)
	if err != nil {
		return nil, cardFailure("authenticate", err)
	}
	if !ok {
		return nil, newReadError(AuthFailed, "authenticate", fmt.Errorf("sector %d rejected key A", r.sector))
	}

	block, err := card.ReadBlock(r.block)
	if err != nil {
		return nil, cardFailure("read block", err)
	}
	if len(block) == 0 {
		return nil, newReadError(EmptyPrimaryBlock, "read block", fmt.Errorf("block %d is empty", r.block))
	}
	return block, nil
}

// cardFailure classifies an error returned by the card. A backend that
// refuses access to the block counts as a rejected key, anything else as a
// communication failure.
func cardFailure(op string, err error) *ReadError {
	if nfc.IsAuthRejected(err) {
		return newReadError(AuthFailed, op, err)
	}
	return newReadError(Communication, op, err)
}

func (r *Reader) decode(card Card, block []byte) (*Result, error) {
	field, err := ReadBalance(block)
	if err != nil {
		return nil, newReadError(EmptyPrimaryBlock, "decode", err)
	}

	res := &Result{
		ID:      uuid.NewString(),
		Block:   block,
		Balance: field,
		Amount:  ParseAmount(field),
		ReadAt:  r.now(),
	}
	if u, ok := card.(interface{ UID() string }); ok {
		res.UID = u.UID()
	}
	return res, nil
}

func (r *Reader) observe(start time.Time, res *Result, err error) {
	outcome := "ok"
	if err != nil {
		outcome = KindOf(err).String()
		var ae *AmountError
		if errors.As(err, &ae) {
			outcome = "invalid_amount"
		}
	}

	entry := r.log.WithFields(log.Fields{"outcome": outcome, "duration": r.now().Sub(start)})
	switch {
	case nfc.IsCardRemoved(err):
		entry.WithError(err).Info("Card removed before the balance was read")
	case err != nil:
		entry.WithError(err).Warn("Balance read failed")
	default:
		entry.WithFields(log.Fields{"uid": res.UID, "balance": res.Balance}).Debug("Balance read")
	}

	if r.recorder == nil {
		return
	}
	var amount decimal.NullDecimal
	if res != nil {
		amount = res.Amount
	}
	r.recorder.ObserveRead(outcome, r.now().Sub(start), amount)
}

// Verify reports whether the card amount in res equals expected.
func Verify(res *Result, expected decimal.Decimal) error {
	if res == nil || !res.Amount.Valid {
		return fmt.Errorf("%w: card field is not a number", ErrBalanceMismatch)
	}
	if !res.Amount.Decimal.Equal(expected) {
		return fmt.Errorf("%w: card %s, expected %s", ErrBalanceMismatch,
			res.Amount.Decimal.StringFixed(2), expected.StringFixed(2))
	}
	return nil
}
