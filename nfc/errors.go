package nfc

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCard is returned by Device.Poll when the field is empty.
	ErrNoCard = errors.New("no card in field")

	// ErrUnsupportedTag is returned by Device.Poll for tags that are not MIFARE Classic.
	ErrUnsupportedTag = errors.New("unsupported tag")

	// ErrDeviceClosed is returned when using a device after Close.
	ErrDeviceClosed = errors.New("device closed")

	// ErrUnknownBackend is returned by NewManager for an unrecognised backend name.
	ErrUnknownBackend = errors.New("unknown reader backend")
)

// CardErrorCode says which step of a card exchange failed.
type CardErrorCode int

const (
	// CodeTransmit is a reader or radio failure.
	CodeTransmit CardErrorCode = iota + 1
	// CodeCardRemoved means the card left the field mid-exchange.
	CodeCardRemoved
	// CodeNotConnected means I/O was attempted before Connect or after Close.
	CodeNotConnected
	// CodeAuthRejected means the block is not covered by an accepted key.
	CodeAuthRejected
	// CodeRead means the card refused a block read.
	CodeRead
	// CodeWrite means the card refused a block write.
	CodeWrite
	// CodeInvalidBlock means a write was refused before reaching the card.
	CodeInvalidBlock
)

func (c CardErrorCode) String() string {
	switch c {
	case CodeTransmit:
		return "transmit failed"
	case CodeCardRemoved:
		return "card removed"
	case CodeNotConnected:
		return "card not connected"
	case CodeAuthRejected:
		return "authentication rejected"
	case CodeRead:
		return "read refused"
	case CodeWrite:
		return "write refused"
	case CodeInvalidBlock:
		return "invalid block"
	default:
		return "unknown card error"
	}
}

// CardError is returned by the card operations of every backend.
type CardError struct {
	Code CardErrorCode
	Op   string // e.g. "pcscCard.ReadBlock(4)"
	UID  string // empty when unknown
	Err  error
}

func (e *CardError) Error() string {
	msg := e.Code.String()
	if e.UID != "" {
		msg = fmt.Sprintf("%s (card %s)", msg, e.UID)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CardError) Unwrap() error {
	return e.Err
}

// Is matches another *CardError with the same code.
func (e *CardError) Is(target error) bool {
	t, ok := target.(*CardError)
	return ok && e.Code == t.Code
}

func cardError(code CardErrorCode, op string, err error) *CardError {
	return &CardError{Code: code, Op: op, Err: err}
}

func notConnected(op, uid string) *CardError {
	return &CardError{Code: CodeNotConnected, Op: op, UID: uid}
}

// CodeOf returns the code of the first CardError in err's chain, or 0.
func CodeOf(err error) CardErrorCode {
	var ce *CardError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}

// IsCardRemoved reports whether err means the card left the field.
func IsCardRemoved(err error) bool {
	return CodeOf(err) == CodeCardRemoved
}

// IsAuthRejected reports whether err means the card did not accept the key
// for the block being accessed.
func IsAuthRejected(err error) bool {
	return CodeOf(err) == CodeAuthRejected
}

// UnsupportedTagError reports a tag in the field that is not MIFARE Classic.
type UnsupportedTagError struct {
	UID  string
	Type string
}

func (e *UnsupportedTagError) Error() string {
	return fmt.Sprintf("unsupported tag %s (%s)", e.UID, e.Type)
}

func (e *UnsupportedTagError) Unwrap() error {
	return ErrUnsupportedTag
}
