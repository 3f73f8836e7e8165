package balance

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failed balance read for presentation.
type ErrorKind int

const (
	// KindNone is returned by KindOf for nil or unclassified errors.
	KindNone ErrorKind = iota
	// AuthFailed means the card refused the sector key.
	AuthFailed
	// EmptyPrimaryBlock means the balance block held no usable balance record.
	EmptyPrimaryBlock
	// EmptySecondaryBlock is kept for completeness. The read pipeline never
	// produces it.
	EmptySecondaryBlock
	// Communication covers any I/O failure while talking to the card.
	Communication
)

// Alert messages shown for each error kind.
const (
	AlertInvalidCard   = "Invalid Card"
	AlertCommunication = "Cannot communicate with the card"
)

func (k ErrorKind) String() string {
	switch k {
	case AuthFailed:
		return "auth_failed"
	case EmptyPrimaryBlock:
		return "empty_primary_block"
	case EmptySecondaryBlock:
		return "empty_secondary_block"
	case Communication:
		return "communication"
	default:
		return "none"
	}
}

// AlertFor returns the fixed alert message for an error kind.
func AlertFor(kind ErrorKind) string {
	if kind == Communication {
		return AlertCommunication
	}
	return AlertInvalidCard
}

// ReadError is returned by the read and write pipelines.
type ReadError struct {
	Kind ErrorKind
	Op   string // step that failed, e.g. "authenticate"
	Err  error
}

func (e *ReadError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Op)
	sb.WriteString(": ")
	sb.WriteString(e.Kind.String())
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

func (e *ReadError) Is(target error) bool {
	if t, ok := target.(*ReadError); ok {
		return e.Kind == t.Kind
	}
	return false
}

// KindOf extracts the error kind from err, or KindNone.
func KindOf(err error) ErrorKind {
	var re *ReadError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindNone
}

func newReadError(kind ErrorKind, op string, err error) *ReadError {
	return &ReadError{Kind: kind, Op: op, Err: err}
}

// MalformedHexError reports a hex string that cannot be decoded.
type MalformedHexError struct {
	Offset int
	Pair   string
	Reason string
}

func (e *MalformedHexError) Error() string {
	return fmt.Sprintf("malformed hex at offset %d (%q): %s", e.Offset, e.Pair, e.Reason)
}

// OutOfRangeError reports decoded text too short to hold the balance field.
type OutOfRangeError struct {
	Length int
	Need   int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("decoded text has %d characters, balance field needs %d", e.Length, e.Need)
}

// AmountError reports an amount that cannot be stored in the balance field.
type AmountError struct {
	Amount string
	Reason string
}

func (e *AmountError) Error() string {
	return fmt.Sprintf("amount %s: %s", e.Amount, e.Reason)
}

// ErrBalanceMismatch is returned by Verify when the card disagrees with the
// expected amount.
var ErrBalanceMismatch = errors.New("card balance does not match expected amount")
