package nfc

import (
	"errors"
	"fmt"
	"testing"
)

func TestCardError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *CardError
		expected string
	}{
		{
			name:     "op and cause",
			err:      cardError(CodeRead, "pcscCard.ReadBlock(4)", errors.New("status 6982")),
			expected: "pcscCard.ReadBlock(4): read refused: status 6982",
		},
		{
			name:     "with uid",
			err:      notConnected("MockCard.ReadBlock", "04A1B2C3"),
			expected: "MockCard.ReadBlock: card not connected (card 04A1B2C3)",
		},
		{
			name:     "code only",
			err:      &CardError{Code: CodeCardRemoved},
			expected: "card removed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("CardError.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestCardError_UnwrapAndIs(t *testing.T) {
	cause := errors.New("underlying error")
	err := fmt.Errorf("read balance: %w", cardError(CodeRead, "ReadBlock(4)", cause))

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
	if !errors.Is(err, &CardError{Code: CodeRead}) {
		t.Error("errors.Is should match on code")
	}
	if errors.Is(err, &CardError{Code: CodeWrite}) {
		t.Error("errors.Is should not match a different code")
	}
	if CodeOf(err) != CodeRead {
		t.Errorf("CodeOf() = %v, want %v", CodeOf(err), CodeRead)
	}
	if CodeOf(cause) != 0 {
		t.Errorf("CodeOf(plain error) = %v, want 0", CodeOf(cause))
	}
}

func TestCardErrorPredicates(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		removed bool
		auth    bool
	}{
		{"card removed", cardError(CodeCardRemoved, "Transmit", nil), true, false},
		{"wrapped removal", fmt.Errorf("poll: %w", cardError(CodeCardRemoved, "Transmit", nil)), true, false},
		{"auth rejected", &CardError{Code: CodeAuthRejected, Op: "ReadBlock", UID: "04A1B2C3"}, false, true},
		{"other code", cardError(CodeWrite, "WriteBlock", nil), false, false},
		{"plain error mentioning auth", errors.New("authentication failed"), false, false},
		{"nil", nil, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCardRemoved(tt.err); got != tt.removed {
				t.Errorf("IsCardRemoved() = %v, want %v", got, tt.removed)
			}
			if got := IsAuthRejected(tt.err); got != tt.auth {
				t.Errorf("IsAuthRejected() = %v, want %v", got, tt.auth)
			}
		})
	}
}

func TestUnsupportedTagError(t *testing.T) {
	err := fmt.Errorf("poll: %w", &UnsupportedTagError{UID: "04AABBCC", Type: "Ultralight"})

	if !errors.Is(err, ErrUnsupportedTag) {
		t.Error("UnsupportedTagError should unwrap to ErrUnsupportedTag")
	}
	var tagErr *UnsupportedTagError
	if !errors.As(err, &tagErr) {
		t.Fatal("errors.As should find UnsupportedTagError")
	}
	if tagErr.UID != "04AABBCC" {
		t.Errorf("UID = %q, want %q", tagErr.UID, "04AABBCC")
	}
}
