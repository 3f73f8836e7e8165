package balance

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FieldWidth is the number of characters reserved for the balance on the card.
const FieldWidth = FieldEnd - FieldStart

// ParseAmount interprets a balance field as a decimal amount. The field is
// opaque display text, so a field that does not parse yields an invalid
// NullDecimal rather than an error.
func ParseAmount(field string) decimal.NullDecimal {
	trimmed := strings.Trim(field, " \x00")
	if trimmed == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// FormatAmount renders an amount the way the top-up terminals write it: two
// decimals, zero padded to the field width ("05.50"). Amounts with more than
// two decimals are refused rather than rounded.
func FormatAmount(amount decimal.Decimal) (string, error) {
	if amount.IsNegative() {
		return "", &AmountError{Amount: amount.String(), Reason: "negative balance"}
	}
	if !amount.Equal(amount.Round(2)) {
		return "", &AmountError{Amount: amount.String(), Reason: "more than two decimals"}
	}
	s := amount.StringFixed(2)
	if len(s) > FieldWidth {
		return "", &AmountError{Amount: s, Reason: fmt.Sprintf("does not fit in %d characters", FieldWidth)}
	}
	return strings.Repeat("0", FieldWidth-len(s)) + s, nil
}

// ReplaceField returns a copy of block with the balance field set to field.
func ReplaceField(block []byte, field string) ([]byte, error) {
	if len(block) < FieldEnd {
		return nil, &OutOfRangeError{Length: len(block), Need: FieldEnd}
	}
	if len(field) != FieldWidth {
		return nil, &AmountError{Amount: field, Reason: fmt.Sprintf("field must be %d characters", FieldWidth)}
	}
	out := make([]byte, len(block))
	copy(out, block)
	copy(out[FieldStart:FieldEnd], field)
	return out, nil
}
