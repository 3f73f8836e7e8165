package balance

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		amount  string
		want    string
		wantErr bool
	}{
		{"5.5", "05.50", false},
		{"0", "00.00", false},
		{"99.99", "99.99", false},
		{"12.340", "12.34", false},
		{"5.555", "", true},
		{"0.001", "", true},
		{"100", "", true},
		{"-1", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.amount, func(t *testing.T) {
			got, err := FormatAmount(decimal.RequireFromString(tc.amount))
			if tc.wantErr {
				var ae *AmountError
				assert.ErrorAs(t, err, &ae)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Len(t, got, FieldWidth)
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		field string
		valid bool
		want  string
	}{
		{"05.50", true, "5.5"},
		{"50000", true, "50000"},
		{" 1.20", true, "1.2"},
		{"\x00\x00\x00\x00\x00", false, ""},
		{"AB?CD", false, ""},
		{"", false, ""},
	}

	for _, tc := range tests {
		t.Run(tc.field, func(t *testing.T) {
			got := ParseAmount(tc.field)
			assert.Equal(t, tc.valid, got.Valid)
			if tc.valid {
				assert.True(t, got.Decimal.Equal(decimal.RequireFromString(tc.want)))
			}
		})
	}
}

func TestReplaceField(t *testing.T) {
	block := []byte("0123456789ABCDEF")
	out, err := ReplaceField(block, "05.50")
	require.NoError(t, err)
	assert.Equal(t, "012345678905.50F", string(out))
	assert.Equal(t, "0123456789ABCDEF", string(block), "input must not be modified")

	_, err = ReplaceField([]byte("short"), "05.50")
	var oor *OutOfRangeError
	assert.ErrorAs(t, err, &oor)

	_, err = ReplaceField(block, "5.5")
	var ae *AmountError
	assert.ErrorAs(t, err, &ae)
}
