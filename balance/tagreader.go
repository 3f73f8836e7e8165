// Package balance turns a raw MIFARE Classic data block into the balance
// string printed on the reader display.
//
// The card stores its balance as text inside block 4 of sector 1. The block
// is hex encoded, decoded back into characters and the field at character
// offsets [10, 15) is shown as is.
package balance

import "fmt"

const hexAlphabet = "0123456789ABCDEF"

// Offsets of the balance field inside the decoded block text.
const (
	FieldStart = 10
	FieldEnd   = 15
)

// EncodeHex returns the uppercase hex encoding of block, high nibble first,
// without separators.
func EncodeHex(block []byte) string {
	out := make([]byte, len(block)*2)
	for i, b := range block {
		out[i*2] = hexAlphabet[b>>4]
		out[i*2+1] = hexAlphabet[b&0x0F]
	}
	return string(out)
}

// DecodeHexToText decodes consecutive hex digit pairs into characters. Each
// character of the result is a single byte whose value is the decoded pair.
//
// Input of odd length is rejected rather than truncated.
func DecodeHexToText(hex string) (string, error) {
	if len(hex)%2 != 0 {
		return "", &MalformedHexError{Offset: len(hex) - 1, Pair: hex[len(hex)-1:], Reason: "odd length"}
	}

	out := make([]byte, len(hex)/2)
	for i := 0; i < len(hex); i += 2 {
		hi, ok1 := fromHexDigit(hex[i])
		lo, ok2 := fromHexDigit(hex[i+1])
		if !ok1 || !ok2 {
			return "", &MalformedHexError{Offset: i, Pair: hex[i : i+2], Reason: "invalid hex digit"}
		}
		out[i/2] = hi<<4 | lo
	}
	return string(out), nil
}

// ExtractBalance returns the balance field of a decoded block.
func ExtractBalance(text string) (string, error) {
	if len(text) < FieldEnd {
		return "", &OutOfRangeError{Length: len(text), Need: FieldEnd}
	}
	return text[FieldStart:FieldEnd], nil
}

// ReadBalance decodes a raw block and extracts its balance field.
func ReadBalance(block []byte) (string, error) {
	text, err := DecodeHexToText(EncodeHex(block))
	if err != nil {
		return "", fmt.Errorf("decode block: %w", err)
	}
	return ExtractBalance(text)
}

func fromHexDigit(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}
