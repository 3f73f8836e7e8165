package balance

import (
	"strings"
	"testing"

	"github.com/dotside-studios/davi-balance-reader/nfc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeHex(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{"empty", []byte{}, ""},
		{"nil", nil, ""},
		{"ascii digits", []byte{0x35, 0x30, 0x30}, "353030"},
		{"high nibbles", []byte{0xAB, 0xCD, 0xEF}, "ABCDEF"},
		{"zero and max", []byte{0x00, 0xFF}, "00FF"},
		{"nfc forum key", nfc.KeyNFCForum[:], "D3F7D3F7D3F7"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, EncodeHex(tc.input))
		})
	}
}

func TestEncodeHexAlphabetAndLength(t *testing.T) {
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}

	out := EncodeHex(all)
	assert.Len(t, out, 2*len(all))
	for i, c := range out {
		assert.Truef(t, strings.ContainsRune(hexAlphabet, c), "character %q at %d outside alphabet", c, i)
	}
}

func TestDecodeHexToText(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"empty", "", "", false},
		{"digits", "353030", "500", false},
		{"lowercase accepted", "4a6b", "Jk", false},
		{"odd length", "35303", "", true},
		{"single digit", "3", "", true},
		{"invalid digit", "3G", "", true},
		{"invalid second pair", "30ZZ", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeHexToText(tc.input)
			if tc.wantErr {
				var mhe *MalformedHexError
				require.ErrorAs(t, err, &mhe)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeHexToTextReportsOffset(t *testing.T) {
	_, err := DecodeHexToText("3030XX30")
	var mhe *MalformedHexError
	require.ErrorAs(t, err, &mhe)
	assert.Equal(t, 4, mhe.Offset)
	assert.Equal(t, "XX", mhe.Pair)

	_, err = DecodeHexToText("303")
	require.ErrorAs(t, err, &mhe)
	assert.Equal(t, 2, mhe.Offset)
	assert.Equal(t, "odd length", mhe.Reason)
}

func TestRoundTrip(t *testing.T) {
	inputs := [][]byte{
		{},
		{0x00},
		{0x80, 0x81, 0xFE, 0xFF},
		[]byte("12345678\x0005.50\x00"),
	}
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	inputs = append(inputs, all)

	for _, in := range inputs {
		text, err := DecodeHexToText(EncodeHex(in))
		require.NoError(t, err)
		require.Len(t, text, len(in))
		for i := 0; i < len(in); i++ {
			assert.Equal(t, in[i], text[i])
		}
	}
}

func TestExtractBalance(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"sixteen characters", "ABCDEFGHIJKLMNOP", "KLMNO", false},
		{"exactly fifteen", "0123456789ABCDE", "ABCDE", false},
		{"fourteen", "0123456789ABCD", "", true},
		{"empty", "", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractBalance(tc.input)
			if tc.wantErr {
				var oor *OutOfRangeError
				require.ErrorAs(t, err, &oor)
				assert.Equal(t, len(tc.input), oor.Length)
				assert.Equal(t, 15, oor.Need)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestReadBalance(t *testing.T) {
	block := []byte{
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x35, 0x30, 0x30, 0x30, 0x30,
		0x00,
	}
	got, err := ReadBalance(block)
	require.NoError(t, err)
	assert.Equal(t, "50000", got)

	got, err = ReadBalance([]byte("0123456789ABCDEF"))
	require.NoError(t, err)
	assert.Equal(t, string([]byte("0123456789ABCDEF")[10:15]), got)

	_, err = ReadBalance([]byte("short"))
	var oor *OutOfRangeError
	assert.ErrorAs(t, err, &oor)
}
