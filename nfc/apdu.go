package nfc

import (
	"errors"
	"fmt"
)

// APDU status words
const (
	SW1Success = 0x90
	SW2Success = 0x00
)

// PC/SC pseudo-APDU class and instructions understood by contactless readers.
const (
	CLAPCSC = 0xFF

	INSGetUID     = 0xCA
	INSLoadKey    = 0x82
	INSAuth       = 0x86
	INSReadBinary = 0xB0
	INSUpdateBin  = 0xD6
)

// APDUResponse represents a parsed APDU response
type APDUResponse struct {
	Data []byte
	SW1  byte
	SW2  byte
}

// IsSuccess returns true if the response indicates success (SW1=90, SW2=00)
func (r APDUResponse) IsSuccess() bool {
	return r.SW1 == SW1Success && r.SW2 == SW2Success
}

// Error returns an error if the response is not successful
func (r APDUResponse) Error() error {
	if r.IsSuccess() {
		return nil
	}
	return fmt.Errorf("APDU error: SW1=%02X SW2=%02X", r.SW1, r.SW2)
}

// StatusWord returns the 2-byte status word as uint16
func (r APDUResponse) StatusWord() uint16 {
	return uint16(r.SW1)<<8 | uint16(r.SW2)
}

// ParseAPDUResponse parses a raw response into APDUResponse
func ParseAPDUResponse(raw []byte) (APDUResponse, error) {
	if len(raw) < 2 {
		return APDUResponse{}, errors.New("response too short")
	}
	return APDUResponse{
		Data: raw[:len(raw)-2],
		SW1:  raw[len(raw)-2],
		SW2:  raw[len(raw)-1],
	}, nil
}

// BuildAPDU constructs an APDU command
func BuildAPDU(cla, ins, p1, p2 byte, data []byte, le *byte) []byte {
	cmd := []byte{cla, ins, p1, p2}

	if len(data) > 0 {
		cmd = append(cmd, byte(len(data)))
		cmd = append(cmd, data...)
	}

	if le != nil {
		cmd = append(cmd, *le)
	}

	return cmd
}

// GetUIDAPDU returns the APDU for getting the card UID
func GetUIDAPDU() []byte {
	le := byte(0x00)
	return BuildAPDU(CLAPCSC, INSGetUID, 0x00, 0x00, nil, &le)
}

// LoadKeyAPDU returns the APDU for loading a key into reader memory.
// keySlot: 0x00-0x1F for volatile, 0x20+ for non-volatile
func LoadKeyAPDU(keySlot byte, key [6]byte) []byte {
	return BuildAPDU(CLAPCSC, INSLoadKey, 0x00, keySlot, key[:], nil)
}

// MIFAREAuthAPDU returns the general authenticate APDU for block using the
// key previously loaded into keySlot.
func MIFAREAuthAPDU(block byte, keyType byte, keySlot byte) []byte {
	// Version | 0x00 | Block | Key Type | Key Number
	data := []byte{0x01, 0x00, block, keyType, keySlot}
	return BuildAPDU(CLAPCSC, INSAuth, 0x00, 0x00, data, nil)
}

// ReadBinaryAPDU returns the APDU reading length bytes from a block.
func ReadBinaryAPDU(block byte, length byte) []byte {
	return BuildAPDU(CLAPCSC, INSReadBinary, 0x00, block, nil, &length)
}

// UpdateBinaryAPDU returns the APDU writing data to a block.
func UpdateBinaryAPDU(block byte, data []byte) []byte {
	return BuildAPDU(CLAPCSC, INSUpdateBin, 0x00, block, data, nil)
}
