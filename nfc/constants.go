package nfc

import (
	"fmt"
	"time"
)

// Reader backends accepted by NewManager.
const (
	BackendLibNFC = "libnfc"
	BackendPCSC   = "pcsc"
	BackendRC522  = "rc522"
)

// Card type names reported by Device implementations.
const (
	CardTypeMifareClassic1K = "MIFARE Classic 1K"
	CardTypeMifareClassic4K = "MIFARE Classic 4K"
	CardTypeMifareClassic   = "MIFARE Classic"
)

// KeyTypeA selects Key A in the PC/SC GENERAL AUTHENTICATE command.
const KeyTypeA = 0x60

// BlockSize is the size of a MIFARE Classic data block.
const BlockSize = 16

// KeyNFCForum is the public key A of NFC Forum formatted sectors and the key
// the balance sector is read with.
var KeyNFCForum = [6]byte{0xD3, 0xF7, 0xD3, 0xF7, 0xD3, 0xF7}

const (
	// DeviceEnumRetries is how many times ListDevices asks the driver before giving up.
	DeviceEnumRetries = 3
	// DefaultPollInterval is how often the dispatcher looks for a card.
	DefaultPollInterval = 250 * time.Millisecond
	// DefaultPresenceWindow is how long a card must be gone before it is
	// delivered again.
	DefaultPresenceWindow = time.Second
)

// SectorTrailerBlock returns the absolute index of the trailer block that
// guards sector. Sectors 32-39 of a 4K card hold 16 blocks, all others 4.
func SectorTrailerBlock(sector int) int {
	if sector >= 32 {
		return 128 + (sector-32)*16 + 15
	}
	return sector*4 + 3
}

// SectorFirstBlock returns the absolute index of the first block of sector.
func SectorFirstBlock(sector int) int {
	if sector >= 32 {
		return 128 + (sector-32)*16
	}
	return sector * 4
}

// SectorOfBlock returns the sector containing the absolute block index.
func SectorOfBlock(block int) int {
	if block >= 128 {
		return 32 + (block-128)/16
	}
	return block / 4
}

// IsSectorTrailer reports whether block holds keys and access bits.
func IsSectorTrailer(block int) bool {
	return SectorTrailerBlock(SectorOfBlock(block)) == block
}

// checkWritable refuses writes that would corrupt a card.
func checkWritable(index int, data []byte) error {
	if len(data) != BlockSize {
		return cardError(CodeInvalidBlock, "WriteBlock", fmt.Errorf("data length must be %d bytes, got %d", BlockSize, len(data)))
	}
	if index == 0 || IsSectorTrailer(index) {
		return cardError(CodeInvalidBlock, "WriteBlock", fmt.Errorf("block %d is a manufacturer or trailer block", index))
	}
	return nil
}
