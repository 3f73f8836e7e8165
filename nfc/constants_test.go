package nfc

import "testing"

func TestSectorLayout(t *testing.T) {
	tests := []struct {
		sector  int
		first   int
		trailer int
	}{
		{sector: 0, first: 0, trailer: 3},
		{sector: 1, first: 4, trailer: 7},
		{sector: 15, first: 60, trailer: 63},
		{sector: 31, first: 124, trailer: 127},
		{sector: 32, first: 128, trailer: 143},
		{sector: 39, first: 240, trailer: 255},
	}

	for _, tt := range tests {
		if got := SectorFirstBlock(tt.sector); got != tt.first {
			t.Errorf("SectorFirstBlock(%d) = %d, want %d", tt.sector, got, tt.first)
		}
		if got := SectorTrailerBlock(tt.sector); got != tt.trailer {
			t.Errorf("SectorTrailerBlock(%d) = %d, want %d", tt.sector, got, tt.trailer)
		}
		if got := SectorOfBlock(tt.trailer); got != tt.sector {
			t.Errorf("SectorOfBlock(%d) = %d, want %d", tt.trailer, got, tt.sector)
		}
		if !IsSectorTrailer(tt.trailer) {
			t.Errorf("IsSectorTrailer(%d) = false", tt.trailer)
		}
		if IsSectorTrailer(tt.first) {
			t.Errorf("IsSectorTrailer(%d) = true", tt.first)
		}
	}
}

func TestCheckWritable(t *testing.T) {
	block := make([]byte, BlockSize)
	tests := []struct {
		name    string
		index   int
		data    []byte
		wantErr bool
	}{
		{"data block", 4, block, false},
		{"manufacturer block", 0, block, true},
		{"sector trailer", 7, block, true},
		{"short data", 4, block[:10], true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkWritable(tt.index, tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("checkWritable() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && CodeOf(err) != CodeInvalidBlock {
				t.Errorf("code = %v, want %v", CodeOf(err), CodeInvalidBlock)
			}
		})
	}
}

func TestNewManager(t *testing.T) {
	for _, backend := range append(Backends(), "") {
		m, err := NewManager(backend)
		if err != nil {
			t.Errorf("NewManager(%q) error = %v", backend, err)
		}
		if m == nil {
			t.Errorf("NewManager(%q) returned nil", backend)
		}
	}

	if _, err := NewManager("bluetooth"); err == nil {
		t.Error("NewManager should reject unknown backends")
	}
}
