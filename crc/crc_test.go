package crc

import (
	"testing"

	"github.com/sigurn/crc16"
)

func TestCRC5(t *testing.T) {
	tests := []struct {
		name string
		v    uint16
		want uint8
	}{
		{"zero", 0x000, 0x02},
		{"one", 0x001, 0x1D},
		{"seq 7", 0x007, 0x0D},
		{"alternating 01", 0x155, 0x08},
		{"alternating 10", 0x2AA, 0x16},
		{"all ones", 0x7FF, 0x08},
		{"upper bits ignored", 0xF800, 0x02},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CRC5(tt.v); got != tt.want {
				t.Errorf("CRC5(0x%03X) = 0x%02X, want 0x%02X", tt.v, got, tt.want)
			}
		})
	}
}

func TestCRC5RoundTrip(t *testing.T) {
	for v := uint16(0); v < 1<<11; v++ {
		c := CRC5(v)
		if c > 0x1F {
			t.Fatalf("CRC5(0x%03X) = 0x%02X, exceeds 5 bits", v, c)
		}
		if !CheckCRC5(v, c) {
			t.Fatalf("CheckCRC5(0x%03X, 0x%02X) = false, want true", v, c)
		}
		for bit := 0; bit < 11; bit++ {
			if CheckCRC5(v^(1<<bit), c) {
				t.Fatalf("CheckCRC5 accepted single-bit error at bit %d of 0x%03X", bit, v)
			}
		}
	}
}

func TestHeaderCRC16(t *testing.T) {
	tests := []struct {
		name          string
		dw0, dw1, dw2 uint32
		want          uint16
	}{
		{"link management", 0x00000280, 0x00010004, 0x00000000, 0x1845},
		{"zeros", 0, 0, 0, 0x41B0},
		{"ones", 0xFFFFFFFF, 0xFFFFFFFF, 0xFFFFFFFF, 0x2A2A},
		{"pattern", 0x11111111, 0x22222222, 0x33333333, 0x7FBA},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HeaderCRC16(tt.dw0, tt.dw1, tt.dw2); got != tt.want {
				t.Errorf("HeaderCRC16() = 0x%04X, want 0x%04X", got, tt.want)
			}
		})
	}
}

func TestHeaderCRC16Check(t *testing.T) {
	if got := crc16.Checksum([]byte("123456789"), headerTable); got != headerParams.Check {
		t.Errorf("Checksum(123456789) = 0x%04X, want 0x%04X", got, headerParams.Check)
	}
}

func TestCRC16Running(t *testing.T) {
	words := []uint32{0x00000280, 0x00010004, 0x00000000}
	state := CRC16Init()
	if state != 0xFFFF {
		t.Errorf("CRC16Init() = 0x%04X, want 0xFFFF", state)
	}
	for _, w := range words {
		state = CRC16Update(state, w)
	}
	if got := CRC16Finalize(state); got != 0x1845 {
		t.Errorf("CRC16Finalize() = 0x%04X, want 0x1845", got)
	}
}

func TestCRC32Update(t *testing.T) {
	tests := []struct {
		name  string
		words []uint32
		tail  uint32
		n     int
		want  uint32
	}{
		{"empty", nil, 0, 0, 0x00000000},
		{"one word", []uint32{0x04030201}, 0, 0, 0xB63CFBCD},
		{"one byte", nil, 0x000000AB, 1, 0x930695ED},
		{"partial ignores high bytes", nil, 0xFFFFFFAB, 1, 0x930695ED},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := CRC32Init()
			for _, w := range tt.words {
				state = CRC32Update(state, w, 4)
			}
			state = CRC32Update(state, tt.tail, tt.n)
			if got := CRC32Finalize(state); got != tt.want {
				t.Errorf("CRC32Finalize() = 0x%08X, want 0x%08X", got, tt.want)
			}
		})
	}
}

func TestPayloadCRC32MatchesRunning(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}
	state := CRC32Init()
	state = CRC32Update(state, 0x04030201, 4)
	state = CRC32Update(state, 0x00070605, 3)
	if got, want := CRC32Finalize(state), PayloadCRC32(payload); got != want {
		t.Errorf("running CRC32 = 0x%08X, want 0x%08X", got, want)
	}
}
