package checksum

import (
	"bytes"
	"testing"
)

// Reference check value input used by the CRC catalogues.
var check = []byte("123456789")

func TestCrc16Modbus(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{
			name: "read holding registers request",
			data: []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02},
			want: 0x0BC4, // C4 0B in little-endian wire order
		},
		{
			name: "read holding registers single",
			data: []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01},
			want: 0x0A84, // 84 0A in little-endian wire order
		},
		{
			name: "catalogue check value",
			data: check,
			want: 0x4B37,
		},
		{
			name: "empty data",
			data: []byte{},
			want: 0xFFFF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Crc16Modbus(tt.data); got != tt.want {
				t.Errorf("Crc16Modbus() = %04X, want %04X", got, tt.want)
			}
		})
	}
}

func TestCrc16Arc(t *testing.T) {
	if got := Crc16Arc(check); got != 0xBB3D {
		t.Errorf("Crc16Arc() = %04X, want BB3D", got)
	}
}

func TestCrc16Ccitt(t *testing.T) {
	if got := Crc16Ccitt(check); got != 0x29B1 {
		t.Errorf("Crc16Ccitt() = %04X, want 29B1", got)
	}
}

func TestXor(t *testing.T) {
	// NMEA checksum for the body of "$GPGLL,4916.45,N,12311.12,W,225444,A".
	body := []byte("GPGLL,4916.45,N,12311.12,W,225444,A")
	if got := Xor(body); got != 0x1D {
		t.Errorf("Xor() = %02X, want 1D", got)
	}
}

func TestSum8AndLrc(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	if got := Sum8(data); got != 0x06 {
		t.Errorf("Sum8() = %02X, want 06", got)
	}
	if got := Lrc(data); got != 0xFA {
		t.Errorf("Lrc() = %02X, want FA", got)
	}
	// LRC of a sum that wraps past 256.
	if got := Lrc([]byte{0xFF, 0x02}); got != 0xFF {
		t.Errorf("Lrc(wrap) = %02X, want FF", got)
	}
}

func TestAlgorithmSum(t *testing.T) {
	tests := []struct {
		alg  Algorithm
		data []byte
		want []byte
	}{
		{XOR, check, []byte{0x31}},
		{Mod256, check, []byte{0xDD}},
		{LRC, check, []byte{0x23}},
		{CRC16, check, []byte{0xBB, 0x3D}},
		{CRC16Modbus, check, []byte{0x37, 0x4B}}, // low byte first
		{CRC16CCITT, check, []byte{0x29, 0xB1}},
	}

	for _, tt := range tests {
		t.Run(tt.alg.String(), func(t *testing.T) {
			got := tt.alg.Sum(tt.data)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Sum() = % X, want % X", got, tt.want)
			}
			if len(got) != tt.alg.Size() {
				t.Errorf("Size() = %d, digest is %d bytes", tt.alg.Size(), len(got))
			}
		})
	}
}

func TestParseAlgorithm(t *testing.T) {
	for _, a := range []Algorithm{XOR, Mod256, LRC, CRC16, CRC16Modbus, CRC16CCITT} {
		got, err := ParseAlgorithm(a.String())
		if err != nil {
			t.Fatalf("ParseAlgorithm(%q): %v", a.String(), err)
		}
		if got != a {
			t.Errorf("ParseAlgorithm(%q) = %v, want %v", a.String(), got, a)
		}
	}

	if _, err := ParseAlgorithm("crc64"); err == nil {
		t.Error("ParseAlgorithm(crc64) should fail")
	}
}
