// Package checksum provides the digest algorithms used for message
// integrity fields: simple byte checksums (XOR, MOD256, LRC) and CRC16
// variants. The same functions back both parse-time validation and
// build-time generation, so they must match the published reference
// tables bit for bit.
package checksum

import "fmt"

// Algorithm identifies a checksum algorithm.
type Algorithm int

const (
	// XOR is a running exclusive-or over all bytes (1 byte).
	// Used by NMEA 0183 sentences.
	XOR Algorithm = iota

	// Mod256 is the byte sum modulo 256 (1 byte).
	Mod256

	// LRC is the two's complement of the byte sum (1 byte).
	// Used by Modbus ASCII.
	LRC

	// CRC16 is CRC-16/ARC: polynomial 0x8005 reflected (0xA001),
	// init 0x0000, big-endian wire order (2 bytes).
	CRC16

	// CRC16Modbus is CRC-16/MODBUS: polynomial 0xA001, init 0xFFFF,
	// little-endian wire order (2 bytes).
	CRC16Modbus

	// CRC16CCITT is CRC-16/CCITT-FALSE: polynomial 0x1021, init 0xFFFF,
	// big-endian wire order (2 bytes).
	CRC16CCITT
)

func (a Algorithm) String() string {
	switch a {
	case XOR:
		return "xor"
	case Mod256:
		return "mod256"
	case LRC:
		return "lrc"
	case CRC16:
		return "crc16"
	case CRC16Modbus:
		return "crc16_modbus"
	case CRC16CCITT:
		return "crc16_ccitt"
	default:
		return "unknown"
	}
}

// ParseAlgorithm resolves a config string to an Algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "xor":
		return XOR, nil
	case "mod256", "sum":
		return Mod256, nil
	case "lrc":
		return LRC, nil
	case "crc16":
		return CRC16, nil
	case "crc16_modbus", "modbus":
		return CRC16Modbus, nil
	case "crc16_ccitt", "ccitt":
		return CRC16CCITT, nil
	default:
		return 0, fmt.Errorf("unknown checksum algorithm: %q", name)
	}
}

// Size returns the digest width in bytes.
func (a Algorithm) Size() int {
	switch a {
	case XOR, Mod256, LRC:
		return 1
	case CRC16, CRC16Modbus, CRC16CCITT:
		return 2
	default:
		return 0
	}
}

// Sum computes the digest of data in wire byte order. CRC16Modbus is
// emitted little-endian (low byte first) as real Modbus devices expect;
// the other CRC16 variants are emitted big-endian.
func (a Algorithm) Sum(data []byte) []byte {
	switch a {
	case XOR:
		return []byte{Xor(data)}
	case Mod256:
		return []byte{Sum8(data)}
	case LRC:
		return []byte{Lrc(data)}
	case CRC16:
		v := Crc16Arc(data)
		return []byte{byte(v >> 8), byte(v)}
	case CRC16Modbus:
		v := Crc16Modbus(data)
		return []byte{byte(v), byte(v >> 8)}
	case CRC16CCITT:
		v := Crc16Ccitt(data)
		return []byte{byte(v >> 8), byte(v)}
	default:
		return nil
	}
}

// Xor returns the running exclusive-or of all bytes.
func Xor(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum ^= b
	}
	return sum
}

// Sum8 returns the byte sum modulo 256.
func Sum8(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// Lrc returns the two's complement of the byte sum.
func Lrc(data []byte) byte {
	return -Sum8(data)
}

// crc16Reflected computes a reflected-polynomial CRC16 without a table.
// The data sets are small (single frames), so the bitwise form is fast
// enough and keeps the package allocation free.
func crc16Reflected(data []byte, poly, init uint16) uint16 {
	crc := init
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ poly
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// Crc16Arc returns CRC-16/ARC (poly 0x8005 reflected, init 0x0000).
func Crc16Arc(data []byte) uint16 {
	return crc16Reflected(data, 0xA001, 0x0000)
}

// Crc16Modbus returns CRC-16/MODBUS (poly 0x8005 reflected, init 0xFFFF).
func Crc16Modbus(data []byte) uint16 {
	return crc16Reflected(data, 0xA001, 0xFFFF)
}

// Crc16Ccitt returns CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF,
// not reflected).
func Crc16Ccitt(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
