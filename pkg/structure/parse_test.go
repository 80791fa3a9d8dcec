package structure

import (
	"bytes"
	"errors"
	"testing"

	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/checksum"
)

// readResponse models a Modbus-RTU style read response:
// [addr][func][bytecount][data...][crc16 LE].
func readResponse() *Structure {
	return &Structure{
		ID:   "read-response",
		Name: "Read Response",
		Elements: []Element{
			{ID: "addr", Name: "slave", Kind: KindAddress},
			{ID: "func", Name: "function", Kind: KindField, Field: &FieldConfig{DataType: Uint8}},
			{ID: "count", Name: "byte_count", Kind: KindLength, Size: 1,
				Length: &LengthConfig{IncludeElements: []string{"data"}}},
			{ID: "data", Name: "data", Kind: KindPayload, Payload: &PayloadConfig{}},
			{ID: "crc", Name: "crc", Kind: KindChecksum, ByteOrder: OrderLittle,
				Checksum: &ChecksumConfig{
					Algorithm:       checksum.CRC16Modbus,
					IncludeElements: []string{"addr", "func", "count", "data"},
				}},
		},
	}
}

func frameFor(t *testing.T, s *Structure, payload []byte) []byte {
	t.Helper()
	frame, err := Build(s, BuildOptions{
		Params:  map[string]any{"slave": 1, "function": 3},
		Payload: payload,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return frame
}

func TestParseReadResponse(t *testing.T) {
	s := readResponse()
	payload := []byte{0x02, 0x2B, 0x00, 0x64}
	frame := frameFor(t, s, payload)

	res := Parse(frame, s, ParseOptions{Strict: true})
	if !res.Success {
		t.Fatalf("parse failed: %v", res.Err)
	}
	if got := res.Fields["slave"]; got != uint64(1) {
		t.Errorf("slave = %v, want 1", got)
	}
	if got := res.Fields["function"]; got != byte(3) {
		t.Errorf("function = %v, want 3", got)
	}
	if got := res.Fields["byte_count"]; got != uint64(4) {
		t.Errorf("byte_count = %v, want 4", got)
	}
	if !bytes.Equal(res.Payload, payload) {
		t.Errorf("payload = % X, want % X", res.Payload, payload)
	}
	if res.ChecksumValid == nil || !*res.ChecksumValid {
		t.Error("checksum should be valid")
	}
	if len(res.Elements) != 5 {
		t.Errorf("decode trail has %d entries, want 5", len(res.Elements))
	}
}

func TestParsePayloadSizeFromLengthElement(t *testing.T) {
	s := readResponse()
	frame := frameFor(t, s, []byte{0xAA, 0xBB})

	// Append trailing garbage: the payload must still be sized from the
	// byte_count element, not from remaining bytes.
	res := Parse(append(frame, 0xFF, 0xFF), s, ParseOptions{})
	if !res.Success {
		t.Fatalf("parse failed: %v", res.Err)
	}
	if !bytes.Equal(res.Payload, []byte{0xAA, 0xBB}) {
		t.Errorf("payload = % X, want AA BB", res.Payload)
	}
}

func TestParseInsufficientData(t *testing.T) {
	s := readResponse()
	res := Parse([]byte{0x01, 0x03}, s, ParseOptions{Strict: true})
	if res.Success {
		t.Fatal("parse should fail on truncated frame")
	}
	if !errors.Is(res.Err, ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", res.Err)
	}
	// The trail must still record the elements that decoded.
	if len(res.Elements) < 2 {
		t.Errorf("decode trail has %d entries, want at least 2", len(res.Elements))
	}
	if res.Fields["slave"] != uint64(1) {
		t.Errorf("partial fields missing slave: %v", res.Fields)
	}
}

func TestParseChecksumMismatch(t *testing.T) {
	s := readResponse()
	frame := frameFor(t, s, []byte{0x11, 0x22})
	frame[len(frame)-1] ^= 0xFF

	strict := Parse(frame, s, ParseOptions{Strict: true})
	if strict.Success {
		t.Fatal("strict parse should fail on checksum mismatch")
	}
	if !errors.Is(strict.Err, ErrChecksumMismatch) {
		t.Errorf("err = %v, want ErrChecksumMismatch", strict.Err)
	}

	loose := Parse(frame, s, ParseOptions{})
	if !loose.Success {
		t.Fatalf("non-strict parse should succeed: %v", loose.Err)
	}
	if loose.ChecksumValid == nil || *loose.ChecksumValid {
		t.Error("non-strict parse should flag the checksum as invalid")
	}
}

func TestParseStaticMismatch(t *testing.T) {
	s := &Structure{
		Elements: []Element{
			{ID: "stx", Name: "stx", Kind: KindStatic, Static: &StaticConfig{Value: []byte{0x02, 0x7E}}},
			{ID: "v", Name: "value", Kind: KindField, Field: &FieldConfig{DataType: Uint8}},
		},
	}

	data := []byte{0x02, 0x7F, 0x09}
	strict := Parse(data, s, ParseOptions{Strict: true})
	if strict.Success {
		t.Fatal("strict parse should fail on a one-byte static mismatch")
	}
	if !errors.Is(strict.Err, ErrStaticMismatch) {
		t.Errorf("err = %v, want ErrStaticMismatch", strict.Err)
	}

	loose := Parse(data, s, ParseOptions{})
	if !loose.Success {
		t.Fatalf("non-strict parse should record the bytes and continue: %v", loose.Err)
	}
	if loose.Fields["value"] != byte(0x09) {
		t.Errorf("value = %v, want 9", loose.Fields["value"])
	}
}

func TestParsePayloadRemainingMinusTrailing(t *testing.T) {
	// No length element: the payload takes the remaining bytes less the
	// trailing checksum.
	s := &Structure{
		Elements: []Element{
			{ID: "hdr", Name: "hdr", Kind: KindStatic, Static: &StaticConfig{Value: []byte{0x24}}},
			{ID: "body", Name: "body", Kind: KindPayload},
			{ID: "sum", Name: "sum", Kind: KindChecksum,
				Checksum: &ChecksumConfig{Algorithm: checksum.XOR, IncludeElements: []string{"body"}}},
		},
	}

	body := []byte("GPGGA")
	data := append([]byte{0x24}, body...)
	data = append(data, checksum.Xor(body))

	res := Parse(data, s, ParseOptions{Strict: true})
	if !res.Success {
		t.Fatalf("parse failed: %v", res.Err)
	}
	if !bytes.Equal(res.Payload, body) {
		t.Errorf("payload = %q, want %q", res.Payload, body)
	}
}

func TestParseNumericTypes(t *testing.T) {
	s := &Structure{
		ByteOrder: OrderBig,
		Elements: []Element{
			{ID: "a", Name: "a", Kind: KindField, Field: &FieldConfig{DataType: Int16}},
			{ID: "b", Name: "b", Kind: KindField, ByteOrder: OrderLittle, Field: &FieldConfig{DataType: Uint32}},
			{ID: "c", Name: "c", Kind: KindField, Field: &FieldConfig{DataType: Float32}},
			{ID: "d", Name: "d", Kind: KindField, Size: 4, Field: &FieldConfig{DataType: String}},
		},
	}

	data := []byte{
		0xFF, 0x38, // -200 big endian
		0x01, 0x02, 0x00, 0x00, // 0x201 little endian
		0x3F, 0x80, 0x00, 0x00, // 1.0
		'O', 'K', 0x00, 0x00,
	}
	res := Parse(data, s, ParseOptions{Strict: true})
	if !res.Success {
		t.Fatalf("parse failed: %v", res.Err)
	}
	if res.Fields["a"] != int16(-200) {
		t.Errorf("a = %v, want -200", res.Fields["a"])
	}
	if res.Fields["b"] != uint32(0x201) {
		t.Errorf("b = %v, want 0x201", res.Fields["b"])
	}
	if res.Fields["c"] != float32(1.0) {
		t.Errorf("c = %v, want 1.0", res.Fields["c"])
	}
	if res.Fields["d"] != "OK\x00\x00" {
		t.Errorf("d = %q", res.Fields["d"])
	}
}

func TestParsePaddingNotExposed(t *testing.T) {
	s := &Structure{
		Elements: []Element{
			{ID: "v", Name: "value", Kind: KindField, Field: &FieldConfig{DataType: Uint8}},
			{ID: "pad", Name: "pad", Kind: KindPadding, Size: 3, Padding: &FillConfig{FillByte: 0xFF}},
		},
	}
	res := Parse([]byte{0x05, 0xFF, 0xFF, 0xFF}, s, ParseOptions{Strict: true})
	if !res.Success {
		t.Fatalf("parse failed: %v", res.Err)
	}
	if _, ok := res.Fields["pad"]; ok {
		t.Error("padding must not appear in fields")
	}
	if len(res.Elements) != 2 {
		t.Errorf("decode trail has %d entries, want 2", len(res.Elements))
	}
}
