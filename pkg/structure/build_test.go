package structure

import (
	"bytes"
	"errors"
	"testing"

	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/checksum"
)

func TestBuildReadResponse(t *testing.T) {
	s := readResponse()
	payload := []byte{0x00, 0x2A}
	frame, err := Build(s, BuildOptions{
		Params:  map[string]any{"slave": 17, "function": 3},
		Payload: payload,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	want := []byte{0x11, 0x03, 0x02, 0x00, 0x2A}
	crc := checksum.Crc16Modbus(want)
	want = append(want, byte(crc), byte(crc>>8))
	if !bytes.Equal(frame, want) {
		t.Errorf("frame = % X, want % X", frame, want)
	}
}

func TestBuildParseRoundTrip(t *testing.T) {
	s := &Structure{
		ByteOrder: OrderBig,
		Elements: []Element{
			{ID: "stx", Name: "stx", Kind: KindStatic, Static: &StaticConfig{Value: []byte{0xAA, 0x55}}},
			{ID: "addr", Name: "unit", Kind: KindAddress},
			{ID: "temp", Name: "temperature", Kind: KindField, Field: &FieldConfig{DataType: Int16}},
			{ID: "ratio", Name: "ratio", Kind: KindField, ByteOrder: OrderLittle, Field: &FieldConfig{DataType: Float32}},
			{ID: "len", Name: "body_len", Kind: KindLength, Size: 2,
				Length: &LengthConfig{IncludeElements: []string{"body"}}},
			{ID: "body", Name: "body", Kind: KindPayload},
			{ID: "crc", Name: "crc", Kind: KindChecksum,
				Checksum: &ChecksumConfig{
					Algorithm:       checksum.CRC16CCITT,
					IncludeElements: []string{"stx", "addr", "temp", "ratio", "len", "body"},
				}},
		},
	}

	params := map[string]any{
		"unit":        9,
		"temperature": -125,
		"ratio":       float32(0.5),
	}
	body := []byte("hello")

	frame, err := Build(s, BuildOptions{Params: params, Payload: body})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	res := Parse(frame, s, ParseOptions{Strict: true})
	if !res.Success {
		t.Fatalf("round-trip parse failed: %v", res.Err)
	}
	if res.Fields["unit"] != uint64(9) {
		t.Errorf("unit = %v, want 9", res.Fields["unit"])
	}
	if res.Fields["temperature"] != int16(-125) {
		t.Errorf("temperature = %v, want -125", res.Fields["temperature"])
	}
	if res.Fields["ratio"] != float32(0.5) {
		t.Errorf("ratio = %v, want 0.5", res.Fields["ratio"])
	}
	if !bytes.Equal(res.Payload, body) {
		t.Errorf("payload = %q, want %q", res.Payload, body)
	}
	if res.ChecksumValid == nil || !*res.ChecksumValid {
		t.Error("round-trip checksum should validate")
	}
}

func TestBuildUnboundParam(t *testing.T) {
	s := readResponse()
	_, err := Build(s, BuildOptions{Params: map[string]any{"slave": 1}})
	if !errors.Is(err, ErrUnboundParam) {
		t.Errorf("err = %v, want ErrUnboundParam", err)
	}
}

func TestBuildNilStructure(t *testing.T) {
	if _, err := Build(nil, BuildOptions{}); !errors.Is(err, ErrNoStructure) {
		t.Errorf("err = %v, want ErrNoStructure", err)
	}
}

func TestBuildBindings(t *testing.T) {
	s := &Structure{
		Elements: []Element{
			{ID: "cmd", Name: "command", Kind: KindField, Field: &FieldConfig{DataType: Uint8}},
			{ID: "arg", Name: "argument", Kind: KindField, Field: &FieldConfig{DataType: Uint8}},
		},
	}

	frame, err := Build(s, BuildOptions{
		Params:         map[string]any{"op": 0x10},
		Bindings:       map[string]string{"cmd": "op"},
		StaticBindings: map[string]any{"arg": 0x7F},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !bytes.Equal(frame, []byte{0x10, 0x7F}) {
		t.Errorf("frame = % X, want 10 7F", frame)
	}
}

func TestBuildLengthAdjustment(t *testing.T) {
	// Length reports body plus the two CRC bytes that follow it.
	s := &Structure{
		Elements: []Element{
			{ID: "len", Name: "len", Kind: KindLength, Size: 1,
				Length: &LengthConfig{IncludeElements: []string{"body"}, Adjustment: 2}},
			{ID: "body", Name: "body", Kind: KindPayload},
			{ID: "crc", Name: "crc", Kind: KindChecksum, ByteOrder: OrderLittle,
				Checksum: &ChecksumConfig{Algorithm: checksum.CRC16Modbus, IncludeElements: []string{"len", "body"}}},
		},
	}

	frame, err := Build(s, BuildOptions{Payload: []byte{0x01, 0x02, 0x03}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if frame[0] != 5 {
		t.Errorf("length byte = %d, want 5", frame[0])
	}
	if len(frame) != 6 {
		t.Errorf("frame is %d bytes, want 6", len(frame))
	}
}

func TestBuildPaddingAndReserved(t *testing.T) {
	s := &Structure{
		Elements: []Element{
			{ID: "v", Name: "v", Kind: KindField, Field: &FieldConfig{DataType: Uint8}},
			{ID: "pad", Name: "pad", Kind: KindPadding, Size: 2, Padding: &FillConfig{FillByte: 0x20}},
			{ID: "rsv", Name: "rsv", Kind: KindReserved, Size: 1, Reserved: &FillConfig{FillByte: 0x00}},
		},
	}
	frame, err := Build(s, BuildOptions{Params: map[string]any{"v": 1}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !bytes.Equal(frame, []byte{0x01, 0x20, 0x20, 0x00}) {
		t.Errorf("frame = % X", frame)
	}
}

func TestBuildStringFieldPadded(t *testing.T) {
	s := &Structure{
		Elements: []Element{
			{ID: "tag", Name: "tag", Kind: KindField, Size: 6, Field: &FieldConfig{DataType: String}},
		},
	}
	frame, err := Build(s, BuildOptions{Params: map[string]any{"tag": "AT"}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !bytes.Equal(frame, []byte{'A', 'T', 0, 0, 0, 0}) {
		t.Errorf("frame = % X", frame)
	}
}
