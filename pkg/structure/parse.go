package structure

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// ParseOptions controls frame decoding.
type ParseOptions struct {
	// Strict makes static and checksum mismatches hard failures.
	// Non-strict mode records them and keeps going.
	Strict bool

	// ExpectedPayloadLength overrides payload sizing when the caller
	// already knows the body length (0 = unknown).
	ExpectedPayloadLength int
}

// ElementInfo records one step of the decode trail. The trail is kept
// even when parsing fails, so callers can see how far decoding got.
type ElementInfo struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Kind   ElementKind `json:"kind"`
	Offset int         `json:"offset"`
	Size   int         `json:"size"`
	Raw    []byte      `json:"raw"`
	Value  any         `json:"value,omitempty"`
	Err    error       `json:"-"`
}

// ParseResult is the outcome of decoding one frame.
type ParseResult struct {
	Success  bool           `json:"success"`
	Err      error          `json:"-"`
	Fields   map[string]any `json:"fields"`
	Elements []ElementInfo  `json:"elements"`
	Payload  []byte         `json:"payload,omitempty"`

	// ChecksumValid is nil when the structure has no checksum element.
	ChecksumValid *bool `json:"checksum_valid,omitempty"`
}

// Parse decodes one complete frame against the structure. It is a pure
// function: all state lives in the cursor and the returned result. Runs
// out of data, static mismatches (strict) and checksum mismatches
// (strict) stop parsing with Success=false and the partial trail intact.
func Parse(data []byte, s *Structure, opts ParseOptions) ParseResult {
	res := ParseResult{Fields: make(map[string]any)}
	if s == nil {
		res.Err = ErrNoStructure
		return res
	}

	offset := 0
	ranges := make(map[string][]byte, len(s.Elements))
	lengths := make(map[string]uint64)

	fail := func(info ElementInfo, err error) ParseResult {
		info.Err = err
		res.Elements = append(res.Elements, info)
		res.Err = err
		return res
	}

	for i := range s.Elements {
		e := &s.Elements[i]
		info := ElementInfo{ID: e.ID, Name: e.Name, Kind: e.Kind, Offset: offset}

		size, err := resolveParseSize(s, i, data, offset, lengths, ranges, opts)
		if err != nil {
			return fail(info, err)
		}
		info.Size = size

		if len(data)-offset < size {
			return fail(info, fmt.Errorf("%w: element %q needs %d bytes at offset %d, have %d",
				ErrInsufficientData, e.Name, size, offset, len(data)-offset))
		}

		raw := data[offset : offset+size]
		info.Raw = raw
		ranges[e.ID] = raw

		switch e.Kind {
		case KindStatic:
			if opts.Strict && e.Static != nil && !bytes.Equal(raw, e.Static.Value) {
				return fail(info, fmt.Errorf("%w: element %q expected % X, got % X",
					ErrStaticMismatch, e.Name, e.Static.Value, raw))
			}

		case KindAddress:
			v := decodeUint(raw, s.orderOf(e))
			info.Value = v
			res.Fields[e.Name] = v

		case KindField:
			dt := Bytes
			if e.Field != nil {
				dt = e.Field.DataType
			}
			v := decodeValue(raw, dt, s.orderOf(e))
			info.Value = v
			res.Fields[e.Name] = v

		case KindLength:
			v := decodeUint(raw, s.orderOf(e))
			info.Value = v
			res.Fields[e.Name] = v
			lengths[e.ID] = v

		case KindChecksum:
			valid, err := verifyChecksum(e, raw, ranges)
			info.Value = valid
			if err != nil {
				if opts.Strict {
					return fail(info, err)
				}
				valid = false
			}
			if res.ChecksumValid == nil || *res.ChecksumValid {
				res.ChecksumValid = &valid
			}
			if !valid && opts.Strict {
				return fail(info, fmt.Errorf("%w: element %q", ErrChecksumMismatch, e.Name))
			}

		case KindPayload:
			res.Payload = append([]byte(nil), raw...)

		case KindPadding, KindReserved:
			// Consumed, not exposed.
		}

		res.Elements = append(res.Elements, info)
		offset += size
	}

	res.Success = true
	return res
}

// resolveParseSize determines how many bytes element i consumes.
func resolveParseSize(s *Structure, i int, data []byte, offset int,
	lengths map[string]uint64, ranges map[string][]byte, opts ParseOptions) (int, error) {

	e := &s.Elements[i]
	if e.Kind != KindPayload || e.Size > 0 {
		return fixedSize(e)
	}

	// Payload sizing: prefer a declared LENGTH element that covers the
	// payload, then a caller-supplied expected length, then the bytes
	// left over after reserving the trailing fixed elements.
	size, ok := correlatedPayloadSize(s, i, lengths, ranges)
	if !ok {
		if opts.ExpectedPayloadLength > 0 {
			size = opts.ExpectedPayloadLength
		} else {
			trailing := 0
			for j := i + 1; j < len(s.Elements); j++ {
				n, err := fixedSize(&s.Elements[j])
				if err != nil {
					return 0, fmt.Errorf("cannot size payload %q: trailing %w", e.Name, err)
				}
				trailing += n
			}
			size = len(data) - offset - trailing
			if size < 0 {
				size = 0
			}
		}
	}

	if e.Payload != nil {
		if e.Payload.MinSize > 0 && size < e.Payload.MinSize {
			return 0, fmt.Errorf("%w: payload %q is %d bytes, min %d",
				ErrInsufficientData, e.Name, size, e.Payload.MinSize)
		}
		if e.Payload.MaxSize > 0 && size > e.Payload.MaxSize {
			return 0, fmt.Errorf("payload %q is %d bytes, max %d", e.Name, size, e.Payload.MaxSize)
		}
	}
	return size, nil
}

// correlatedPayloadSize looks for an already-decoded LENGTH element
// whose include list covers the payload, and derives the payload size
// from its value minus the adjustment and the sizes of the other
// covered elements that have already been decoded.
func correlatedPayloadSize(s *Structure, payloadIdx int,
	lengths map[string]uint64, ranges map[string][]byte) (int, bool) {

	payload := &s.Elements[payloadIdx]
	for j := 0; j < payloadIdx; j++ {
		le := &s.Elements[j]
		if le.Kind != KindLength || le.Length == nil {
			continue
		}
		val, decoded := lengths[le.ID]
		if !decoded {
			continue
		}
		covers := false
		others := 0
		resolvable := true
		for _, id := range le.Length.IncludeElements {
			if id == payload.ID {
				covers = true
				continue
			}
			if r, ok := ranges[id]; ok {
				others += len(r)
			} else {
				resolvable = false
				break
			}
		}
		if !covers || !resolvable {
			continue
		}
		size := int(val) - le.Length.Adjustment - others
		if size < 0 {
			size = 0
		}
		return size, true
	}
	return 0, false
}

// verifyChecksum recomputes the configured digest over the covered
// ranges and compares it to the extracted bytes.
func verifyChecksum(e *Element, raw []byte, ranges map[string][]byte) (bool, error) {
	if e.Checksum == nil {
		return false, fmt.Errorf("checksum element %q has no config", e.Name)
	}
	var covered []byte
	for _, id := range e.Checksum.IncludeElements {
		r, ok := ranges[id]
		if !ok {
			return false, fmt.Errorf("checksum element %q references undecoded element %q", e.Name, id)
		}
		covered = append(covered, r...)
	}
	return bytes.Equal(e.Checksum.Algorithm.Sum(covered), raw), nil
}

// decodeUint reads an unsigned integer of 1..8 bytes.
func decodeUint(raw []byte, order string) uint64 {
	var v uint64
	if order == OrderLittle {
		for i := len(raw) - 1; i >= 0; i-- {
			v = v<<8 | uint64(raw[i])
		}
	} else {
		for _, b := range raw {
			v = v<<8 | uint64(b)
		}
	}
	return v
}

// decodeValue decodes raw bytes per the data type. The switch is
// exhaustive over DataType.
func decodeValue(raw []byte, t DataType, order string) any {
	if w := t.Width(); w > 0 && len(raw) < w {
		// Declared size narrower than the type width; surface raw bytes.
		return append([]byte(nil), raw...)
	}
	bo := byteOrderOf(order)
	switch t {
	case Uint8:
		return raw[0]
	case Int8:
		return int8(raw[0])
	case Uint16:
		return bo.Uint16(raw)
	case Int16:
		return int16(bo.Uint16(raw))
	case Uint32:
		return bo.Uint32(raw)
	case Int32:
		return int32(bo.Uint32(raw))
	case Float32:
		return math.Float32frombits(bo.Uint32(raw))
	case Float64:
		return math.Float64frombits(bo.Uint64(raw))
	case String:
		return string(raw)
	case Bytes:
		return append([]byte(nil), raw...)
	default:
		return append([]byte(nil), raw...)
	}
}

func byteOrderOf(order string) binary.ByteOrder {
	if order == OrderLittle {
		return binary.LittleEndian
	}
	return binary.BigEndian
}
