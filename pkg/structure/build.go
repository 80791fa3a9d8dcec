package structure

import (
	"fmt"
	"math"

	"github.com/spf13/cast"
)

// BuildOptions supplies the values for one build call.
type BuildOptions struct {
	// Params maps parameter names to values.
	Params map[string]any

	// Bindings maps element IDs to parameter names. Elements without a
	// binding fall back to a parameter with the element's own name.
	Bindings map[string]string

	// StaticBindings pins an element to a fixed value for this build,
	// overriding Params.
	StaticBindings map[string]any

	// Payload is the body for the payload element, if any.
	Payload []byte
}

// Build encodes parameter values into one complete frame. It runs two
// passes: the first materializes every non-computed element in declared
// order and leaves zero-filled placeholders for length and checksum
// elements; the second backfills the placeholders from the finished
// byte ranges. Length and checksum elements must therefore be declared
// after every element they cover.
func Build(s *Structure, opts BuildOptions) ([]byte, error) {
	if s == nil {
		return nil, ErrNoStructure
	}

	segments := make([][]byte, len(s.Elements))
	byID := make(map[string][]byte, len(s.Elements))

	for i := range s.Elements {
		e := &s.Elements[i]
		seg, err := materialize(s, e, opts)
		if err != nil {
			return nil, fmt.Errorf("build element %q: %w", e.Name, err)
		}
		segments[i] = seg
		byID[e.ID] = seg
	}

	for i := range s.Elements {
		e := &s.Elements[i]
		switch e.Kind {
		case KindLength:
			if err := backfillLength(s, e, segments[i], byID); err != nil {
				return nil, fmt.Errorf("build element %q: %w", e.Name, err)
			}
		case KindChecksum:
			if err := backfillChecksum(e, segments[i], byID); err != nil {
				return nil, fmt.Errorf("build element %q: %w", e.Name, err)
			}
		}
	}

	total := 0
	for _, seg := range segments {
		total += len(seg)
	}
	frame := make([]byte, 0, total)
	for _, seg := range segments {
		frame = append(frame, seg...)
	}
	return frame, nil
}

// materialize produces the first-pass bytes for one element.
func materialize(s *Structure, e *Element, opts BuildOptions) ([]byte, error) {
	switch e.Kind {
	case KindStatic:
		if e.Static == nil {
			return nil, fmt.Errorf("static element has no value")
		}
		return append([]byte(nil), e.Static.Value...), nil

	case KindAddress:
		val, err := boundValue(e, opts)
		if err != nil {
			return nil, err
		}
		size := e.Size
		if size == 0 {
			size = 1
		}
		u, err := cast.ToUint64E(val)
		if err != nil {
			return nil, fmt.Errorf("address value %v: %w", val, err)
		}
		return encodeUint(u, size, s.orderOf(e)), nil

	case KindField:
		val, err := boundValue(e, opts)
		if err != nil {
			return nil, err
		}
		dt := Bytes
		if e.Field != nil {
			dt = e.Field.DataType
		}
		size, err := fixedSize(e)
		if err != nil {
			return nil, err
		}
		return encodeValue(val, dt, size, s.orderOf(e))

	case KindPayload:
		body := opts.Payload
		if e.Payload != nil {
			if e.Payload.MinSize > 0 && len(body) < e.Payload.MinSize {
				return nil, fmt.Errorf("payload is %d bytes, min %d", len(body), e.Payload.MinSize)
			}
			if e.Payload.MaxSize > 0 && len(body) > e.Payload.MaxSize {
				return nil, fmt.Errorf("payload is %d bytes, max %d", len(body), e.Payload.MaxSize)
			}
		}
		if e.Size > 0 {
			return resize(body, e.Size, 0x00), nil
		}
		return append([]byte(nil), body...), nil

	case KindPadding:
		return fill(e, e.Padding)

	case KindReserved:
		return fill(e, e.Reserved)

	case KindLength, KindChecksum:
		// Placeholder, backfilled in the second pass.
		size, err := fixedSize(e)
		if err != nil {
			return nil, err
		}
		return make([]byte, size), nil

	default:
		return nil, fmt.Errorf("unknown element kind %d", e.Kind)
	}
}

func fill(e *Element, cfg *FillConfig) ([]byte, error) {
	size, err := fixedSize(e)
	if err != nil {
		return nil, err
	}
	var b byte
	if cfg != nil {
		b = cfg.FillByte
	}
	seg := make([]byte, size)
	for i := range seg {
		seg[i] = b
	}
	return seg, nil
}

// boundValue resolves the value for an address/field element:
// static binding first, then the bound parameter, then a parameter
// named after the element.
func boundValue(e *Element, opts BuildOptions) (any, error) {
	if v, ok := opts.StaticBindings[e.ID]; ok {
		return v, nil
	}
	name := e.Name
	if bound, ok := opts.Bindings[e.ID]; ok {
		name = bound
	}
	if v, ok := opts.Params[name]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnboundParam, name)
}

func backfillLength(s *Structure, e *Element, seg []byte, byID map[string][]byte) error {
	if e.Length == nil {
		return fmt.Errorf("length element has no config")
	}
	total := 0
	for _, id := range e.Length.IncludeElements {
		r, ok := byID[id]
		if !ok {
			return fmt.Errorf("length references unknown element %q", id)
		}
		total += len(r)
	}
	total += e.Length.Adjustment
	if total < 0 {
		return fmt.Errorf("computed length %d is negative", total)
	}
	copy(seg, encodeUint(uint64(total), len(seg), s.orderOf(e)))
	return nil
}

func backfillChecksum(e *Element, seg []byte, byID map[string][]byte) error {
	if e.Checksum == nil {
		return fmt.Errorf("checksum element has no config")
	}
	var covered []byte
	for _, id := range e.Checksum.IncludeElements {
		r, ok := byID[id]
		if !ok {
			return fmt.Errorf("checksum references unknown element %q", id)
		}
		covered = append(covered, r...)
	}
	digest := e.Checksum.Algorithm.Sum(covered)
	if len(digest) != len(seg) {
		return fmt.Errorf("digest is %d bytes, element is %d", len(digest), len(seg))
	}
	copy(seg, digest)
	return nil
}

// encodeValue encodes a parameter value per the data type into size
// bytes. The switch is exhaustive over DataType.
func encodeValue(val any, t DataType, size int, order string) ([]byte, error) {
	switch t {
	case Uint8, Uint16, Uint32:
		u, err := cast.ToUint64E(val)
		if err != nil {
			return nil, fmt.Errorf("value %v: %w", val, err)
		}
		return encodeUint(u, size, order), nil

	case Int8, Int16, Int32:
		n, err := cast.ToInt64E(val)
		if err != nil {
			return nil, fmt.Errorf("value %v: %w", val, err)
		}
		return encodeUint(uint64(n), size, order), nil

	case Float32:
		f, err := cast.ToFloat64E(val)
		if err != nil {
			return nil, fmt.Errorf("value %v: %w", val, err)
		}
		return encodeUint(uint64(math.Float32bits(float32(f))), size, order), nil

	case Float64:
		f, err := cast.ToFloat64E(val)
		if err != nil {
			return nil, fmt.Errorf("value %v: %w", val, err)
		}
		return encodeUint(math.Float64bits(f), size, order), nil

	case String:
		str, err := cast.ToStringE(val)
		if err != nil {
			return nil, fmt.Errorf("value %v: %w", val, err)
		}
		return resize([]byte(str), size, 0x00), nil

	case Bytes:
		switch v := val.(type) {
		case []byte:
			return resize(v, size, 0x00), nil
		case string:
			return resize([]byte(v), size, 0x00), nil
		default:
			return nil, fmt.Errorf("value %v is not bytes", val)
		}

	default:
		return nil, fmt.Errorf("unknown data type %d", t)
	}
}

// encodeUint writes the low size bytes of v in the given byte order.
func encodeUint(v uint64, size int, order string) []byte {
	out := make([]byte, size)
	if order == OrderLittle {
		for i := 0; i < size; i++ {
			out[i] = byte(v >> (8 * i))
		}
	} else {
		for i := 0; i < size; i++ {
			out[size-1-i] = byte(v >> (8 * i))
		}
	}
	return out
}

// resize pads (with fillByte, at the end) or truncates b to size.
// size 0 returns b unchanged.
func resize(b []byte, size int, fillByte byte) []byte {
	if size <= 0 {
		return append([]byte(nil), b...)
	}
	out := make([]byte, size)
	n := copy(out, b)
	for i := n; i < size; i++ {
		out[i] = fillByte
	}
	return out
}
