// Package structure implements the declarative binary message model:
// an ordered list of typed elements describing a frame layout, a parser
// that decodes one complete frame into named fields, and a builder that
// encodes parameter values back into a frame. Element order is both the
// wire order and the evaluation order for computed elements, so length
// and checksum elements must be declared after everything they cover.
package structure

import (
	"errors"
	"fmt"

	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/checksum"
)

// Common structure errors.
var (
	ErrInsufficientData = errors.New("insufficient data")
	ErrStaticMismatch   = errors.New("static bytes mismatch")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrSizeUnresolved   = errors.New("element size unresolved")
	ErrUnboundParam     = errors.New("unbound parameter")
	ErrNoStructure      = errors.New("message structure required")
)

// ByteOrder constants. An empty value inherits the structure default,
// which itself defaults to big-endian.
const (
	OrderBig    = "big"
	OrderLittle = "little"
)

// DataType identifies the wire encoding of a field element.
type DataType int

const (
	Uint8 DataType = iota
	Int8
	Uint16
	Int16
	Uint32
	Int32
	Float32
	Float64
	String
	Bytes
)

func (t DataType) String() string {
	switch t {
	case Uint8:
		return "uint8"
	case Int8:
		return "int8"
	case Uint16:
		return "uint16"
	case Int16:
		return "int16"
	case Uint32:
		return "uint32"
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case String:
		return "string"
	case Bytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// Width returns the fixed byte width of the data type, or 0 for the
// variable-width types (String, Bytes), which need an explicit size.
func (t DataType) Width() int {
	switch t {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32, Float32:
		return 4
	case Float64:
		return 8
	case String, Bytes:
		return 0
	default:
		return 0
	}
}

// ParseDataType resolves a config string to a DataType.
func ParseDataType(name string) (DataType, error) {
	for t := Uint8; t <= Bytes; t++ {
		if t.String() == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown data type: %q", name)
}

// ElementKind identifies the role of an element within a structure.
type ElementKind int

const (
	// KindStatic is a fixed byte literal (sync words, command codes).
	KindStatic ElementKind = iota
	// KindAddress is a device/unit address field.
	KindAddress
	// KindField is a typed data field bound to a named parameter.
	KindField
	// KindLength is a computed length over other elements.
	KindLength
	// KindChecksum is a computed digest over other elements.
	KindChecksum
	// KindPayload is the variable-size message body.
	KindPayload
	// KindPadding is fill bytes, consumed and discarded on parse.
	KindPadding
	// KindReserved is reserved bytes, consumed and discarded on parse.
	KindReserved
)

func (k ElementKind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindAddress:
		return "address"
	case KindField:
		return "field"
	case KindLength:
		return "length"
	case KindChecksum:
		return "checksum"
	case KindPayload:
		return "payload"
	case KindPadding:
		return "padding"
	case KindReserved:
		return "reserved"
	default:
		return "unknown"
	}
}

// StaticConfig holds the expected literal for a static element.
type StaticConfig struct {
	Value []byte `yaml:"value" json:"value"`
}

// AddressConfig holds address element settings.
type AddressConfig struct {
	// Range optionally restricts valid addresses ("1-247" etc.).
	// It is informational; the codec does not enforce it.
	Range string `yaml:"range" json:"range"`
}

// FieldConfig holds typed field settings.
type FieldConfig struct {
	DataType DataType `yaml:"data_type" json:"data_type"`
}

// LengthConfig describes a computed length element.
type LengthConfig struct {
	// IncludeElements lists the element IDs whose materialized byte
	// length the field reports.
	IncludeElements []string `yaml:"include_elements" json:"include_elements"`

	// Adjustment is added to the computed length.
	Adjustment int `yaml:"adjustment" json:"adjustment"`
}

// ChecksumConfig describes a computed checksum element.
type ChecksumConfig struct {
	Algorithm checksum.Algorithm `yaml:"algorithm" json:"algorithm"`

	// IncludeElements lists the element IDs covered by the digest,
	// concatenated in the order given.
	IncludeElements []string `yaml:"include_elements" json:"include_elements"`
}

// PayloadConfig describes the variable-size body element.
type PayloadConfig struct {
	MinSize int `yaml:"min_size" json:"min_size"`
	MaxSize int `yaml:"max_size" json:"max_size"`
}

// FillConfig holds the fill byte for padding and reserved elements.
type FillConfig struct {
	FillByte byte `yaml:"fill_byte" json:"fill_byte"`
}

// Element is one field within a message structure. Exactly one of the
// per-kind config pointers matching Kind should be set; nil configs
// fall back to zero-value defaults.
type Element struct {
	ID        string      `yaml:"id" json:"id"`
	Name      string      `yaml:"name" json:"name"`
	Kind      ElementKind `yaml:"kind" json:"kind"`
	Size      int         `yaml:"size" json:"size"`             // 0 = derived from kind
	ByteOrder string      `yaml:"byte_order" json:"byte_order"` // "" = inherit

	Static   *StaticConfig   `yaml:"static,omitempty" json:"static,omitempty"`
	Address  *AddressConfig  `yaml:"address,omitempty" json:"address,omitempty"`
	Field    *FieldConfig    `yaml:"field,omitempty" json:"field,omitempty"`
	Length   *LengthConfig   `yaml:"length,omitempty" json:"length,omitempty"`
	Checksum *ChecksumConfig `yaml:"checksum,omitempty" json:"checksum,omitempty"`
	Payload  *PayloadConfig  `yaml:"payload,omitempty" json:"payload,omitempty"`
	Padding  *FillConfig     `yaml:"padding,omitempty" json:"padding,omitempty"`
	Reserved *FillConfig     `yaml:"reserved,omitempty" json:"reserved,omitempty"`
}

// Structure is a declarative, ordered description of a binary message.
type Structure struct {
	ID        string    `yaml:"id" json:"id"`
	Name      string    `yaml:"name" json:"name"`
	Encoding  string    `yaml:"encoding" json:"encoding"`
	ByteOrder string    `yaml:"byte_order" json:"byte_order"` // default big
	Elements  []Element `yaml:"elements" json:"elements"`
}

// ElementByID returns the element with the given ID, or nil.
func (s *Structure) ElementByID(id string) *Element {
	for i := range s.Elements {
		if s.Elements[i].ID == id {
			return &s.Elements[i]
		}
	}
	return nil
}

// orderOf resolves an element's effective byte order against the
// structure default.
func (s *Structure) orderOf(e *Element) string {
	if e.ByteOrder != "" {
		return e.ByteOrder
	}
	if s.ByteOrder != "" {
		return s.ByteOrder
	}
	return OrderBig
}

// fixedSize resolves an element's size without looking at frame data.
// It returns 0 and ErrSizeUnresolved when the size depends on context
// (an unsized payload).
func fixedSize(e *Element) (int, error) {
	if e.Size > 0 {
		return e.Size, nil
	}
	switch e.Kind {
	case KindStatic:
		if e.Static != nil {
			return len(e.Static.Value), nil
		}
		return 0, fmt.Errorf("%w: static element %q has no value", ErrSizeUnresolved, e.Name)
	case KindAddress:
		return 1, nil
	case KindField:
		if e.Field != nil {
			if w := e.Field.DataType.Width(); w > 0 {
				return w, nil
			}
		}
		return 0, fmt.Errorf("%w: field element %q needs an explicit size", ErrSizeUnresolved, e.Name)
	case KindLength:
		return 1, nil
	case KindChecksum:
		if e.Checksum != nil {
			return e.Checksum.Algorithm.Size(), nil
		}
		return 0, fmt.Errorf("%w: checksum element %q has no algorithm", ErrSizeUnresolved, e.Name)
	case KindPayload:
		return 0, fmt.Errorf("%w: payload element %q is context sized", ErrSizeUnresolved, e.Name)
	case KindPadding, KindReserved:
		return 0, fmt.Errorf("%w: element %q needs an explicit size", ErrSizeUnresolved, e.Name)
	default:
		return 0, fmt.Errorf("%w: element %q has unknown kind", ErrSizeUnresolved, e.Name)
	}
}
