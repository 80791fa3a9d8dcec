package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/checksum"
	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/extract"
	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/framer"
	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/session"
	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/structure"
)

// ProtocolConfig is the YAML-facing protocol definition. Compile turns
// it into the runtime types.
type ProtocolConfig struct {
	Framing   FramingConfig    `yaml:"framing" json:"framing"`
	Structure *StructureConfig `yaml:"structure,omitempty" json:"structure,omitempty"`
	Patterns  []PatternConfig  `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	Strict    bool             `yaml:"strict" json:"strict"`
}

// FramingConfig selects and parameterizes a framing strategy using
// author-friendly strings. Byte sequences accept a literal string or
// a "hex:" prefixed hex dump ("hex:0D 0A").
type FramingConfig struct {
	Mode           string `yaml:"mode" json:"mode" validate:"omitempty,oneof=none delimiter timeout length_field sync_pattern composite script"`
	MaxFrameLength int    `yaml:"max_frame_length" json:"max_frame_length"`

	Delimiter   *DelimiterSpec            `yaml:"delimiter,omitempty" json:"delimiter,omitempty"`
	Timeout     *TimeoutSpec              `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	LengthField *framer.LengthFieldConfig `yaml:"length_field,omitempty" json:"length_field,omitempty"`
	SyncPattern *SyncPatternSpec          `yaml:"sync_pattern,omitempty" json:"sync_pattern,omitempty"`
	Composite   []StepConfig              `yaml:"composite,omitempty" json:"composite,omitempty"`
	Script      *framer.ScriptConfig      `yaml:"script,omitempty" json:"script,omitempty"`
}

// DelimiterSpec is the authored delimiter strategy.
type DelimiterSpec struct {
	Sequence       string `yaml:"sequence" json:"sequence"`
	Position       string `yaml:"position" json:"position"`
	IncludeInFrame bool   `yaml:"include_in_frame" json:"include_in_frame"`
}

// TimeoutSpec is the authored silence-timeout strategy.
type TimeoutSpec struct {
	Silence  time.Duration `yaml:"silence" json:"silence"`
	MinBytes int           `yaml:"min_bytes" json:"min_bytes"`
}

// SyncPatternSpec is the authored sync-pattern strategy.
type SyncPatternSpec struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	MaxScan int    `yaml:"max_scan" json:"max_scan"`
}

// StepConfig is one authored composite step.
type StepConfig struct {
	Kind         string `yaml:"kind" json:"kind" validate:"required,oneof=find_sync read_length read_fixed find_delimiter"`
	Pattern      string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Size         int    `yaml:"size,omitempty" json:"size,omitempty"`
	ByteOrder    string `yaml:"byte_order,omitempty" json:"byte_order,omitempty"`
	Adjustment   int    `yaml:"adjustment,omitempty" json:"adjustment,omitempty"`
	OfTotalFrame bool   `yaml:"of_total_frame,omitempty" json:"of_total_frame,omitempty"`
	Count        int    `yaml:"count,omitempty" json:"count,omitempty"`
}

// StructureConfig is an authored message structure.
type StructureConfig struct {
	ID        string          `yaml:"id" json:"id"`
	Name      string          `yaml:"name" json:"name"`
	ByteOrder string          `yaml:"byte_order" json:"byte_order" validate:"omitempty,oneof=big little"`
	Elements  []ElementConfig `yaml:"elements" json:"elements" validate:"dive"`
}

// ElementConfig is one authored element.
type ElementConfig struct {
	ID        string `yaml:"id" json:"id" validate:"required"`
	Name      string `yaml:"name" json:"name"`
	Kind      string `yaml:"kind" json:"kind" validate:"required,oneof=static address field length checksum payload padding reserved"`
	Size      int    `yaml:"size,omitempty" json:"size,omitempty"`
	ByteOrder string `yaml:"byte_order,omitempty" json:"byte_order,omitempty"`

	// Value is the literal for static elements.
	Value string `yaml:"value,omitempty" json:"value,omitempty"`

	// DataType names the field type ("uint8", "int16", ...).
	DataType string `yaml:"data_type,omitempty" json:"data_type,omitempty"`

	// Algorithm names the checksum ("xor", "crc16_modbus", ...).
	Algorithm string `yaml:"algorithm,omitempty" json:"algorithm,omitempty"`

	// IncludeElements lists the element IDs a length or checksum
	// covers.
	IncludeElements []string `yaml:"include_elements,omitempty" json:"include_elements,omitempty"`

	Adjustment int  `yaml:"adjustment,omitempty" json:"adjustment,omitempty"`
	MinSize    int  `yaml:"min_size,omitempty" json:"min_size,omitempty"`
	MaxSize    int  `yaml:"max_size,omitempty" json:"max_size,omitempty"`
	FillByte   byte `yaml:"fill_byte,omitempty" json:"fill_byte,omitempty"`
}

// PatternConfig is one authored response pattern.
type PatternConfig struct {
	Type      string          `yaml:"type" json:"type" validate:"required,oneof=success error data event"`
	Condition string          `yaml:"condition,omitempty" json:"condition,omitempty"`
	Extract   []ExtractionSpec `yaml:"extract" json:"extract"`
}

// ExtractionSpec is one authored element-to-variable mapping.
type ExtractionSpec struct {
	ElementID    string `yaml:"element_id" json:"element_id"`
	VariableName string `yaml:"variable_name" json:"variable_name"`
	Transform    string `yaml:"transform,omitempty" json:"transform,omitempty"`
}

// Compile turns the authored protocol into the runtime types and
// validates it.
func (p *ProtocolConfig) Compile() (session.Protocol, error) {
	var out session.Protocol

	framing, err := p.Framing.compile()
	if err != nil {
		return out, err
	}
	out.Framing = framing

	if p.Structure != nil {
		st, err := p.Structure.compile()
		if err != nil {
			return out, err
		}
		out.Structure = st
	}

	for _, pc := range p.Patterns {
		pat, err := pc.compile()
		if err != nil {
			return out, err
		}
		out.Patterns = append(out.Patterns, pat)
	}
	out.Strict = p.Strict
	return out, nil
}

func (f *FramingConfig) compile() (framer.Config, error) {
	cfg := framer.Config{MaxFrameLength: f.MaxFrameLength}

	switch f.Mode {
	case "", "none":
		cfg.Mode = framer.ModeNone
	case "delimiter":
		cfg.Mode = framer.ModeDelimiter
		if f.Delimiter != nil {
			seq, err := parseBytes(f.Delimiter.Sequence)
			if err != nil {
				return cfg, fmt.Errorf("delimiter sequence: %w", err)
			}
			cfg.Delimiter = &framer.DelimiterConfig{
				Sequence:       seq,
				Position:       f.Delimiter.Position,
				IncludeInFrame: f.Delimiter.IncludeInFrame,
			}
		}
	case "timeout":
		cfg.Mode = framer.ModeTimeout
		if f.Timeout != nil {
			cfg.Timeout = &framer.TimeoutConfig{
				Silence:  f.Timeout.Silence,
				MinBytes: f.Timeout.MinBytes,
			}
		}
	case "length_field":
		cfg.Mode = framer.ModeLengthField
		cfg.LengthField = f.LengthField
	case "sync_pattern":
		cfg.Mode = framer.ModeSyncPattern
		if f.SyncPattern != nil {
			pat, err := parseBytes(f.SyncPattern.Pattern)
			if err != nil {
				return cfg, fmt.Errorf("sync pattern: %w", err)
			}
			cfg.SyncPattern = &framer.SyncPatternConfig{
				Pattern: pat,
				MaxScan: f.SyncPattern.MaxScan,
			}
		}
	case "composite":
		cfg.Mode = framer.ModeComposite
		steps := make([]framer.Step, 0, len(f.Composite))
		for i, sc := range f.Composite {
			step, err := sc.compile()
			if err != nil {
				return cfg, fmt.Errorf("composite step %d: %w", i, err)
			}
			steps = append(steps, step)
		}
		cfg.Composite = &framer.CompositeConfig{Steps: steps}
	case "script":
		cfg.Mode = framer.ModeScript
		cfg.Script = f.Script
	default:
		return cfg, fmt.Errorf("unknown framing mode %q", f.Mode)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (s *StepConfig) compile() (framer.Step, error) {
	step := framer.Step{
		Size:         s.Size,
		ByteOrder:    s.ByteOrder,
		Adjustment:   s.Adjustment,
		OfTotalFrame: s.OfTotalFrame,
		Count:        s.Count,
	}
	switch s.Kind {
	case "find_sync":
		step.Kind = framer.StepFindSync
	case "read_length":
		step.Kind = framer.StepReadLength
	case "read_fixed":
		step.Kind = framer.StepReadFixed
	case "find_delimiter":
		step.Kind = framer.StepFindDelimiter
	default:
		return step, fmt.Errorf("unknown step kind %q", s.Kind)
	}
	if s.Pattern != "" {
		pat, err := parseBytes(s.Pattern)
		if err != nil {
			return step, err
		}
		step.Pattern = pat
	}
	return step, nil
}

func (s *StructureConfig) compile() (*structure.Structure, error) {
	out := &structure.Structure{
		ID:        s.ID,
		Name:      s.Name,
		ByteOrder: s.ByteOrder,
	}
	for i, ec := range s.Elements {
		el, err := ec.compile()
		if err != nil {
			return nil, fmt.Errorf("element %d (%s): %w", i, ec.ID, err)
		}
		out.Elements = append(out.Elements, el)
	}
	return out, nil
}

func (e *ElementConfig) compile() (structure.Element, error) {
	el := structure.Element{
		ID:        e.ID,
		Name:      e.Name,
		Size:      e.Size,
		ByteOrder: e.ByteOrder,
	}
	if el.Name == "" {
		el.Name = e.ID
	}

	switch e.Kind {
	case "static":
		value, err := parseBytes(e.Value)
		if err != nil {
			return el, fmt.Errorf("static value: %w", err)
		}
		el.Kind = structure.KindStatic
		el.Static = &structure.StaticConfig{Value: value}
	case "address":
		el.Kind = structure.KindAddress
		el.Address = &structure.AddressConfig{}
	case "field":
		dt, err := structure.ParseDataType(e.DataType)
		if err != nil {
			return el, err
		}
		el.Kind = structure.KindField
		el.Field = &structure.FieldConfig{DataType: dt}
	case "length":
		el.Kind = structure.KindLength
		el.Length = &structure.LengthConfig{
			IncludeElements: e.IncludeElements,
			Adjustment:      e.Adjustment,
		}
	case "checksum":
		alg, err := checksum.ParseAlgorithm(e.Algorithm)
		if err != nil {
			return el, err
		}
		el.Kind = structure.KindChecksum
		el.Checksum = &structure.ChecksumConfig{
			Algorithm:       alg,
			IncludeElements: e.IncludeElements,
		}
	case "payload":
		el.Kind = structure.KindPayload
		el.Payload = &structure.PayloadConfig{
			MinSize: e.MinSize,
			MaxSize: e.MaxSize,
		}
	case "padding":
		el.Kind = structure.KindPadding
		el.Padding = &structure.FillConfig{FillByte: e.FillByte}
	case "reserved":
		el.Kind = structure.KindReserved
		el.Reserved = &structure.FillConfig{FillByte: e.FillByte}
	default:
		return el, fmt.Errorf("unknown element kind %q", e.Kind)
	}
	return el, nil
}

func (p *PatternConfig) compile() (extract.ResponsePattern, error) {
	var out extract.ResponsePattern
	pt, err := extract.ParsePatternType(p.Type)
	if err != nil {
		return out, err
	}
	out.Type = pt
	out.Condition = p.Condition
	for _, e := range p.Extract {
		out.ExtractElements = append(out.ExtractElements, extract.ExtractElement{
			ElementID:    e.ElementID,
			VariableName: e.VariableName,
			Transform:    e.Transform,
		})
	}
	return out, nil
}

// parseBytes decodes an authored byte sequence: a "hex:" prefix means
// a hex dump (spaces allowed), anything else is taken literally.
func parseBytes(s string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(s, "hex:"); ok {
		rest = strings.ReplaceAll(rest, " ", "")
		b, err := hex.DecodeString(rest)
		if err != nil {
			return nil, fmt.Errorf("bad hex %q: %w", s, err)
		}
		return b, nil
	}
	return []byte(s), nil
}
