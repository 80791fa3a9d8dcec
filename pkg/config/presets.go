package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/session"
)

// Canned protocol definitions for common devices. Authors can start
// from a preset and override nothing but the transport.
var presets = map[string]*ProtocolConfig{
	// AT command modems: line-oriented, CRLF terminated.
	"at": {
		Framing: FramingConfig{
			Mode:      "delimiter",
			Delimiter: &DelimiterSpec{Sequence: "\r\n", Position: "suffix"},
		},
	},

	// NMEA 0183 GPS sentences: "$...*hh" terminated by CRLF. The
	// standard caps a sentence at 82 characters.
	"nmea": {
		Framing: FramingConfig{
			Mode:           "delimiter",
			MaxFrameLength: 82,
			Delimiter:      &DelimiterSpec{Sequence: "\r\n", Position: "suffix"},
		},
	},

	// Modbus RTU: frames delimited by line silence, CRC16 validated.
	"modbus_rtu": {
		Framing: FramingConfig{
			Mode:           "timeout",
			MaxFrameLength: 256,
			Timeout:        &TimeoutSpec{Silence: 10 * time.Millisecond, MinBytes: 4},
		},
		Structure: &StructureConfig{
			ID:        "modbus-rtu",
			Name:      "Modbus RTU",
			ByteOrder: "big",
			Elements: []ElementConfig{
				{ID: "addr", Name: "addr", Kind: "address"},
				{ID: "function", Name: "function", Kind: "field", DataType: "uint8"},
				{ID: "pdu", Name: "pdu", Kind: "payload"},
				{ID: "crc", Name: "crc", Kind: "checksum", Algorithm: "crc16_modbus",
					IncludeElements: []string{"addr", "function", "pdu"}},
			},
		},
		Strict: true,
		Patterns: []PatternConfig{{
			// Exception responses set the high bit of the function code.
			Type:      "error",
			Condition: "fields.function >= 0x80",
			Extract: []ExtractionSpec{
				{ElementID: "function", VariableName: "exception_function"},
			},
		}},
	},

	// ESC/POS thermal printers: a raw command stream, no framing.
	"escpos": {
		Framing: FramingConfig{Mode: "none"},
	},

	// ELM327 OBD adapters: CR terminated responses.
	"elm327": {
		Framing: FramingConfig{
			Mode:      "delimiter",
			Delimiter: &DelimiterSpec{Sequence: "\r", Position: "suffix"},
		},
	},
}

// Preset returns the named canned protocol definition.
func Preset(name string) (*ProtocolConfig, error) {
	p, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown preset %q", name)
	}
	return p, nil
}

// PresetNames lists the available presets, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CompileProtocol resolves a port's protocol: an inline definition
// wins, then a preset, then raw chunk framing.
func (p *PortConfig) CompileProtocol() (session.Protocol, error) {
	switch {
	case p.Protocol != nil:
		return p.Protocol.Compile()
	case p.Preset != "":
		preset, err := Preset(p.Preset)
		if err != nil {
			return session.Protocol{}, err
		}
		return preset.Compile()
	default:
		return (&ProtocolConfig{}).Compile()
	}
}
