// Package extract turns parsed message fields into named variables via
// declarative response patterns. A pattern optionally gates on a
// condition expression and maps element values to variable names, with
// an optional per-variable transform expression. Both expressions run
// in the sandboxed script engine; their failures degrade the one
// variable, never the whole extraction.
package extract

import (
	"errors"
	"fmt"
	"time"

	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/script"
	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/structure"
)

// ErrParseFailed means extraction was handed an unsuccessful parse
// result. It is the only condition under which extraction itself fails.
var ErrParseFailed = errors.New("extract: parse result unsuccessful")

// PatternType classifies what a matched response means to the caller.
type PatternType int

const (
	TypeSuccess PatternType = iota
	TypeError
	TypeData
	TypeEvent
)

func (t PatternType) String() string {
	switch t {
	case TypeSuccess:
		return "success"
	case TypeError:
		return "error"
	case TypeData:
		return "data"
	case TypeEvent:
		return "event"
	default:
		return "unknown"
	}
}

// ParsePatternType maps a config string to a PatternType.
func ParsePatternType(s string) (PatternType, error) {
	switch s {
	case "success":
		return TypeSuccess, nil
	case "error":
		return TypeError, nil
	case "data":
		return TypeData, nil
	case "event":
		return TypeEvent, nil
	default:
		return 0, fmt.Errorf("unknown pattern type %q", s)
	}
}

// ExtractElement maps one parsed element to a named variable.
type ExtractElement struct {
	// ElementID names the structure element whose value is taken.
	ElementID string `yaml:"element_id" json:"element_id"`

	// VariableName is the key the value is stored under.
	VariableName string `yaml:"variable_name" json:"variable_name"`

	// Transform is an optional expression run with the raw value bound
	// as "value". Its return value replaces the raw value; a failure
	// falls back to the raw value.
	Transform string `yaml:"transform,omitempty" json:"transform,omitempty"`
}

// ResponsePattern declares how one class of response is recognized and
// which variables it yields.
type ResponsePattern struct {
	Type PatternType `yaml:"type" json:"type"`

	// Condition is an optional expression evaluated against the parsed
	// fields (bound as "fields"). A falsy or failing condition skips
	// the pattern.
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`

	ExtractElements []ExtractElement `yaml:"extract_elements" json:"extract_elements"`
}

// ExtractionResult carries the variables gathered from all matched
// patterns. Warnings record per-variable degradations (failed
// transforms, missing elements) that did not abort extraction.
type ExtractionResult struct {
	Variables map[string]any
	Matched   []PatternType
	Success   bool
	Err       error
	Warnings  []error
}

// transformTimeout bounds one condition or transform execution.
const transformTimeout = time.Second

// Extract runs every pattern against a parse result. It fails only
// when the parse itself failed; everything downstream degrades to
// warnings.
func Extract(res *structure.ParseResult, patterns []ResponsePattern, engine script.Engine) ExtractionResult {
	if res == nil || !res.Success {
		var err error = ErrParseFailed
		if res != nil && res.Err != nil {
			err = fmt.Errorf("%w: %w", ErrParseFailed, res.Err)
		}
		return ExtractionResult{Err: err}
	}

	out := ExtractionResult{
		Variables: make(map[string]any),
		Success:   true,
	}

	for _, p := range patterns {
		if p.Condition != "" {
			ok, err := evalCondition(engine, p.Condition, res.Fields)
			if err != nil {
				out.Warnings = append(out.Warnings,
					fmt.Errorf("pattern %s condition: %w", p.Type, err))
				continue
			}
			if !ok {
				continue
			}
		}
		out.Matched = append(out.Matched, p.Type)

		for _, e := range p.ExtractElements {
			value, ok := elementValue(res, e.ElementID)
			if !ok {
				out.Warnings = append(out.Warnings,
					fmt.Errorf("pattern %s: element %q not present in parse result", p.Type, e.ElementID))
				continue
			}
			if e.Transform != "" {
				transformed, err := runTransform(engine, e.Transform, value, res.Fields)
				if err != nil {
					// Keep the raw value; the transform alone failed.
					out.Warnings = append(out.Warnings,
						fmt.Errorf("pattern %s: transform for %q: %w", p.Type, e.VariableName, err))
				} else {
					value = transformed
				}
			}
			out.Variables[e.VariableName] = value
		}
	}
	return out
}

// elementValue resolves an element ID to its decoded value, preferring
// the decode trail (which knows IDs) over the name-keyed field map.
func elementValue(res *structure.ParseResult, elementID string) (any, bool) {
	for _, info := range res.Elements {
		if info.ID != elementID {
			continue
		}
		if info.Value != nil {
			return info.Value, true
		}
		if len(info.Raw) > 0 {
			return info.Raw, true
		}
		return nil, false
	}
	// Patterns authored against field names still resolve.
	if v, ok := res.Fields[elementID]; ok {
		return v, true
	}
	return nil, false
}

func evalCondition(engine script.Engine, code string, fields map[string]any) (bool, error) {
	if engine == nil {
		return false, script.ErrRuntime
	}
	ret, err := engine.Execute(code, map[string]any{"fields": fields}, transformTimeout)
	if err != nil {
		return false, err
	}
	return truthy(ret), nil
}

func runTransform(engine script.Engine, code string, value any, fields map[string]any) (any, error) {
	if engine == nil {
		return nil, script.ErrRuntime
	}
	env := map[string]any{"value": value, "fields": fields}
	return engine.Execute(code, env, transformTimeout)
}

// truthy follows script semantics: nil, false, numeric zero and the
// empty string are false, everything else true.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case int64:
		return x != 0
	case uint64:
		return x != 0
	case float64:
		return x != 0
	case []byte:
		return len(x) > 0
	default:
		return true
	}
}
