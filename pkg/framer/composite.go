package framer

import (
	"bytes"
	"errors"
	"fmt"
)

// errNeedMore signals that a step ran out of buffered bytes; the cycle
// aborts and waits for the next push.
var errNeedMore = errors.New("need more data")

// StepKind identifies one composite framing step.
type StepKind int

const (
	// StepFindSync advances the cursor past a byte pattern, discarding
	// noise before the match. The first sync marks the frame start.
	StepFindSync StepKind = iota
	// StepReadLength decodes an integer recorded for the frame size.
	StepReadLength
	// StepReadFixed advances the cursor by a literal byte count.
	StepReadFixed
	// StepFindDelimiter advances the cursor to just past a pattern.
	StepFindDelimiter
)

func (k StepKind) String() string {
	switch k {
	case StepFindSync:
		return "find_sync"
	case StepReadLength:
		return "read_length"
	case StepReadFixed:
		return "read_fixed"
	case StepFindDelimiter:
		return "find_delimiter"
	default:
		return "unknown"
	}
}

// Step is one entry in a composite step list. The fields used depend
// on Kind.
type Step struct {
	Kind StepKind `yaml:"kind" json:"kind"`

	// Pattern for find_sync and find_delimiter.
	Pattern []byte `yaml:"pattern,omitempty" json:"pattern,omitempty"`

	// Size (1, 2, or 4), ByteOrder and Adjustment for read_length.
	Size       int    `yaml:"size,omitempty" json:"size,omitempty"`
	ByteOrder  string `yaml:"byte_order,omitempty" json:"byte_order,omitempty"`
	Adjustment int    `yaml:"adjustment,omitempty" json:"adjustment,omitempty"`

	// OfTotalFrame means the decoded length counts the whole frame
	// from the sync start; otherwise it counts the bytes remaining
	// after the last step.
	OfTotalFrame bool `yaml:"of_total_frame,omitempty" json:"of_total_frame,omitempty"`

	// Count for read_fixed.
	Count int `yaml:"count,omitempty" json:"count,omitempty"`
}

// CompositeConfig chains steps that together resolve one frame's byte
// length. Insufficient data at any step aborts the cycle.
type CompositeConfig struct {
	Steps []Step `yaml:"steps" json:"steps"`
}

func (c *CompositeConfig) validate() error {
	if len(c.Steps) == 0 {
		return fmt.Errorf("%w: composite needs at least one step", ErrInvalidConfig)
	}
	for i, s := range c.Steps {
		switch s.Kind {
		case StepFindSync, StepFindDelimiter:
			if len(s.Pattern) == 0 {
				return fmt.Errorf("%w: step %d (%s) needs a pattern", ErrInvalidConfig, i, s.Kind)
			}
		case StepReadLength:
			if s.Size != 1 && s.Size != 2 && s.Size != 4 {
				return fmt.Errorf("%w: step %d length size must be 1, 2, or 4", ErrInvalidConfig, i)
			}
		case StepReadFixed:
			if s.Count <= 0 {
				return fmt.Errorf("%w: step %d needs a positive count", ErrInvalidConfig, i)
			}
		default:
			return fmt.Errorf("%w: step %d has unknown kind %d", ErrInvalidConfig, i, s.Kind)
		}
	}
	return nil
}

// resolve runs the step list against the buffer and returns the frame
// bounds. It returns errNeedMore when a step cannot complete yet, and a
// config error when the steps resolve to an impossible frame.
func (c *CompositeConfig) resolve(buf []byte) (start, end int, err error) {
	cursor := 0
	haveLength := false
	ofTotal := false
	length := 0
	startSet := false

	for _, s := range c.Steps {
		switch s.Kind {
		case StepFindSync:
			idx := bytes.Index(buf[cursor:], s.Pattern)
			if idx < 0 {
				return 0, 0, errNeedMore
			}
			if !startSet {
				start = cursor + idx
				startSet = true
			}
			cursor += idx + len(s.Pattern)

		case StepReadLength:
			if len(buf)-cursor < s.Size {
				return 0, 0, errNeedMore
			}
			length = int(readUint(buf[cursor:cursor+s.Size], s.ByteOrder)) + s.Adjustment
			haveLength = true
			ofTotal = s.OfTotalFrame
			cursor += s.Size

		case StepReadFixed:
			if len(buf)-cursor < s.Count {
				return 0, 0, errNeedMore
			}
			cursor += s.Count

		case StepFindDelimiter:
			idx := bytes.Index(buf[cursor:], s.Pattern)
			if idx < 0 {
				return 0, 0, errNeedMore
			}
			cursor += idx + len(s.Pattern)
		}
	}

	if haveLength {
		if ofTotal {
			end = start + length
		} else {
			end = cursor + length
		}
	} else {
		end = cursor
	}

	if end <= start || end < cursor {
		return 0, 0, fmt.Errorf("%w: composite steps resolve to frame [%d:%d)",
			ErrInvalidConfig, start, end)
	}
	if end > len(buf) {
		return 0, 0, errNeedMore
	}
	return start, end, nil
}
