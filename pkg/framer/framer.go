// Package framer turns an unbounded byte stream into discrete message
// frames. A Framer owns one buffer per communication session, consumes
// arriving chunks with their timestamps, and emits complete frames
// through a callback according to the configured strategy: delimiter,
// silence timeout, length field, sync pattern, composite step list, or
// a user script. Chunk boundaries never matter: a multi-byte delimiter
// split across pushes still matches, because every strategy operates on
// the cumulative buffer.
package framer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/script"
)

// Common framer errors.
var (
	ErrInvalidConfig  = errors.New("invalid framing config")
	ErrFrameTooLong   = errors.New("frame exceeds max length")
	ErrNoScriptEngine = errors.New("no script engine configured")
	ErrClosed         = errors.New("framer closed")
)

// Frame is one complete message extracted from the stream. The emitted
// data is a copy; the consumer owns it.
type Frame struct {
	Data      []byte
	Timestamp time.Time
}

// Mode selects the framing strategy.
type Mode int

const (
	// ModeNone treats every pushed chunk as its own frame.
	ModeNone Mode = iota
	// ModeDelimiter splits on a byte sequence (prefix or suffix).
	ModeDelimiter
	// ModeTimeout emits the buffer after a silence interval.
	ModeTimeout
	// ModeLengthField reads the frame size from a header field.
	ModeLengthField
	// ModeSyncPattern splits from one sync word to the next.
	ModeSyncPattern
	// ModeComposite runs an ordered step list to find boundaries.
	ModeComposite
	// ModeScript delegates boundary detection to a user script.
	ModeScript
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeDelimiter:
		return "delimiter"
	case ModeTimeout:
		return "timeout"
	case ModeLengthField:
		return "length_field"
	case ModeSyncPattern:
		return "sync_pattern"
	case ModeComposite:
		return "composite"
	case ModeScript:
		return "script"
	default:
		return "unknown"
	}
}

// Delimiter positions.
const (
	PositionSuffix = "suffix"
	PositionPrefix = "prefix"
)

// DelimiterConfig splits the stream on a byte-literal sequence.
type DelimiterConfig struct {
	// Sequence is the delimiter bytes.
	Sequence []byte `yaml:"sequence" json:"sequence"`

	// Position is "suffix" (delimiter ends a frame, the default) or
	// "prefix" (delimiter starts a frame).
	Position string `yaml:"position" json:"position"`

	// IncludeInFrame keeps the delimiter bytes in the emitted frame.
	IncludeInFrame bool `yaml:"include_in_frame" json:"include_in_frame"`
}

// TimeoutConfig emits the whole buffer once the line goes quiet.
type TimeoutConfig struct {
	// Silence is the quiet interval that closes a frame.
	Silence time.Duration `yaml:"silence" json:"silence"`

	// MinBytes suppresses emission of buffers smaller than this.
	MinBytes int `yaml:"min_bytes" json:"min_bytes"`
}

// LengthFieldConfig reads the frame size from a header field.
type LengthFieldConfig struct {
	// Offset is the byte offset of the length field.
	Offset int `yaml:"offset" json:"offset"`

	// Size is the length field width (1, 2, or 4).
	Size int `yaml:"size" json:"size"`

	// ByteOrder is "big" (default) or "little".
	ByteOrder string `yaml:"byte_order" json:"byte_order"`

	// Adjustment is added to the decoded length.
	Adjustment int `yaml:"adjustment" json:"adjustment"`

	// IncludesHeader means the length value counts the whole frame;
	// otherwise it counts the bytes after the length field.
	IncludesHeader bool `yaml:"includes_header" json:"includes_header"`
}

// SyncPatternConfig splits from one sync word to the next. Bytes before
// the first match are discarded.
type SyncPatternConfig struct {
	Pattern []byte `yaml:"pattern" json:"pattern"`

	// MaxScan bounds how far an unsynced scan proceeds per cycle
	// before the scanned bytes are discarded (0 = unbounded).
	MaxScan int `yaml:"max_scan" json:"max_scan"`
}

// ScriptConfig delegates framing to a user script. The script sees the
// buffer and an emit callback, and returns the number of consumed bytes.
type ScriptConfig struct {
	Code string `yaml:"code" json:"code"`

	// Timeout bounds one script execution (0 = script.DefaultTimeout).
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// Config is the framing rule set. Exactly one per-mode config matching
// Mode should be set. The value is immutable once handed to a Framer;
// replacing it via SetConfig preserves buffered bytes.
type Config struct {
	Mode Mode `yaml:"mode" json:"mode"`

	// MaxFrameLength drops and reports any frame that would exceed it
	// (0 = unlimited). Ignored for ModeNone.
	MaxFrameLength int `yaml:"max_frame_length" json:"max_frame_length"`

	Delimiter   *DelimiterConfig   `yaml:"delimiter,omitempty" json:"delimiter,omitempty"`
	Timeout     *TimeoutConfig     `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	LengthField *LengthFieldConfig `yaml:"length_field,omitempty" json:"length_field,omitempty"`
	SyncPattern *SyncPatternConfig `yaml:"sync_pattern,omitempty" json:"sync_pattern,omitempty"`
	Composite   *CompositeConfig   `yaml:"composite,omitempty" json:"composite,omitempty"`
	Script      *ScriptConfig      `yaml:"script,omitempty" json:"script,omitempty"`
}

// Validate checks the per-mode parameters.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeNone:
		return nil
	case ModeDelimiter:
		if c.Delimiter == nil || len(c.Delimiter.Sequence) == 0 {
			return fmt.Errorf("%w: delimiter sequence required", ErrInvalidConfig)
		}
		if p := c.Delimiter.Position; p != "" && p != PositionSuffix && p != PositionPrefix {
			return fmt.Errorf("%w: delimiter position %q", ErrInvalidConfig, p)
		}
		return nil
	case ModeTimeout:
		if c.Timeout == nil || c.Timeout.Silence <= 0 {
			return fmt.Errorf("%w: timeout silence required", ErrInvalidConfig)
		}
		return nil
	case ModeLengthField:
		if c.LengthField == nil {
			return fmt.Errorf("%w: length field config required", ErrInvalidConfig)
		}
		if s := c.LengthField.Size; s != 1 && s != 2 && s != 4 {
			return fmt.Errorf("%w: length field size must be 1, 2, or 4", ErrInvalidConfig)
		}
		if c.LengthField.Offset < 0 {
			return fmt.Errorf("%w: negative length field offset", ErrInvalidConfig)
		}
		return nil
	case ModeSyncPattern:
		if c.SyncPattern == nil || len(c.SyncPattern.Pattern) == 0 {
			return fmt.Errorf("%w: sync pattern required", ErrInvalidConfig)
		}
		return nil
	case ModeComposite:
		if c.Composite == nil {
			return fmt.Errorf("%w: composite steps required", ErrInvalidConfig)
		}
		return c.Composite.validate()
	case ModeScript:
		if c.Script == nil || c.Script.Code == "" {
			return fmt.Errorf("%w: script code required", ErrInvalidConfig)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown mode %d", ErrInvalidConfig, c.Mode)
	}
}

// FrameHandler receives emitted frames, synchronously with Push.
type FrameHandler func(Frame)

// ErrorHandler receives non-fatal framing errors (oversized frames,
// script failures). The framer keeps going after reporting.
type ErrorHandler func(error)

// Framer extracts frames from one session's byte stream. It is driven
// by a single sequential caller; the internal mutex exists only because
// the silence timer of the timeout strategy fires on its own goroutine.
// Frame and error handlers must not call back into the Framer.
type Framer struct {
	mu      sync.Mutex
	cfg     Config
	buf     []byte
	onFrame FrameHandler
	onError ErrorHandler
	engine  script.Engine
	timer   *time.Timer
	synced  bool
	closed  bool
}

// New creates a framer with the given rules and frame callback.
func New(cfg Config, onFrame FrameHandler) (*Framer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if onFrame == nil {
		return nil, fmt.Errorf("%w: frame handler required", ErrInvalidConfig)
	}
	return &Framer{cfg: cfg, onFrame: onFrame}, nil
}

// SetErrorHandler registers the non-fatal error callback.
func (f *Framer) SetErrorHandler(h ErrorHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onError = h
}

// SetScriptEngine injects the sandboxed engine used by ModeScript.
func (f *Framer) SetScriptEngine(e script.Engine) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.engine = e
}

// Buffered returns the number of bytes waiting for a frame boundary.
func (f *Framer) Buffered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buf)
}

// SetConfig replaces the framing rules without losing buffered bytes.
// Any pending silence timer is cancelled.
func (f *Framer) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	f.stopTimer()
	f.cfg = cfg
	f.synced = false
	// Buffered bytes may already complete a frame under the new rules.
	f.process(time.Now())
	f.checkOverflow()
	return nil
}

// Push feeds one arriving chunk. Frames complete in the buffer are
// emitted synchronously before Push returns.
func (f *Framer) Push(chunk []byte, ts time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || len(chunk) == 0 {
		return
	}

	if f.cfg.Mode == ModeNone {
		f.emit(chunk, ts)
		return
	}

	f.buf = append(f.buf, chunk...)
	f.process(ts)
	f.checkOverflow()
}

// Flush emits whatever frame the current policy can still produce from
// the leftover buffer and clears it. Used on disable and teardown.
func (f *Framer) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.stopTimer()

	switch f.cfg.Mode {
	case ModeDelimiter, ModeSyncPattern:
		// The tail is a meaningful partial frame for these policies.
		if len(f.buf) > 0 {
			f.emit(f.buf, time.Now())
		}
	case ModeTimeout:
		// Same suppression as the silence timer.
		if len(f.buf) > 0 && len(f.buf) >= f.cfg.Timeout.MinBytes {
			f.emit(f.buf, time.Now())
		}
	case ModeLengthField, ModeComposite, ModeScript, ModeNone:
		// No boundary can be resolved without more input; discard.
	}
	f.buf = nil
	f.synced = false
}

// Close discards buffered state and cancels the silence timer. The
// framer cannot be reused afterwards.
func (f *Framer) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopTimer()
	f.closed = true
	f.buf = nil
}

// process extracts as many frames as the buffer allows. Callers hold
// the mutex.
func (f *Framer) process(ts time.Time) {
	switch f.cfg.Mode {
	case ModeDelimiter:
		if f.cfg.Delimiter.Position == PositionPrefix {
			f.processPrefixDelimiter(ts)
		} else {
			f.processSuffixDelimiter(ts)
		}
	case ModeTimeout:
		if len(f.buf) > 0 {
			f.restartTimer()
		}
	case ModeLengthField:
		f.processLengthField(ts)
	case ModeSyncPattern:
		f.processSyncPattern(ts)
	case ModeComposite:
		f.processComposite(ts)
	case ModeScript:
		f.processScript(ts)
	}
}

// processSuffixDelimiter emits a frame for every terminator found.
// Trailing bytes without a terminator stay buffered.
func (f *Framer) processSuffixDelimiter(ts time.Time) {
	seq := f.cfg.Delimiter.Sequence
	for {
		i := bytes.Index(f.buf, seq)
		if i < 0 {
			return
		}
		end := i
		if f.cfg.Delimiter.IncludeInFrame {
			end = i + len(seq)
		}
		f.emitBounded(f.buf[:end], ts)
		f.buf = f.buf[i+len(seq):]
	}
}

// processPrefixDelimiter closes the open frame at every delimiter and
// starts a new one. Bytes before the very first delimiter are buffered
// and emitted, as an incomplete frame, when the first delimiter closes
// them. The last frame stays open until the next delimiter or Flush.
func (f *Framer) processPrefixDelimiter(ts time.Time) {
	seq := f.cfg.Delimiter.Sequence
	include := f.cfg.Delimiter.IncludeInFrame
	for {
		searchFrom := 0
		if f.synced && include {
			// The open frame starts with its own delimiter.
			if len(f.buf) < len(seq) {
				return
			}
			searchFrom = len(seq)
		}
		i := bytes.Index(f.buf[searchFrom:], seq)
		if i < 0 {
			return
		}
		i += searchFrom

		if i > 0 {
			f.emitBounded(f.buf[:i], ts)
		}
		if include {
			f.buf = f.buf[i:]
		} else {
			f.buf = f.buf[i+len(seq):]
		}
		f.synced = true
	}
}

// processLengthField emits frames whose size is read from the header.
func (f *Framer) processLengthField(ts time.Time) {
	cfg := f.cfg.LengthField
	for {
		headerEnd := cfg.Offset + cfg.Size
		if len(f.buf) < headerEnd {
			return
		}
		length := int(readUint(f.buf[cfg.Offset:headerEnd], cfg.ByteOrder))

		var frameEnd int
		if cfg.IncludesHeader {
			frameEnd = length + cfg.Adjustment
		} else {
			frameEnd = headerEnd + length + cfg.Adjustment
		}

		if frameEnd <= 0 || (f.cfg.MaxFrameLength > 0 && frameEnd > f.cfg.MaxFrameLength) {
			f.report(fmt.Errorf("%w: length field resolves to %d bytes", ErrFrameTooLong, frameEnd))
			f.buf = nil
			return
		}
		if len(f.buf) < frameEnd {
			return
		}
		f.emit(f.buf[:frameEnd], ts)
		f.buf = f.buf[frameEnd:]
	}
}

// processSyncPattern discards noise before the first sync word and
// emits frames spanning from one sync word to the next.
func (f *Framer) processSyncPattern(ts time.Time) {
	pat := f.cfg.SyncPattern.Pattern
	if !f.synced {
		window := f.buf
		bounded := false
		if max := f.cfg.SyncPattern.MaxScan; max > 0 && len(f.buf) > max+len(pat)-1 {
			window = f.buf[:max+len(pat)-1]
			bounded = true
		}
		i := bytes.Index(window, pat)
		if i < 0 {
			// Keep only the bytes that could still start a pattern.
			keep := len(pat) - 1
			if bounded {
				f.buf = f.buf[len(window)-keep:]
			} else if len(f.buf) > keep {
				f.buf = f.buf[len(f.buf)-keep:]
			}
			return
		}
		f.buf = f.buf[i:]
		f.synced = true
	}

	for {
		i := bytes.Index(f.buf[len(pat):], pat)
		if i < 0 {
			return
		}
		i += len(pat)
		f.emitBounded(f.buf[:i], ts)
		f.buf = f.buf[i:]
		if len(f.buf) < len(pat) {
			// Cannot happen: the remainder starts with a full pattern.
			return
		}
	}
}

// processComposite resolves frame boundaries by running the step list.
func (f *Framer) processComposite(ts time.Time) {
	for {
		start, end, err := f.cfg.Composite.resolve(f.buf)
		if err == errNeedMore {
			return
		}
		if err != nil {
			f.report(err)
			f.buf = nil
			return
		}
		f.emitBounded(f.buf[start:end], ts)
		f.buf = f.buf[end:]
	}
}

// processScript hands the buffer to the sandboxed engine. The script
// may call emit(bytes) and returns how many bytes it consumed. Script
// failures are reported and skipped; the buffer survives for the next
// push.
func (f *Framer) processScript(ts time.Time) {
	if f.engine == nil {
		f.report(ErrNoScriptEngine)
		return
	}

	env := map[string]any{
		"buffer": append([]byte(nil), f.buf...),
		"emit": func(data []byte) {
			f.emitBounded(data, ts)
		},
	}
	ret, err := f.engine.Execute(f.cfg.Script.Code, env, f.cfg.Script.Timeout)
	if err != nil {
		f.report(fmt.Errorf("framing script: %w", err))
		return
	}

	consumed := toInt(ret)
	if consumed <= 0 {
		return
	}
	if consumed > len(f.buf) {
		consumed = len(f.buf)
	}
	f.buf = f.buf[consumed:]
}

// checkOverflow drops a buffered frame that can no longer fit the
// global limit. ModeNone never buffers, so it is exempt.
func (f *Framer) checkOverflow() {
	if f.cfg.MaxFrameLength <= 0 || f.cfg.Mode == ModeNone {
		return
	}
	if len(f.buf) > f.cfg.MaxFrameLength {
		f.report(fmt.Errorf("%w: %d bytes buffered, limit %d",
			ErrFrameTooLong, len(f.buf), f.cfg.MaxFrameLength))
		f.buf = nil
		f.synced = false
	}
}

// restartTimer arms the silence timer for the timeout strategy.
func (f *Framer) restartTimer() {
	f.stopTimer()
	silence := f.cfg.Timeout.Silence
	f.timer = time.AfterFunc(silence, f.onSilence)
}

// onSilence fires on the timer goroutine when the line has been quiet.
func (f *Framer) onSilence() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.cfg.Mode != ModeTimeout {
		return
	}
	if len(f.buf) == 0 || len(f.buf) < f.cfg.Timeout.MinBytes {
		return
	}
	f.emit(f.buf, time.Now())
	f.buf = nil
}

func (f *Framer) stopTimer() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

func (f *Framer) emit(data []byte, ts time.Time) {
	frame := Frame{Data: append([]byte(nil), data...), Timestamp: ts}
	f.onFrame(frame)
}

// emitBounded emits the frame unless it exceeds MaxFrameLength, in
// which case it is reported and dropped. The caller still advances
// past the frame either way.
func (f *Framer) emitBounded(data []byte, ts time.Time) {
	if f.cfg.MaxFrameLength > 0 && len(data) > f.cfg.MaxFrameLength {
		f.report(fmt.Errorf("%w: frame is %d bytes, limit %d",
			ErrFrameTooLong, len(data), f.cfg.MaxFrameLength))
		return
	}
	f.emit(data, ts)
}

func (f *Framer) report(err error) {
	if f.onError != nil {
		f.onError(err)
	}
}

// readUint decodes a 1, 2, or 4 byte unsigned integer.
func readUint(b []byte, order string) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		if order == "little" {
			return uint64(binary.LittleEndian.Uint16(b))
		}
		return uint64(binary.BigEndian.Uint16(b))
	case 4:
		if order == "little" {
			return uint64(binary.LittleEndian.Uint32(b))
		}
		return uint64(binary.BigEndian.Uint32(b))
	default:
		return 0
	}
}

// toInt coerces a script return value to an int.
func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
