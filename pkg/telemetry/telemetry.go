// Package telemetry fans out frames and parse outcomes to recording
// sinks. The codec core hands every event over as an opaque value; the
// sinks decide formatting and persistence.
package telemetry

import (
	"errors"
	"time"

	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/logger"
)

// Event is one recorded frame with whatever the pipeline learned
// about it.
type Event struct {
	ID        string         `json:"id"`
	Session   string         `json:"session"`
	Direction string         `json:"direction"`
	Timestamp time.Time      `json:"timestamp"`
	Data      []byte         `json:"data"`
	ParseOK   *bool          `json:"parse_ok,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Sink records events. Implementations must tolerate concurrent
// Record calls from different sessions.
type Sink interface {
	Record(ev Event) error
	Close() error
}

// MultiSink fans one event out to several sinks. A failing sink does
// not stop the others.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks. Nil entries are skipped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *MultiSink) Record(ev Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Record(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes events to the structured logger.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink creates a sink over the given logger, defaulting to the
// global one.
func NewLogSink(l *logger.Logger) *LogSink {
	if l == nil {
		l = logger.Global()
	}
	return &LogSink{log: l}
}

func (s *LogSink) Record(ev Event) error {
	attrs := []any{
		"session", ev.Session,
		"direction", ev.Direction,
		"bytes", len(ev.Data),
	}
	if ev.ParseOK != nil {
		attrs = append(attrs, "parse_ok", *ev.ParseOK)
	}
	if ev.Error != "" {
		attrs = append(attrs, "error", ev.Error)
		s.log.Warn("frame", attrs...)
		return nil
	}
	s.log.Info("frame", attrs...)
	return nil
}

func (s *LogSink) Close() error { return nil }
