package telemetry

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

type fakeSink struct {
	events []Event
	err    error
	closed bool
}

func (f *fakeSink) Record(ev Event) error {
	f.events = append(f.events, ev)
	return f.err
}

func (f *fakeSink) Close() error {
	f.closed = true
	return nil
}

func TestMultiSinkFanOut(t *testing.T) {
	a := &fakeSink{}
	b := &fakeSink{err: errors.New("broker down")}
	c := &fakeSink{}
	m := NewMultiSink(a, nil, b, c)

	ev := Event{ID: "1", Session: "s", Direction: "inbound", Data: []byte("x")}
	err := m.Record(ev)
	if err == nil {
		t.Fatal("failing sink error must surface")
	}
	// All sinks still received the event.
	for i, s := range []*fakeSink{a, b, c} {
		if len(s.events) != 1 {
			t.Errorf("sink %d got %d events, want 1", i, len(s.events))
		}
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !a.closed || !b.closed || !c.closed {
		t.Error("all sinks must be closed")
	}
}

func TestCaptureStoreRoundTrip(t *testing.T) {
	store, err := NewCaptureStore(filepath.Join(t.TempDir(), "capture.db"))
	if err != nil {
		t.Fatalf("NewCaptureStore: %v", err)
	}
	defer store.Close()

	ok := true
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	events := []Event{
		{
			ID: "a", Session: "sess-1", Direction: "inbound",
			Timestamp: base, Data: []byte{0x01, 0x03},
			ParseOK: &ok,
			Fields:  map[string]any{"addr": float64(17)},
		},
		{
			ID: "b", Session: "sess-1", Direction: "outbound",
			Timestamp: base.Add(time.Second), Data: []byte("OK"),
		},
		{
			ID: "c", Session: "sess-2", Direction: "inbound",
			Timestamp: base, Data: []byte("other"),
		},
	}
	for _, ev := range events {
		if err := store.Record(ev); err != nil {
			t.Fatalf("Record(%s): %v", ev.ID, err)
		}
	}

	got, err := store.Recent("sess-1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	// Most recent first.
	if got[0].ID != "b" || got[1].ID != "a" {
		t.Errorf("order = %s, %s, want b, a", got[0].ID, got[1].ID)
	}
	if got[1].ParseOK == nil || !*got[1].ParseOK {
		t.Error("parse_ok must round trip")
	}
	if got[1].Fields["addr"] != float64(17) {
		t.Errorf("fields = %v", got[1].Fields)
	}
	if got[0].ParseOK != nil {
		t.Error("unparsed event must keep a nil parse_ok")
	}
}

func TestRecentLimit(t *testing.T) {
	store, err := NewCaptureStore(filepath.Join(t.TempDir(), "capture.db"))
	if err != nil {
		t.Fatalf("NewCaptureStore: %v", err)
	}
	defer store.Close()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		ev := Event{
			ID: string(rune('a' + i)), Session: "s", Direction: "inbound",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.Record(ev); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	got, err := store.Recent("s", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].ID != "e" {
		t.Errorf("got %v", got)
	}
}
