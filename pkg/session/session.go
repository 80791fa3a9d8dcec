// Package session owns the map from session IDs to live framer
// pipelines. One session is one logical byte-stream conversation: a
// framer, an optional message structure, optional response patterns,
// and an optional transport. Sessions are created explicitly or on
// first byte, and destroyed on close.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/extract"
	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/framer"
	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/logger"
	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/metrics"
	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/script"
	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/structure"
	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/telemetry"
	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/transport"
)

// Common errors.
var (
	ErrNotFound = errors.New("session not found")
	ErrExists   = errors.New("session already exists")
)

// Protocol bundles everything a session needs to understand its
// byte stream.
type Protocol struct {
	Framing framer.Config `yaml:"framing" json:"framing"`

	// Structure, when set, is applied to every inbound frame.
	Structure *structure.Structure `yaml:"structure,omitempty" json:"structure,omitempty"`

	// Patterns run against every successful parse.
	Patterns []extract.ResponsePattern `yaml:"patterns,omitempty" json:"patterns,omitempty"`

	// Strict selects hard failure on static/checksum mismatches.
	Strict bool `yaml:"strict" json:"strict"`
}

// Status is a session snapshot for status surfaces.
type Status struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	CreatedAt time.Time       `json:"created_at"`
	FramesIn  uint64          `json:"frames_in"`
	FramesOut uint64          `json:"frames_out"`
	BytesIn   uint64          `json:"bytes_in"`
	BytesOut  uint64          `json:"bytes_out"`
	Buffered  int             `json:"buffered"`
	Transport *transport.Info `json:"transport,omitempty"`
}

// Session is one live pipeline. All inbound work happens on the
// pusher's goroutine; counters are guarded for status readers.
type Session struct {
	ID   string
	Name string

	mu        sync.Mutex
	protocol  Protocol
	framer    *framer.Framer
	engine    script.Engine
	sink      telemetry.Sink
	log       *logger.Logger
	trans     transport.Transport
	createdAt time.Time
	framesIn  uint64
	framesOut uint64
	bytesIn   uint64
	bytesOut  uint64
}

// Push feeds one inbound chunk through the framing pipeline.
func (s *Session) Push(chunk []byte, ts time.Time) {
	s.mu.Lock()
	s.bytesIn += uint64(len(chunk))
	f := s.framer
	s.mu.Unlock()

	metrics.AddBytes(s.ID, metrics.DirectionInbound, len(chunk))
	f.Push(chunk, ts)
}

// onFrame runs parse, extraction, and telemetry for one emitted frame.
func (s *Session) onFrame(fr framer.Frame) {
	s.mu.Lock()
	s.framesIn++
	proto := s.protocol
	sink := s.sink
	engine := s.engine
	s.mu.Unlock()

	metrics.IncFrame(s.ID, metrics.DirectionInbound)

	ev := telemetry.Event{
		ID:        uuid.NewString(),
		Session:   s.ID,
		Direction: metrics.DirectionInbound,
		Timestamp: fr.Timestamp,
		Data:      fr.Data,
	}

	if proto.Structure != nil {
		res := structure.Parse(fr.Data, proto.Structure, structure.ParseOptions{Strict: proto.Strict})
		ok := res.Success
		ev.ParseOK = &ok
		ev.Fields = res.Fields
		if res.Err != nil {
			ev.Error = res.Err.Error()
		}
		if ok {
			metrics.IncParse(s.ID, metrics.StatusSuccess)
		} else {
			metrics.IncParse(s.ID, metrics.StatusFailed)
		}

		if len(proto.Patterns) > 0 {
			ext := extract.Extract(&res, proto.Patterns, engine)
			if ext.Success {
				ev.Variables = ext.Variables
			}
			for _, w := range ext.Warnings {
				metrics.IncScriptError("extract")
				s.log.Warn("extraction degraded", "session", s.ID, "warning", w.Error())
			}
		}
	}

	if sink != nil {
		if err := sink.Record(ev); err != nil {
			s.log.Warn("telemetry record failed", "session", s.ID, "error", err.Error())
		}
	}
}

// onFramingError records non-fatal framing errors.
func (s *Session) onFramingError(err error) {
	metrics.IncFramingError(s.ID)
	s.log.Warn("framing error", "session", s.ID, "error", err.Error())
}

// Send builds no bytes itself; it writes an already-built frame to
// the attached transport and records it.
func (s *Session) Send(ctx context.Context, data []byte) (int, error) {
	s.mu.Lock()
	trans := s.trans
	sink := s.sink
	s.mu.Unlock()
	if trans == nil {
		return 0, transport.ErrNotConnected
	}

	n, err := trans.Send(ctx, data)
	if err != nil {
		return n, err
	}
	s.mu.Lock()
	s.framesOut++
	s.bytesOut += uint64(n)
	s.mu.Unlock()
	metrics.IncFrame(s.ID, metrics.DirectionOutbound)
	metrics.AddBytes(s.ID, metrics.DirectionOutbound, n)

	if sink != nil {
		ev := telemetry.Event{
			ID:        uuid.NewString(),
			Session:   s.ID,
			Direction: metrics.DirectionOutbound,
			Timestamp: time.Now(),
			Data:      data,
		}
		if err := sink.Record(ev); err != nil {
			s.log.Warn("telemetry record failed", "session", s.ID, "error", err.Error())
		}
	}
	return n, nil
}

// Build encodes parameters into a frame using the session's structure.
func (s *Session) Build(opts structure.BuildOptions) ([]byte, error) {
	s.mu.Lock()
	st := s.protocol.Structure
	s.mu.Unlock()
	return structure.Build(st, opts)
}

// SetFraming swaps the framing rules without losing buffered bytes.
func (s *Session) SetFraming(cfg framer.Config) error {
	s.mu.Lock()
	s.protocol.Framing = cfg
	f := s.framer
	s.mu.Unlock()
	return f.SetConfig(cfg)
}

// AttachTransport connects a transport's inbound chunks to this
// session and makes it the Send target. The caller still owns
// Connect/Close timing.
func (s *Session) AttachTransport(t transport.Transport) {
	t.SetChunkHandler(func(c transport.Chunk) {
		s.Push(c.Data, c.Timestamp)
	})
	s.mu.Lock()
	s.trans = t
	s.mu.Unlock()
}

// Status snapshots the session.
func (s *Session) Status() Status {
	// Read the framer first: its frame callback locks s.mu while the
	// framer's own lock is held, so taking them in the other order
	// here would deadlock.
	buffered := s.framer.Buffered()

	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		ID:        s.ID,
		Name:      s.Name,
		CreatedAt: s.createdAt,
		FramesIn:  s.framesIn,
		FramesOut: s.framesOut,
		BytesIn:   s.bytesIn,
		BytesOut:  s.bytesOut,
		Buffered:  buffered,
	}
	if s.trans != nil {
		info := s.trans.Info()
		st.Transport = &info
	}
	return st
}

// close tears the pipeline down. Called with the manager's lock held.
func (s *Session) close() {
	s.framer.Flush()
	s.framer.Close()
	s.mu.Lock()
	trans := s.trans
	s.trans = nil
	s.mu.Unlock()
	if trans != nil {
		trans.Close()
	}
}

// Manager is the explicit ownership table from session ID to live
// session.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	engine   script.Engine
	sink     telemetry.Sink
	log      *logger.Logger

	// DefaultProtocol is applied to sessions created on first byte.
	DefaultProtocol Protocol
}

// NewManager creates an empty session table. Engine and sink may be
// nil; the logger defaults to the global one.
func NewManager(engine script.Engine, sink telemetry.Sink, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Global()
	}
	return &Manager{
		sessions:        make(map[string]*Session),
		engine:          engine,
		sink:            sink,
		log:             log,
		DefaultProtocol: Protocol{Framing: framer.Config{Mode: framer.ModeNone}},
	}
}

// Open creates a session with a fresh ID.
func (m *Manager) Open(name string, proto Protocol) (*Session, error) {
	return m.create(uuid.NewString(), name, proto)
}

// OpenWithID creates a session under a caller-chosen ID, used when the
// transport address is the natural identity.
func (m *Manager) OpenWithID(id, name string, proto Protocol) (*Session, error) {
	return m.create(id, name, proto)
}

func (m *Manager) create(id, name string, proto Protocol) (*Session, error) {
	s := &Session{
		ID:        id,
		Name:      name,
		protocol:  proto,
		engine:    m.engine,
		sink:      m.sink,
		log:       m.log,
		createdAt: time.Now(),
	}
	f, err := framer.New(proto.Framing, s.onFrame)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	f.SetErrorHandler(s.onFramingError)
	if m.engine != nil {
		f.SetScriptEngine(m.engine)
	}
	s.framer = f

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; ok {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrExists, id)
	}
	m.sessions[id] = s
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.log.Info("session opened", "session", id, "name", name,
		"framing", proto.Framing.Mode.String())
	return s, nil
}

// Ingest pushes a chunk into a session, creating it with the default
// protocol on the first byte.
func (m *Manager) Ingest(id string, chunk []byte, ts time.Time) error {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		var err error
		s, err = m.create(id, id, m.DefaultProtocol)
		if err != nil {
			if !errors.Is(err, ErrExists) {
				return err
			}
			// Lost the create race; the winner's session takes the chunk.
			m.mu.RLock()
			s = m.sessions[id]
			m.mu.RUnlock()
		}
	}
	s.Push(chunk, ts)
	return nil
}

// Get looks a session up by ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// List snapshots every session's status.
func (m *Manager) List() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Status())
	}
	return out
}

// Close destroys one session, flushing its framer and closing its
// transport.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		metrics.ActiveSessions.Set(float64(len(m.sessions)))
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.close()
	m.log.Info("session closed", "session", id)
	return nil
}

// CloseAll destroys every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	metrics.ActiveSessions.Set(0)
	m.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}
