// Package transport defines the byte-stream channel feeding a
// communication session. A transport delivers arriving chunks, with
// their arrival timestamps, to a registered handler and writes
// outgoing buffers as single logical messages. Implementations exist
// for serial ports, TCP sockets, and WebSockets.
package transport

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	ErrNotConnected = errors.New("transport not connected")
	ErrNoHandler    = errors.New("no chunk handler registered")
)

// ConnectionState represents the current state of a transport.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Chunk is one read from the wire. Chunks may split multi-byte
// patterns arbitrarily; the framer downstream reassembles them.
type Chunk struct {
	Data      []byte
	Timestamp time.Time
}

// ChunkHandler receives arriving chunks on the transport's read
// goroutine. The handler owns the chunk data.
type ChunkHandler func(Chunk)

// Transport is a bidirectional byte-stream channel. Implementations
// must be safe for concurrent use; the chunk handler must be set
// before Connect.
type Transport interface {
	// Connect opens the channel and starts the read pump.
	Connect(ctx context.Context) error

	// Close tears the channel down and stops the read pump.
	Close() error

	// IsConnected reports whether the channel is open.
	IsConnected() bool

	// Send writes one outgoing buffer as a single logical message.
	Send(ctx context.Context, data []byte) (int, error)

	// SetChunkHandler registers the inbound chunk callback.
	SetChunkHandler(h ChunkHandler)

	// Info describes the transport for status surfaces.
	Info() Info
}

// Info describes a transport instance.
type Info struct {
	Type    string          `json:"type"`
	Address string          `json:"address"`
	State   ConnectionState `json:"state"`
}

// Config selects and parameterizes a transport.
type Config struct {
	// Type is "serial", "tcp", or "websocket".
	Type string `yaml:"type" json:"type" validate:"required,oneof=serial tcp websocket"`

	// Address depends on the type: a port path ("/dev/ttyUSB0"),
	// a host:port pair, or a ws:// URL.
	Address string `yaml:"address" json:"address" validate:"required"`

	// Options holds type-specific settings (baud rate, parity, ...).
	Options map[string]any `yaml:"options" json:"options"`

	// BufferSize is the read buffer size (0 = implementation default).
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`

	// Timeout bounds connect and write operations.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}
