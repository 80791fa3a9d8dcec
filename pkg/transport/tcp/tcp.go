// Package tcp provides the TCP socket transport, used for networked
// serial servers and raw-socket devices.
package tcp

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/transport"
)

const defaultBufferSize = 4096

// Transport implements transport.Transport over a TCP connection.
type Transport struct {
	mu      sync.RWMutex
	config  transport.Config
	conn    net.Conn
	state   transport.ConnectionState
	handler transport.ChunkHandler
	done    chan struct{}
}

// New creates a TCP transport. Address is "host:port".
func New(cfg transport.Config) (*Transport, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if _, _, err := net.SplitHostPort(cfg.Address); err != nil {
		return nil, err
	}
	return &Transport{config: cfg, state: transport.StateDisconnected}, nil
}

// SetChunkHandler registers the inbound callback. Must be called
// before Connect.
func (t *Transport) SetChunkHandler(h transport.ChunkHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// Connect dials the endpoint and starts the read pump.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handler == nil {
		return transport.ErrNoHandler
	}
	if t.state == transport.StateConnected {
		return nil
	}
	t.state = transport.StateConnecting

	dialer := net.Dialer{Timeout: t.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.config.Address)
	if err != nil {
		t.state = transport.StateDisconnected
		return err
	}
	t.conn = conn
	t.done = make(chan struct{})
	t.state = transport.StateConnected
	go t.readPump(conn, t.handler)
	return nil
}

func (t *Transport) readPump(conn net.Conn, handler transport.ChunkHandler) {
	defer close(t.done)
	buf := make([]byte, t.config.BufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			handler(transport.Chunk{
				Data:      append([]byte(nil), buf[:n]...),
				Timestamp: time.Now(),
			})
		}
		if err != nil {
			t.mu.Lock()
			if t.state == transport.StateConnected {
				t.state = transport.StateDisconnected
			}
			t.mu.Unlock()
			return
		}
	}
}

// Send writes one outgoing buffer.
func (t *Transport) Send(ctx context.Context, data []byte) (int, error) {
	t.mu.RLock()
	conn, state := t.conn, t.state
	t.mu.RUnlock()
	if state != transport.StateConnected || conn == nil {
		return 0, transport.ErrNotConnected
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
		defer conn.SetWriteDeadline(time.Time{})
	}
	return conn.Write(data)
}

// IsConnected reports whether the socket is open.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state == transport.StateConnected
}

// Close shuts the socket down and stops the pump.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.state == transport.StateClosed {
		t.mu.Unlock()
		return nil
	}
	t.state = transport.StateClosed
	conn, done := t.conn, t.done
	t.conn = nil
	t.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	if done != nil {
		<-done
	}
	return err
}

// Info describes the transport.
func (t *Transport) Info() transport.Info {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return transport.Info{Type: "tcp", Address: t.config.Address, State: t.state}
}
