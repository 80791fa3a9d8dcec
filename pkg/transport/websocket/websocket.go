// Package websocket provides a WebSocket client transport. Devices
// that bridge serial lines over a WebSocket deliver each binary
// message as one chunk.
package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/transport"
	"github.com/gorilla/websocket"
)

const defaultDialTimeout = 10 * time.Second

// Transport implements transport.Transport over a WebSocket client
// connection using binary messages.
type Transport struct {
	mu      sync.RWMutex
	config  transport.Config
	conn    *websocket.Conn
	state   transport.ConnectionState
	handler transport.ChunkHandler
	done    chan struct{}
}

// New creates a WebSocket transport. Address is a ws:// or wss:// URL.
func New(cfg transport.Config) (*Transport, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("websocket: url required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultDialTimeout
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

// Connect dials the URL and starts the read pump.
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

	dialer := websocket.Dialer{HandshakeTimeout: t.config.Timeout}
	conn, _, err := dialer.DialContext(ctx, t.config.Address, nil)
	if err != nil {
		t.state = transport.StateDisconnected
		return fmt.Errorf("dial %s: %w", t.config.Address, err)
	}
	t.conn = conn
	t.done = make(chan struct{})
	t.state = transport.StateConnected
	go t.readPump(conn, t.handler)
	return nil
}

func (t *Transport) readPump(conn *websocket.Conn, handler transport.ChunkHandler) {
	defer close(t.done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			if t.state == transport.StateConnected {
				t.state = transport.StateDisconnected
			}
			t.mu.Unlock()
			return
		}
		if len(data) == 0 {
			continue
		}
		handler(transport.Chunk{Data: data, Timestamp: time.Now()})
	}
}

// Send writes one outgoing buffer as a binary message.
func (t *Transport) Send(ctx context.Context, data []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != transport.StateConnected || t.conn == nil {
		return 0, transport.ErrNotConnected
	}
	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(deadline)
		defer t.conn.SetWriteDeadline(time.Time{})
	}
	if err := t.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

// IsConnected reports whether the connection is open.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state == transport.StateConnected
}

// Close sends a close frame and tears the connection down.
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
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
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
	return transport.Info{Type: "websocket", Address: t.config.Address, State: t.state}
}
