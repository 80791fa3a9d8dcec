// Package serial provides the serial port transport for RS232/RS485
// devices.
package serial

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/transport"
	"go.bug.st/serial"
)

// ErrInvalidConfig marks unusable serial parameters.
var ErrInvalidConfig = errors.New("invalid serial configuration")

// Config holds serial-specific parameters.
type Config struct {
	// Port is the serial port path (e.g., "/dev/ttyUSB0", "COM1").
	Port string `yaml:"port" json:"port"`

	// BaudRate is the line speed (e.g., 9600, 115200).
	BaudRate int `yaml:"baudrate" json:"baudrate"`

	// DataBits is the number of data bits (5, 6, 7, 8).
	DataBits int `yaml:"databits" json:"databits"`

	// Parity is "none", "odd", "even", "mark", or "space".
	Parity string `yaml:"parity" json:"parity"`

	// StopBits is 1, 1.5, or 2.
	StopBits float64 `yaml:"stopbits" json:"stopbits"`

	// ReadTimeout is the poll interval of the read pump.
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// BufferSize is the read buffer size.
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`
}

// DefaultConfig returns 9600-8N1 defaults.
func DefaultConfig() Config {
	return Config{
		BaudRate:    9600,
		DataBits:    8,
		Parity:      "none",
		StopBits:    1,
		ReadTimeout: 100 * time.Millisecond,
		BufferSize:  4096,
	}
}

// Transport implements transport.Transport over a serial port.
type Transport struct {
	mu      sync.RWMutex
	config  Config
	port    serial.Port
	state   transport.ConnectionState
	handler transport.ChunkHandler
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a serial transport from the generic config. Address is
// the port path; options override the 9600-8N1 defaults.
func New(cfg transport.Config) (*Transport, error) {
	c := DefaultConfig()
	c.Port = cfg.Address
	if cfg.BufferSize > 0 {
		c.BufferSize = cfg.BufferSize
	}
	if opts := cfg.Options; opts != nil {
		if v, ok := opts["baudrate"].(int); ok {
			c.BaudRate = v
		}
		if v, ok := opts["databits"].(int); ok {
			c.DataBits = v
		}
		if v, ok := opts["parity"].(string); ok {
			c.Parity = v
		}
		if v, ok := opts["stopbits"].(float64); ok {
			c.StopBits = v
		}
	}
	if c.Port == "" {
		return nil, fmt.Errorf("%w: port path required", ErrInvalidConfig)
	}
	return &Transport{config: c, state: transport.StateDisconnected}, nil
}

// ListPorts enumerates the serial ports present on the host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

func (t *Transport) mode() (*serial.Mode, error) {
	m := &serial.Mode{
		BaudRate: t.config.BaudRate,
		DataBits: t.config.DataBits,
	}
	switch t.config.Parity {
	case "", "none":
		m.Parity = serial.NoParity
	case "odd":
		m.Parity = serial.OddParity
	case "even":
		m.Parity = serial.EvenParity
	case "mark":
		m.Parity = serial.MarkParity
	case "space":
		m.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("%w: parity %q", ErrInvalidConfig, t.config.Parity)
	}
	switch t.config.StopBits {
	case 0, 1:
		m.StopBits = serial.OneStopBit
	case 1.5:
		m.StopBits = serial.OnePointFiveStopBits
	case 2:
		m.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("%w: stop bits %v", ErrInvalidConfig, t.config.StopBits)
	}
	return m, nil
}

// SetChunkHandler registers the inbound callback. Must be called
// before Connect.
func (t *Transport) SetChunkHandler(h transport.ChunkHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// Connect opens the port and starts the read pump.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handler == nil {
		return transport.ErrNoHandler
	}
	if t.state == transport.StateConnected {
		return nil
	}

	mode, err := t.mode()
	if err != nil {
		return err
	}
	port, err := serial.Open(t.config.Port, mode)
	if err != nil {
		return fmt.Errorf("open %s: %w", t.config.Port, err)
	}
	if err := port.SetReadTimeout(t.config.ReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("set read timeout: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	t.port = port
	t.cancel = cancel
	t.done = make(chan struct{})
	t.state = transport.StateConnected
	go t.readPump(pumpCtx, port, t.handler)
	return nil
}

// readPump polls the port until cancelled. Zero-byte reads are the
// timeout ticks of SetReadTimeout and are skipped.
func (t *Transport) readPump(ctx context.Context, port serial.Port, handler transport.ChunkHandler) {
	defer close(t.done)
	buf := make([]byte, t.config.BufferSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := port.Read(buf)
		if err != nil {
			t.mu.Lock()
			if t.state == transport.StateConnected {
				t.state = transport.StateDisconnected
			}
			t.mu.Unlock()
			return
		}
		if n == 0 {
			continue
		}
		handler(transport.Chunk{
			Data:      append([]byte(nil), buf[:n]...),
			Timestamp: time.Now(),
		})
	}
}

// Send writes one outgoing buffer.
func (t *Transport) Send(_ context.Context, data []byte) (int, error) {
	t.mu.RLock()
	port, state := t.port, t.state
	t.mu.RUnlock()
	if state != transport.StateConnected || port == nil {
		return 0, transport.ErrNotConnected
	}
	return port.Write(data)
}

// IsConnected reports whether the port is open.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state == transport.StateConnected
}

// Close stops the pump and closes the port.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.state == transport.StateClosed {
		t.mu.Unlock()
		return nil
	}
	t.state = transport.StateClosed
	if t.cancel != nil {
		t.cancel()
	}
	port, done := t.port, t.done
	t.port = nil
	t.mu.Unlock()

	var err error
	if port != nil {
		err = port.Close()
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
	return transport.Info{Type: "serial", Address: t.config.Port, State: t.state}
}
