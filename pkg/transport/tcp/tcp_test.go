package tcp

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/transport"
)

func TestConnectSendReceive(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	// Echo server: write a greeting, then echo everything back.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("hello"))
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			conn.Write(buf[:n])
		}
	}()

	tr, err := New(transport.Config{Type: "tcp", Address: ln.Addr().String()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var mu sync.Mutex
	var got []byte
	received := make(chan struct{}, 8)
	tr.SetChunkHandler(func(c transport.Chunk) {
		if c.Timestamp.IsZero() {
			t.Error("chunk without timestamp")
		}
		mu.Lock()
		got = append(got, c.Data...)
		mu.Unlock()
		received <- struct{}{}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Close()
	if !tr.IsConnected() {
		t.Fatal("not connected after Connect")
	}

	waitChunk := func() {
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for chunk")
		}
	}
	waitChunk() // greeting

	if _, err := tr.Send(ctx, []byte("ping")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitChunk() // echo

	mu.Lock()
	defer mu.Unlock()
	if string(got) != "helloping" {
		t.Errorf("received %q, want %q", got, "helloping")
	}
}

func TestConnectRequiresHandler(t *testing.T) {
	tr, err := New(transport.Config{Type: "tcp", Address: "127.0.0.1:1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := tr.Connect(context.Background()); err != transport.ErrNoHandler {
		t.Errorf("err = %v, want ErrNoHandler", err)
	}
}

func TestSendWhenClosed(t *testing.T) {
	tr, err := New(transport.Config{Type: "tcp", Address: "127.0.0.1:1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := tr.Send(context.Background(), []byte("x")); err != transport.ErrNotConnected {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestNewRejectsBadAddress(t *testing.T) {
	if _, err := New(transport.Config{Type: "tcp", Address: "no-port"}); err == nil {
		t.Error("bad address must be rejected")
	}
}
