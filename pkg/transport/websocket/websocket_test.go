package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/transport"
	"github.com/gorilla/websocket"
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.WriteMessage(mt, data)
		}
	}))
}

func TestEchoRoundTrip(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	tr, err := New(transport.Config{Type: "websocket", Address: url})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var mu sync.Mutex
	var got []byte
	received := make(chan struct{}, 1)
	tr.SetChunkHandler(func(c transport.Chunk) {
		mu.Lock()
		got = append([]byte(nil), c.Data...)
		mu.Unlock()
		received <- struct{}{}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Close()

	n, err := tr.Send(ctx, []byte{0x01, 0x02, 0x03})
	if err != nil || n != 3 {
		t.Fatalf("Send = %d, %v", n, err)
	}

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echo")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 || got[0] != 0x01 || got[2] != 0x03 {
		t.Errorf("received % X", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	tr, err := New(transport.Config{Type: "websocket", Address: url})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tr.SetChunkHandler(func(transport.Chunk) {})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if tr.IsConnected() {
		t.Error("still connected after Close")
	}
}

func TestNewRequiresURL(t *testing.T) {
	if _, err := New(transport.Config{Type: "websocket"}); err == nil {
		t.Error("empty url must be rejected")
	}
}
