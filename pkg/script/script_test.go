package script

import (
	"errors"
	"testing"
	"time"
)

func TestJSExecute(t *testing.T) {
	e := NewJSEngine()
	defer e.Close()

	got, err := e.Execute("value * 2", map[string]any{"value": int64(21)}, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != int64(42) {
		t.Errorf("got %v (%T), want 42", got, got)
	}
}

func TestJSTimeout(t *testing.T) {
	e := NewJSEngine()
	defer e.Close()

	start := time.Now()
	_, err := e.Execute("while (true) {}", nil, 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("interrupt took too long")
	}
}

func TestJSRuntimeError(t *testing.T) {
	e := NewJSEngine()
	defer e.Close()

	if _, err := e.Execute("nosuchfn()", nil, 0); !errors.Is(err, ErrRuntime) {
		t.Errorf("err = %v, want ErrRuntime", err)
	}
}

func TestJSEnvDoesNotLeak(t *testing.T) {
	e := NewJSEngine()
	defer e.Close()

	if _, err := e.Execute("value", map[string]any{"value": 1}, 0); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got, err := e.Execute("typeof value", nil, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "undefined" {
		t.Errorf("value leaked across calls: %v", got)
	}
}

func TestJSCallback(t *testing.T) {
	e := NewJSEngine()
	defer e.Close()

	var emitted [][]byte
	env := map[string]any{
		"buffer": []byte{0x01, 0x02, 0x03},
		"emit":   func(b []byte) { emitted = append(emitted, b) },
	}
	got, err := e.Execute("emit([buffer[0], buffer[1]]); 2", env, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != int64(2) {
		t.Errorf("consumed = %v, want 2", got)
	}
	if len(emitted) != 1 || len(emitted[0]) != 2 {
		t.Errorf("emitted = %v", emitted)
	}
}

func TestLuaExecute(t *testing.T) {
	e := NewLuaEngine()
	defer e.Close()

	got, err := e.Execute("return value + 1", map[string]any{"value": 41}, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != float64(42) {
		t.Errorf("got %v (%T), want 42", got, got)
	}
}

func TestLuaTimeout(t *testing.T) {
	e := NewLuaEngine()
	defer e.Close()

	_, err := e.Execute("while true do end", nil, 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestLuaNoHostAccess(t *testing.T) {
	e := NewLuaEngine()
	defer e.Close()

	if _, err := e.Execute(`return os.getenv("HOME")`, nil, 0); !errors.Is(err, ErrRuntime) {
		t.Errorf("os library should not be available, err = %v", err)
	}
}
