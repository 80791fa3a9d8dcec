package script

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// JSEngine executes JavaScript with goja. One runtime is reused across
// calls; a mutex serializes access since goja runtimes are not
// goroutine safe. Timeouts are enforced with the runtime interrupt.
type JSEngine struct {
	mu sync.Mutex
	vm *goja.Runtime
}

// NewJSEngine creates a JavaScript engine with the byte helpers
// available to scripts.
func NewJSEngine() *JSEngine {
	vm := goja.New()

	vm.Set("hexToBytes", func(s string) []byte {
		result := make([]byte, len(s)/2)
		for i := 0; i < len(result); i++ {
			fmt.Sscanf(s[i*2:i*2+2], "%02x", &result[i])
		}
		return result
	})

	vm.Set("bytesToHex", func(b []byte) string {
		out := ""
		for _, v := range b {
			out += fmt.Sprintf("%02x", v)
		}
		return out
	})

	return &JSEngine{vm: vm}
}

// Execute implements Engine.
func (e *JSEngine) Execute(code string, env map[string]any, timeout time.Duration) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.vm == nil {
		return nil, fmt.Errorf("%w: engine closed", ErrRuntime)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	for k, v := range env {
		e.vm.Set(k, v)
	}

	timer := time.AfterFunc(timeout, func() {
		e.vm.Interrupt(ErrTimeout)
	})
	defer timer.Stop()
	defer e.vm.ClearInterrupt()

	val, err := e.vm.RunString(code)

	// Drop the env globals so one call cannot leak values into the next.
	for k := range env {
		e.vm.Set(k, goja.Undefined())
	}

	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrRuntime, err)
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, nil
	}
	return val.Export(), nil
}

// Close implements Engine.
func (e *JSEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vm = nil
	return nil
}
