package script

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// LuaEngine executes Lua with gopher-lua. The standard libraries that
// reach the host (os, io) are not opened. Timeouts ride on the state's
// context support.
type LuaEngine struct {
	mu sync.Mutex
	l  *lua.LState
}

// NewLuaEngine creates a Lua engine.
func NewLuaEngine() *LuaEngine {
	l := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, open := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		l.Push(l.NewFunction(open.fn))
		l.Push(lua.LString(open.name))
		l.Call(1, 0)
	}
	return &LuaEngine{l: l}
}

// Execute implements Engine.
func (e *LuaEngine) Execute(code string, env map[string]any, timeout time.Duration) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.l == nil {
		return nil, fmt.Errorf("%w: engine closed", ErrRuntime)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	for k, v := range env {
		e.l.SetGlobal(k, e.toLua(v))
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	e.l.SetContext(ctx)
	defer e.l.RemoveContext()

	top := e.l.GetTop()
	err := e.l.DoString(code)

	for k := range env {
		e.l.SetGlobal(k, lua.LNil)
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			e.l.SetTop(top)
			return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrRuntime, err)
	}

	var ret any
	if e.l.GetTop() > top {
		ret = fromLua(e.l.Get(-1))
		e.l.SetTop(top)
	}
	return ret, nil
}

// Close implements Engine.
func (e *LuaEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.l != nil {
		e.l.Close()
		e.l = nil
	}
	return nil
}

// toLua converts a Go value to a Lua value. Byte slices become strings
// (the Lua convention for binary data); Go functions taking a byte
// slice become callable wrappers so framing scripts can emit frames.
func (e *LuaEngine) toLua(v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case func([]byte):
		return e.l.NewFunction(func(l *lua.LState) int {
			val([]byte(l.CheckString(1)))
			return 0
		})
	case map[string]any:
		tbl := e.l.NewTable()
		for k, item := range val {
			tbl.RawSetString(k, e.toLua(item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

func fromLua(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	default:
		return val.String()
	}
}
