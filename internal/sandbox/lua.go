package sandbox

import (
	"context"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// LuaEvaluator runs plugin code on a fresh, restricted gopher-lua state
// per call. Only whitelisted libraries are opened, every dynamic-loading
// escape hatch is removed, and the host primitives from Env are bound as
// globals. The state is closed when evaluation returns, so nothing leaks
// between executions.
type LuaEvaluator struct{}

// NewLuaEvaluator returns the stock Lua evaluator.
func NewLuaEvaluator() *LuaEvaluator {
	return &LuaEvaluator{}
}

// optionalLibs are host modules a context may opt into via its
// allowed-globals set. Everything else (io, os, debug) stays closed.
var optionalLibs = map[string]struct {
	libName string
	open    lua.LGFunction
}{
	"coroutine": {lua.CoroutineLibName, lua.OpenCoroutine},
}

// Evaluate compiles and runs code, returning the value of a trailing
// return statement converted to a plain Go value. Cancellation of ctx
// preempts the VM between instructions.
func (e *LuaEvaluator) Evaluate(ctx context.Context, code string, env Env) (any, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for name, lib := range optionalLibs {
		if env.Globals[name] {
			L.Push(L.NewFunction(lib.open))
			L.Push(lua.LString(lib.libName))
			L.Call(1, 0)
		}
	}

	restrictState(L, env)
	bindPrimitives(L, env)

	L.SetContext(ctx)
	if err := L.DoString(code); err != nil {
		// The VM wraps preemption in its own error type; surface the
		// context error so callers can classify timeouts.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	if L.GetTop() > 0 {
		return luaToGo(L.Get(-1)), nil
	}
	return nil, nil
}

// restrictState strips dynamic loading and filesystem reach from the
// opened libraries and replaces require with a whitelist lookup.
func restrictState(L *lua.LState, env Env) {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "collectgarbage"} {
		L.SetGlobal(name, lua.LNil)
	}

	// No module search paths: require resolves against the whitelist only.
	pkg := L.GetGlobal(lua.LoadLibName)
	if tbl, ok := pkg.(*lua.LTable); ok {
		L.SetField(tbl, "path", lua.LString(""))
		L.SetField(tbl, "cpath", lua.LString(""))
		L.SetField(tbl, "loadlib", lua.LNil)
	}

	safeModules := map[string]bool{"string": true, "table": true, "math": true}
	L.SetGlobal("require", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if safeModules[name] || env.Globals[name] {
			if mod := L.GetGlobal(name); mod != lua.LNil {
				L.Push(mod)
				return 1
			}
		}
		L.RaiseError("module %q is not available in the sandbox", name)
		return 0
	}))
}

// bindPrimitives exposes the capability closures and time helpers as
// globals, plus a console.log alias for print.
func bindPrimitives(L *lua.LState, env Env) {
	printFn := L.NewFunction(func(L *lua.LState) int {
		args := make([]any, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			args = append(args, luaToGo(L.Get(i)))
		}
		if env.Print != nil {
			env.Print(args...)
		}
		return 0
	})
	L.SetGlobal("print", printFn)

	console := L.NewTable()
	L.SetField(console, "log", printFn)
	L.SetGlobal("console", console)

	L.SetGlobal("fetch", L.NewFunction(func(L *lua.LState) int {
		rawURL := L.CheckString(1)
		if env.Fetch == nil {
			L.RaiseError("fetch is not available")
			return 0
		}
		body, err := env.Fetch(rawURL)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		L.Push(lua.LString(body))
		return 1
	}))

	L.SetGlobal("readfile", L.NewFunction(func(L *lua.LState) int {
		path := L.CheckString(1)
		if env.ReadFile == nil {
			L.RaiseError("readfile is not available")
			return 0
		}
		data, err := env.ReadFile(path)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		L.Push(lua.LString(data))
		return 1
	}))

	L.SetGlobal("sleep", L.NewFunction(func(L *lua.LState) int {
		ms := L.CheckInt64(1)
		if env.Sleep != nil {
			if err := env.Sleep(ms); err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
		}
		return 0
	}))

	startedAt := time.Now()
	L.SetGlobal("now", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(float64(time.Now().UnixMilli())))
		return 1
	}))
	L.SetGlobal("clock", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(time.Since(startedAt).Seconds()))
		return 1
	}))
}

// luaToGo converts a Lua value into a plain Go value. Tables with a
// contiguous array part become slices, others become string-keyed maps.
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		if n := val.MaxN(); n > 0 {
			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, luaToGo(val.RawGetInt(i)))
			}
			return arr
		}
		m := make(map[string]any)
		val.ForEach(func(k, item lua.LValue) {
			m[lua.LVAsString(k)] = luaToGo(item)
		})
		return m
	default:
		return val.String()
	}
}
