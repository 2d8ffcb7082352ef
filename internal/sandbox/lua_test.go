package sandbox

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"
)

func evalLua(t *testing.T, code string, env Env) (any, error) {
	t.Helper()
	return NewLuaEvaluator().Evaluate(context.Background(), code, env)
}

func TestLuaReturnValues(t *testing.T) {
	tests := []struct {
		code string
		want any
	}{
		{"return 1 + 2", float64(3)},
		{"return 'hi' .. '!'", "hi!"},
		{"return 1 == 1", true},
		{"return nil", nil},
		{"return {1, 2, 3}", []any{float64(1), float64(2), float64(3)}},
		{"return {a = 'x'}", map[string]any{"a": "x"}},
		{"local x = 5", nil}, // no return value
	}

	for _, tt := range tests {
		got, err := evalLua(t, tt.code, Env{})
		if err != nil {
			t.Errorf("%q: %v", tt.code, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%q = %#v, want %#v", tt.code, got, tt.want)
		}
	}
}

func TestLuaPrintCaptured(t *testing.T) {
	var got []string
	env := Env{
		Print: func(args ...any) {
			got = append(got, fmt.Sprint(args...))
		},
	}

	if _, err := evalLua(t, `print("a", 1) console.log("b")`, env); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("captured %d lines, want 2: %v", len(got), got)
	}
	if !strings.Contains(got[0], "a") || !strings.Contains(got[1], "b") {
		t.Errorf("captured = %v", got)
	}
}

func TestLuaEscapeHatchesRemoved(t *testing.T) {
	for _, code := range []string{
		`return load("return 1")()`,
		`return loadstring("return 1")()`,
		`dofile("/etc/passwd")`,
		`loadfile("/etc/passwd")`,
	} {
		if _, err := evalLua(t, code, Env{}); err == nil {
			t.Errorf("%q ran without error", code)
		}
	}

	for _, global := range []string{"io", "os", "debug"} {
		got, err := evalLua(t, "return type("+global+")", Env{})
		if err != nil {
			t.Fatalf("type(%s): %v", global, err)
		}
		if got != "nil" {
			t.Errorf("type(%s) = %v, want nil", global, got)
		}
	}
}

func TestLuaRequireWhitelist(t *testing.T) {
	got, err := evalLua(t, `local s = require("string") return s.upper("ok")`, Env{})
	if err != nil {
		t.Fatalf("require(string): %v", err)
	}
	if got != "OK" {
		t.Errorf("got %v", got)
	}

	_, err = evalLua(t, `require("io")`, Env{})
	if err == nil || !strings.Contains(err.Error(), "not available") {
		t.Errorf("require(io) err = %v", err)
	}
}

func TestLuaFetchBinding(t *testing.T) {
	env := Env{
		Fetch: func(rawURL string) (string, error) {
			if rawURL != "https://api.github.com/zen" {
				return "", errors.New("unexpected url")
			}
			return "Readability counts.", nil
		},
	}

	got, err := evalLua(t, `return fetch("https://api.github.com/zen")`, env)
	if err != nil {
		t.Fatal(err)
	}
	if got != "Readability counts." {
		t.Errorf("got %v", got)
	}
}

func TestLuaFetchErrorRaises(t *testing.T) {
	env := Env{
		Fetch: func(string) (string, error) {
			return "", &CapabilityDeniedError{Action: "network:fetch", Resource: "evil.invalid"}
		},
	}

	_, err := evalLua(t, `return fetch("evil.invalid")`, env)
	if err == nil || !strings.Contains(err.Error(), "permission denied") {
		t.Errorf("err = %v", err)
	}
}

func TestLuaReadFileBinding(t *testing.T) {
	env := Env{
		ReadFile: func(path string) (string, error) {
			return "contents of " + path, nil
		},
	}

	got, err := evalLua(t, `return readfile("/data/x")`, env)
	if err != nil {
		t.Fatal(err)
	}
	if got != "contents of /data/x" {
		t.Errorf("got %v", got)
	}
}

func TestLuaCancellationPreemptsLoop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewLuaEvaluator().Evaluate(ctx, "while true do end", Env{})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("infinite loop returned without error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if elapsed > 5*time.Second {
		t.Errorf("preemption took %v", elapsed)
	}
}

func TestLuaCoroutineOptIn(t *testing.T) {
	got, err := evalLua(t, "return type(coroutine)", Env{})
	if err != nil {
		t.Fatal(err)
	}
	if got != "nil" {
		t.Errorf("coroutine visible without opt-in: %v", got)
	}

	got, err = evalLua(t, "return type(coroutine)", Env{Globals: map[string]bool{"coroutine": true}})
	if err != nil {
		t.Fatal(err)
	}
	if got != "table" {
		t.Errorf("opted-in coroutine = %v, want table", got)
	}
}

func TestLuaRuntimeErrorSurfaces(t *testing.T) {
	_, err := evalLua(t, `error("deliberate failure")`, Env{})
	if err == nil || !strings.Contains(err.Error(), "deliberate failure") {
		t.Errorf("err = %v", err)
	}
}
