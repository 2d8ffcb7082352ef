package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dshills/warden/internal/permission"
	"github.com/dshills/warden/internal/policy"
)

type stubEvaluator struct {
	fn func(ctx context.Context, code string, env Env) (any, error)
}

func (s *stubEvaluator) Evaluate(ctx context.Context, code string, env Env) (any, error) {
	return s.fn(ctx, code, env)
}

type stubFetcher struct {
	body  string
	calls atomic.Int32
}

func (s *stubFetcher) Fetch(_ context.Context, _ string) (string, error) {
	s.calls.Add(1)
	return s.body, nil
}

func newTestRuntime(pol policy.SecurityPolicy, eval Evaluator) *Runtime {
	return New(pol, permission.NewValidator(pol), eval)
}

func networkGrant(host string) permission.PermissionSet {
	return permission.PermissionSet{
		Network: []permission.NetworkPermission{{Host: host}},
	}
}

func TestCreateContextDefaults(t *testing.T) {
	r := newTestRuntime(policy.Default(), &stubEvaluator{})

	a, err := r.CreateContext("p", permission.PermissionSet{}, nil)
	if err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	b, err := r.CreateContext("p", permission.PermissionSet{}, nil)
	if err != nil {
		t.Fatalf("CreateContext: %v", err)
	}

	if a.ID == "" || a.ID == b.ID {
		t.Errorf("context ids not unique: %q, %q", a.ID, b.ID)
	}
	if a.Limits != DefaultLimits() {
		t.Errorf("Limits = %+v, want defaults", a.Limits)
	}
	if a.MemoryLimitBytes() != 256<<20 {
		t.Errorf("MemoryLimitBytes = %d", a.MemoryLimitBytes())
	}
	if !a.AllowedGlobals["fetch"] || a.AllowedGlobals["io"] {
		t.Errorf("AllowedGlobals = %v", a.AllowedGlobals)
	}
	if r.ContextCount() != 2 {
		t.Errorf("ContextCount = %d, want 2", r.ContextCount())
	}
}

func TestCreateContextPartialLimits(t *testing.T) {
	r := newTestRuntime(policy.Default(), &stubEvaluator{})

	c, err := r.CreateContext("p", permission.PermissionSet{}, &ResourceLimits{CPUTimeMs: 500})
	if err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	if c.Limits.CPUTimeMs != 500 {
		t.Errorf("CPUTimeMs = %d, want 500", c.Limits.CPUTimeMs)
	}
	if c.Limits.NetworkCalls != 100 || c.Limits.MemoryLimit != "256MB" {
		t.Errorf("defaults not preserved: %+v", c.Limits)
	}
}

func TestCreateContextRejectsBadMemoryLimit(t *testing.T) {
	r := newTestRuntime(policy.Default(), &stubEvaluator{})

	if _, err := r.CreateContext("p", permission.PermissionSet{}, &ResourceLimits{MemoryLimit: "plenty"}); err == nil {
		t.Error("invalid memory limit accepted")
	}
}

func TestExecuteDestroyedContext(t *testing.T) {
	called := false
	r := newTestRuntime(policy.Default(), &stubEvaluator{
		fn: func(context.Context, string, Env) (any, error) {
			called = true
			return nil, nil
		},
	})

	c, _ := r.CreateContext("p", permission.PermissionSet{}, nil)
	if err := r.DestroyContext(c.ID); err != nil {
		t.Fatalf("DestroyContext: %v", err)
	}

	res := r.Execute("return 1", c)
	if res.Success {
		t.Error("execution succeeded on a destroyed context")
	}
	if !strings.Contains(res.Error, "context") {
		t.Errorf("Error = %q", res.Error)
	}
	// An unknown context is an invalid call, not a policy breach.
	if len(res.Violations) != 0 {
		t.Errorf("Violations = %v, want none", res.Violations)
	}
	if called {
		t.Error("evaluator ran against a destroyed context")
	}
}

func TestDestroyUnknownContext(t *testing.T) {
	r := newTestRuntime(policy.Default(), &stubEvaluator{})
	if err := r.DestroyContext("nope"); err == nil {
		t.Error("DestroyContext(unknown) = nil error")
	}
}

func TestExecuteBannedPatternPreflight(t *testing.T) {
	called := false
	r := newTestRuntime(policy.Default(), &stubEvaluator{
		fn: func(context.Context, string, Env) (any, error) {
			called = true
			return nil, nil
		},
	})
	c, _ := r.CreateContext("p", permission.PermissionSet{}, nil)

	res := r.Execute("local x = 1\nreturn eval(\"2+2\")", c)

	if res.Success {
		t.Error("Success = true for banned code")
	}
	if called {
		t.Error("user code ran despite a banned pattern")
	}
	if len(res.Violations) != 1 {
		t.Fatalf("Violations = %v, want exactly one", res.Violations)
	}
	v := res.Violations[0]
	if v.Type != ViolationPattern || v.Severity != policy.SeverityCritical {
		t.Errorf("violation = %+v", v)
	}
	if v.Location != "line 2" {
		t.Errorf("Location = %q, want line 2", v.Location)
	}
}

func TestExecuteDynamicEvalAllowedInDevelopment(t *testing.T) {
	r := newTestRuntime(policy.Development(), &stubEvaluator{
		fn: func(context.Context, string, Env) (any, error) { return "ok", nil },
	})
	c, _ := r.CreateContext("p", permission.PermissionSet{}, nil)

	res := r.Execute("return eval(\"2+2\")", c)
	if !res.Success {
		t.Errorf("Success = false under development policy: %s", res.Error)
	}
	if len(res.Violations) != 0 {
		t.Errorf("Violations = %v", res.Violations)
	}
}

func TestExecuteSuccess(t *testing.T) {
	r := newTestRuntime(policy.Default(), &stubEvaluator{
		fn: func(context.Context, string, Env) (any, error) { return float64(42), nil },
	})
	c, _ := r.CreateContext("p", permission.PermissionSet{}, nil)

	res := r.Execute("return 42", c)

	if !res.Success {
		t.Fatalf("Success = false: %s", res.Error)
	}
	if res.Value != float64(42) {
		t.Errorf("Value = %v", res.Value)
	}
	if res.Violations != nil {
		t.Errorf("Violations = %v, want nil", res.Violations)
	}
	if res.ExecutionTimeMs < 0 {
		t.Errorf("ExecutionTimeMs = %d", res.ExecutionTimeMs)
	}
}

func TestExecuteTimeout(t *testing.T) {
	r := newTestRuntime(policy.Default(), &stubEvaluator{
		fn: func(ctx context.Context, _ string, _ Env) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	c, _ := r.CreateContext("p", permission.PermissionSet{}, &ResourceLimits{CPUTimeMs: 50})

	start := time.Now()
	res := r.Execute("spin()", c)
	elapsed := time.Since(start)

	if elapsed > 2*time.Second {
		t.Fatalf("Execute took %v, want prompt preemption", elapsed)
	}
	if res.Success {
		t.Error("Success = true for a timed-out execution")
	}
	if res.Error != "execution timed out" {
		t.Errorf("Error = %q", res.Error)
	}
	if len(res.Violations) != 1 || res.Violations[0].Type != ViolationTimeout ||
		res.Violations[0].Severity != policy.SeverityHigh {
		t.Errorf("Violations = %+v", res.Violations)
	}
}

func TestExecuteFetchGranted(t *testing.T) {
	fetcher := &stubFetcher{body: `{"ok":true}`}
	r := newTestRuntime(policy.Default(), &stubEvaluator{
		fn: func(_ context.Context, _ string, env Env) (any, error) {
			return env.Fetch("https://api.github.com/repos")
		},
	})
	r.SetFetcher(fetcher)
	c, _ := r.CreateContext("p", networkGrant("api.github.com"), nil)

	res := r.Execute("fetch", c)

	if !res.Success {
		t.Fatalf("Success = false: %s", res.Error)
	}
	if res.Value != `{"ok":true}` {
		t.Errorf("Value = %v", res.Value)
	}
	if res.Usage.NetworkCalls != 1 {
		t.Errorf("NetworkCalls = %d, want 1", res.Usage.NetworkCalls)
	}
	if res.Violations != nil {
		t.Errorf("Violations = %v", res.Violations)
	}
}

func TestExecuteFetchDenied(t *testing.T) {
	fetcher := &stubFetcher{body: "nope"}
	r := newTestRuntime(policy.Default(), &stubEvaluator{
		fn: func(_ context.Context, _ string, env Env) (any, error) {
			return env.Fetch("https://evil.invalid/x")
		},
	})
	r.SetFetcher(fetcher)
	c, _ := r.CreateContext("p", networkGrant("api.github.com"), nil)

	res := r.Execute("fetch", c)

	if res.Success {
		t.Error("fetch to an ungranted host succeeded")
	}
	if fetcher.calls.Load() != 0 {
		t.Error("fetcher invoked despite denied permission")
	}
	if res.Usage.NetworkCalls != 0 {
		t.Errorf("NetworkCalls = %d, want 0", res.Usage.NetworkCalls)
	}
	if len(res.Violations) != 1 || res.Violations[0].Type != ViolationPermission ||
		res.Violations[0].Severity != policy.SeverityHigh {
		t.Errorf("Violations = %+v", res.Violations)
	}
}

func TestExecuteNetworkBudgetExhausted(t *testing.T) {
	r := newTestRuntime(policy.Default(), &stubEvaluator{
		fn: func(_ context.Context, _ string, env Env) (any, error) {
			if _, err := env.Fetch("https://api.github.com/a"); err != nil {
				return nil, err
			}
			return env.Fetch("https://api.github.com/b")
		},
	})
	r.SetFetcher(&stubFetcher{body: "x"})
	c, _ := r.CreateContext("p", networkGrant("api.github.com"), &ResourceLimits{NetworkCalls: 1})

	res := r.Execute("fetch twice", c)

	if res.Success {
		t.Error("second fetch succeeded past the budget")
	}
	if res.Usage.NetworkCalls != 1 {
		t.Errorf("NetworkCalls = %d, want 1", res.Usage.NetworkCalls)
	}
	if len(res.Violations) != 1 || res.Violations[0].Type != ViolationResource ||
		res.Violations[0].Severity != policy.SeverityMedium {
		t.Errorf("Violations = %+v", res.Violations)
	}
}

func TestExecuteReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}

	r := newTestRuntime(policy.Default(), &stubEvaluator{
		fn: func(_ context.Context, _ string, env Env) (any, error) {
			return env.ReadFile(path)
		},
	})
	perms := permission.PermissionSet{
		FileSystem: []permission.FileSystemPermission{
			{Path: filepath.ToSlash(dir) + "/*", Access: permission.AccessRead},
		},
	}
	c, _ := r.CreateContext("p", perms, nil)

	res := r.Execute("readfile", c)
	if !res.Success {
		t.Fatalf("Success = false: %s", res.Error)
	}
	if res.Value != "hello" {
		t.Errorf("Value = %v", res.Value)
	}
	if res.Usage.FilesystemOps != 1 {
		t.Errorf("FilesystemOps = %d, want 1", res.Usage.FilesystemOps)
	}

	// No grant, no read.
	denied, _ := r.CreateContext("q", permission.PermissionSet{}, nil)
	res = r.Execute("readfile", denied)
	if res.Success {
		t.Error("read succeeded without a filesystem grant")
	}
	if len(res.Violations) != 1 || res.Violations[0].Type != ViolationPermission {
		t.Errorf("Violations = %+v", res.Violations)
	}
}

func TestDestroyContextPreemptsExecution(t *testing.T) {
	r := newTestRuntime(policy.Default(), &stubEvaluator{
		fn: func(_ context.Context, _ string, env Env) (any, error) {
			if err := env.Sleep(10_000); err != nil {
				return nil, err
			}
			return nil, nil
		},
	})
	c, _ := r.CreateContext("p", permission.PermissionSet{}, nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		r.DestroyContext(c.ID)
	}()

	start := time.Now()
	res := r.Execute("sleep", c)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Execute took %v after destroy", elapsed)
	}
	if res.Success {
		t.Error("Success = true for a destroyed mid-flight execution")
	}
	if r.ContextCount() != 0 {
		t.Errorf("ContextCount = %d, want 0", r.ContextCount())
	}
}

func TestCleanupExpiredContexts(t *testing.T) {
	r := newTestRuntime(policy.Default(), &stubEvaluator{})

	old, _ := r.CreateContext("old", permission.PermissionSet{}, nil)
	old.StartTime = time.Now().Add(-2 * time.Hour)
	fresh, _ := r.CreateContext("fresh", permission.PermissionSet{}, nil)

	if got := r.CleanupExpiredContexts(time.Hour); got != 1 {
		t.Errorf("CleanupExpiredContexts = %d, want 1", got)
	}
	if _, ok := r.Context(old.ID); ok {
		t.Error("expired context still registered")
	}
	if _, ok := r.Context(fresh.ID); !ok {
		t.Error("fresh context removed")
	}
}

func TestViolationHook(t *testing.T) {
	var mu sync.Mutex
	var seen []Violation

	r := newTestRuntime(policy.Default(), &stubEvaluator{})
	r.SetViolationHook(func(plugin string, v Violation) {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
		if plugin != "p" {
			t.Errorf("plugin = %q", plugin)
		}
	})
	c, _ := r.CreateContext("p", permission.PermissionSet{}, nil)

	res := r.Execute("eval(\"x\")", c)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(res.Violations) || len(seen) != 1 {
		t.Errorf("hook saw %d violations, result has %d", len(seen), len(res.Violations))
	}
}

func TestExecuteSerializedPerContext(t *testing.T) {
	var active, overlapped atomic.Int32
	r := newTestRuntime(policy.Default(), &stubEvaluator{
		fn: func(context.Context, string, Env) (any, error) {
			if active.Add(1) > 1 {
				overlapped.Store(1)
			}
			time.Sleep(30 * time.Millisecond)
			active.Add(-1)
			return nil, nil
		},
	})
	c, _ := r.CreateContext("p", permission.PermissionSet{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res := r.Execute("work", c); !res.Success {
				t.Errorf("Execute failed: %s", res.Error)
			}
		}()
	}
	wg.Wait()

	if overlapped.Load() == 1 {
		t.Error("executions against one context overlapped")
	}
}

func TestExecuteEvaluatorPanicContained(t *testing.T) {
	r := newTestRuntime(policy.Default(), &stubEvaluator{
		fn: func(context.Context, string, Env) (any, error) { panic("boom") },
	})
	c, _ := r.CreateContext("p", permission.PermissionSet{}, nil)

	res := r.Execute("panic", c)
	if res.Success {
		t.Error("Success = true after evaluator panic")
	}
	if !strings.Contains(res.Error, "boom") {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestExecuteLuaEndToEnd(t *testing.T) {
	fetcher := &stubFetcher{body: "Practicality beats purity."}
	r := newTestRuntime(policy.Default(), NewLuaEvaluator())
	r.SetFetcher(fetcher)
	c, _ := r.CreateContext("zen-plugin", networkGrant("api.github.com"), nil)

	res := r.Execute(`
		local body = fetch("https://api.github.com/zen")
		return string.upper(body)
	`, c)

	if !res.Success {
		t.Fatalf("Success = false: %s", res.Error)
	}
	if res.Value != "PRACTICALITY BEATS PURITY." {
		t.Errorf("Value = %v", res.Value)
	}
	if res.Usage.NetworkCalls != 1 {
		t.Errorf("NetworkCalls = %d, want 1", res.Usage.NetworkCalls)
	}
	if res.Violations != nil {
		t.Errorf("Violations = %v", res.Violations)
	}
}
