package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/warden/internal/permission"
	"github.com/dshills/warden/internal/policy"
)

// Runtime manages sandbox contexts and executes plugin code inside them.
type Runtime struct {
	mu       sync.RWMutex
	contexts map[string]*Context
	pol      policy.SecurityPolicy

	validator   *permission.Validator
	eval        Evaluator
	fetcher     Fetcher
	logger      *slog.Logger
	onViolation ViolationHook
}

// New creates a runtime enforcing pol, consulting validator for live
// capability checks, and evaluating code with eval.
func New(pol policy.SecurityPolicy, validator *permission.Validator, eval Evaluator) *Runtime {
	return &Runtime{
		contexts:  make(map[string]*Context),
		pol:       pol,
		validator: validator,
		eval:      eval,
		fetcher:   NewHTTPFetcher(),
		logger:    slog.Default(),
	}
}

// SetLogger replaces the runtime's logger. A nil logger restores the
// default.
func (r *Runtime) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	r.logger = logger
}

// SetFetcher replaces the network fetcher behind the fetch primitive.
func (r *Runtime) SetFetcher(f Fetcher) {
	if f != nil {
		r.fetcher = f
	}
}

// SetViolationHook registers an observer invoked once per recorded
// violation.
func (r *Runtime) SetViolationHook(hook ViolationHook) {
	r.onViolation = hook
}

// SetPolicy swaps the enforced policy. Existing contexts keep their
// granted permissions; pattern pre-flight uses the new policy from the
// next Execute on.
func (r *Runtime) SetPolicy(pol policy.SecurityPolicy) {
	r.mu.Lock()
	r.pol = pol
	r.mu.Unlock()
}

// CreateContext registers a new execution context for a plugin. Zero or
// missing limit fields fall back to the defaults.
func (r *Runtime) CreateContext(plugin string, perms permission.PermissionSet, limits *ResourceLimits) (*Context, error) {
	lim := mergeLimits(limits)
	memBytes, err := ParseMemorySize(lim.MemoryLimit)
	if err != nil {
		return nil, fmt.Errorf("create context for %s: %w", plugin, err)
	}

	life, cancel := context.WithCancel(context.Background())
	c := &Context{
		ID:             uuid.NewString(),
		Plugin:         plugin,
		Permissions:    perms.Clone(),
		Limits:         lim,
		AllowedGlobals: safeCoreGlobals(),
		StartTime:      time.Now(),
		memLimit:       memBytes,
		life:           life,
		cancel:         cancel,
	}

	r.mu.Lock()
	r.contexts[c.ID] = c
	r.mu.Unlock()

	r.logger.Debug("sandbox context created",
		"plugin", plugin, "context", c.ID, "cpu_ms", lim.CPUTimeMs)
	return c, nil
}

// Context looks up a live context by id.
func (r *Runtime) Context(id string) (*Context, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contexts[id]
	return c, ok
}

// ContextCount returns the number of live contexts.
func (r *Runtime) ContextCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.contexts)
}

// DestroyContext removes a context and preempts any execution running in
// it.
func (r *Runtime) DestroyContext(id string) error {
	r.mu.Lock()
	c, ok := r.contexts[id]
	if ok {
		delete(r.contexts, id)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("destroy context %s: %w", id, ErrUnknownContext)
	}
	c.cancel()
	r.logger.Debug("sandbox context destroyed", "plugin", c.Plugin, "context", id)
	return nil
}

// CleanupExpiredContexts destroys contexts older than maxAge and returns
// how many were removed.
func (r *Runtime) CleanupExpiredContexts(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	r.mu.Lock()
	var expired []*Context
	for id, c := range r.contexts {
		if c.StartTime.Before(cutoff) {
			expired = append(expired, c)
			delete(r.contexts, id)
		}
	}
	r.mu.Unlock()

	for _, c := range expired {
		c.cancel()
		r.logger.Debug("sandbox context expired", "plugin", c.Plugin, "context", c.ID)
	}
	return len(expired)
}

func (r *Runtime) registered(c *Context) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cur, ok := r.contexts[c.ID]
	return ok && cur == c
}

func (r *Runtime) policy() policy.SecurityPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pol
}

// Execute runs code inside c and always returns a result, never an error
// and never a panic. Banned patterns abort before any user code runs;
// execution is preempted when the CPU budget elapses or the context is
// destroyed mid-flight.
func (r *Runtime) Execute(code string, c *Context) *ExecutionResult {
	if c == nil {
		return &ExecutionResult{Error: ErrUnknownContext.Error()}
	}
	if !r.registered(c) {
		return &ExecutionResult{Error: ErrUnknownContext.Error(), Usage: c.Usage()}
	}

	c.execMu.Lock()
	defer c.execMu.Unlock()

	rec := &recorder{plugin: c.Plugin, hook: r.onViolation, logger: r.logger}
	start := time.Now()

	if name, line, found := findBannedPattern(code, r.policy().ActivePatterns()); found {
		rec.record(Violation{
			Type:     ViolationPattern,
			Severity: policy.SeverityCritical,
			Message:  fmt.Sprintf("banned pattern %q in submitted code", name),
			Location: fmt.Sprintf("line %d", line),
		})
		return &ExecutionResult{
			Error:           fmt.Sprintf("code rejected: banned pattern %q", name),
			ExecutionTimeMs: time.Since(start).Milliseconds(),
			Usage:           c.Usage(),
			Violations:      rec.violations(),
		}
	}

	execCtx, cancel := context.WithTimeout(c.life, time.Duration(c.Limits.CPUTimeMs)*time.Millisecond)
	defer cancel()

	env := r.buildEnv(c, execCtx, rec)

	type evalOut struct {
		val any
		err error
	}
	done := make(chan evalOut, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- evalOut{err: fmt.Errorf("evaluator panic: %v", p)}
			}
		}()
		val, err := r.eval.Evaluate(execCtx, code, env)
		done <- evalOut{val: val, err: err}
	}()

	var out evalOut
	select {
	case out = <-done:
	case <-execCtx.Done():
		out.err = execCtx.Err()
	}

	elapsed := time.Since(start).Milliseconds()
	c.addCPUTime(elapsed)

	res := &ExecutionResult{
		ExecutionTimeMs: elapsed,
		Usage:           c.Usage(),
	}

	switch {
	case out.err == nil:
		res.Success = true
		res.Value = out.val
	case errors.Is(out.err, context.DeadlineExceeded) || errors.Is(execCtx.Err(), context.DeadlineExceeded):
		rec.record(Violation{
			Type:     ViolationTimeout,
			Severity: policy.SeverityHigh,
			Message:  fmt.Sprintf("execution exceeded CPU budget of %d ms", c.Limits.CPUTimeMs),
		})
		res.Error = "execution timed out"
	case errors.Is(out.err, context.Canceled):
		res.Error = "context destroyed during execution"
	default:
		res.Error = out.err.Error()
	}

	res.Violations = rec.violations()
	return res
}

// buildEnv assembles the capability closures for one execution. Each
// gated closure checks the granted permission first, then the resource
// budget, and only charges the budget on success.
func (r *Runtime) buildEnv(c *Context, execCtx context.Context, rec *recorder) Env {
	return Env{
		Plugin:  c.Plugin,
		Globals: c.AllowedGlobals,

		Print: func(args ...any) {
			r.logger.Info("plugin output", "plugin", c.Plugin, "message", fmt.Sprint(args...))
		},

		Fetch: func(rawURL string) (string, error) {
			host := hostOf(rawURL)
			if !r.validator.Check(c.Plugin, permission.ActionNetworkFetch, host, c.Permissions) {
				rec.record(Violation{
					Type:     ViolationPermission,
					Severity: policy.SeverityHigh,
					Message:  fmt.Sprintf("network access to %q not granted", host),
					Location: host,
				})
				return "", &CapabilityDeniedError{Action: permission.ActionNetworkFetch, Resource: host}
			}
			if !c.networkBudgetLeft() {
				rec.record(Violation{
					Type:     ViolationResource,
					Severity: policy.SeverityMedium,
					Message:  fmt.Sprintf("network call budget of %d exhausted", c.Limits.NetworkCalls),
					Location: host,
				})
				return "", &ResourceExhaustedError{Resource: "network calls", Limit: c.Limits.NetworkCalls}
			}
			body, err := r.fetcher.Fetch(execCtx, rawURL)
			if err != nil {
				return "", err
			}
			c.addNetworkCall()
			return body, nil
		},

		ReadFile: func(path string) (string, error) {
			if !r.validator.Check(c.Plugin, permission.ActionFSRead, path, c.Permissions) {
				rec.record(Violation{
					Type:     ViolationPermission,
					Severity: policy.SeverityHigh,
					Message:  fmt.Sprintf("read access to %q not granted", path),
					Location: path,
				})
				return "", &CapabilityDeniedError{Action: permission.ActionFSRead, Resource: path}
			}
			if !c.fsBudgetLeft() {
				rec.record(Violation{
					Type:     ViolationResource,
					Severity: policy.SeverityMedium,
					Message:  fmt.Sprintf("filesystem operation budget of %d exhausted", c.Limits.FilesystemOps),
					Location: path,
				})
				return "", &ResourceExhaustedError{Resource: "filesystem operations", Limit: c.Limits.FilesystemOps}
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return "", err
			}
			c.addFilesystemOp()
			return string(data), nil
		},

		Sleep: func(ms int64) error {
			if ms < 0 {
				ms = 0
			}
			timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
			defer timer.Stop()
			select {
			case <-execCtx.Done():
				return execCtx.Err()
			case <-timer.C:
				return nil
			}
		},
	}
}

// findBannedPattern scans submitted code for the first active banned
// pattern and reports its 1-based line.
func findBannedPattern(code string, patterns []policy.BannedPattern) (name string, line int, found bool) {
	for _, bp := range patterns {
		loc := bp.Pattern.FindStringIndex(code)
		if loc == nil {
			continue
		}
		return bp.Name, 1 + strings.Count(code[:loc[0]], "\n"), true
	}
	return "", 0, false
}
