package sandbox

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors surfaced through ExecutionResult.Error.
var (
	// ErrUnknownContext is returned when Execute is handed a context the
	// runtime does not hold, including destroyed contexts.
	ErrUnknownContext = errors.New("unknown or destroyed sandbox context")
)

// CapabilityDeniedError reports a capability call the granted permission
// set did not cover.
type CapabilityDeniedError struct {
	Action   string
	Resource string
}

func (e *CapabilityDeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s %s", e.Action, e.Resource)
}

// ResourceExhaustedError reports a capability call that would exceed a
// resource budget.
type ResourceExhaustedError struct {
	Resource string
	Limit    int
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("resource limit reached: %s (limit %d)", e.Resource, e.Limit)
}

// Env is the restricted namespace handed to an evaluator for one
// execution. The closures enforce permissions and budgets; evaluators
// only bind them, they never bypass them.
type Env struct {
	Plugin  string
	Globals map[string]bool

	Print    func(args ...any)
	Fetch    func(rawURL string) (string, error)
	ReadFile func(path string) (string, error)
	Sleep    func(ms int64) error
}

// Evaluator runs one unit of untrusted code with only the bindings in env
// reachable. Implementations must honor ctx cancellation so the runtime
// can preempt runaway code.
type Evaluator interface {
	Evaluate(ctx context.Context, code string, env Env) (any, error)
}
