package sandbox

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dshills/warden/internal/policy"
)

// ViolationType classifies a recorded sandbox violation.
type ViolationType string

const (
	// ViolationPermission marks a capability use the granted set denied.
	ViolationPermission ViolationType = "permission"
	// ViolationResource marks an exhausted resource budget.
	ViolationResource ViolationType = "resource"
	// ViolationPattern marks a banned construct caught before execution.
	ViolationPattern ViolationType = "pattern"
	// ViolationTimeout marks an execution that exceeded its CPU budget.
	ViolationTimeout ViolationType = "timeout"
)

// Violation is one recorded breach of sandbox policy.
type Violation struct {
	Type      ViolationType   `json:"type"`
	Severity  policy.Severity `json:"severity"`
	Message   string          `json:"message"`
	Location  string          `json:"location,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ExecutionResult is what Execute always returns. Violations is nil when
// the execution stayed within policy; Usage is the context's cumulative
// consumption after the call.
type ExecutionResult struct {
	Success         bool
	Value           any
	Error           string
	ExecutionTimeMs int64
	Usage           ResourceUsage
	Violations      []Violation
}

// ViolationHook observes violations as they are recorded. Hooks run on
// the recording goroutine and must not block.
type ViolationHook func(plugin string, v Violation)

// recorder accumulates violations for a single Execute call. Capability
// closures record from the evaluator's goroutine, so access is locked.
type recorder struct {
	plugin string
	hook   ViolationHook
	logger *slog.Logger

	mu   sync.Mutex
	list []Violation
}

func (r *recorder) record(v Violation) {
	v.Timestamp = time.Now()

	r.mu.Lock()
	r.list = append(r.list, v)
	r.mu.Unlock()

	r.logger.Warn("sandbox violation",
		"plugin", r.plugin,
		"type", string(v.Type),
		"severity", string(v.Severity),
		"message", v.Message)
	if r.hook != nil {
		r.hook(r.plugin, v)
	}
}

func (r *recorder) violations() []Violation {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.list) == 0 {
		return nil
	}
	out := make([]Violation, len(r.list))
	copy(out, r.list)
	return out
}
