package sandbox

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dshills/warden/internal/permission"
)

// ResourceLimits bounds what one context's executions may consume.
// MemoryLimit is a human-readable size such as "256MB"; CPUTimeMs caps a
// single execution, while NetworkCalls and FilesystemOps are cumulative
// budgets over the context's lifetime.
type ResourceLimits struct {
	MemoryLimit   string
	CPUTimeMs     int
	NetworkCalls  int
	FilesystemOps int
}

// DefaultLimits returns the limits applied when a context is created
// without overrides.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		MemoryLimit:   "256MB",
		CPUTimeMs:     30000,
		NetworkCalls:  100,
		FilesystemOps: 500,
	}
}

// mergeLimits fills zero-valued fields of the override from the defaults.
func mergeLimits(over *ResourceLimits) ResourceLimits {
	lim := DefaultLimits()
	if over == nil {
		return lim
	}
	if over.MemoryLimit != "" {
		lim.MemoryLimit = over.MemoryLimit
	}
	if over.CPUTimeMs > 0 {
		lim.CPUTimeMs = over.CPUTimeMs
	}
	if over.NetworkCalls > 0 {
		lim.NetworkCalls = over.NetworkCalls
	}
	if over.FilesystemOps > 0 {
		lim.FilesystemOps = over.FilesystemOps
	}
	return lim
}

// ParseMemorySize converts a size such as "256MB", "1GB", or "512kb" into
// bytes. A bare number is taken as bytes.
func ParseMemorySize(s string) (int64, error) {
	trimmed := strings.TrimSpace(strings.ToUpper(s))
	if trimmed == "" {
		return 0, fmt.Errorf("empty memory size")
	}

	mult := int64(1)
	for _, unit := range []struct {
		suffix string
		factor int64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	} {
		if strings.HasSuffix(trimmed, unit.suffix) {
			mult = unit.factor
			trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, unit.suffix))
			break
		}
	}

	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid memory size %q", s)
	}
	return n * mult, nil
}

// ResourceUsage is a point-in-time snapshot of what a context has consumed.
type ResourceUsage struct {
	MemoryBytes   int64
	CPUTimeMs     int64
	NetworkCalls  int
	FilesystemOps int
}

// Context is one plugin's isolated execution environment. Executions
// against the same context are serialized; the zero value is not usable,
// create contexts through Runtime.CreateContext.
type Context struct {
	ID          string
	Plugin      string
	Permissions permission.PermissionSet
	Limits      ResourceLimits

	// AllowedGlobals names the bindings visible to plugin code. It holds
	// the fixed safe core after creation; AllowGlobal can expose optional
	// host modules before the first execution.
	AllowedGlobals map[string]bool

	StartTime time.Time

	memLimit int64

	// execMu serializes Execute calls against this context.
	execMu sync.Mutex

	usageMu sync.Mutex
	usage   ResourceUsage

	// life is canceled when the context is destroyed, preempting any
	// in-flight execution.
	life   context.Context
	cancel context.CancelFunc
}

// safeCoreGlobals is the namespace every context starts with.
func safeCoreGlobals() map[string]bool {
	return map[string]bool{
		"print":    true,
		"console":  true,
		"fetch":    true,
		"readfile": true,
		"sleep":    true,
		"now":      true,
		"clock":    true,
		"string":   true,
		"table":    true,
		"math":     true,
	}
}

// AllowGlobal exposes an additional named binding to code running in this
// context. Names the evaluator does not provide are silently unavailable.
func (c *Context) AllowGlobal(name string) {
	c.AllowedGlobals[name] = true
}

// Usage returns a snapshot of the context's consumed resources.
func (c *Context) Usage() ResourceUsage {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()
	return c.usage
}

// MemoryLimitBytes returns the parsed memory limit.
func (c *Context) MemoryLimitBytes() int64 {
	return c.memLimit
}

func (c *Context) addCPUTime(ms int64) {
	c.usageMu.Lock()
	c.usage.CPUTimeMs += ms
	c.usageMu.Unlock()
}

// networkBudgetLeft reports whether another network call fits the budget.
func (c *Context) networkBudgetLeft() bool {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()
	return c.usage.NetworkCalls < c.Limits.NetworkCalls
}

func (c *Context) addNetworkCall() {
	c.usageMu.Lock()
	c.usage.NetworkCalls++
	c.usageMu.Unlock()
}

func (c *Context) fsBudgetLeft() bool {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()
	return c.usage.FilesystemOps < c.Limits.FilesystemOps
}

func (c *Context) addFilesystemOp() {
	c.usageMu.Lock()
	c.usage.FilesystemOps++
	c.usageMu.Unlock()
}
