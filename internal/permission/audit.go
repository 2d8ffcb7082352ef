package permission

import (
	"sync"
	"time"
)

// defaultAuditCap bounds the in-memory audit ring.
const defaultAuditCap = 1000

// AuditEntry records one capability check, allowed or denied.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Plugin    string    `json:"plugin"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	Allowed   bool      `json:"allowed"`

	// Permission is the granted entry that matched, when allowed.
	Permission string `json:"permission,omitempty"`

	// User and Context are filled by collaborators that attribute checks
	// to a user session or execution context.
	User    string `json:"user,omitempty"`
	Context string `json:"context,omitempty"`
}

// AuditFilter selects entries; zero fields match everything and populated
// fields apply as a conjunction.
type AuditFilter struct {
	Plugin  string
	Action  string
	Allowed *bool
	Since   time.Time
}

func (f AuditFilter) matches(e AuditEntry) bool {
	if f.Plugin != "" && e.Plugin != f.Plugin {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Allowed != nil && e.Allowed != *f.Allowed {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// AuditLog is a bounded append-only ring of audit entries. Appends from
// concurrent contexts are serialized internally; when full, the oldest
// entry is evicted.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
	head    int
	size    int
	cap     int
}

// NewAuditLog creates a log retaining at most capacity entries.
// Non-positive capacities fall back to the default.
func NewAuditLog(capacity int) *AuditLog {
	if capacity <= 0 {
		capacity = defaultAuditCap
	}
	return &AuditLog{
		entries: make([]AuditEntry, capacity),
		cap:     capacity,
	}
}

// Append records an entry, evicting the oldest when the ring is full.
func (l *AuditLog) Append(e AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := (l.head + l.size) % l.cap
	l.entries[idx] = e
	if l.size < l.cap {
		l.size++
	} else {
		l.head = (l.head + 1) % l.cap
	}
}

// Entries returns retained entries matching the filter, oldest first.
func (l *AuditLog) Entries(filter AuditFilter) []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []AuditEntry
	for i := 0; i < l.size; i++ {
		e := l.entries[(l.head+i)%l.cap]
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of retained entries.
func (l *AuditLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}
