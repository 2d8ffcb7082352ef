package permission

import (
	"strings"
	"time"

	"github.com/gobwas/glob"
)

// Namespaced runtime actions.
const (
	ActionFSRead       = "fs:read"
	ActionFSWrite      = "fs:write"
	ActionNetworkFetch = "network:fetch"
)

// Check answers a live "may this action proceed" query against a granted
// permission set. Actions are namespaced: "fs:read", "fs:write",
// "network:<op>", "tool:<name>". Exactly one audit entry is appended per
// call, whether allowed or denied.
func (v *Validator) Check(plugin, action, resource string, granted PermissionSet) bool {
	allowed, matched := v.decide(action, resource, granted)
	v.logUse(plugin, action, resource, allowed, matched)
	return allowed
}

// decide evaluates the query without side effects. It returns the verdict
// and, when allowed, the pattern of the entry that granted it.
func (v *Validator) decide(action, resource string, granted PermissionSet) (bool, string) {
	switch {
	case action == ActionFSRead || action == ActionFSWrite:
		want := AccessRead
		if action == ActionFSWrite {
			want = AccessWrite
		}
		for _, fp := range granted.FileSystem {
			if !fp.Access.Allows(want) {
				continue
			}
			if v.pathMatches(fp.Path, resource) {
				return true, fp.Path
			}
		}
		return false, ""

	case strings.HasPrefix(action, "network:"):
		host := strings.ToLower(extractHost(resource))
		for _, np := range granted.Network {
			if matchHost(host, strings.ToLower(np.Host)) {
				return true, np.Host
			}
		}
		return false, ""

	case strings.HasPrefix(action, "tool:"):
		name := strings.TrimPrefix(action, "tool:")
		for _, tool := range granted.Tools {
			if tool == name {
				return true, tool
			}
		}
		return false, ""
	}

	// Unknown action namespaces never pass.
	return false, ""
}

// pathMatches tests a resource path against a glob-style pattern.
// Compiled globs are cached; an uncompilable pattern matches nothing.
func (v *Validator) pathMatches(pattern, path string) bool {
	v.globMu.RLock()
	g, ok := v.globs[pattern]
	v.globMu.RUnlock()

	if !ok {
		var err error
		g, err = glob.Compile(pattern, '/')
		if err != nil {
			return false
		}
		v.globMu.Lock()
		v.globs[pattern] = g
		v.globMu.Unlock()
	}
	return g.Match(path)
}

// logUse records one capability check in the audit ring and emits a
// structured log line.
func (v *Validator) logUse(plugin, action, resource string, allowed bool, matched string) {
	v.audit.Append(AuditEntry{
		Timestamp:  time.Now(),
		Plugin:     plugin,
		Action:     action,
		Resource:   resource,
		Allowed:    allowed,
		Permission: matched,
	})

	if allowed {
		v.logger.Debug("permission granted",
			"plugin", plugin, "action", action, "resource", resource)
	} else {
		v.logger.Warn("permission denied",
			"plugin", plugin, "action", action, "resource", resource)
	}
}

// GetAuditLog returns entries matching the filter, oldest first.
func (v *Validator) GetAuditLog(filter AuditFilter) []AuditEntry {
	return v.audit.Entries(filter)
}

// AuditSize returns the number of retained audit entries.
func (v *Validator) AuditSize() int {
	return v.audit.Len()
}
