package permission

import (
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/gobwas/glob"

	"github.com/dshills/warden/internal/policy"
)

// recognizedTools is the fixed set of host capabilities a plugin may
// request by name. It is policy-independent: policies bound how many
// tools may be requested, never which names exist.
var recognizedTools = map[string]bool{
	"fetch":         true,
	"readfile":      true,
	"writefile":     true,
	"storage":       true,
	"clipboard":     true,
	"notifications": true,
	"timers":        true,
	"logger":        true,
}

// RecognizedTools returns the sorted names plugins may request.
func RecognizedTools() []string {
	names := make([]string, 0, len(recognizedTools))
	for name := range recognizedTools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidationResult is the outcome of validating a requested set against
// a policy. Valid is true iff Errors is empty; Warnings never affect it.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
	Approved PermissionSet
	Denied   PermissionSet
}

// Validator checks permission requests against a policy and answers
// runtime capability queries. Each Check appends one audit entry.
type Validator struct {
	pol    policy.SecurityPolicy
	audit  *AuditLog
	logger *slog.Logger

	// Compiled glob cache for filesystem path patterns.
	globMu sync.RWMutex
	globs  map[string]glob.Glob
}

// NewValidator creates a validator bound to a policy with a bounded
// in-memory audit log.
func NewValidator(pol policy.SecurityPolicy) *Validator {
	return &Validator{
		pol:    pol,
		audit:  NewAuditLog(defaultAuditCap),
		logger: slog.Default(),
		globs:  make(map[string]glob.Glob),
	}
}

// SetLogger replaces the validator's logger. A nil logger restores the
// default.
func (v *Validator) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	v.logger = logger
}

// Policy returns the policy this validator enforces.
func (v *Validator) Policy() policy.SecurityPolicy {
	return v.pol
}

// Validate checks a requested permission set against the validator's
// policy. Business-rule failures are returned as data, never as an error:
// each rejected entry lands in Denied with a message in Errors or
// Warnings. Validating an already-approved set again yields the same
// approved set with no new errors.
func (v *Validator) Validate(requested PermissionSet) ValidationResult {
	res := ValidationResult{
		Approved: PermissionSet{
			FileSystem: []FileSystemPermission{},
			Network:    []NetworkPermission{},
			Tools:      []string{},
			MCPServers: append([]string{}, requested.MCPServers...),
		},
		Denied: PermissionSet{
			FileSystem: []FileSystemPermission{},
			Network:    []NetworkPermission{},
			Tools:      []string{},
		},
	}

	v.validateFilesystem(requested, &res)
	v.validateNetwork(requested, &res)
	v.validateTools(requested, &res)
	v.checkRequired(requested, &res)

	res.Valid = len(res.Errors) == 0
	return res
}

func (v *Validator) validateFilesystem(req PermissionSet, res *ValidationResult) {
	quota := v.pol.MaxPermissions.Filesystem
	if len(req.FileSystem) > quota {
		res.Errors = append(res.Errors, fmt.Sprintf(
			"filesystem permissions exceed policy quota (%d > %d)", len(req.FileSystem), quota))
		res.Denied.FileSystem = append(res.Denied.FileSystem, req.FileSystem...)
		return
	}

	for _, fp := range req.FileSystem {
		switch {
		case hasTraversal(fp.Path):
			res.Errors = append(res.Errors, fmt.Sprintf(
				"filesystem path %q contains a traversal segment", fp.Path))
			res.Denied.FileSystem = append(res.Denied.FileSystem, fp)
		case v.underSystemPath(fp.Path):
			res.Errors = append(res.Errors, fmt.Sprintf(
				"filesystem path %q targets a protected system path", fp.Path))
			res.Denied.FileSystem = append(res.Denied.FileSystem, fp)
		case !fp.Access.Valid():
			res.Errors = append(res.Errors, fmt.Sprintf(
				"filesystem path %q has unknown access level %q", fp.Path, fp.Access))
			res.Denied.FileSystem = append(res.Denied.FileSystem, fp)
		default:
			res.Approved.FileSystem = append(res.Approved.FileSystem, fp)
		}
	}
}

func (v *Validator) validateNetwork(req PermissionSet, res *ValidationResult) {
	quota := v.pol.MaxPermissions.Network
	if len(req.Network) > quota {
		res.Errors = append(res.Errors, fmt.Sprintf(
			"network permissions exceed policy quota (%d > %d)", len(req.Network), quota))
		res.Denied.Network = append(res.Denied.Network, req.Network...)
		return
	}

	for _, np := range req.Network {
		host := strings.ToLower(np.Host)
		switch {
		// Loopback and private ranges are rejected even under a universal
		// wildcard; only an explicit exact trusted entry overrides.
		case isLoopbackOrPrivate(host) && !explicitlyTrusted(host, v.pol.TrustedDomains):
			res.Errors = append(res.Errors, fmt.Sprintf(
				"network host %q is loopback or private-range", np.Host))
			res.Denied.Network = append(res.Denied.Network, np)
		case hostTrusted(host, v.pol.TrustedDomains):
			res.Approved.Network = append(res.Approved.Network, np)
		case v.pol.ElevatedPermissionPrompt && trustedAdjacent(host, v.pol.TrustedDomains):
			// A subdomain of a trusted entry that the pattern itself does
			// not cover: solicit elevated confirmation instead of failing.
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"network host %q requires elevated permission confirmation", np.Host))
			res.Denied.Network = append(res.Denied.Network, np)
		default:
			res.Errors = append(res.Errors, fmt.Sprintf(
				"network host %q is not on the trusted domain list", np.Host))
			res.Denied.Network = append(res.Denied.Network, np)
		}
	}
}

func (v *Validator) validateTools(req PermissionSet, res *ValidationResult) {
	quota := v.pol.MaxPermissions.Tools
	if len(req.Tools) > quota {
		res.Errors = append(res.Errors, fmt.Sprintf(
			"tool permissions exceed policy quota (%d > %d)", len(req.Tools), quota))
		res.Denied.Tools = append(res.Denied.Tools, req.Tools...)
		return
	}

	for _, tool := range req.Tools {
		if recognizedTools[tool] {
			res.Approved.Tools = append(res.Approved.Tools, tool)
		} else {
			res.Errors = append(res.Errors, fmt.Sprintf("invalid tool %q", tool))
			res.Denied.Tools = append(res.Denied.Tools, tool)
		}
	}
}

// checkRequired warns when the request omits actions the policy expects
// every plugin to declare.
func (v *Validator) checkRequired(req PermissionSet, res *ValidationResult) {
	for _, action := range v.pol.RequiredPermissions {
		if !coversAction(req, action) {
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"policy expects permission for %q but the manifest does not request it", action))
		}
	}
}

// coversAction reports whether the request declares anything that could
// satisfy the namespaced action.
func coversAction(req PermissionSet, action string) bool {
	switch {
	case strings.HasPrefix(action, "fs:"):
		return len(req.FileSystem) > 0
	case strings.HasPrefix(action, "network:"):
		return len(req.Network) > 0
	case strings.HasPrefix(action, "tool:"):
		name := strings.TrimPrefix(action, "tool:")
		for _, t := range req.Tools {
			if t == name {
				return true
			}
		}
		return false
	}
	return false
}

// hasTraversal reports whether a path pattern contains a ".." segment.
func hasTraversal(path string) bool {
	for _, seg := range strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == '\\'
	}) {
		if seg == ".." {
			return true
		}
	}
	return false
}

// underSystemPath reports whether the pattern starts under a denylisted
// system prefix.
func (v *Validator) underSystemPath(path string) bool {
	lower := strings.ToLower(path)
	for _, sys := range v.pol.SystemPaths {
		p := strings.ToLower(sys)
		if lower == p || strings.HasPrefix(lower, p+"/") || strings.HasPrefix(lower, p+`\`) {
			return true
		}
	}
	return false
}

// hostTrusted reports whether the host matches a trusted-domain entry:
// exact, "*."-wildcard suffix, or the universal wildcard.
func hostTrusted(host string, trusted []string) bool {
	for _, entry := range trusted {
		if matchHost(host, strings.ToLower(entry)) {
			return true
		}
	}
	return false
}

// explicitlyTrusted reports an exact (non-wildcard) trusted entry match.
func explicitlyTrusted(host string, trusted []string) bool {
	for _, entry := range trusted {
		if strings.ToLower(entry) == host {
			return true
		}
	}
	return false
}

// trustedAdjacent reports whether the host is a subdomain of a trusted
// entry that the entry's own pattern does not cover.
func trustedAdjacent(host string, trusted []string) bool {
	for _, entry := range trusted {
		bare := strings.TrimPrefix(strings.ToLower(entry), "*.")
		if bare == "" || bare == "*" {
			continue
		}
		if strings.HasSuffix(host, "."+bare) {
			return true
		}
	}
	return false
}

// matchHost checks a host against a pattern: exact, "*."-prefixed
// wildcard (any subdomain), or "*" for any host.
func matchHost(host, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if host == pattern {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(host, pattern[1:])
	}
	return false
}

// isLoopbackOrPrivate reports whether the host names the local machine or
// a private address range.
func isLoopbackOrPrivate(host string) bool {
	bare := extractHost(host)
	if bare == "localhost" || strings.HasSuffix(bare, ".localhost") ||
		strings.HasSuffix(bare, ".local") || bare == "" {
		return true
	}
	ip := net.ParseIP(bare)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast()
}

// extractHost strips an optional port, handling bracketed IPv6 addresses.
func extractHost(hostPort string) string {
	host, _, err := net.SplitHostPort(hostPort)
	if err == nil {
		return host
	}
	if strings.HasPrefix(hostPort, "[") && strings.HasSuffix(hostPort, "]") {
		return hostPort[1 : len(hostPort)-1]
	}
	return hostPort
}
