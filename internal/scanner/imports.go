package scanner

import (
	"regexp"
	"strings"
)

// Module reference extraction. Three shapes are recognized: static imports,
// dynamic imports, and indirect load-by-name calls.
var (
	staticImportRe  = regexp.MustCompile(`(?m)^\s*import\s+(?:[\w${},*\s]+\s+from\s+)?["']([^"']+)["']`)
	dynamicImportRe = regexp.MustCompile(`\bimport\s*\(\s*["']([^"']+)["']\s*\)`)
	requireRe       = regexp.MustCompile(`\brequire\s*\(\s*["']([^"']+)["']\s*\)`)
)

// builtinNamespace is the prefix marking a namespaced builtin reference
// (e.g. "node:path" names the builtin "path").
const builtinNamespace = "node:"

// scanImports extracts every module reference and classifies each into
// exactly one of allowed, blocked, or unknown.
func (s *Scanner) scanImports(code string, r *Result) {
	seen := make(map[string]bool)
	var modules []string
	for _, re := range []*regexp.Regexp{staticImportRe, dynamicImportRe, requireRe} {
		for _, m := range re.FindAllStringSubmatch(code, -1) {
			name := m[1]
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			modules = append(modules, name)
		}
	}

	for _, mod := range modules {
		switch s.classify(mod) {
		case ImportAllowed:
			r.AllowedImports = append(r.AllowedImports, mod)
		case ImportBlocked:
			r.ImportViolations = append(r.ImportViolations, mod)
		default:
			r.UnknownImports = append(r.UnknownImports, mod)
		}
	}
}

// classify places one module reference into an ImportClass. Builtin
// allow/deny sets are consulted first (exact name or namespaced-builtin
// prefix); bare specifiers then classify by package identity. Relative
// references resolve inside the plugin's own tree and are never treated
// as third-party.
func (s *Scanner) classify(module string) ImportClass {
	if strings.HasPrefix(module, ".") || strings.HasPrefix(module, "/") {
		return ImportAllowed
	}

	name := strings.TrimPrefix(module, builtinNamespace)
	if contains(s.pol.BlockedBuiltins, name) {
		return ImportBlocked
	}
	if contains(s.pol.AllowedBuiltins, name) {
		return ImportAllowed
	}

	pkg := packageIdentity(name)
	if contains(s.pol.BlockedPackages, pkg) {
		return ImportBlocked
	}
	if contains(s.pol.AllowedPackages, pkg) {
		return ImportAllowed
	}
	return ImportUnknown
}

// packageIdentity reduces a module path to the package that provides it.
// Scoped packages ("@scope/name/sub") are identified by their first two
// segments; everything else by the first.
func packageIdentity(module string) string {
	parts := strings.Split(module, "/")
	if strings.HasPrefix(module, "@") && len(parts) >= 2 {
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
