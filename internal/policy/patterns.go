package policy

import "regexp"

// BannedPattern describes a code construct that plugins may not use.
// The scanner reports matches at the pattern's severity; the runtime
// pre-flight check rejects matching code outright.
type BannedPattern struct {
	// Name is a short stable identifier (e.g. "dynamic-eval").
	Name string

	// Pattern is matched line-by-line against plugin source.
	Pattern *regexp.Regexp

	// Severity of a match.
	Severity Severity

	// Description explains why the construct is banned.
	Description string

	// DynamicExec marks patterns waived by AllowDynamicExecution.
	DynamicExec bool
}

// SecretPattern detects a class of credential embedded in source text.
type SecretPattern struct {
	// Type is one of api_key, password, token, private_key, certificate.
	Type string

	// Pattern is matched line-by-line against plugin source.
	Pattern *regexp.Regexp

	// Description names the credential class for reports.
	Description string
}

func defaultBannedPatterns() []BannedPattern {
	return []BannedPattern{
		{
			Name:        "dynamic-eval",
			Pattern:     regexp.MustCompile(`\beval\s*\(`),
			Severity:    SeverityCritical,
			Description: "evaluates code from a string at runtime",
			DynamicExec: true,
		},
		{
			Name:        "function-constructor",
			Pattern:     regexp.MustCompile(`\bnew\s+Function\s*\(|\bFunction\s*\(\s*["']`),
			Severity:    SeverityCritical,
			Description: "constructs a function from a string at runtime",
			DynamicExec: true,
		},
		{
			Name:        "string-load",
			Pattern:     regexp.MustCompile(`\bload(?:string)?\s*\(`),
			Severity:    SeverityCritical,
			Description: "loads a string as executable code",
			DynamicExec: true,
		},
		{
			Name:        "file-exec",
			Pattern:     regexp.MustCompile(`\bdofile\s*\(|\bloadfile\s*\(`),
			Severity:    SeverityHigh,
			Description: "loads and executes a file outside the module system",
			DynamicExec: true,
		},
		{
			Name:        "subprocess",
			Pattern:     regexp.MustCompile(`\bchild_process\b|\bos\.execute\s*\(|\bio\.popen\s*\(|\bexecSync\s*\(`),
			Severity:    SeverityCritical,
			Description: "spawns a subprocess",
		},
		{
			Name:        "env-introspection",
			Pattern:     regexp.MustCompile(`\bprocess\.env\b|\bos\.getenv\s*\(`),
			Severity:    SeverityMedium,
			Description: "reads host process environment",
		},
		{
			Name:        "dynamic-import",
			Pattern:     regexp.MustCompile(`\bimport\s*\(|\brequire\s*\(\s*[^"'\s)]`),
			Severity:    SeverityHigh,
			Description: "loads a module whose name is computed at runtime",
			DynamicExec: true,
		},
		{
			Name:        "dom-sink",
			Pattern:     regexp.MustCompile(`\bdocument\.write\s*\(|\.innerHTML\s*=|\.outerHTML\s*=`),
			Severity:    SeverityHigh,
			Description: "writes raw markup to a DOM sink",
		},
		{
			Name:        "path-traversal",
			Pattern:     regexp.MustCompile(`\.\./`),
			Severity:    SeverityMedium,
			Description: "contains a path traversal literal",
		},
	}
}

func defaultSecretPatterns() []SecretPattern {
	return []SecretPattern{
		{
			Type:        "api_key",
			Pattern:     regexp.MustCompile(`(?i)api[_-]?key\s*[:=]\s*["'][^"']{8,}["']`),
			Description: "API key assignment",
		},
		{
			Type:        "api_key",
			Pattern:     regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
			Description: "AWS access key id",
		},
		{
			Type:        "password",
			Pattern:     regexp.MustCompile(`(?i)pass(?:word|wd)?\s*[:=]\s*["'][^"']{4,}["']`),
			Description: "password assignment",
		},
		{
			Type:        "token",
			Pattern:     regexp.MustCompile(`(?i)(?:auth[_-]?token|access[_-]?token|bearer)\s*[:=]?\s*["']?[A-Za-z0-9_\-.]{20,}`),
			Description: "bearer or access token",
		},
		{
			Type:        "token",
			Pattern:     regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`),
			Description: "GitHub token",
		},
		{
			Type:        "private_key",
			Pattern:     regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
			Description: "PEM private key",
		},
		{
			Type:        "certificate",
			Pattern:     regexp.MustCompile(`-----BEGIN CERTIFICATE-----`),
			Description: "PEM certificate",
		},
	}
}

// Built-in modules plugins may import freely.
func defaultAllowedBuiltins() []string {
	return []string{
		"path", "url", "util", "querystring", "events", "buffer",
		"string_decoder", "assert",
		// Lua standard modules exposed by the sandbox.
		"string", "table", "math",
	}
}

// Built-in modules that escape the sandbox and are always blocked.
func defaultBlockedBuiltins() []string {
	return []string{
		"fs", "child_process", "cluster", "vm", "worker_threads",
		"net", "dgram", "dns", "tls", "http", "https", "http2",
		"repl", "process",
		// Lua standard modules with host access.
		"os", "io", "debug",
	}
}

func defaultAllowedPackages() []string {
	return []string{
		"lodash", "dayjs", "uuid", "semver", "zod",
	}
}

func defaultBlockedPackages() []string {
	return []string{
		"shelljs", "node-pty", "execa", "cross-spawn",
	}
}

func defaultSystemPaths() []string {
	return []string{
		"/etc", "/sys", "/proc", "/dev", "/boot", "/root",
		"/var/run", "/usr/lib",
		`C:\Windows`, `C:\Program Files`,
		"/System", "/Library",
	}
}
