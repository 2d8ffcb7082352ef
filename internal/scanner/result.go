package scanner

import "github.com/dshills/warden/internal/policy"

// PatternMatch is one dangerous-construct finding.
type PatternMatch struct {
	// Name of the banned pattern that matched.
	Name string

	// Severity of the finding.
	Severity policy.Severity

	// Line and Column are 1-based source coordinates.
	Line   int
	Column int

	// Text is the matched source text.
	Text string

	// Description explains the finding.
	Description string
}

// SecretMatch is one potential embedded credential.
type SecretMatch struct {
	// Type is the secret class (api_key, password, token, ...).
	Type string

	// Line is the 1-based source line.
	Line int

	// Confidence is in [0,1]; see scoreConfidence for the heuristic.
	Confidence float64

	// Redacted holds at most the first 20 characters of the match.
	Redacted string

	// Description names the credential class.
	Description string
}

// ImportClass is the classification of one extracted module reference.
type ImportClass string

// Every extracted import lands in exactly one class.
const (
	ImportAllowed ImportClass = "allowed"
	ImportBlocked ImportClass = "blocked"
	ImportUnknown ImportClass = "unknown"
)

// Result is the outcome of one scan. It has no lifecycle beyond the call
// that produced it.
type Result struct {
	// Passed is true iff no dangerous patterns and no secrets were found.
	// The score alone never determines pass/fail.
	Passed bool

	// DangerousPatterns lists pattern findings in source order.
	DangerousPatterns []PatternMatch

	// Secrets lists potential credentials in source order.
	Secrets []SecretMatch

	// ImportViolations lists blocked module references.
	ImportViolations []string

	// AllowedImports and UnknownImports complete the import partition.
	AllowedImports []string
	UnknownImports []string

	// SecurityScore is a 0-100 heuristic; 100 means no findings.
	SecurityScore int

	// Recommendations are human-readable and derived deterministically
	// from the findings. Never empty.
	Recommendations []string
}
