package scanner

import (
	"fmt"
	"strings"

	"github.com/dshills/warden/internal/policy"
)

// Score penalties per finding.
const (
	penaltyCritical      = 25
	penaltyHigh          = 15
	penaltyMedium        = 10
	penaltyLow           = 5
	penaltyBlockedImport = 10
	secretPenaltyWeight  = 20.0
)

// redactLimit is how many characters of a secret match survive in reports.
const redactLimit = 20

// Scanner analyzes plugin source against a security policy.
type Scanner struct {
	pol policy.SecurityPolicy
}

// New creates a scanner bound to a policy. The policy supplies every
// pattern and module list the scanner consults.
func New(pol policy.SecurityPolicy) *Scanner {
	return &Scanner{pol: pol}
}

// Scan analyzes one code unit and reports all findings. Scan never fails:
// malformed or empty input simply yields empty finding sets.
func (s *Scanner) Scan(code string) *Result {
	lines := splitLines(code)

	r := &Result{}
	r.DangerousPatterns = s.scanPatterns(lines)
	r.Secrets = s.scanSecrets(lines)
	s.scanImports(code, r)

	r.SecurityScore = s.score(r)
	r.Passed = len(r.DangerousPatterns) == 0 && len(r.Secrets) == 0
	r.Recommendations = s.recommend(r)
	return r
}

// scanPatterns runs every active banned pattern over every line. A single
// line may yield matches from several patterns.
func (s *Scanner) scanPatterns(lines []string) []PatternMatch {
	var found []PatternMatch
	for i, line := range lines {
		for _, bp := range s.pol.ActivePatterns() {
			for _, loc := range bp.Pattern.FindAllStringIndex(line, -1) {
				found = append(found, PatternMatch{
					Name:        bp.Name,
					Severity:    bp.Severity,
					Line:        i + 1,
					Column:      loc[0] + 1,
					Text:        line[loc[0]:loc[1]],
					Description: bp.Description,
				})
			}
		}
	}
	return found
}

// scanSecrets applies every secret pattern line-by-line and attaches a
// confidence heuristic to each match.
func (s *Scanner) scanSecrets(lines []string) []SecretMatch {
	var found []SecretMatch
	for i, line := range lines {
		for _, sp := range s.pol.SecretPatterns {
			for _, text := range sp.Pattern.FindAllString(line, -1) {
				found = append(found, SecretMatch{
					Type:        sp.Type,
					Line:        i + 1,
					Confidence:  scoreConfidence(line),
					Redacted:    redact(text),
					Description: sp.Description,
				})
			}
		}
	}
	return found
}

// scoreConfidence rates how likely a matched line holds a real credential.
// Starts at 0.5; assignment and credential keywords raise it, comment and
// placeholder markers lower it. Clamped to [0,1].
func scoreConfidence(line string) float64 {
	conf := 0.5
	if strings.ContainsAny(line, "=:") {
		conf += 0.2
	}
	lower := strings.ToLower(line)
	if strings.Contains(lower, "key") || strings.Contains(lower, "token") ||
		strings.Contains(lower, "secret") || strings.Contains(lower, "password") {
		conf += 0.2
	}
	if isCommentLine(line) {
		conf -= 0.3
	}
	if strings.Contains(lower, "example") || strings.Contains(lower, "placeholder") ||
		strings.Contains(lower, "dummy") || strings.Contains(lower, "test") {
		conf -= 0.4
	}
	if conf < 0 {
		return 0
	}
	if conf > 1 {
		return 1
	}
	return conf
}

func isCommentLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, prefix := range []string{"//", "#", "--", "/*", "*"} {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// redact keeps at most the first redactLimit characters of a match.
func redact(text string) string {
	runes := []rune(text)
	if len(runes) > redactLimit {
		runes = runes[:redactLimit]
	}
	return string(runes) + "...[REDACTED]"
}

// score starts at 100 and subtracts a fixed penalty per finding, clamped
// to [0,100].
func (s *Scanner) score(r *Result) int {
	score := 100.0
	for _, pm := range r.DangerousPatterns {
		switch pm.Severity {
		case policy.SeverityCritical:
			score -= penaltyCritical
		case policy.SeverityHigh:
			score -= penaltyHigh
		case policy.SeverityMedium:
			score -= penaltyMedium
		case policy.SeverityLow:
			score -= penaltyLow
		}
	}
	for _, sm := range r.Secrets {
		score -= sm.Confidence * secretPenaltyWeight
	}
	score -= float64(len(r.ImportViolations) * penaltyBlockedImport)

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return int(score)
}

// recommend derives the advice list from the findings. The list is never
// empty; it reads "no issues" only when every category is empty.
func (s *Scanner) recommend(r *Result) []string {
	var recs []string

	critical := 0
	for _, pm := range r.DangerousPatterns {
		if pm.Severity == policy.SeverityCritical {
			critical++
		}
	}
	if critical > 0 {
		recs = append(recs, fmt.Sprintf(
			"remove %d critical construct(s); they are blocked at execution time", critical))
	}
	if n := len(r.DangerousPatterns) - critical; n > 0 {
		recs = append(recs, fmt.Sprintf("review %d flagged construct(s) before installing", n))
	}
	if len(r.Secrets) > 0 {
		recs = append(recs, fmt.Sprintf(
			"move %d potential credential(s) out of plugin source", len(r.Secrets)))
	}
	if len(r.ImportViolations) > 0 {
		recs = append(recs, "drop blocked module imports: "+strings.Join(r.ImportViolations, ", "))
	}
	if len(r.UnknownImports) > 0 {
		recs = append(recs, "review unrecognized imports: "+strings.Join(r.UnknownImports, ", "))
	}

	if len(recs) == 0 {
		return []string{"no issues found"}
	}
	return recs
}

// splitLines splits source into lines, tolerating CRLF and a missing
// trailing newline.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
