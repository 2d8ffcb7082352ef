package policy

// Severity classifies how dangerous a finding is.
type Severity string

// Finding severities, ordered from least to most dangerous.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Quotas caps how many permission entries a plugin may request per category.
type Quotas struct {
	Filesystem int `yaml:"filesystem"`
	Network    int `yaml:"network"`
	Tools      int `yaml:"tools"`
}

// SecurityPolicy is the immutable configuration consumed by the scanner,
// the permission validator, and the sandbox runtime.
type SecurityPolicy struct {
	// Name identifies the policy (preset name, or the name it was loaded as).
	Name string

	// MaxPermissions caps requested permission entries per category.
	MaxPermissions Quotas

	// BannedPatterns are code constructs that are flagged by the scanner
	// and rejected by the runtime pre-flight check.
	BannedPatterns []BannedPattern

	// SecretPatterns detect credentials embedded in plugin source.
	SecretPatterns []SecretPattern

	// RequiredPermissions are actions a plugin is expected to declare.
	// Missing entries produce validation warnings, not errors.
	RequiredPermissions []string

	// ElevatedPermissionPrompt enables the confirmation flow for hosts
	// that are adjacent to, but not matched by, the trusted domain list.
	ElevatedPermissionPrompt bool

	// AllowDynamicExecution waives the banned patterns that target dynamic
	// code evaluation. Intended for development policies only.
	AllowDynamicExecution bool

	// TrustedDomains are hosts a plugin may be granted network access to.
	// Entries are exact hosts, "*."-prefixed wildcards, or "*" for any.
	TrustedDomains []string

	// AllowedBuiltins and BlockedBuiltins classify built-in module imports.
	AllowedBuiltins []string
	BlockedBuiltins []string

	// AllowedPackages and BlockedPackages classify third-party imports by
	// package identity (leading path segment; two segments for scoped).
	AllowedPackages []string
	BlockedPackages []string

	// SystemPaths are filesystem prefixes a plugin may never be granted.
	SystemPaths []string
}

// Default returns the baseline policy used when no preset is named.
func Default() SecurityPolicy {
	return SecurityPolicy{
		Name: "default",
		MaxPermissions: Quotas{
			Filesystem: 10,
			Network:    5,
			Tools:      10,
		},
		BannedPatterns:           defaultBannedPatterns(),
		SecretPatterns:           defaultSecretPatterns(),
		ElevatedPermissionPrompt: true,
		AllowDynamicExecution:    false,
		TrustedDomains: []string{
			"api.github.com",
			"raw.githubusercontent.com",
			"registry.npmjs.org",
		},
		AllowedBuiltins: defaultAllowedBuiltins(),
		BlockedBuiltins: defaultBlockedBuiltins(),
		AllowedPackages: defaultAllowedPackages(),
		BlockedPackages: defaultBlockedPackages(),
		SystemPaths:     defaultSystemPaths(),
	}
}

// Strict returns a policy for untrusted plugins: smaller quotas, no
// trusted domains, and no elevated-permission flow.
func Strict() SecurityPolicy {
	p := Default()
	p.Name = "strict"
	p.MaxPermissions = Quotas{
		Filesystem: 3,
		Network:    1,
		Tools:      5,
	}
	p.TrustedDomains = nil
	p.ElevatedPermissionPrompt = false
	return p
}

// Permissive returns a policy for trusted plugins: large quotas and any
// non-loopback host trusted.
func Permissive() SecurityPolicy {
	p := Default()
	p.Name = "permissive"
	p.MaxPermissions = Quotas{
		Filesystem: 50,
		Network:    25,
		Tools:      50,
	}
	p.TrustedDomains = []string{"*"}
	p.ElevatedPermissionPrompt = false
	return p
}

// Development returns a policy for local plugin development: generous
// quotas and dynamic execution allowed.
func Development() SecurityPolicy {
	p := Default()
	p.Name = "development"
	p.MaxPermissions = Quotas{
		Filesystem: 20,
		Network:    10,
		Tools:      20,
	}
	p.AllowDynamicExecution = true
	p.ElevatedPermissionPrompt = false
	p.TrustedDomains = append(p.TrustedDomains, "*.localhost.test")
	return p
}

// Get resolves a preset by name. Unknown names fall back to the default
// preset; Get never fails.
func Get(name string) SecurityPolicy {
	switch name {
	case "strict":
		return Strict()
	case "permissive":
		return Permissive()
	case "development":
		return Development()
	case "default":
		return Default()
	default:
		return Default()
	}
}

// ActivePatterns returns the banned patterns that apply under this policy,
// honoring AllowDynamicExecution.
func (p SecurityPolicy) ActivePatterns() []BannedPattern {
	if !p.AllowDynamicExecution {
		return p.BannedPatterns
	}
	active := make([]BannedPattern, 0, len(p.BannedPatterns))
	for _, bp := range p.BannedPatterns {
		if bp.DynamicExec {
			continue
		}
		active = append(active, bp)
	}
	return active
}
