package policy

// QuotaOverlay overrides individual quota fields. Nil fields keep the
// base value.
type QuotaOverlay struct {
	Filesystem *int `yaml:"filesystem"`
	Network    *int `yaml:"network"`
	Tools      *int `yaml:"tools"`
}

// Overlay is a partial policy applied on top of a base policy.
// Array fields concatenate after the base arrays; scalar fields override
// only when present (non-nil).
type Overlay struct {
	Name                     string        `yaml:"name"`
	MaxPermissions           *QuotaOverlay `yaml:"maxPermissions"`
	BannedPatterns           []BannedPattern
	SecretPatterns           []SecretPattern
	RequiredPermissions      []string `yaml:"requiredPermissions"`
	ElevatedPermissionPrompt *bool    `yaml:"elevatedPermissionPrompt"`
	AllowDynamicExecution    *bool    `yaml:"allowDynamicExecution"`
	TrustedDomains           []string `yaml:"trustedDomains"`
	AllowedBuiltins          []string `yaml:"allowedBuiltins"`
	BlockedBuiltins          []string `yaml:"blockedBuiltins"`
	AllowedPackages          []string `yaml:"allowedPackages"`
	BlockedPackages          []string `yaml:"blockedPackages"`
	SystemPaths              []string `yaml:"systemPaths"`
}

// Merge applies an overlay onto a base policy and returns the result.
// The merge is deterministic: base array entries always precede overlay
// entries, and duplicates are preserved. No validation is performed here;
// validation happens where the policy is consumed.
func Merge(base SecurityPolicy, o Overlay) SecurityPolicy {
	out := base

	if o.Name != "" {
		out.Name = o.Name
	}
	if o.MaxPermissions != nil {
		if o.MaxPermissions.Filesystem != nil {
			out.MaxPermissions.Filesystem = *o.MaxPermissions.Filesystem
		}
		if o.MaxPermissions.Network != nil {
			out.MaxPermissions.Network = *o.MaxPermissions.Network
		}
		if o.MaxPermissions.Tools != nil {
			out.MaxPermissions.Tools = *o.MaxPermissions.Tools
		}
	}
	if o.ElevatedPermissionPrompt != nil {
		out.ElevatedPermissionPrompt = *o.ElevatedPermissionPrompt
	}
	if o.AllowDynamicExecution != nil {
		out.AllowDynamicExecution = *o.AllowDynamicExecution
	}

	out.BannedPatterns = concat(base.BannedPatterns, o.BannedPatterns)
	out.SecretPatterns = concat(base.SecretPatterns, o.SecretPatterns)
	out.RequiredPermissions = concat(base.RequiredPermissions, o.RequiredPermissions)
	out.TrustedDomains = concat(base.TrustedDomains, o.TrustedDomains)
	out.AllowedBuiltins = concat(base.AllowedBuiltins, o.AllowedBuiltins)
	out.BlockedBuiltins = concat(base.BlockedBuiltins, o.BlockedBuiltins)
	out.AllowedPackages = concat(base.AllowedPackages, o.AllowedPackages)
	out.BlockedPackages = concat(base.BlockedPackages, o.BlockedPackages)
	out.SystemPaths = concat(base.SystemPaths, o.SystemPaths)

	return out
}

// concat returns a fresh slice so neither input is aliased by the result.
func concat[T any](base, over []T) []T {
	if len(base) == 0 && len(over) == 0 {
		return nil
	}
	out := make([]T, 0, len(base)+len(over))
	out = append(out, base...)
	out = append(out, over...)
	return out
}
