package policy

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// filePattern is the YAML representation of a banned pattern.
type filePattern struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Severity    string `yaml:"severity"`
	Description string `yaml:"description"`
	DynamicExec bool   `yaml:"dynamicExec"`
}

// fileSecret is the YAML representation of a secret pattern.
type fileSecret struct {
	Type        string `yaml:"type"`
	Pattern     string `yaml:"pattern"`
	Description string `yaml:"description"`
}

// fileOverlay is the on-disk policy overlay format.
type fileOverlay struct {
	Overlay        `yaml:",inline"`
	Base           string        `yaml:"base"`
	BannedPatterns []filePattern `yaml:"bannedPatterns"`
	SecretPatterns []fileSecret  `yaml:"secretPatterns"`
}

var validSeverities = map[string]Severity{
	"low":      SeverityLow,
	"medium":   SeverityMedium,
	"high":     SeverityHigh,
	"critical": SeverityCritical,
}

var validSecretTypes = map[string]bool{
	"api_key":     true,
	"password":    true,
	"token":       true,
	"private_key": true,
	"certificate": true,
}

// LoadFile reads a YAML policy overlay and merges it onto its named base
// preset (default when unnamed). Pattern regexes are compiled here; a bad
// expression fails the load.
func LoadFile(path string) (SecurityPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SecurityPolicy{}, fmt.Errorf("read policy file: %w", err)
	}
	return parseOverlayYAML(data)
}

func parseOverlayYAML(data []byte) (SecurityPolicy, error) {
	var f fileOverlay
	if err := yaml.Unmarshal(data, &f); err != nil {
		return SecurityPolicy{}, fmt.Errorf("parse policy file: %w", err)
	}

	o := f.Overlay
	for i, fp := range f.BannedPatterns {
		sev, ok := validSeverities[fp.Severity]
		if !ok {
			return SecurityPolicy{}, fmt.Errorf("bannedPatterns[%d]: unknown severity %q", i, fp.Severity)
		}
		re, err := regexp.Compile(fp.Pattern)
		if err != nil {
			return SecurityPolicy{}, fmt.Errorf("bannedPatterns[%d] (%s): %w", i, fp.Name, err)
		}
		o.BannedPatterns = append(o.BannedPatterns, BannedPattern{
			Name:        fp.Name,
			Pattern:     re,
			Severity:    sev,
			Description: fp.Description,
			DynamicExec: fp.DynamicExec,
		})
	}
	for i, fs := range f.SecretPatterns {
		if !validSecretTypes[fs.Type] {
			return SecurityPolicy{}, fmt.Errorf("secretPatterns[%d]: unknown type %q", i, fs.Type)
		}
		re, err := regexp.Compile(fs.Pattern)
		if err != nil {
			return SecurityPolicy{}, fmt.Errorf("secretPatterns[%d] (%s): %w", i, fs.Type, err)
		}
		o.SecretPatterns = append(o.SecretPatterns, SecretPattern{
			Type:        fs.Type,
			Pattern:     re,
			Description: fs.Description,
		})
	}

	return Merge(Get(f.Base), o), nil
}
