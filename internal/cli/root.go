// Package cli implements the warden command line: the install-time
// workflow of scanning plugin code, vetting requested permissions, and
// running a plugin inside the sandbox.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/warden/internal/policy"
)

// rootOptions carries the persistent flags shared by every subcommand.
type rootOptions struct {
	policyName string
	policyFile string
	verbose    bool
}

// policy resolves the active security policy: an explicit policy file
// wins over a preset name.
func (o *rootOptions) policy() (policy.SecurityPolicy, error) {
	if o.policyFile != "" {
		return policy.LoadFile(o.policyFile)
	}
	return policy.Get(o.policyName), nil
}

// NewRoot builds the warden root command.
func NewRoot(version string) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "warden",
		Short: "Security sandbox for untrusted plugins",
		Long: `Warden scans plugin code for dangerous constructs and embedded
secrets, vets requested permissions against a security policy, and runs
plugin code inside a restricted sandbox with resource limits.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			level := slog.LevelInfo
			if opts.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.policyName, "policy", "default",
		"security policy preset (default, strict, permissive, development)")
	pf.StringVar(&opts.policyFile, "policy-file", "",
		"YAML policy overlay file (overrides --policy)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newScanCmd(opts))
	cmd.AddCommand(newVetCmd(opts))
	cmd.AddCommand(newRunCmd(opts))
	return cmd
}
