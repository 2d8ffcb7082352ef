package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/warden/internal/manifest"
	"github.com/dshills/warden/internal/permission"
	"github.com/dshills/warden/internal/policy"
	"github.com/dshills/warden/internal/sandbox"
	"github.com/dshills/warden/internal/scanner"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		skipScan bool
		limits   sandbox.ResourceLimits
	)

	cmd := &cobra.Command{
		Use:   "run <plugin-dir>",
		Short: "Execute a plugin inside the sandbox",
		Long: `Run performs the full install-time workflow: scan the plugin's entry
script, vet its requested permissions, then execute it in a sandbox
context restricted to the approved permissions and resource limits.

The manifest's "policy" field selects the policy preset unless --policy
or --policy-file is set explicitly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.LoadFromDir(args[0])
			if err != nil {
				return err
			}

			pol, err := resolveRunPolicy(cmd, opts, m)
			if err != nil {
				return err
			}

			code, err := os.ReadFile(m.MainPath())
			if err != nil {
				return err
			}

			if !skipScan {
				if res := scanner.New(pol).Scan(string(code)); !res.Passed {
					return fmt.Errorf("refusing to run %s: scan scored %d/100", m.Name, res.SecurityScore)
				}
			}

			validator := permission.NewValidator(pol)
			vet := validator.Validate(permission.Parse(m.Raw()))
			if !vet.Valid {
				return fmt.Errorf("refusing to run %s: %d permission errors", m.Name, len(vet.Errors))
			}

			rt := sandbox.New(pol, validator, sandbox.NewLuaEvaluator())
			ctx, err := rt.CreateContext(m.Name, vet.Approved, &limits)
			if err != nil {
				return err
			}
			defer rt.DestroyContext(ctx.ID)

			res := rt.Execute(string(code), ctx)
			return printRunResult(cmd, res)
		},
	}

	fl := cmd.Flags()
	fl.BoolVar(&skipScan, "skip-scan", false, "run without the pre-execution code scan")
	fl.StringVar(&limits.MemoryLimit, "memory", "", "memory limit (default 256MB)")
	fl.IntVar(&limits.CPUTimeMs, "cpu-ms", 0, "CPU time budget in milliseconds (default 30000)")
	fl.IntVar(&limits.NetworkCalls, "network-calls", 0, "network call budget (default 100)")
	fl.IntVar(&limits.FilesystemOps, "fs-ops", 0, "filesystem operation budget (default 500)")
	return cmd
}

// resolveRunPolicy prefers explicit flags, then the manifest's policy
// field, then the default preset.
func resolveRunPolicy(cmd *cobra.Command, opts *rootOptions, m *manifest.Manifest) (policy.SecurityPolicy, error) {
	explicit := cmd.Root().PersistentFlags().Changed("policy") || opts.policyFile != ""
	if !explicit && m.Policy != "" {
		return policy.Get(m.Policy), nil
	}
	return opts.policy()
}

func printRunResult(cmd *cobra.Command, res *sandbox.ExecutionResult) error {
	out := cmd.OutOrStdout()

	for _, v := range res.Violations {
		fmt.Fprintf(out, "violation: %-10s %-8s %s\n", v.Type, v.Severity, v.Message)
	}
	fmt.Fprintf(out, "usage: %d ms, %d network calls, %d filesystem ops\n",
		res.ExecutionTimeMs, res.Usage.NetworkCalls, res.Usage.FilesystemOps)

	if !res.Success {
		return fmt.Errorf("execution failed: %s", res.Error)
	}
	if res.Value != nil {
		val, err := json.MarshalIndent(res.Value, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(val))
	}
	return nil
}
