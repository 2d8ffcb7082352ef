package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/warden/internal/manifest"
	"github.com/dshills/warden/internal/scanner"
)

func newScanCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "scan <plugin-dir-or-file>",
		Short: "Scan plugin code for dangerous constructs and secrets",
		Long: `Scan analyzes plugin source without executing it: banned patterns,
embedded credentials, and import violations, summarized as a 0-100
security score. A plugin passes when no dangerous patterns and no
secrets are found.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pol, err := opts.policy()
			if err != nil {
				return err
			}

			code, source, err := readPluginCode(args[0])
			if err != nil {
				return err
			}

			res := scanner.New(pol).Scan(code)

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else {
				printScanReport(cmd, source, res)
			}

			if !res.Passed {
				return fmt.Errorf("scan failed: %s scored %d/100", source, res.SecurityScore)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the full result as JSON")
	return cmd
}

// readPluginCode resolves a path to plugin source: a directory goes
// through its manifest's entry script, a file is read directly.
func readPluginCode(path string) (code, source string, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", "", err
	}

	source = path
	if info.IsDir() {
		m, err := manifest.LoadFromDir(path)
		if err != nil {
			return "", "", err
		}
		source = m.MainPath()
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return "", "", err
	}
	return string(data), source, nil
}

func printScanReport(cmd *cobra.Command, source string, res *scanner.Result) {
	out := cmd.OutOrStdout()

	status := "PASS"
	if !res.Passed {
		status = "FAIL"
	}
	fmt.Fprintf(out, "%s  %s  score %d/100\n", status, source, res.SecurityScore)

	for _, p := range res.DangerousPatterns {
		fmt.Fprintf(out, "  pattern  %-20s %-8s line %d: %s\n", p.Name, p.Severity, p.Line, p.Text)
	}
	for _, s := range res.Secrets {
		fmt.Fprintf(out, "  secret   %-20s conf %.2f line %d: %s\n", s.Type, s.Confidence, s.Line, s.Redacted)
	}
	for _, imp := range res.ImportViolations {
		fmt.Fprintf(out, "  import   blocked: %s\n", imp)
	}
	for _, imp := range res.UnknownImports {
		fmt.Fprintf(out, "  import   unknown: %s\n", imp)
	}

	for _, r := range res.Recommendations {
		fmt.Fprintf(out, "  - %s\n", r)
	}
}
