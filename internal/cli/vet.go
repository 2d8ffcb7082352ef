package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dshills/warden/internal/manifest"
	"github.com/dshills/warden/internal/permission"
)

func newVetCmd(opts *rootOptions) *cobra.Command {
	var write bool

	cmd := &cobra.Command{
		Use:   "vet <plugin-dir>",
		Short: "Validate a plugin's requested permissions against policy",
		Long: `Vet parses the permissions block of a plugin manifest and checks it
against the active security policy: per-category quotas, filesystem
path safety, trusted network hosts, and recognized tool names.

With --write, the approved subset is stamped back into plugin.json so
the runtime can grant exactly what was vetted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pol, err := opts.policy()
			if err != nil {
				return err
			}

			m, err := manifest.LoadFromDir(args[0])
			if err != nil {
				return err
			}

			requested := permission.Parse(m.Raw())
			res := permission.NewValidator(pol).Validate(requested)

			out := cmd.OutOrStdout()
			for _, e := range res.Errors {
				fmt.Fprintf(out, "error:   %s\n", e)
			}
			for _, w := range res.Warnings {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			fmt.Fprintf(out, "approved: %d filesystem, %d network, %d tools\n",
				len(res.Approved.FileSystem), len(res.Approved.Network), len(res.Approved.Tools))

			if !res.Valid {
				return fmt.Errorf("vet failed: %d permission errors for %s", len(res.Errors), m.Name)
			}

			if write {
				stamped, err := permission.StampApproved(m.Raw(), res.Approved)
				if err != nil {
					return fmt.Errorf("stamp approved permissions: %w", err)
				}
				path := filepath.Join(args[0], "plugin.json")
				if err := os.WriteFile(path, stamped, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", path, err)
				}
				fmt.Fprintf(out, "wrote approved permissions to %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&write, "write", false, "stamp the approved set back into plugin.json")
	return cmd
}
