package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/romcoding/architex/internal/importer"
	"github.com/romcoding/architex/pkg/types"
)

func newImportCmd(opts *rootOptions) *cobra.Command {
	var (
		principalID string
		role        string
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "import <dir>",
		Short: "Import a directory of Markdown files as knowledge assets",
		Long: `Import creates one asset per Markdown file under <dir>. YAML frontmatter
may set title, type, category, tags and public, and declare relationships
with depends_on, implements, extends, conflicts_with and complements (by
target title). [[Wiki links]] in the body become COMPLEMENTS relationships.

Files whose title already exists are skipped, so re-running an import only
adds new files.`,
		Example: "  architex import examples/knowledge --as user-123 --role architect",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			p := cfg.Security.DevPrincipal()
			if principalID != "" {
				p.ID = principalID
			}
			if role != "" {
				p.Role = types.Role(role)
			}
			if !p.CanContribute() {
				return fmt.Errorf("principal %q with role %q may not create assets", p.ID, p.Role)
			}

			ctx := cmd.Context()
			store, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			svc, err := newService(cfg, store, logger, nil)
			if err != nil {
				_ = store.Close()
				return err
			}
			defer func() { _ = svc.Close() }()

			report, err := importer.NewImporter(svc, logger).Import(ctx, p, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().StringVar(&principalID, "as", "", "author ID of imported assets (default: the development principal)")
	cmd.Flags().StringVar(&role, "role", "", "role of the importing principal")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func printReport(w io.Writer, r *importer.Report) {
	fmt.Fprintf(w, "files: %d  created: %d  skipped: %d  linked: %d  failed: %d\n",
		r.FilesFound, r.AssetsCreated, r.AssetsSkipped, r.Linked, r.Failed)
	for _, f := range r.Files {
		for _, e := range f.Errors {
			fmt.Fprintf(w, "  %s: %s\n", f.RelativePath, e)
		}
	}
}
