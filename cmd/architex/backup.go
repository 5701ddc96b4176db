package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/romcoding/architex/internal/config"
	"github.com/romcoding/architex/internal/storage/sqlite"
)

func newBackupCmd(opts *rootOptions) *cobra.Command {
	var (
		keep   int
		verify bool
		list   bool
	)

	cmd := &cobra.Command{
		Use:   "backup <dir>",
		Short: "Write a consistent copy of the SQLite database into <dir>",
		Long: `Backup copies the live SQLite database into a timestamped file in <dir>
while the server keeps running. Only the sqlite engine supports backups.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			out := cmd.OutOrStdout()

			if list {
				backups, err := sqlite.ListBackups(dir)
				if err != nil {
					return err
				}
				for _, b := range backups {
					fmt.Fprintf(out, "%s\t%s\t%d bytes\n", b.Timestamp.Format(time.RFC3339), b.Path, b.Size)
				}
				return nil
			}

			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if cfg.Storage.Engine != config.EngineSQLite {
				return fmt.Errorf("backup requires the sqlite engine, configured engine is %q", cfg.Storage.Engine)
			}

			ctx := cmd.Context()
			store, err := sqlite.NewStore(ctx, cfg.Storage.SQLitePath(), sqlite.WithLogger(logger))
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			dest := filepath.Join(dir, sqlite.BackupFileName(time.Now()))
			if err := store.Backup(ctx, dest); err != nil {
				return err
			}
			if verify {
				if err := sqlite.VerifyBackup(ctx, dest); err != nil {
					return fmt.Errorf("backup written to %s failed verification: %w", dest, err)
				}
			}
			logger.Info("backup complete", zap.String("path", dest), zap.Bool("verified", verify))
			fmt.Fprintln(out, dest)

			if keep > 0 {
				removed, err := sqlite.PruneBackups(dir, keep)
				if err != nil {
					return err
				}
				if removed > 0 {
					logger.Info("pruned old backups", zap.Int("removed", removed))
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 0, "keep only the newest N backups in <dir> (0 keeps all)")
	cmd.Flags().BoolVar(&verify, "verify", true, "run an integrity check on the new backup")
	cmd.Flags().BoolVar(&list, "list", false, "list existing backups in <dir> and exit")
	return cmd
}
