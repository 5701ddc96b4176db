package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// BackupInfo describes one backup file on disk.
type BackupInfo struct {
	Path      string
	Timestamp time.Time
	Size      int64
}

// Backup writes a consistent copy of the live database to destPath using
// VACUUM INTO, which handles WAL mode correctly. destPath must not exist.
func (s *Store) Backup(ctx context.Context, destPath string) error {
	if destPath == "" {
		return fmt.Errorf("sqlite: backup path is required")
	}
	if fileExists(destPath) {
		return fmt.Errorf("sqlite: backup target %s already exists", destPath)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("sqlite: failed to create backup directory: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return classify("backup database", err)
	}
	return nil
}

// VerifyBackup opens the backup read-only and runs PRAGMA integrity_check.
func VerifyBackup(ctx context.Context, backupPath string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", backupPath))
	if err != nil {
		return fmt.Errorf("sqlite: failed to open backup: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("sqlite: failed to run integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("sqlite: integrity check failed: %s", result)
	}

	var assets int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM assets").Scan(&assets); err != nil {
		return fmt.Errorf("sqlite: backup has no asset table: %w", err)
	}
	return nil
}

// ListBackups returns the .db files in dir, newest first.
func ListBackups(dir string) ([]BackupInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to read backup directory: %w", err)
	}

	var backups []BackupInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, BackupInfo{
			Path:      filepath.Join(dir, entry.Name()),
			Timestamp: info.ModTime(),
			Size:      info.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// PruneBackups keeps the newest keep backups in dir and removes the rest.
// It returns the number of files removed.
func PruneBackups(dir string, keep int) (int, error) {
	if keep < 1 {
		return 0, fmt.Errorf("sqlite: keep must be at least 1")
	}
	backups, err := ListBackups(dir)
	if err != nil {
		return 0, err
	}
	if len(backups) <= keep {
		return 0, nil
	}

	removed := 0
	var lastErr error
	for _, b := range backups[keep:] {
		if err := os.Remove(b.Path); err != nil {
			lastErr = err
			continue
		}
		removed++
	}
	if lastErr != nil {
		return removed, fmt.Errorf("sqlite: failed to delete some backups: %w", lastErr)
	}
	return removed, nil
}

// BackupFileName returns the timestamped file name used for a backup taken at t.
func BackupFileName(t time.Time) string {
	return "architex-" + t.UTC().Format("20060102-150405") + ".db"
}
