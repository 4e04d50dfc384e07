package store

import (
	"context"
	"fmt"
	"io"
	"os"
)

const (
	// BackupSuffix is appended to the database path to name its snapshot.
	BackupSuffix = ".backup"
	// MemoryPath is the file name of a non-persistent database.
	MemoryPath = ":memory:"
)

// Backup copies the database file to <path>.backup before a migration.
// It does nothing for connectors without a file, for in-memory databases
// and when a snapshot already exists; an existing snapshot is never
// overwritten. The copy is advisory and not coordinated with migration.
func (s *Store) Backup(ctx context.Context) error {
	fb, ok := s.conn.(FileBacked)
	if !ok {
		s.log.Info("backup skipped: backend has no database file")
		return nil
	}
	path := fb.FilePath()
	if path == "" || path == MemoryPath {
		s.log.Info("backup skipped: database %q is not persistent", path)
		return nil
	}

	backupPath := path + BackupSuffix
	if _, err := os.Stat(backupPath); err == nil {
		s.log.Warn("backup skipped: %s already exists and will not be overwritten", backupPath)
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("backup: check %s: %w", backupPath, err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		s.log.Info("backup skipped: %s does not exist yet", path)
		return nil
	}

	if cp, ok := s.conn.(checkpointer); ok {
		if err := cp.Checkpoint(ctx); err != nil {
			return fmt.Errorf("backup: %w", err)
		}
	}

	if err := copyFile(path, backupPath); err != nil {
		return fmt.Errorf("backup %s: %w", path, err)
	}
	s.log.Info("database backed up to %s", backupPath)
	return nil
}

// copyFile streams src into a newly created dst.
// dst must not exist; a partial copy is removed.
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		os.Remove(dst)
		return err
	}
	if err := dstFile.Sync(); err != nil {
		dstFile.Close()
		os.Remove(dst)
		return err
	}
	return dstFile.Close()
}
