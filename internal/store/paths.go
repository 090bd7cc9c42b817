package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirName is the name of the refinery data directory.
const DirName = ".refinery"

// DatabaseFile is the default session database file name.
const DatabaseFile = "sessions.db"

// GlobalPath returns the path to the global .refinery directory.
// On Unix: ~/.refinery
// On Windows: %USERPROFILE%\.refinery
func GlobalPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, DirName), nil
}

// LocalPath returns the path to the .refinery directory for the given
// project root.
func LocalPath(projectRoot string) string {
	return filepath.Join(projectRoot, DirName)
}

// DefaultDatabasePath returns ~/.refinery/sessions.db.
func DefaultDatabasePath() (string, error) {
	dir, err := GlobalPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DatabaseFile), nil
}

// EnsureDir creates dir with 0700 permissions if it doesn't exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return nil
}

// dirGitignore is the default .gitignore content for .refinery directories.
const dirGitignore = `# SQLite session database (runtime data, not version controlled)
sessions.db
sessions.db-shm
sessions.db-wal

# Session exports
backups/
`

// EnsureGitignore creates a .gitignore in the given .refinery directory if
// one does not already exist.
func EnsureGitignore(dir string) error {
	gitignorePath := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(gitignorePath); err == nil {
		return nil // already exists, respect user customizations
	}
	if err := os.WriteFile(gitignorePath, []byte(dirGitignore), 0600); err != nil {
		return fmt.Errorf("failed to create .gitignore: %w", err)
	}
	return nil
}
