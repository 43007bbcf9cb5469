// Package db owns the on-disk workspace layout: a hidden .apigen state
// directory holding the sqlite database and the per-project git clones.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	stateDirName = ".apigen"
	databaseName = "apigen.db"
)

// Workspace is the directory apigen keeps its state under. The zero
// value is not usable; construct one with NewWorkspace.
type Workspace struct {
	Root string
}

func NewWorkspace(root string) Workspace {
	if root == "" {
		root = "."
	}
	return Workspace{Root: root}
}

// StateDir is <root>/.apigen.
func (w Workspace) StateDir() string {
	return filepath.Join(w.Root, stateDirName)
}

// DatabasePath is the sqlite file inside the state directory.
func (w Workspace) DatabasePath() string {
	return filepath.Join(w.StateDir(), databaseName)
}

// ReposDir holds one git working copy per project.
func (w Workspace) ReposDir() string {
	return filepath.Join(w.StateDir(), "repos")
}

// Ensure creates the state directory when it is missing.
func (w Workspace) Ensure() error {
	return os.MkdirAll(w.StateDir(), 0o755)
}

// Open ensures the workspace exists and opens its database with foreign
// keys enabled.
func (w Workspace) Open() (*sql.DB, error) {
	if err := w.Ensure(); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", w.DatabasePath())
	return sql.Open("sqlite", dsn)
}
