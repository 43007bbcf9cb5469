// Package gitrepo manages local clones of project repositories and pushes
// generated documents back to them using the system git binary.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrClone  = errors.New("git clone failed")
	ErrPull   = errors.New("git pull failed")
	ErrCommit = errors.New("git commit failed")
	ErrPush   = errors.New("git push failed")
)

// Manager keeps one clone per project under BaseDir and serializes git
// operations per project.
type Manager struct {
	BaseDir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(baseDir string) *Manager {
	return &Manager{BaseDir: baseDir, locks: map[string]*sync.Mutex{}}
}

// Lock acquires the per-project git lock and returns its release func.
func (m *Manager) Lock(projectID string) func() {
	m.mu.Lock()
	if m.locks == nil {
		m.locks = map[string]*sync.Mutex{}
	}
	l, ok := m.locks[projectID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[projectID] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Dir returns the clone directory for a project.
func (m *Manager) Dir(projectID string) string {
	return filepath.Join(m.BaseDir, projectID)
}

// Ensure makes sure a fresh clone of repoURL exists for the project and
// returns its directory. An existing clone is fast-forwarded instead.
func (m *Manager) Ensure(ctx context.Context, projectID, repoURL, token string) (string, error) {
	dir := m.Dir(projectID)
	remote, err := authURL(repoURL, token)
	if err != nil {
		return "", err
	}
	if _, statErr := os.Stat(filepath.Join(dir, ".git")); statErr != nil {
		if err := os.MkdirAll(m.BaseDir, 0o755); err != nil {
			return "", err
		}
		if out, err := m.git(ctx, "", "clone", remote, dir); err != nil {
			return "", fmt.Errorf("%w: %s", ErrClone, out)
		}
		return dir, nil
	}
	// Tokens rotate, so refresh the remote before pulling.
	if out, err := m.git(ctx, dir, "remote", "set-url", "origin", remote); err != nil {
		return "", fmt.Errorf("%w: %s", ErrPull, out)
	}
	if out, err := m.git(ctx, dir, "pull", "--ff-only"); err != nil {
		return "", fmt.Errorf("%w: %s", ErrPull, out)
	}
	return dir, nil
}

// CommitAndPush stages relPath, commits and pushes. It returns false when
// the working tree has no changes for that path, which is not an error.
func (m *Manager) CommitAndPush(ctx context.Context, projectID, relPath, message string) (bool, error) {
	dir := m.Dir(projectID)
	if out, err := m.git(ctx, dir, "add", "--", relPath); err != nil {
		return false, fmt.Errorf("%w: %s", ErrCommit, out)
	}
	status, err := m.git(ctx, dir, "status", "--porcelain", "--", relPath)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrCommit, status)
	}
	if strings.TrimSpace(status) == "" {
		return false, nil
	}
	if out, err := m.git(ctx, dir,
		"-c", "user.name=apigen", "-c", "user.email=apigen@localhost",
		"commit", "-m", message); err != nil {
		return false, fmt.Errorf("%w: %s", ErrCommit, out)
	}
	if out, err := m.git(ctx, dir, "push"); err != nil {
		return false, fmt.Errorf("%w: %s", ErrPush, out)
	}
	return true, nil
}

func (m *Manager) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// authURL embeds an access token into an https remote. Non-https remotes
// and local paths are returned unchanged.
func authURL(repoURL, token string) (string, error) {
	if token == "" || !strings.HasPrefix(repoURL, "https://") {
		return repoURL, nil
	}
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", fmt.Errorf("parse repo url: %w", err)
	}
	u.User = url.UserPassword("oauth2", token)
	return u.String(), nil
}
