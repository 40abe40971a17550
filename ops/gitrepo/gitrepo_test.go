package gitrepo

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/flowrunner/operation"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		ok     bool
	}{
		{"clone https", map[string]any{"action": "clone", "url": "https://example.com/repo.git", "path": "/tmp/repo"}, true},
		{"clone ssh shorthand", map[string]any{"action": "clone", "url": "git@example.com:owner/repo.git", "path": "/tmp/repo"}, true},
		{"clone file protocol", map[string]any{"action": "clone", "url": "file:///etc", "path": "/tmp/repo"}, false},
		{"clone without url", map[string]any{"action": "clone", "path": "/tmp/repo"}, false},
		{"checkout without ref", map[string]any{"action": "checkout", "path": "/tmp/repo"}, false},
		{"checkout", map[string]any{"action": "checkout", "path": "/tmp/repo", "ref": "main"}, true},
		{"pull", map[string]any{"action": "pull", "path": "/tmp/repo"}, true},
		{"path traversal", map[string]any{"action": "pull", "path": "/tmp/../etc"}, false},
		{"root path", map[string]any{"action": "pull", "path": "/"}, false},
		{"unknown action", map[string]any{"action": "rebase", "path": "/tmp/repo"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Op{}).Validate(tt.params)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

// initRepo creates a local repository with one commit on main.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, args := range [][]string{
		{"init", "-b", "main"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "test"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		require.NoError(t, cmd.Run(), "git %v", args)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("hi\n"), 0644))
	for _, args := range [][]string{
		{"add", "."},
		{"commit", "-m", "initial"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		require.NoError(t, cmd.Run(), "git %v", args)
	}
	return dir
}

func TestCheckoutAndPull(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	repo := initRepo(t)

	op := &Op{}
	require.NoError(t, op.Validate(map[string]any{
		"action": "checkout",
		"path":   repo,
		"ref":    "main",
	}))
	res := op.Run(context.Background(), "test", nil, nil)
	assert.Equal(t, operation.StatusOk, res.Status, res.Error)
}

func TestPullOutsideRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	op := &Op{}
	require.NoError(t, op.Validate(map[string]any{
		"action": "pull",
		"path":   t.TempDir(),
	}))
	res := op.Run(context.Background(), "test", nil, nil)
	assert.Equal(t, operation.StatusKo, res.Status)
	assert.Contains(t, res.Error, "not a git repository")
}
