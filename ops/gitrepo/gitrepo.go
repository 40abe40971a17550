// Package gitrepo implements the git operation: clone, pull and
// checkout through the git binary, with URL and path validation.
package gitrepo

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/c360studio/flowrunner/message"
	"github.com/c360studio/flowrunner/operation"
)

// Name is the registry name of the operation.
const Name = "git"

const defaultTimeout = 120 * time.Second

// allowedProtocols defines the git URL protocols that are permitted for cloning.
var allowedProtocols = map[string]bool{
	"https": true,
	"git":   true,
	"ssh":   true,
}

// Op runs one git action per invocation.
type Op struct {
	operation.Base

	action  string
	url     string
	path    string
	ref     string
	depth   int
	timeout time.Duration
}

// Register adds the operation to reg.
func Register(reg *operation.Registry) {
	reg.Register(Name, func() operation.Operation { return &Op{} })
}

// Metadata implements operation.Operation.
func (o *Op) Metadata() operation.Metadata {
	return operation.Metadata{
		Name:        Name,
		Version:     "1.0.0",
		Description: "Clones, pulls and checks out git repositories",
	}
}

// Validate implements operation.Operation.
func (o *Op) Validate(params map[string]any) error {
	action, err := operation.RequiredString(params, "action")
	if err != nil {
		return err
	}
	path, err := operation.RequiredString(params, "path")
	if err != nil {
		return err
	}
	if err := validatePath(path); err != nil {
		return err
	}

	rawURL := operation.StringOr(params, "url", "")
	ref := operation.StringOr(params, "ref", "")
	switch action {
	case "clone":
		if rawURL == "" {
			return fmt.Errorf("param %q is required for clone", "url")
		}
		if err := validateGitURL(rawURL); err != nil {
			return err
		}
	case "pull":
	case "checkout":
		if ref == "" {
			return fmt.Errorf("param %q is required for checkout", "ref")
		}
	default:
		return fmt.Errorf("unknown action %q", action)
	}

	o.Params = params
	o.action = action
	o.url = rawURL
	o.path = path
	o.ref = ref
	o.depth = operation.IntOr(params, "depth", 0)
	o.timeout = operation.DurationOr(params, "timeout_seconds", defaultTimeout)
	return nil
}

// Run implements operation.Operation.
func (o *Op) Run(ctx context.Context, sender string, inbound, outbound []*message.Chan) operation.Result {
	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var args []string
	var dir string
	switch o.action {
	case "clone":
		args = []string{"clone"}
		if o.depth > 0 {
			args = append(args, "--depth", fmt.Sprintf("%d", o.depth))
		}
		if o.ref != "" {
			args = append(args, "--branch", o.ref)
		}
		args = append(args, o.url, o.path)
	case "pull":
		args = []string{"pull", "--ff-only"}
		dir = o.path
	case "checkout":
		args = []string{"checkout", o.ref}
		dir = o.path
	}
	if dir != "" {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
			return operation.Ko(fmt.Errorf("%s is not a git repository", dir))
		}
	}

	cmd := exec.CommandContext(runCtx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return operation.Result{
			Status: operation.StatusKo,
			Error:  fmt.Sprintf("git %s: %v: %s", o.action, err, strings.TrimSpace(stderr.String())),
			Output: map[string]any{"stderr": stderr.String()},
		}
	}

	return operation.Ok(map[string]any{
		"action": o.action,
		"path":   o.path,
		"stdout": stdout.String(),
		"stderr": stderr.String(),
	})
}

// validateGitURL validates that a git URL uses an allowed protocol.
func validateGitURL(rawURL string) error {
	// SSH shorthand (git@host:owner/repo.git)
	if strings.HasPrefix(rawURL, "git@") {
		return nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if !allowedProtocols[scheme] {
		return fmt.Errorf("protocol %q not allowed; must be https, git, or ssh", scheme)
	}
	return nil
}

// validatePath rejects relative traversal; git actions always get a
// concrete target directory.
func validatePath(path string) error {
	if strings.Contains(path, "..") {
		return fmt.Errorf("path traversal not allowed")
	}
	if filepath.Clean(path) == "/" {
		return fmt.Errorf("refusing to operate on the filesystem root")
	}
	return nil
}
