// Package shellcmd implements the shell operation: run a local command
// and capture its streams and exit code.
package shellcmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/c360studio/flowrunner/message"
	"github.com/c360studio/flowrunner/operation"
)

// Name is the registry name of the operation.
const Name = "shell"

const defaultTimeout = 60 * time.Second

// Op runs one command per invocation. No shell interpretation happens:
// cmd is the executable and args are passed verbatim.
type Op struct {
	operation.Base

	cmd     string
	args    []string
	dir     string
	env     map[string]string
	stdin   string
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
		Description: "Runs a local command and captures stdout, stderr and exit code",
	}
}

// Validate implements operation.Operation.
func (o *Op) Validate(params map[string]any) error {
	cmd, err := operation.RequiredString(params, "cmd")
	if err != nil {
		return err
	}

	o.Params = params
	o.cmd = cmd
	o.args = operation.StringList(params, "args")
	o.dir = operation.StringOr(params, "dir", "")
	o.env = operation.StringMap(params, "env")
	o.stdin = operation.StringOr(params, "stdin", "")
	o.timeout = operation.DurationOr(params, "timeout_seconds", defaultTimeout)
	return nil
}

// Run implements operation.Operation. A non-zero exit is Ko, with the
// captured streams still present in the output. Stdout that parses as
// JSON is decoded so downstream templates can address into it.
func (o *Op) Run(ctx context.Context, sender string, inbound, outbound []*message.Chan) operation.Result {
	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, o.cmd, o.args...)
	cmd.Dir = o.dir
	if len(o.env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range o.env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	if o.stdin != "" {
		cmd.Stdin = strings.NewReader(o.stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return operation.Ko(fmt.Errorf("run %s: %w", o.cmd, err))
		}
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return operation.Ko(fmt.Errorf("run %s: timed out after %s", o.cmd, o.timeout))
	}

	output := map[string]any{
		"stdout":    decodeStdout(stdout.String()),
		"stderr":    stderr.String(),
		"exit_code": float64(exitCode),
	}
	if exitCode != 0 {
		return operation.Result{
			Status: operation.StatusKo,
			Error:  fmt.Sprintf("%s exited with code %d", o.cmd, exitCode),
			Output: output,
		}
	}
	return operation.Ok(output)
}

// decodeStdout returns the parsed value when stdout is a JSON document,
// otherwise the trimmed text.
func decodeStdout(s string) any {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return trimmed
}
