// Package operation defines the contract every pluggable unit of work
// obeys and the process-wide registry they are loaded into.
package operation

import (
	"context"

	"github.com/c360studio/flowrunner/message"
	"github.com/c360studio/flowrunner/store"
)

// Status is the outcome of an operation run.
type Status string

const (
	// StatusOk marks a successful run.
	StatusOk Status = "Ok"
	// StatusKo marks a failed run.
	StatusKo Status = "Ko"
)

// Result is the structured outcome of a run. Output is the JSON value
// exposed to templates; a looped task aggregates iteration outputs into
// a list. Operations never panic: every failure is StatusKo plus Error.
type Result struct {
	Status Status `json:"status"`
	Error  string `json:"error"`
	Output any    `json:"output"`
}

// Ok builds a successful result carrying output.
func Ok(output any) Result {
	return Result{Status: StatusOk, Output: output}
}

// Ko builds a failed result from err.
func Ko(err error) Result {
	return Result{Status: StatusKo, Error: err.Error()}
}

// Kof builds a failed result from a message.
func Kof(msg string) Result {
	return Result{Status: StatusKo, Error: msg}
}

// ToMap converts a result into the plain JSON tree cached per job and
// exposed to templates.
func (r Result) ToMap() map[string]any {
	return map[string]any{
		"status": string(r.Status),
		"error":  r.Error,
		"output": r.Output,
	}
}

// Metadata identifies an operation in the registry.
type Metadata struct {
	Name        string
	Version     string
	Description string
	// Bidirectional marks source operations that consume replies from
	// downstream jobs on their inbound endpoint (request/response
	// sources). The orchestrator only wires job→source reply channels
	// for these.
	Bidirectional bool
}

// Operation is the uniform contract of every task, source and sink
// implementation.
type Operation interface {
	// Metadata reports name, version and description.
	Metadata() Metadata
	// Validate type-checks and normalises params. It is pure, called
	// once per invocation (or loop iteration), and keeps the normalised
	// params on the instance for the following Run.
	Validate(params map[string]any) error
	// Run performs the work. sender is the stage name used when
	// emitting messages; inbound and outbound are the stage's channel
	// endpoints (nil for plain tasks).
	Run(ctx context.Context, sender string, inbound, outbound []*message.Chan) Result
	// SetDatastore injects the shared datastore, when one is configured.
	SetDatastore(store.Store)
}
