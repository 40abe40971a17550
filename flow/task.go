package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/c360studio/flowrunner/metrics"
	"github.com/c360studio/flowrunner/operation"
	"github.com/c360studio/flowrunner/store"
	"github.com/c360studio/flowrunner/template"
)

// jobState is the mutable per-job execution state exposed to templates
// as the context tree: {variables, msg_id, result, register,
// job_results, user_payload}.
type jobState struct {
	status  operation.Status
	result  map[string]any
	context map[string]any
}

func newJobState(variables map[string]any, userPayload any) *jobState {
	if variables == nil {
		variables = map[string]any{}
	}
	s := &jobState{
		status: operation.StatusOk,
		result: map[string]any{},
		context: map[string]any{
			"variables": variables,
			"register":  map[string]any{},
		},
	}
	s.context["result"] = s.result
	if userPayload != nil {
		s.context["user_payload"] = userPayload
	}
	return s
}

// reset clears the per-message state: status, result and the ephemeral
// context keys. Variables survive.
func (s *jobState) reset() {
	s.status = operation.StatusOk
	s.result = map[string]any{}
	s.context["result"] = s.result
	s.context["register"] = map[string]any{}
	delete(s.context, "msg_id")
	delete(s.context, "job_results")
	delete(s.context, "user_payload")
}

// TaskExecutor runs a single task against a job's state: condition gate,
// loop expansion, parameter rendering, operation invocation, result
// aggregation, register update and success/failure branching.
type TaskExecutor struct {
	Registry  *operation.Registry
	Datastore store.Store
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Execute runs task and returns the name of the next task, or "" to
// terminate the walk. Failures update state.status and branch to
// on_failure.
func (e *TaskExecutor) Execute(ctx context.Context, sender string, state *jobState, task *Task) string {
	logger := e.Logger.With("task", task.Name, "plugin", task.Plugin)

	if task.If != "" {
		rendered, err := template.Render(task.If, state.context)
		if err != nil {
			return e.fail(state, task, fmt.Errorf("render condition: %w", err))
		}
		ok, err := template.EvalBool(rendered, state.context)
		if err != nil {
			return e.fail(state, task, fmt.Errorf("evaluate condition: %w", err))
		}
		if !ok {
			logger.Debug("Task skipped by condition", "condition", task.If)
			return task.OnSuccess
		}
	}

	if !e.Registry.Has(task.Plugin) {
		return e.fail(state, task, fmt.Errorf("%w: %q", operation.ErrNotRegistered, task.Plugin))
	}

	items, looped, err := expandLoop(task, state.context)
	if err != nil {
		return e.fail(state, task, err)
	}

	results := make([]operation.Result, 0, len(items))
	for i, item := range items {
		iterCtx := state.context
		if looped {
			iterCtx = make(map[string]any, len(state.context)+2)
			for k, v := range state.context {
				iterCtx[k] = v
			}
			iterCtx["loop_item"] = item
			iterCtx["loop_index"] = i
		}

		res := e.runOnce(ctx, sender, task, iterCtx)
		results = append(results, res)
		e.Metrics.TaskExecution(task.Name, string(res.Status))

		if task.LoopTempoMS > 0 && i < len(items)-1 {
			select {
			case <-ctx.Done():
				return e.fail(state, task, ctx.Err())
			case <-time.After(time.Duration(task.LoopTempoMS) * time.Millisecond):
			}
		}
	}

	agg := aggregate(results, looped)
	state.result[task.Name] = agg.ToMap()

	if len(task.Register) > 0 {
		regs, err := template.RenderRegister(task.Register, state.context)
		if err != nil {
			logger.Warn("Register rendering failed", "error", err)
			state.status = operation.StatusKo
			return task.OnFailure
		}
		register := state.context["register"].(map[string]any)
		for name, value := range regs {
			register[name] = value
		}
	}

	if agg.Status == operation.StatusOk {
		return task.OnSuccess
	}
	logger.Warn("Task failed", "error", agg.Error)
	state.status = operation.StatusKo
	return task.OnFailure
}

// runOnce renders params and performs a single operation invocation.
func (e *TaskExecutor) runOnce(ctx context.Context, sender string, task *Task, iterCtx map[string]any) (res operation.Result) {
	// The contract says operations never panic; hold the line anyway so
	// one bad operation cannot take the whole flow down.
	defer func() {
		if r := recover(); r != nil {
			e.Logger.Error("Operation panicked",
				"plugin", task.Plugin,
				"panic", r,
				"stack", string(debug.Stack()))
			res = operation.Kof(fmt.Sprintf("operation %s panicked: %v", task.Plugin, r))
		}
	}()

	params, err := template.RenderMap(task.Params, iterCtx)
	if err != nil {
		return operation.Ko(fmt.Errorf("render params: %w", err))
	}

	op, err := e.Registry.New(task.Plugin)
	if err != nil {
		return operation.Ko(err)
	}
	if err := op.Validate(params); err != nil {
		return operation.Ko(fmt.Errorf("validate params: %w", err))
	}
	op.SetDatastore(e.Datastore)
	return op.Run(ctx, sender, nil, nil)
}

func (e *TaskExecutor) fail(state *jobState, task *Task, err error) string {
	e.Logger.Warn("Task failed", "task", task.Name, "error", err)
	state.result[task.Name] = operation.Ko(err).ToMap()
	state.status = operation.StatusKo
	e.Metrics.TaskExecution(task.Name, string(operation.StatusKo))
	return task.OnFailure
}

// expandLoop renders task.loop as a value template. No loop means one
// iteration; anything that does not render to an array is ErrBadLoop.
func expandLoop(task *Task, ctx map[string]any) ([]any, bool, error) {
	if task.Loop == nil {
		return []any{nil}, false, nil
	}
	rendered, err := template.RenderValue(task.Loop, ctx)
	if err != nil {
		return nil, false, fmt.Errorf("render loop: %w", err)
	}
	switch v := rendered.(type) {
	case []any:
		return v, true, nil
	case string:
		var arr []any
		if err := json.Unmarshal([]byte(v), &arr); err != nil {
			return nil, false, fmt.Errorf("%w: %q", ErrBadLoop, v)
		}
		return arr, true, nil
	default:
		return nil, false, fmt.Errorf("%w: rendered to %T", ErrBadLoop, rendered)
	}
}

// aggregate folds loop iteration results. A single iteration passes
// through; otherwise the wrapper status is Ok iff every iteration was
// Ok and output is the list of iteration results.
func aggregate(results []operation.Result, looped bool) operation.Result {
	if !looped || len(results) == 1 {
		if len(results) == 0 {
			return operation.Ok(nil)
		}
		return results[0]
	}
	status := operation.StatusOk
	output := make([]any, len(results))
	for i, res := range results {
		if res.Status != operation.StatusOk {
			status = operation.StatusKo
		}
		output[i] = res.ToMap()
	}
	return operation.Result{Status: status, Error: "", Output: output}
}
