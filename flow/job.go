package flow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/c360studio/flowrunner/message"
	"github.com/c360studio/flowrunner/metrics"
	"github.com/c360studio/flowrunner/template"
)

// JobRunner executes one job: a message pump in streaming mode, a
// single pass in action mode. Messages to the same job are processed
// one at a time, so status/result/context update monotonically per
// message; distinct UUIDs are serialised by the receive loop.
type JobRunner struct {
	Job       *Job
	Variables map[string]any
	Executor  *TaskExecutor
	Cache     *ResultsCache
	Inbound   *message.Chan
	Outbound  []*message.Chan
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Run is the streaming message pump. It returns nil when the inbound
// channel closes or the context is cancelled.
func (r *JobRunner) Run(ctx context.Context) error {
	logger := r.Logger.With("job", r.Job.Name)
	logger.Info("Job started", "depends_on", r.Job.DependsOn, "tasks", len(r.Job.Tasks))

	state := newJobState(r.Variables, nil)
	for {
		msg, err := r.Inbound.Recv(ctx)
		if err != nil {
			if errors.Is(err, message.ErrClosed) {
				logger.Info("Job inbound closed, exiting")
				return nil
			}
			if ctx.Err() != nil {
				logger.Info("Job cancelled")
				return nil
			}
			return err
		}
		r.Metrics.MessageReceived(r.Job.Name)

		if msg.Kind != message.KindJSONWithSender {
			logger.Warn("Skipping message without sender identity", "kind", msg.Kind)
			continue
		}
		r.processMessage(ctx, state, msg, logger)
	}
}

func (r *JobRunner) processMessage(ctx context.Context, state *jobState, msg message.Message, logger *slog.Logger) {
	start := time.Now()
	state.reset()
	state.context["msg_id"] = map[string]any{
		"uuid":   msg.UUID,
		"sender": msg.Sender,
		"source": msg.Source,
		"data":   msg.Value,
	}

	if len(r.Job.DependsOn) > 0 {
		deps, ok := r.waitForDependencies(ctx, msg.UUID)
		if !ok {
			logger.Warn("Dependency wait timed out, skipping message",
				"uuid", msg.UUID,
				"depends_on", r.Job.DependsOn,
				"timeout", r.Job.WaitTimeout())
			r.Metrics.DependencyTimeout(r.Job.Name)
			return
		}
		state.context["job_results"] = deps
	}

	if r.shouldRun(state, logger) {
		r.runTasks(ctx, state)
	}

	outcome := JobOutcome{Status: string(state.status), Result: state.result}
	r.Cache.Put(msg.UUID, r.Job.Name, outcome)

	reply := message.NewWithSender(msg.UUID, r.Job.Name, "", state.result)
	delivered := message.Broadcast(ctx, logger, r.Outbound, reply)
	for i := 0; i < delivered; i++ {
		r.Metrics.MessageEmitted(r.Job.Name)
	}
	r.Metrics.ObserveJobDuration(r.Job.Name, time.Since(start))
}

// shouldRun evaluates the job condition. A broken condition skips the
// tasks but the (empty) result is still cached and forwarded.
func (r *JobRunner) shouldRun(state *jobState, logger *slog.Logger) bool {
	if r.Job.If == "" {
		return true
	}
	rendered, err := template.Render(r.Job.If, state.context)
	if err != nil {
		logger.Warn("Job condition render failed, skipping tasks", "error", err)
		return false
	}
	ok, err := template.EvalBool(rendered, state.context)
	if err != nil {
		logger.Warn("Job condition evaluation failed, skipping tasks", "error", err)
		return false
	}
	if !ok {
		logger.Debug("Job skipped by condition", "condition", r.Job.If)
	}
	return ok
}

// waitForDependencies polls the results cache until every dependency
// has an entry for uuid, the timeout elapses or the context ends. Once
// satisfied it merges the whole cache entry, so every job's outcome for
// this message is visible in job_results, not just the dependencies.
func (r *JobRunner) waitForDependencies(ctx context.Context, uuid string) (map[string]any, bool) {
	deadline := time.Now().Add(r.Job.WaitTimeout())
	for {
		if _, ok := r.Cache.Lookup(uuid, r.Job.DependsOn); ok {
			outcomes, _ := r.Cache.Get(uuid)
			deps := make(map[string]any, len(outcomes))
			for job, outcome := range outcomes {
				deps[job] = outcome.ToMap()
			}
			return deps, true
		}
		if time.Now().After(deadline) {
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(r.Job.WaitInterval()):
		}
	}
}

// runTasks walks the task graph. An explicit task_list runs the named
// tasks in order without branching; otherwise the walk starts at start
// (or the first task) and follows on_success/on_failure edges.
func (r *JobRunner) runTasks(ctx context.Context, state *jobState) {
	if len(r.Job.TaskList) > 0 {
		for _, name := range r.Job.TaskList {
			task := r.Job.TaskByName(name)
			if task == nil {
				r.Logger.Warn("Task in task_list not found", "job", r.Job.Name, "task", name)
				continue
			}
			r.Executor.Execute(ctx, r.Job.Name, state, task)
		}
		return
	}

	if len(r.Job.Tasks) == 0 {
		return
	}
	current := r.Job.Start
	if current == "" {
		current = r.Job.Tasks[0].Name
	}
	for current != "" {
		task := r.Job.TaskByName(current)
		if task == nil {
			r.Logger.Warn("Branch target not found, terminating", "job", r.Job.Name, "task", current)
			return
		}
		current = r.Executor.Execute(ctx, r.Job.Name, state, task)
	}
}

// RunOnce executes the job a single time with no message pump, caching
// or emission. Used by action flows and cron fires. jobResults carries
// the outcomes of jobs already run in the same invocation.
func (r *JobRunner) RunOnce(ctx context.Context, userPayload any, jobResults map[string]any) JobOutcome {
	start := time.Now()
	state := newJobState(r.Variables, userPayload)
	if len(jobResults) > 0 {
		state.context["job_results"] = jobResults
	}

	if r.shouldRun(state, r.Logger.With("job", r.Job.Name)) {
		r.runTasks(ctx, state)
	}

	r.Metrics.ObserveJobDuration(r.Job.Name, time.Since(start))
	return JobOutcome{Status: string(state.status), Result: state.result}
}
