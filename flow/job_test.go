package flow

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/flowrunner/message"
	"github.com/c360studio/flowrunner/operation"
)

func startRunner(t *testing.T, r *JobRunner) *sync.WaitGroup {
	t.Helper()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		require.NoError(t, r.Run(context.Background()))
	}()
	return &wg
}

func TestJobStreamingProcessesMessage(t *testing.T) {
	calls := &callLog{}
	reg := testRegistry(t, map[string]*callLog{"echo": calls})

	cache := NewResultsCache(0, 0)
	defer cache.Close()

	inbound := message.NewChan("in", 8)
	outbound := message.NewChan("out", 8)

	runner := &JobRunner{
		Job: &Job{
			Name:  "job-1",
			Tasks: []*Task{{Name: "t1", Plugin: "echo", Params: map[string]any{"uuid": "{{ msg_id.uuid }}"}}},
		},
		Executor: testExecutor(t, reg),
		Cache:    cache,
		Inbound:  inbound,
		Outbound: []*message.Chan{outbound},
		Logger:   slog.Default(),
	}
	wg := startRunner(t, runner)

	ctx := context.Background()
	require.NoError(t, inbound.Send(ctx, message.NewWithSender("u-1", "src", "topic", map[string]any{"k": "v"})))

	reply, err := outbound.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, message.KindJSONWithSender, reply.Kind)
	assert.Equal(t, "u-1", reply.UUID, "uuid must be preserved across the hop")
	assert.Equal(t, "job-1", reply.Sender)

	// the cache entry exists before (or at latest when) the reply is emitted
	entry, ok := cache.Get("u-1")
	require.True(t, ok)
	assert.Equal(t, "Ok", entry["job-1"].Status)

	// msg_id was rendered into the params
	require.Equal(t, 1, calls.count())
	assert.Equal(t, "u-1", calls.at(0)["uuid"])

	inbound.Close()
	wg.Wait()
}

func TestJobSkipsAnonymousMessages(t *testing.T) {
	reg := testRegistry(t, map[string]*callLog{"echo": {}})
	cache := NewResultsCache(0, 0)
	defer cache.Close()

	inbound := message.NewChan("in", 8)
	runner := &JobRunner{
		Job:      &Job{Name: "job-1", Tasks: []*Task{{Name: "t1", Plugin: "echo"}}},
		Executor: testExecutor(t, reg),
		Cache:    cache,
		Inbound:  inbound,
		Logger:   slog.Default(),
	}
	wg := startRunner(t, runner)

	require.NoError(t, inbound.Send(context.Background(), message.NewJSON("anonymous")))
	inbound.Close()
	wg.Wait()

	assert.Zero(t, cache.Len())
}

func TestJobDependencyWait(t *testing.T) {
	t.Run("satisfied", func(t *testing.T) {
		calls := &callLog{}
		reg := testRegistry(t, map[string]*callLog{"echo": calls})
		cache := NewResultsCache(0, 0)
		defer cache.Close()

		inbound := message.NewChan("in", 8)
		outbound := message.NewChan("out", 8)
		runner := &JobRunner{
			Job: &Job{
				Name:           "B",
				DependsOn:      []string{"A"},
				WaitIntervalMS: 5,
				WaitTimeoutMS:  1000,
				Tasks: []*Task{{
					Name:   "t1",
					Plugin: "echo",
					Params: map[string]any{
						"upstream": "{{ job_results.A.status }}",
						"sibling":  "{{ job_results.C.status }}",
					},
				}},
			},
			Executor: testExecutor(t, reg),
			Cache:    cache,
			Inbound:  inbound,
			Outbound: []*message.Chan{outbound},
			Logger:   slog.Default(),
		}
		wg := startRunner(t, runner)

		ctx := context.Background()
		require.NoError(t, inbound.Send(ctx, message.NewWithSender("u-1", "src", "", nil)))

		// Let B block on the wait, then satisfy the dependency. C is not
		// a dependency but shares the UUID; its outcome must be merged too.
		cache.Put("u-1", "C", JobOutcome{Status: "Ok", Result: map[string]any{}})
		time.Sleep(20 * time.Millisecond)
		cache.Put("u-1", "A", JobOutcome{Status: "Ok", Result: map[string]any{}})

		_, err := outbound.Recv(ctx)
		require.NoError(t, err)

		entry, ok := cache.Get("u-1")
		require.True(t, ok)
		assert.Contains(t, entry, "A")
		assert.Contains(t, entry, "B")

		// B saw every cached outcome for the message in its context at
		// execution time, not only the declared dependency.
		require.Equal(t, 1, calls.count())
		assert.Equal(t, "Ok", calls.at(0)["upstream"])
		assert.Equal(t, "Ok", calls.at(0)["sibling"])

		inbound.Close()
		wg.Wait()
	})

	t.Run("timeout skips message", func(t *testing.T) {
		calls := &callLog{}
		reg := testRegistry(t, map[string]*callLog{"echo": calls})
		cache := NewResultsCache(0, 0)
		defer cache.Close()

		inbound := message.NewChan("in", 8)
		runner := &JobRunner{
			Job: &Job{
				Name:           "B",
				DependsOn:      []string{"A"},
				WaitIntervalMS: 5,
				WaitTimeoutMS:  30,
				Tasks:          []*Task{{Name: "t1", Plugin: "echo"}},
			},
			Executor: testExecutor(t, reg),
			Cache:    cache,
			Inbound:  inbound,
			Logger:   slog.Default(),
		}
		wg := startRunner(t, runner)

		require.NoError(t, inbound.Send(context.Background(), message.NewWithSender("u-1", "src", "", nil)))
		inbound.Close()
		wg.Wait()

		assert.Zero(t, calls.count(), "no tasks may run after a dependency timeout")
		_, ok := cache.Get("u-1")
		assert.False(t, ok, "a skipped message is not cached")
	})
}

func TestJobConditionGate(t *testing.T) {
	calls := &callLog{}
	reg := testRegistry(t, map[string]*callLog{"echo": calls})
	cache := NewResultsCache(0, 0)
	defer cache.Close()

	inbound := message.NewChan("in", 8)
	outbound := message.NewChan("out", 8)
	runner := &JobRunner{
		Job: &Job{
			Name:  "job-1",
			If:    "false",
			Tasks: []*Task{{Name: "t1", Plugin: "echo"}},
		},
		Executor: testExecutor(t, reg),
		Cache:    cache,
		Inbound:  inbound,
		Outbound: []*message.Chan{outbound},
		Logger:   slog.Default(),
	}
	wg := startRunner(t, runner)

	ctx := context.Background()
	require.NoError(t, inbound.Send(ctx, message.NewWithSender("u-1", "src", "", nil)))

	reply, err := outbound.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, reply.Value, "gated job still forwards its empty result")
	assert.Zero(t, calls.count())

	inbound.Close()
	wg.Wait()
}

func TestJobBranching(t *testing.T) {
	// t1 -> t2 (skipped by condition) -> t3
	calls := &callLog{}
	reg := testRegistry(t, map[string]*callLog{"echo": calls})
	runner := &JobRunner{
		Job: &Job{
			Name: "job-1",
			Tasks: []*Task{
				{Name: "t1", Plugin: "echo", OnSuccess: "t2"},
				{Name: "t2", Plugin: "echo", If: "false", OnSuccess: "t3"},
				{Name: "t3", Plugin: "echo"},
			},
		},
		Executor: testExecutor(t, reg),
		Logger:   slog.Default(),
	}

	outcome := runner.RunOnce(context.Background(), nil, nil)
	assert.Equal(t, "Ok", outcome.Status)
	assert.Contains(t, outcome.Result, "t1")
	assert.NotContains(t, outcome.Result, "t2")
	assert.Contains(t, outcome.Result, "t3")
}

func TestJobTaskListIgnoresBranching(t *testing.T) {
	calls := &callLog{}
	reg := testRegistry(t, map[string]*callLog{"echo": calls})
	runner := &JobRunner{
		Job: &Job{
			Name:     "job-1",
			TaskList: []string{"t3", "t1"},
			Tasks: []*Task{
				{Name: "t1", Plugin: "echo", OnSuccess: "t2"},
				{Name: "t2", Plugin: "echo"},
				{Name: "t3", Plugin: "echo"},
			},
		},
		Executor: testExecutor(t, reg),
		Logger:   slog.Default(),
	}

	outcome := runner.RunOnce(context.Background(), nil, nil)
	assert.Contains(t, outcome.Result, "t1")
	assert.Contains(t, outcome.Result, "t3")
	assert.NotContains(t, outcome.Result, "t2")
	assert.Equal(t, 2, calls.count())
}

func TestJobFailureWithoutOnFailureEndsJob(t *testing.T) {
	calls := &callLog{}
	reg := testRegistry(t, map[string]*callLog{"echo": calls})
	reg.Register("boom", func() operation.Operation {
		return &fakeOp{name: "boom", runErr: "exploded"}
	})
	runner := &JobRunner{
		Job: &Job{
			Name: "job-1",
			Tasks: []*Task{
				{Name: "t1", Plugin: "boom", OnSuccess: "t2"},
				{Name: "t2", Plugin: "echo"},
			},
		},
		Executor: testExecutor(t, reg),
		Logger:   slog.Default(),
	}

	outcome := runner.RunOnce(context.Background(), nil, nil)
	assert.Equal(t, "Ko", outcome.Status)
	assert.Contains(t, outcome.Result, "t1")
	assert.NotContains(t, outcome.Result, "t2")
	assert.Zero(t, calls.count())
}

func TestJobRunOncePayload(t *testing.T) {
	calls := &callLog{}
	reg := testRegistry(t, map[string]*callLog{"echo": calls})
	runner := &JobRunner{
		Job: &Job{
			Name: "job-1",
			Tasks: []*Task{{
				Name:   "t1",
				Plugin: "echo",
				Params: map[string]any{
					"who":      "{{ user_payload.who }}",
					"upstream": "{{ job_results.prev.status }}",
				},
			}},
		},
		Executor: testExecutor(t, reg),
		Logger:   slog.Default(),
	}

	outcome := runner.RunOnce(context.Background(),
		map[string]any{"who": "caller"},
		map[string]any{"prev": map[string]any{"status": "Ok"}})
	assert.Equal(t, "Ok", outcome.Status)
	require.Equal(t, 1, calls.count())
	assert.Equal(t, "caller", calls.at(0)["who"])
	assert.Equal(t, "Ok", calls.at(0)["upstream"])
}
