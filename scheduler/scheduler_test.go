package scheduler

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/flowrunner/flow"
	"github.com/c360studio/flowrunner/message"
	"github.com/c360studio/flowrunner/operation"
	"github.com/c360studio/flowrunner/store"
)

// tickOp counts runs.
type tickOp struct {
	operation.Base
	fires *atomic.Int32
}

func (o *tickOp) Metadata() operation.Metadata {
	return operation.Metadata{Name: "tick", Version: "0.0.0"}
}
func (o *tickOp) Validate(params map[string]any) error { return nil }
func (o *tickOp) SetDatastore(store.Store)             {}
func (o *tickOp) Run(context.Context, string, []*message.Chan, []*message.Chan) operation.Result {
	o.fires.Add(1)
	return operation.Ok(nil)
}

func writeFlow(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

const everySecondFlow = `
name: ticker
kind: cron
schedule: "* * * * * *"
jobs:
  - name: main
    tasks:
      - name: t1
        plugin: tick
`

func newScheduler(t *testing.T, dir string) (*Scheduler, *atomic.Int32) {
	t.Helper()
	var fires atomic.Int32
	reg := operation.NewRegistry(slog.Default())
	reg.Register("tick", func() operation.Operation {
		return &tickOp{fires: &fires}
	})
	orch := flow.NewOrchestrator(reg, slog.Default(), nil)
	return New(dir, orch, slog.Default()), &fires
}

func TestSchedulerFires(t *testing.T) {
	dir := t.TempDir()
	writeFlow(t, dir, "ticker.yaml", everySecondFlow)
	writeFlow(t, dir, "manual.yaml", `
name: manual
kind: action
jobs:
  - name: main
    tasks:
      - name: t1
        plugin: tick
`)

	s, fires := newScheduler(t, dir)
	require.NoError(t, s.Start(context.Background()))
	defer func() { require.NoError(t, s.Stop()) }()

	assert.Equal(t, []string{"ticker"}, s.Flows(), "only cron flows are scheduled")
	require.Eventually(t, func() bool {
		return fires.Load() >= 1
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSchedulerRejectsDoubleStart(t *testing.T) {
	dir := t.TempDir()
	writeFlow(t, dir, "ticker.yaml", everySecondFlow)

	s, _ := newScheduler(t, dir)
	require.NoError(t, s.Start(context.Background()))
	defer func() { require.NoError(t, s.Stop()) }()

	assert.Error(t, s.Start(context.Background()))
}

func TestSchedulerReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeFlow(t, dir, "ticker.yaml", everySecondFlow)

	s, _ := newScheduler(t, dir)
	require.NoError(t, s.Start(context.Background()))
	defer func() { require.NoError(t, s.Stop()) }()

	writeFlow(t, dir, "hourly.yaml", `
name: hourly
kind: cron
schedule: "0 0 * * * *"
jobs:
  - name: main
    tasks:
      - name: t1
        plugin: tick
`)

	require.Eventually(t, func() bool {
		flows := s.Flows()
		return len(flows) == 2 && flows[0] == "hourly"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSchedulerBadSchedule(t *testing.T) {
	dir := t.TempDir()
	writeFlow(t, dir, "bad.yaml", `
name: bad
kind: cron
schedule: "not a schedule"
jobs: []
`)

	s, _ := newScheduler(t, dir)
	assert.Error(t, s.Start(context.Background()))
}

func TestSchedulerKeepsScheduleOnBadReload(t *testing.T) {
	dir := t.TempDir()
	writeFlow(t, dir, "ticker.yaml", everySecondFlow)

	s, _ := newScheduler(t, dir)
	require.NoError(t, s.Start(context.Background()))
	defer func() { require.NoError(t, s.Stop()) }()

	writeFlow(t, dir, "broken.yaml", "jobs: [\n")
	time.Sleep(2 * reloadDebounce)
	assert.Equal(t, []string{"ticker"}, s.Flows(), "a broken file must not clear the schedule")
}

func TestSchedulerStopIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeFlow(t, dir, "ticker.yaml", everySecondFlow)

	s, _ := newScheduler(t, dir)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}
