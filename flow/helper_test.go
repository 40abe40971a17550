package flow

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/c360studio/flowrunner/message"
	"github.com/c360studio/flowrunner/operation"
	"github.com/c360studio/flowrunner/store"
)

// fakeOp records invocations and answers with a canned result.
type fakeOp struct {
	name      string
	runErr    string
	failWhen  func(params map[string]any) bool
	onRun     func(params map[string]any) operation.Result
	calls     *callLog
	params    map[string]any
	datastore store.Store
}

type callLog struct {
	mu     sync.Mutex
	params []map[string]any
}

func (l *callLog) record(p map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.params = append(l.params, p)
}

func (l *callLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.params)
}

func (l *callLog) at(i int) map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.params[i]
}

func (f *fakeOp) Metadata() operation.Metadata {
	return operation.Metadata{Name: f.name, Version: "0.0.0"}
}

func (f *fakeOp) Validate(params map[string]any) error {
	f.params = params
	return nil
}

func (f *fakeOp) Run(context.Context, string, []*message.Chan, []*message.Chan) operation.Result {
	if f.calls != nil {
		f.calls.record(f.params)
	}
	if f.onRun != nil {
		return f.onRun(f.params)
	}
	if f.runErr != "" {
		return operation.Kof(f.runErr)
	}
	if f.failWhen != nil && f.failWhen(f.params) {
		return operation.Kof("requested failure")
	}
	return operation.Ok(map[string]any{"echo": f.params})
}

func (f *fakeOp) SetDatastore(s store.Store) { f.datastore = s }

func testRegistry(t *testing.T, ops map[string]*callLog) *operation.Registry {
	t.Helper()
	reg := operation.NewRegistry(slog.Default())
	for name, log := range ops {
		name, log := name, log
		reg.Register(name, func() operation.Operation {
			return &fakeOp{name: name, calls: log}
		})
	}
	return reg
}

func testExecutor(t *testing.T, reg *operation.Registry) *TaskExecutor {
	t.Helper()
	return &TaskExecutor{
		Registry: reg,
		Logger:   slog.Default(),
	}
}
