// Package scheduler runs cron-kind flows on their schedules. It scans
// the flow directory, registers each cron flow with a seconds-aware
// cron engine and reloads the schedule when flow files change.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/c360studio/flowrunner/config"
	"github.com/c360studio/flowrunner/flow"
)

const reloadDebounce = 500 * time.Millisecond

// Scheduler owns the cron engine and the flow-directory watcher.
type Scheduler struct {
	flowDir      string
	orchestrator *flow.Orchestrator
	logger       *slog.Logger

	mu      sync.Mutex
	running bool
	cron    *cron.Cron
	flows   []string
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a scheduler over flowDir.
func New(flowDir string, orchestrator *flow.Orchestrator, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		flowDir:      flowDir,
		orchestrator: orchestrator,
		logger:       logger.With("component", "scheduler"),
	}
}

// Start loads the schedule and begins firing. It returns immediately;
// fires run on the cron engine's goroutines until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	engine, names, err := s.buildCron(runCtx)
	if err != nil {
		cancel()
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(s.flowDir); err != nil {
		_ = watcher.Close()
		cancel()
		return fmt.Errorf("watch %s: %w", s.flowDir, err)
	}

	s.cron = engine
	s.flows = names
	s.watcher = watcher
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	engine.Start()
	go s.watch(runCtx)

	s.logger.Info("Scheduler started", "flow_dir", s.flowDir, "cron_flows", len(names))
	return nil
}

// Stop halts the cron engine and the watcher, waiting for in-flight
// fires to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	engine := s.cron
	watcher := s.watcher
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	_ = watcher.Close()
	<-done
	<-engine.Stop().Done()
	s.logger.Info("Scheduler stopped")
	return nil
}

// Flows reports the names of the scheduled cron flows.
func (s *Scheduler) Flows() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.flows...)
}

// buildCron loads the flow directory and registers every cron flow.
func (s *Scheduler) buildCron(ctx context.Context) (*cron.Cron, []string, error) {
	flows, err := config.LoadFlowDir(s.flowDir)
	if err != nil {
		return nil, nil, err
	}

	engine := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cronLogger{s.logger})),
	)
	var names []string
	for _, f := range flows {
		if f.Kind != flow.KindCron {
			continue
		}
		f := f
		if _, err := engine.AddFunc(f.Schedule, func() { s.fire(ctx, f) }); err != nil {
			return nil, nil, fmt.Errorf("flow %q schedule %q: %w", f.Name, f.Schedule, err)
		}
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return engine, names, nil
}

// fire runs one cron invocation as an action flow.
func (s *Scheduler) fire(ctx context.Context, f *flow.Flow) {
	start := time.Now()
	s.logger.Info("Cron fire", "flow", f.Name)
	if _, err := s.orchestrator.RunAction(ctx, f, f.UserPayload); err != nil {
		s.logger.Error("Cron fire failed", "flow", f.Name, "error", err)
		return
	}
	s.logger.Info("Cron fire done", "flow", f.Name, "duration", time.Since(start))
}

// watch reloads the schedule when flow files change. Events are
// debounced; editors tend to emit bursts.
func (s *Scheduler) watch(ctx context.Context) {
	defer close(s.done)

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			switch filepath.Ext(event.Name) {
			case ".yaml", ".yml":
			default:
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("Watcher error", "error", err)
		case <-timerC:
			timer = nil
			timerC = nil
			s.reload(ctx)
		}
	}
}

func (s *Scheduler) reload(ctx context.Context) {
	engine, names, err := s.buildCron(ctx)
	if err != nil {
		s.logger.Error("Schedule reload failed, keeping previous schedule", "error", err)
		return
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	old := s.cron
	s.cron = engine
	s.flows = names
	s.mu.Unlock()

	old.Stop()
	engine.Start()
	s.logger.Info("Schedule reloaded", "cron_flows", len(names))
}

// cronLogger adapts slog to the cron engine's logger contract; it only
// receives panic reports through the Recover chain.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
