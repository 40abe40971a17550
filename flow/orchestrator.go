package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/flowrunner/message"
	"github.com/c360studio/flowrunner/metrics"
	"github.com/c360studio/flowrunner/operation"
	"github.com/c360studio/flowrunner/store"
	"github.com/c360studio/flowrunner/template"
)

// Orchestrator builds and runs flows. For stream flows it wires the
// topology (source→job and job→sink channels), spawns each stage as a
// goroutine and manages shutdown; for action flows it runs jobs
// sequentially and returns their results.
type Orchestrator struct {
	Registry        *operation.Registry
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
	ChannelCapacity int
	CacheTTL        time.Duration
	CacheMaxEntries int
}

// NewOrchestrator creates an orchestrator with default tuning.
func NewOrchestrator(registry *operation.Registry, logger *slog.Logger, m *metrics.Metrics) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		Registry:        registry,
		Logger:          logger,
		Metrics:         m,
		ChannelCapacity: DefaultChannelCapacity,
		CacheTTL:        5 * time.Minute,
		CacheMaxEntries: 10000,
	}
}

// Run executes the flow according to its kind. Cron flows run a single
// action pass; the scheduler drives the recurrence.
func (o *Orchestrator) Run(ctx context.Context, f *Flow) error {
	switch f.Kind {
	case KindStream:
		return o.RunStream(ctx, f)
	case KindAction, KindCron:
		_, err := o.RunAction(ctx, f, f.UserPayload)
		return err
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrConfig, f.Kind)
	}
}

// RunAction executes the flow's jobs sequentially, with no channels,
// and returns the per-job results map. Sources are ignored in action
// mode.
func (o *Orchestrator) RunAction(ctx context.Context, f *Flow, userPayload any) (map[string]any, error) {
	if err := Validate(f, o.Registry); err != nil {
		return nil, err
	}
	logger := o.Logger.With("flow", f.Name)

	datastore, err := o.openDatastore(f)
	if err != nil {
		o.Metrics.FlowRun(f.Name, string(operation.StatusKo))
		return nil, err
	}
	if datastore != nil {
		defer func() { _ = datastore.Close() }()
	}

	executor := &TaskExecutor{
		Registry:  o.Registry,
		Datastore: datastore,
		Logger:    logger,
		Metrics:   o.Metrics,
	}
	if userPayload == nil {
		userPayload = f.UserPayload
	}

	results := map[string]any{}
	flowStatus := operation.StatusOk
	for _, job := range f.Jobs {
		runner := &JobRunner{
			Job:       job,
			Variables: f.Variables,
			Executor:  executor,
			Logger:    logger,
			Metrics:   o.Metrics,
		}
		outcome := runner.RunOnce(ctx, userPayload, results)
		results[job.Name] = outcome.ToMap()
		if outcome.Status != string(operation.StatusOk) {
			flowStatus = operation.StatusKo
		}
	}

	o.Metrics.FlowRun(f.Name, string(flowStatus))
	logger.Info("Action flow finished", "status", flowStatus, "jobs", len(f.Jobs))
	return results, nil
}

// streamStage is one spawned source or sink with its endpoints.
type streamStage struct {
	stage    Stage
	op       operation.Operation
	inbound  []*message.Chan
	outbound []*message.Chan
}

// RunStream builds the topology, spawns every stage and blocks until
// the context is cancelled or a source fails fatally. Shutdown closes
// source outbounds first and lets downstream stages drain.
func (o *Orchestrator) RunStream(ctx context.Context, f *Flow) error {
	if err := Validate(f, o.Registry); err != nil {
		return err
	}
	logger := o.Logger.With("flow", f.Name)

	datastore, err := o.openDatastore(f)
	if err != nil {
		return err
	}
	if datastore != nil {
		defer func() { _ = datastore.Close() }()
	}

	cache := NewResultsCache(o.CacheTTL, o.CacheMaxEntries)
	defer cache.Close()

	capacity := f.ChannelCapacity
	if capacity <= 0 {
		capacity = o.ChannelCapacity
	}

	// Every source fans out to every job's inbound; every job fans out
	// to every sink plus the reply channel of request/response sources.
	jobInbound := make(map[string]*message.Chan, len(f.Jobs))
	for _, job := range f.Jobs {
		jobInbound[job.Name] = message.NewChan("job:"+job.Name, capacity)
	}
	jobInbounds := make([]*message.Chan, 0, len(f.Jobs))
	for _, job := range f.Jobs {
		jobInbounds = append(jobInbounds, jobInbound[job.Name])
	}

	baseCtx := map[string]any{"variables": f.Variables}

	sources, replies, err := o.buildSources(f, baseCtx, datastore, capacity)
	if err != nil {
		return err
	}
	sinks, sinkChans, err := o.buildSinks(f, baseCtx, datastore, capacity)
	if err != nil {
		return err
	}

	jobOutbound := make([]*message.Chan, 0, len(sinkChans)+len(replies))
	jobOutbound = append(jobOutbound, sinkChans...)
	jobOutbound = append(jobOutbound, replies...)

	executor := &TaskExecutor{
		Registry:  o.Registry,
		Datastore: datastore,
		Logger:    logger,
		Metrics:   o.Metrics,
	}

	var fatalMu sync.Mutex
	var fatal error
	recordFatal := func(err error) {
		fatalMu.Lock()
		if fatal == nil {
			fatal = err
		}
		fatalMu.Unlock()
	}

	sourceCtx, stopSources := context.WithCancel(ctx)
	defer stopSources()
	// Jobs and sinks drain after the sources stop, so they run on their
	// own cancellation chain.
	drainCtx, stopDrain := context.WithCancel(context.Background())
	defer stopDrain()

	var sinksWG sync.WaitGroup
	for _, s := range sinks {
		s := s
		sinksWG.Add(1)
		go func() {
			defer sinksWG.Done()
			res := s.op.Run(drainCtx, s.stage.Name, s.inbound, nil)
			if res.Status != operation.StatusOk {
				logger.Error("Sink finished with error", "sink", s.stage.Name, "error", res.Error)
			}
		}()
	}

	var jobsWG sync.WaitGroup
	for _, job := range f.Jobs {
		runner := &JobRunner{
			Job:       job,
			Variables: f.Variables,
			Executor:  executor,
			Cache:     cache,
			Inbound:   jobInbound[job.Name],
			Outbound:  jobOutbound,
			Logger:    logger,
			Metrics:   o.Metrics,
		}
		jobsWG.Add(1)
		go func() {
			defer jobsWG.Done()
			if err := runner.Run(drainCtx); err != nil {
				logger.Error("Job runner failed", "job", runner.Job.Name, "error", err)
			}
		}()
	}

	var sourcesWG sync.WaitGroup
	for _, s := range sources {
		s := s
		sourcesWG.Add(1)
		go func() {
			defer sourcesWG.Done()
			res := s.op.Run(sourceCtx, s.stage.Name, s.inbound, jobInbounds)
			if res.Status != operation.StatusOk {
				logger.Error("Source failed", "source", s.stage.Name, "error", res.Error)
				recordFatal(fmt.Errorf("source %s: %s", s.stage.Name, res.Error))
				stopSources()
			}
		}()
	}

	logger.Info("Stream flow running",
		"sources", len(sources),
		"jobs", len(f.Jobs),
		"sinks", len(sinks),
		"channel_capacity", capacity)

	// Shutdown sequence: stop sources, close reply channels (their only
	// consumers just exited, and jobs still draining the backlog must not
	// block on a reply send), close job inbounds, wait for the jobs to
	// drain, close sink channels, wait for sinks.
	sourcesWG.Wait()
	for _, ch := range replies {
		ch.Close()
	}
	for _, ch := range jobInbounds {
		ch.Close()
	}
	jobsWG.Wait()
	for _, ch := range sinkChans {
		ch.Close()
	}
	sinksWG.Wait()
	stopDrain()

	fatalMu.Lock()
	defer fatalMu.Unlock()
	if fatal != nil {
		o.Metrics.FlowRun(f.Name, string(operation.StatusKo))
		return fatal
	}
	o.Metrics.FlowRun(f.Name, string(operation.StatusOk))
	logger.Info("Stream flow stopped")
	return nil
}

// buildSources instantiates source operations and the reply channels of
// bidirectional (request/response) sources.
func (o *Orchestrator) buildSources(f *Flow, baseCtx map[string]any, datastore store.Store, capacity int) ([]streamStage, []*message.Chan, error) {
	var stages []streamStage
	var replies []*message.Chan
	for _, src := range f.Sources {
		op, err := o.prepareStage(src, baseCtx, datastore)
		if err != nil {
			return nil, nil, err
		}
		stage := streamStage{stage: src, op: op}
		if op.Metadata().Bidirectional {
			reply := message.NewChan("reply:"+src.Name, capacity)
			stage.inbound = []*message.Chan{reply}
			replies = append(replies, reply)
		}
		stages = append(stages, stage)
	}
	return stages, replies, nil
}

// buildSinks instantiates sink operations with one inbound channel each.
func (o *Orchestrator) buildSinks(f *Flow, baseCtx map[string]any, datastore store.Store, capacity int) ([]streamStage, []*message.Chan, error) {
	var stages []streamStage
	var chans []*message.Chan
	for _, sink := range f.Sinks {
		op, err := o.prepareStage(sink, baseCtx, datastore)
		if err != nil {
			return nil, nil, err
		}
		ch := message.NewChan("sink:"+sink.Name, capacity)
		stages = append(stages, streamStage{stage: sink, op: op, inbound: []*message.Chan{ch}})
		chans = append(chans, ch)
	}
	return stages, chans, nil
}

// prepareStage renders the stage params against the flow variables,
// instantiates the operation and validates it. Any failure here is a
// setup error and aborts the flow.
func (o *Orchestrator) prepareStage(s Stage, baseCtx map[string]any, datastore store.Store) (operation.Operation, error) {
	params, err := template.RenderMap(s.Params, baseCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: stage %q params: %v", ErrConfig, s.Name, err)
	}
	op, err := o.Registry.New(s.Plugin)
	if err != nil {
		return nil, fmt.Errorf("%w: stage %q: %v", ErrConfig, s.Name, err)
	}
	if err := op.Validate(params); err != nil {
		return nil, fmt.Errorf("%w: stage %q: %v", ErrConfig, s.Name, err)
	}
	op.SetDatastore(datastore)
	return op, nil
}

func (o *Orchestrator) openDatastore(f *Flow) (store.Store, error) {
	if f.Datastore == nil {
		return nil, nil
	}
	datastore, err := store.Open(*f.Datastore, o.Logger)
	if err != nil {
		return nil, fmt.Errorf("%w: open datastore: %v", ErrConfig, err)
	}
	return datastore, nil
}
