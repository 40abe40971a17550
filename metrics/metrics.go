// Package metrics exposes the runtime's Prometheus instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the collectors shared by the orchestrator, jobs and
// the scheduler. All methods are nil-safe so instrumentation stays
// optional in tests.
type Metrics struct {
	Registry *prometheus.Registry

	flowRuns           *prometheus.CounterVec
	messagesReceived   *prometheus.CounterVec
	messagesEmitted    *prometheus.CounterVec
	taskExecutions     *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	dependencyTimeouts *prometheus.CounterVec
}

// New creates a Metrics set on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		flowRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowrunner_flow_runs_total",
			Help: "Flow invocations by flow name and status.",
		}, []string{"flow", "status"}),
		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowrunner_messages_received_total",
			Help: "Messages received per stage.",
		}, []string{"stage"}),
		messagesEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowrunner_messages_emitted_total",
			Help: "Messages emitted per stage.",
		}, []string{"stage"}),
		taskExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowrunner_task_executions_total",
			Help: "Task executions by task name and status.",
		}, []string{"task", "status"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowrunner_job_duration_seconds",
			Help:    "Per-message job execution duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		dependencyTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowrunner_dependency_timeouts_total",
			Help: "Dependency waits that exceeded their timeout.",
		}, []string{"job"}),
	}
}

// FlowRun counts one flow invocation.
func (m *Metrics) FlowRun(flow, status string) {
	if m == nil {
		return
	}
	m.flowRuns.WithLabelValues(flow, status).Inc()
}

// MessageReceived counts one inbound message for a stage.
func (m *Metrics) MessageReceived(stage string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(stage).Inc()
}

// MessageEmitted counts one outbound message for a stage.
func (m *Metrics) MessageEmitted(stage string) {
	if m == nil {
		return
	}
	m.messagesEmitted.WithLabelValues(stage).Inc()
}

// TaskExecution counts one task run with its status.
func (m *Metrics) TaskExecution(task, status string) {
	if m == nil {
		return
	}
	m.taskExecutions.WithLabelValues(task, status).Inc()
}

// ObserveJobDuration records one per-message job execution.
func (m *Metrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

// DependencyTimeout counts one expired dependency wait.
func (m *Metrics) DependencyTimeout(job string) {
	if m == nil {
		return
	}
	m.dependencyTimeouts.WithLabelValues(job).Inc()
}
