// Package flow implements the execution engine: task executor, job
// runner, results cache and the orchestrator that wires sources, jobs
// and sinks together.
package flow

import (
	"time"

	"github.com/c360studio/flowrunner/store"
)

// Kind selects how a flow is invoked.
type Kind string

const (
	// KindAction runs the flow synchronously, once.
	KindAction Kind = "action"
	// KindStream runs sources, jobs and sinks as long-lived stages
	// connected by bounded channels.
	KindStream Kind = "stream"
	// KindCron runs the flow on a schedule, each fire as an action.
	KindCron Kind = "cron"
)

// Default channel and wait tuning.
const (
	DefaultChannelCapacity = 1024
	DefaultWaitInterval    = 500 * time.Millisecond
	DefaultWaitTimeout     = 30 * time.Second
)

// Flow is the top-level runnable unit described by a YAML file.
type Flow struct {
	Name            string         `yaml:"name" json:"name"`
	Kind            Kind           `yaml:"kind" json:"kind"`
	Schedule        string         `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	Variables       map[string]any `yaml:"variables,omitempty" json:"variables,omitempty"`
	Datastore       *store.Config  `yaml:"datastore,omitempty" json:"datastore,omitempty"`
	Sources         []Stage        `yaml:"sources,omitempty" json:"sources,omitempty"`
	Jobs            []*Job         `yaml:"jobs" json:"jobs"`
	Sinks           []Stage        `yaml:"sinks,omitempty" json:"sinks,omitempty"`
	UserPayload     any            `yaml:"user_payload,omitempty" json:"user_payload,omitempty"`
	ChannelCapacity int            `yaml:"channel_capacity,omitempty" json:"channel_capacity,omitempty"`
}

// Stage is a source or sink: a named operation connected to channel
// endpoints by the orchestrator.
type Stage struct {
	Name   string         `yaml:"name" json:"name"`
	Plugin string         `yaml:"plugin" json:"plugin"`
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// Job is a task graph executed per incoming message (stream) or once
// (action).
type Job struct {
	Name           string   `yaml:"name" json:"name"`
	If             string   `yaml:"if,omitempty" json:"if,omitempty"`
	Hosts          string   `yaml:"hosts,omitempty" json:"hosts,omitempty"`
	DependsOn      []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Start          string   `yaml:"start,omitempty" json:"start,omitempty"`
	Tasks          []*Task  `yaml:"tasks" json:"tasks"`
	TaskList       []string `yaml:"task_list,omitempty" json:"task_list,omitempty"`
	WaitIntervalMS int64    `yaml:"wait_interval_ms,omitempty" json:"wait_interval_ms,omitempty"`
	WaitTimeoutMS  int64    `yaml:"wait_timeout_ms,omitempty" json:"wait_timeout_ms,omitempty"`
}

// Task is a single node in the job graph invoking a named operation.
type Task struct {
	Name        string         `yaml:"name" json:"name"`
	If          string         `yaml:"if,omitempty" json:"if,omitempty"`
	Plugin      string         `yaml:"plugin" json:"plugin"`
	Params      map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
	Loop        any            `yaml:"loop,omitempty" json:"loop,omitempty"`
	LoopTempoMS int64          `yaml:"loop_tempo_ms,omitempty" json:"loop_tempo_ms,omitempty"`
	Register    map[string]any `yaml:"register,omitempty" json:"register,omitempty"`
	OnSuccess   string         `yaml:"on_success,omitempty" json:"on_success,omitempty"`
	OnFailure   string         `yaml:"on_failure,omitempty" json:"on_failure,omitempty"`
}

// TaskByName returns the named task, or nil.
func (j *Job) TaskByName(name string) *Task {
	for _, t := range j.Tasks {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// WaitInterval returns the dependency poll interval.
func (j *Job) WaitInterval() time.Duration {
	if j.WaitIntervalMS > 0 {
		return time.Duration(j.WaitIntervalMS) * time.Millisecond
	}
	return DefaultWaitInterval
}

// WaitTimeout returns the dependency wait deadline.
func (j *Job) WaitTimeout() time.Duration {
	if j.WaitTimeoutMS > 0 {
		return time.Duration(j.WaitTimeoutMS) * time.Millisecond
	}
	return DefaultWaitTimeout
}
