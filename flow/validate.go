package flow

import (
	"fmt"

	"github.com/c360studio/flowrunner/operation"
)

// Validate checks flow structure before anything starts: unique names,
// resolvable branch targets and plugins, kind-specific rules. Failures
// are fatal; the flow does not run.
func Validate(f *Flow, registry *operation.Registry) error {
	if f.Name == "" {
		return fmt.Errorf("%w: name is required", ErrConfig)
	}
	switch f.Kind {
	case KindAction, KindStream, KindCron:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrConfig, f.Kind)
	}
	if f.Kind == KindStream && len(f.Sources) == 0 {
		return fmt.Errorf("%w: stream flow %q needs at least one source", ErrConfig, f.Name)
	}
	if f.Kind == KindCron && f.Schedule == "" {
		return fmt.Errorf("%w: cron flow %q needs a schedule", ErrConfig, f.Name)
	}

	names := map[string]bool{}
	claim := func(kind, name string) error {
		if name == "" {
			return fmt.Errorf("%w: unnamed %s in flow %q", ErrConfig, kind, f.Name)
		}
		if names[name] {
			return fmt.Errorf("%w: duplicate stage name %q", ErrConfig, name)
		}
		names[name] = true
		return nil
	}

	for _, src := range f.Sources {
		if err := claim("source", src.Name); err != nil {
			return err
		}
		if err := checkPlugin(registry, src.Plugin, "source", src.Name); err != nil {
			return err
		}
	}
	for _, sink := range f.Sinks {
		if err := claim("sink", sink.Name); err != nil {
			return err
		}
		if err := checkPlugin(registry, sink.Plugin, "sink", sink.Name); err != nil {
			return err
		}
	}

	jobNames := map[string]bool{}
	for _, job := range f.Jobs {
		if err := claim("job", job.Name); err != nil {
			return err
		}
		jobNames[job.Name] = true
	}

	for _, job := range f.Jobs {
		if err := validateJob(f, job, registry, jobNames); err != nil {
			return err
		}
	}
	return nil
}

func validateJob(f *Flow, job *Job, registry *operation.Registry, jobNames map[string]bool) error {
	taskNames := map[string]bool{}
	for _, task := range job.Tasks {
		if task.Name == "" {
			return fmt.Errorf("%w: unnamed task in job %q", ErrConfig, job.Name)
		}
		if taskNames[task.Name] {
			return fmt.Errorf("%w: duplicate task %q in job %q", ErrConfig, task.Name, job.Name)
		}
		taskNames[task.Name] = true
		if err := checkPlugin(registry, task.Plugin, "task", task.Name); err != nil {
			return err
		}
	}

	checkRef := func(field, name string) error {
		if name != "" && !taskNames[name] {
			return fmt.Errorf("%w: job %q %s references unknown task %q", ErrConfig, job.Name, field, name)
		}
		return nil
	}
	if err := checkRef("start", job.Start); err != nil {
		return err
	}
	for _, task := range job.Tasks {
		if err := checkRef("on_success", task.OnSuccess); err != nil {
			return err
		}
		if err := checkRef("on_failure", task.OnFailure); err != nil {
			return err
		}
	}
	for _, name := range job.TaskList {
		if err := checkRef("task_list", name); err != nil {
			return err
		}
	}
	for _, dep := range job.DependsOn {
		if !jobNames[dep] {
			return fmt.Errorf("%w: job %q depends on unknown job %q", ErrConfig, job.Name, dep)
		}
		if dep == job.Name {
			return fmt.Errorf("%w: job %q depends on itself", ErrConfig, job.Name)
		}
	}
	return nil
}

func checkPlugin(registry *operation.Registry, plugin, kind, name string) error {
	if plugin == "" {
		return fmt.Errorf("%w: %s %q has no plugin", ErrConfig, kind, name)
	}
	if registry != nil && !registry.Has(plugin) {
		return fmt.Errorf("%w: %s %q uses unregistered plugin %q", ErrConfig, kind, name, plugin)
	}
	return nil
}
