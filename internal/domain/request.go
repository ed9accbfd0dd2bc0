package domain

import (
	"fmt"
	"strings"
	"time"
)

type TaskSpec struct {
	Name         string                 `json:"name" yaml:"name"`
	Description  string                 `json:"description" yaml:"description"`
	Source       string                 `json:"source" yaml:"source"`
	SourceConfig map[string]interface{} `json:"source_config" yaml:"source_config"`
	Weight       float64                `json:"weight,omitempty" yaml:"weight,omitempty"`
	DependsOn    []string               `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

type CreateFlowRequest struct {
	Name             string     `json:"name" yaml:"name"`
	Description      string     `json:"description" yaml:"description"`
	Tasks            []TaskSpec `json:"tasks" yaml:"tasks"`
	ParallelWorkers  int        `json:"parallel_workers,omitempty" yaml:"parallel_workers,omitempty"`
	FailureTolerance *float64   `json:"failure_tolerance,omitempty" yaml:"failure_tolerance,omitempty"`
}

// Normalize fills default task names and weights in place.
func (r *CreateFlowRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	for i := range r.Tasks {
		t := &r.Tasks[i]
		t.Name = strings.TrimSpace(t.Name)
		t.Source = strings.ToLower(strings.TrimSpace(t.Source))
		if t.Name == "" {
			t.Name = fmt.Sprintf("%s-%d", t.Source, i+1)
		}
		if t.Weight == 0 {
			t.Weight = 1
		}
	}
}

// Validate checks the request shape. knownSource reports whether a source
// name has a registered backend.
func (r *CreateFlowRequest) Validate(knownSource func(string) bool) error {
	if r.Name == "" {
		return NewValidationError("flow name is required")
	}
	if len(r.Tasks) == 0 {
		return NewValidationError("flow %q has no tasks", r.Name)
	}
	if r.ParallelWorkers < 0 {
		return NewValidationError("parallel_workers must not be negative")
	}
	if r.FailureTolerance != nil && (*r.FailureTolerance < 0 || *r.FailureTolerance > 1) {
		return NewValidationError("failure_tolerance must be within [0, 1]")
	}

	names := make(map[string]int, len(r.Tasks))
	for i, t := range r.Tasks {
		if t.Source == "" {
			return NewValidationError("task %d: source is required", i)
		}
		if knownSource != nil && !knownSource(t.Source) {
			return NewValidationError("task %q: unknown source %q", t.Name, t.Source).
				WithDetail("source", t.Source)
		}
		if t.Weight < 0 {
			return NewValidationError("task %q: weight must not be negative", t.Name)
		}
		if _, dup := names[t.Name]; dup {
			return NewValidationError("duplicate task name %q", t.Name)
		}
		names[t.Name] = i
	}

	for _, t := range r.Tasks {
		for _, dep := range t.DependsOn {
			if dep == t.Name {
				return NewValidationError("task %q depends on itself", t.Name)
			}
			if _, ok := names[dep]; !ok {
				return NewValidationError("task %q depends on unknown task %q", t.Name, dep)
			}
		}
	}

	if cycle := findCycle(r.Tasks, names); cycle != "" {
		return NewValidationError("dependency cycle through task %q", cycle)
	}
	return nil
}

func findCycle(tasks []TaskSpec, index map[string]int) string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(tasks))

	var visit func(i int) string
	visit = func(i int) string {
		switch state[i] {
		case visiting:
			return tasks[i].Name
		case done:
			return ""
		}
		state[i] = visiting
		for _, dep := range tasks[i].DependsOn {
			if name := visit(index[dep]); name != "" {
				return name
			}
		}
		state[i] = done
		return ""
	}

	for i := range tasks {
		if name := visit(i); name != "" {
			return name
		}
	}
	return ""
}

// NewFlow builds a pending flow from a validated request. Dependencies are
// resolved from task names to task ids.
func NewFlow(r CreateFlowRequest, newID func() string, defaultWorkers int, now time.Time) *Flow {
	workers := r.ParallelWorkers
	if workers <= 0 {
		workers = defaultWorkers
	}

	flow := &Flow{
		ID:               newID(),
		Name:             r.Name,
		Description:      r.Description,
		Status:           FlowStatusPending,
		Tasks:            make([]*Task, 0, len(r.Tasks)),
		CreatedAt:        now,
		UpdatedAt:        now,
		Results:          []ResultRecord{},
		Logs:             []LogEntry{},
		ParallelWorkers:  workers,
		FailureTolerance: r.FailureTolerance,
		FailedTasks:      []string{},
		CompletedTasks:   []string{},
	}

	ids := make(map[string]string, len(r.Tasks))
	for _, spec := range r.Tasks {
		ids[spec.Name] = newID()
	}

	for _, spec := range r.Tasks {
		deps := make([]string, 0, len(spec.DependsOn))
		for _, d := range spec.DependsOn {
			deps = append(deps, ids[d])
		}
		flow.Tasks = append(flow.Tasks, &Task{
			ID:           ids[spec.Name],
			FlowID:       flow.ID,
			Name:         spec.Name,
			Description:  spec.Description,
			Source:       spec.Source,
			SourceConfig: spec.SourceConfig,
			Status:       TaskStatusPending,
			Weight:       spec.Weight,
			DependsOn:    deps,
		})
	}

	flow.AppendLog(now, LogLevelInfo, "", fmt.Sprintf("flow created with %d tasks", len(flow.Tasks)))
	return flow
}
