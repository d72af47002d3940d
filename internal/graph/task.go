// internal/graph/task.go
package graph

import (
	"fmt"
	"sort"

	"github.com/fawad-mazhar/genoflow/internal/models"
	"github.com/fawad-mazhar/genoflow/internal/rule"
)

// Task is one node of the graph. Edges are back-references owned by the Graph.
//
// Scheduling fields (State, Attempts, SubmitFailures) are mutated only by the
// execution controller's decision step.
type Task struct {
	ID             int64
	Rule           rule.Rule
	Stage          string
	Tags           models.Tags
	State          models.TaskState
	Attempts       []*models.Attempt
	SubmitFailures int

	outputPaths map[string]string
	parents     []*Task
	children    []*Task
}

// Parents returns the direct parents in the order they were attached
func (t *Task) Parents() []*Task {
	out := make([]*Task, len(t.parents))
	copy(out, t.parents)
	return out
}

// Children returns the direct children ordered by id
func (t *Task) Children() []*Task {
	out := make([]*Task, len(t.children))
	copy(out, t.children)
	return out
}

// IsRoot reports whether the task has no parents
func (t *Task) IsRoot() bool { return len(t.parents) == 0 }

// DeclaredOutputs returns the output names the task's rule promises
func (t *Task) DeclaredOutputs() []string { return t.Rule.DeclaredOutputs() }

// OutputPath returns an explicitly set output path
func (t *Task) OutputPath(name string) (string, bool) {
	p, ok := t.outputPaths[name]
	return p, ok
}

// SetOutputPath pins an output to a concrete path
func (t *Task) SetOutputPath(name, path string) error {
	if !rule.Declares(t.Rule, name) {
		return fmt.Errorf("%w: %q is not declared by rule %s", ErrInvalidOutputName, name, t.Rule.Name())
	}
	if t.outputPaths == nil {
		t.outputPaths = make(map[string]string)
	}
	t.outputPaths[name] = path
	return nil
}

// LastAttempt returns the most recent attempt, or nil
func (t *Task) LastAttempt() *models.Attempt {
	if len(t.Attempts) == 0 {
		return nil
	}
	return t.Attempts[len(t.Attempts)-1]
}

func (t *Task) String() string {
	if len(t.Tags) == 0 {
		return fmt.Sprintf("%s[%d]", t.Rule.Name(), t.ID)
	}
	return fmt.Sprintf("%s[%d]{%s}", t.Rule.Name(), t.ID, t.Tags)
}

// Record converts the task into its persisted form
func (t *Task) Record(workflowID string) models.TaskRecord {
	parents := make([]int64, 0, len(t.parents))
	for _, p := range t.parents {
		parents = append(parents, p.ID)
	}
	paths := make(map[string]string, len(t.outputPaths))
	for k, v := range t.outputPaths {
		paths[k] = v
	}
	attempts := make([]models.Attempt, 0, len(t.Attempts))
	for _, a := range t.Attempts {
		attempts = append(attempts, *a)
	}
	return models.TaskRecord{
		ID:             t.ID,
		WorkflowID:     workflowID,
		Rule:           t.Rule.Name(),
		Stage:          t.Stage,
		Tags:           t.Tags.Clone(),
		OutputPaths:    paths,
		Parents:        parents,
		State:          t.State,
		SubmitFailures: t.SubmitFailures,
		Attempts:       attempts,
	}
}

func sortByID(tasks []*Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
}
