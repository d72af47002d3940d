// internal/graph/restore.go
package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fawad-mazhar/genoflow/internal/models"
	"github.com/fawad-mazhar/genoflow/internal/rule"
)

// Records returns the persisted form of every task in id order
func (g *Graph) Records(workflowID string) []models.TaskRecord {
	tasks := g.Tasks()
	out := make([]models.TaskRecord, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Record(workflowID))
	}
	return out
}

// Restore rebuilds a graph from persisted records, keeping task ids, states
// and attempts. Rules are looked up in the registry; root records whose rule
// is not registered are treated as input data.
func Restore(records []models.TaskRecord, registry *rule.Registry) (*Graph, error) {
	sorted := make([]models.TaskRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	g := New()
	for _, rec := range sorted {
		r, err := registry.Get(rec.Rule)
		if err != nil {
			if !errors.Is(err, rule.ErrUnknownRule) || len(rec.Parents) > 0 {
				return nil, fmt.Errorf("task %d: %w", rec.ID, err)
			}
			outputs := make([]string, 0, len(rec.OutputPaths))
			for name := range rec.OutputPaths {
				outputs = append(outputs, name)
			}
			sort.Strings(outputs)
			r = rule.NewInput(rec.Rule, outputs...)
		}

		if _, exists := g.tasks[rec.ID]; exists {
			return nil, fmt.Errorf("duplicate task id %d", rec.ID)
		}

		t := &Task{
			ID:             rec.ID,
			Rule:           r,
			Stage:          rec.Stage,
			Tags:           rec.Tags.Clone(),
			State:          rec.State,
			SubmitFailures: rec.SubmitFailures,
		}
		if t.State == "" {
			t.State = models.TaskStatePending
		}
		if len(rec.OutputPaths) > 0 {
			t.outputPaths = make(map[string]string, len(rec.OutputPaths))
			for k, v := range rec.OutputPaths {
				t.outputPaths[k] = v
			}
		}
		for i := range rec.Attempts {
			a := rec.Attempts[i]
			t.Attempts = append(t.Attempts, &a)
		}
		for _, pid := range rec.Parents {
			p, ok := g.tasks[pid]
			if !ok {
				return nil, fmt.Errorf("task %d: %w: parent %d", rec.ID, ErrUnknownTask, pid)
			}
			t.parents = append(t.parents, p)
			p.children = append(p.children, t)
		}

		g.tasks[t.ID] = t
		g.order = append(g.order, t)
		if t.ID > g.nextID {
			g.nextID = t.ID
		}

		stageName := t.Stage
		if stageName == "" {
			stageName = r.Name()
			t.Stage = stageName
		}
		stage := g.byName[stageName]
		if stage == nil {
			stage = &Stage{Name: stageName}
			g.byName[stageName] = stage
			g.stages = append(g.stages, stage)
		}
		stage.Tasks = append(stage.Tasks, t)
	}

	return g, nil
}
