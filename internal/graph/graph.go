// internal/graph/graph.go
package graph

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fawad-mazhar/genoflow/internal/models"
	"github.com/fawad-mazhar/genoflow/internal/rule"
)

var (
	ErrNoParent          = errors.New("task has no parent")
	ErrAmbiguousParent   = errors.New("task has more than one parent")
	ErrUnknownTask       = errors.New("unknown task")
	ErrForeignParent     = errors.New("parent does not belong to this graph")
	ErrInvalidOutputName = errors.New("invalid output name")
)

// Stage is the set of tasks produced by one combinator invocation
type Stage struct {
	Name  string
	Tasks []*Task
}

// NodeSpec describes a task to be created by AddStage
type NodeSpec struct {
	Rule        rule.Rule
	Tags        models.Tags
	Parents     []*Task
	OutputPaths map[string]string
}

// Graph owns every task of a workflow and the parent/child relation.
//
// Edges are only ever added from existing tasks to tasks being created, so the
// graph cannot contain a cycle.
type Graph struct {
	nextID int64

	mu     sync.RWMutex
	tasks  map[int64]*Task
	order  []*Task
	stages []*Stage
	byName map[string]*Stage
}

// New creates an empty task graph
func New() *Graph {
	return &Graph{
		tasks:  make(map[int64]*Task),
		byName: make(map[string]*Stage),
	}
}

func (g *Graph) allocateID() int64 {
	return atomic.AddInt64(&g.nextID, 1)
}

// AddStage creates one task per spec and attaches their parent edges.
// Every spec is validated before any task is inserted, so on error the graph
// is left unchanged.
func (g *Graph) AddStage(name string, specs []NodeSpec) (*Stage, []*Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, spec := range specs {
		if err := g.validateSpec(spec); err != nil {
			return nil, nil, fmt.Errorf("stage %s, task %d: %w", name, i, err)
		}
	}

	created := make([]*Task, 0, len(specs))
	for _, spec := range specs {
		created = append(created, g.insert(name, spec))
	}

	stage := g.byName[name]
	if stage == nil {
		stage = &Stage{Name: name}
		g.byName[name] = stage
		g.stages = append(g.stages, stage)
	}
	stage.Tasks = append(stage.Tasks, created...)

	return stage, created, nil
}

// CreateTask creates a single task in the stage named after its rule
func (g *Graph) CreateTask(r rule.Rule, tags models.Tags, parents []*Task) (*Task, error) {
	if r == nil {
		return nil, fmt.Errorf("rule is required")
	}
	_, created, err := g.AddStage(r.Name(), []NodeSpec{{Rule: r, Tags: tags, Parents: parents}})
	if err != nil {
		return nil, err
	}
	return created[0], nil
}

// AddInput creates a root task for existing data. It is born succeeded.
func (g *Graph) AddInput(r *rule.Input, tags models.Tags, outputs map[string]string) (*Task, error) {
	_, created, err := g.AddStage(r.Name(), []NodeSpec{{Rule: r, Tags: tags, OutputPaths: outputs}})
	if err != nil {
		return nil, err
	}
	return created[0], nil
}

func (g *Graph) validateSpec(spec NodeSpec) error {
	if spec.Rule == nil {
		return fmt.Errorf("rule is required")
	}
	for _, p := range spec.Parents {
		if p == nil || g.tasks[p.ID] != p {
			return ErrForeignParent
		}
	}
	for name := range spec.OutputPaths {
		if !rule.Declares(spec.Rule, name) {
			return fmt.Errorf("%w: %q is not declared by rule %s", ErrInvalidOutputName, name, spec.Rule.Name())
		}
	}
	if rule.IsInput(spec.Rule) {
		if len(spec.Parents) > 0 {
			return fmt.Errorf("input rule %s cannot have parents", spec.Rule.Name())
		}
		for _, out := range spec.Rule.DeclaredOutputs() {
			if _, ok := spec.OutputPaths[out]; !ok {
				return fmt.Errorf("input rule %s: output %q has no path", spec.Rule.Name(), out)
			}
		}
	}
	return nil
}

// insert must be called with g.mu held and a validated spec
func (g *Graph) insert(stage string, spec NodeSpec) *Task {
	t := &Task{
		ID:    g.allocateID(),
		Rule:  spec.Rule,
		Stage: stage,
		Tags:  spec.Tags.Clone(),
		State: models.TaskStatePending,
	}
	if rule.IsInput(spec.Rule) {
		t.State = models.TaskStateSucceeded
	}
	if len(spec.OutputPaths) > 0 {
		t.outputPaths = make(map[string]string, len(spec.OutputPaths))
		for k, v := range spec.OutputPaths {
			t.outputPaths[k] = v
		}
	}

	seen := make(map[int64]bool, len(spec.Parents))
	for _, p := range spec.Parents {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		t.parents = append(t.parents, p)
		p.children = append(p.children, t)
	}

	g.tasks[t.ID] = t
	g.order = append(g.order, t)
	return t
}

// Len returns the number of tasks
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

// Task looks a task up by id
func (g *Graph) Task(id int64) (*Task, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	t, ok := g.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTask, id)
	}
	return t, nil
}

// Tasks returns every task in creation (id) order
func (g *Graph) Tasks() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Task, len(g.order))
	copy(out, g.order)
	return out
}

// Stages returns the stages in creation order
func (g *Graph) Stages() []*Stage {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Stage, len(g.stages))
	copy(out, g.stages)
	return out
}

// Stage looks a stage up by name
func (g *Graph) Stage(name string) (*Stage, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.byName[name]
	return s, ok
}

// Roots returns the tasks without parents
func (g *Graph) Roots() []*Task {
	var out []*Task
	for _, t := range g.Tasks() {
		if t.IsRoot() {
			out = append(out, t)
		}
	}
	return out
}

// Leaves returns the tasks without children
func (g *Graph) Leaves() []*Task {
	var out []*Task
	for _, t := range g.Tasks() {
		if len(t.children) == 0 {
			out = append(out, t)
		}
	}
	return out
}

// Predecessors returns the direct parents of t
func (g *Graph) Predecessors(t *Task) []*Task {
	return t.Parents()
}

// Successors returns the direct children of t
func (g *Graph) Successors(t *Task) []*Task {
	return t.Children()
}

// Parent returns the single parent of t, for rules that assume a linear upstream chain
func (g *Graph) Parent(t *Task) (*Task, error) {
	switch len(t.parents) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNoParent, t)
	case 1:
		return t.parents[0], nil
	default:
		return nil, fmt.Errorf("%w: %s has %d", ErrAmbiguousParent, t, len(t.parents))
	}
}

// Ancestors returns every task t transitively depends on, ordered by id
func (g *Graph) Ancestors(t *Task) []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return walk(t, func(n *Task) []*Task { return n.parents })
}

// Descendants returns every task transitively depending on t, ordered by id
func (g *Graph) Descendants(t *Task) []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return walk(t, func(n *Task) []*Task { return n.children })
}

func walk(start *Task, next func(*Task) []*Task) []*Task {
	visited := map[int64]bool{start.ID: true}
	queue := append([]*Task(nil), next(start)...)
	var out []*Task
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if visited[n.ID] {
			continue
		}
		visited[n.ID] = true
		out = append(out, n)
		queue = append(queue, next(n)...)
	}
	sortByID(out)
	return out
}

// TopologicalOrder returns all tasks such that every parent precedes its
// children. Ties are broken by ascending task id.
func (g *Graph) TopologicalOrder() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	indeg := make(map[int64]int, len(g.order))
	ready := &idHeap{}
	for _, t := range g.order {
		indeg[t.ID] = len(t.parents)
		if len(t.parents) == 0 {
			heap.Push(ready, t.ID)
		}
	}

	out := make([]*Task, 0, len(g.order))
	for ready.Len() > 0 {
		t := g.tasks[heap.Pop(ready).(int64)]
		out = append(out, t)
		for _, c := range t.children {
			indeg[c.ID]--
			if indeg[c.ID] == 0 {
				heap.Push(ready, c.ID)
			}
		}
	}
	return out
}

type idHeap []int64

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x any)        { *h = append(*h, x.(int64)) }
func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
