// internal/flow/flow.go
package flow

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fawad-mazhar/genoflow/internal/graph"
	"github.com/fawad-mazhar/genoflow/internal/models"
	"github.com/fawad-mazhar/genoflow/internal/rule"
)

var (
	ErrMissingTagKey = errors.New("missing tag key")
	ErrEmptyFrontier = errors.New("empty frontier")
	ErrTagConflict   = errors.New("tag conflict")
	ErrEmptyAxis     = errors.New("empty parameter axis")
	ErrMissingInput  = errors.New("missing input")
)

// Axis is one enumerated parameter a frontier is expanded over
type Axis struct {
	Key    string   `yaml:"key"`
	Values []string `yaml:"values"`
}

type options struct {
	stage string
	tags  models.Tags
}

// Option customises a combinator invocation
type Option func(*options)

// WithStage names the stage the new tasks are recorded under. Defaults to the rule name.
func WithStage(name string) Option {
	return func(o *options) { o.stage = name }
}

// WithTags adds tags to every task created by the invocation
func WithTags(tags models.Tags) Option {
	return func(o *options) { o.tags = tags.Clone() }
}

// group is a set of frontier tasks sharing the values of the grouping keys
type group struct {
	tags    models.Tags
	members []*graph.Task
}

// Apply creates one child per frontier task, inheriting its tags
func Apply(g *graph.Graph, frontier []*graph.Task, r rule.Rule, opts ...Option) ([]*graph.Task, error) {
	groups, err := singletons(frontier)
	if err != nil {
		return nil, err
	}
	return expand(g, groups, nil, r, opts)
}

// Reduce creates one child per distinct value tuple of keys; every frontier
// task sharing the tuple becomes a parent of that child
func Reduce(g *graph.Graph, frontier []*graph.Task, keys []string, r rule.Rule, opts ...Option) ([]*graph.Task, error) {
	groups, err := groupBy(frontier, keys)
	if err != nil {
		return nil, err
	}
	return expand(g, groups, nil, r, opts)
}

// Split creates one child per frontier task and combination of axis values
func Split(g *graph.Graph, frontier []*graph.Task, axes []Axis, r rule.Rule, opts ...Option) ([]*graph.Task, error) {
	groups, err := singletons(frontier)
	if err != nil {
		return nil, err
	}
	return expand(g, groups, axes, r, opts)
}

// ReduceSplit groups like Reduce, then expands each group like Split
func ReduceSplit(g *graph.Graph, frontier []*graph.Task, keys []string, axes []Axis, r rule.Rule, opts ...Option) ([]*graph.Task, error) {
	groups, err := groupBy(frontier, keys)
	if err != nil {
		return nil, err
	}
	return expand(g, groups, axes, r, opts)
}

// creationOrder returns the frontier sorted by task id with duplicates removed
func creationOrder(frontier []*graph.Task) ([]*graph.Task, error) {
	if len(frontier) == 0 {
		return nil, ErrEmptyFrontier
	}
	seen := make(map[int64]bool, len(frontier))
	out := make([]*graph.Task, 0, len(frontier))
	for _, t := range frontier {
		if t == nil || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, ErrEmptyFrontier
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func singletons(frontier []*graph.Task) ([]group, error) {
	tasks, err := creationOrder(frontier)
	if err != nil {
		return nil, err
	}
	groups := make([]group, 0, len(tasks))
	for _, t := range tasks {
		groups = append(groups, group{tags: t.Tags.Clone(), members: []*graph.Task{t}})
	}
	return groups, nil
}

// groupBy partitions the frontier by the values of keys. Groups are ordered by
// their earliest member and members keep creation order.
func groupBy(frontier []*graph.Task, keys []string) ([]group, error) {
	tasks, err := creationOrder(frontier)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int)
	var groups []group
	for _, t := range tasks {
		sub, missing := t.Tags.Subset(keys)
		if len(missing) > 0 {
			return nil, fmt.Errorf("%w: %s has no tag %q", ErrMissingTagKey, t, missing[0])
		}
		key := t.Tags.Key(keys)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, group{tags: sub})
		}
		groups[i].members = append(groups[i].members, t)
	}
	return groups, nil
}

// combinations enumerates axis values row-major: the first axis varies slowest
func combinations(axes []Axis) ([]models.Tags, error) {
	combos := []models.Tags{{}}
	seen := make(map[string]bool, len(axes))
	for _, axis := range axes {
		if axis.Key == "" || len(axis.Values) == 0 {
			return nil, fmt.Errorf("%w: %q", ErrEmptyAxis, axis.Key)
		}
		if seen[axis.Key] {
			return nil, fmt.Errorf("%w: axis %q given twice", ErrTagConflict, axis.Key)
		}
		seen[axis.Key] = true

		next := make([]models.Tags, 0, len(combos)*len(axis.Values))
		for _, c := range combos {
			for _, v := range axis.Values {
				tags := c.Clone()
				tags[axis.Key] = v
				next = append(next, tags)
			}
		}
		combos = next
	}
	return combos, nil
}

func union(base models.Tags, extras ...models.Tags) (models.Tags, error) {
	out := base.Clone()
	for _, extra := range extras {
		for k, v := range extra {
			if _, exists := out[k]; exists {
				return nil, fmt.Errorf("%w: %q already set", ErrTagConflict, k)
			}
			out[k] = v
		}
	}
	return out, nil
}

// expand builds every child spec before touching the graph so that a failing
// invocation leaves no partial stage behind
func expand(g *graph.Graph, groups []group, axes []Axis, r rule.Rule, opts []Option) ([]*graph.Task, error) {
	if r == nil {
		return nil, fmt.Errorf("rule is required")
	}
	if rule.IsInput(r) {
		return nil, fmt.Errorf("input rule %s cannot be used in a combinator", r.Name())
	}
	o := options{stage: r.Name()}
	for _, opt := range opts {
		opt(&o)
	}

	combos, err := combinations(axes)
	if err != nil {
		return nil, err
	}

	specs := make([]graph.NodeSpec, 0, len(groups)*len(combos))
	for _, grp := range groups {
		if err := checkInputs(r, grp.members); err != nil {
			return nil, err
		}
		for _, combo := range combos {
			tags, err := union(grp.tags, combo, o.tags)
			if err != nil {
				return nil, fmt.Errorf("%s over %s: %w", r.Name(), grp.members[0], err)
			}
			specs = append(specs, graph.NodeSpec{Rule: r, Tags: tags, Parents: grp.members})
		}
	}

	_, created, err := g.AddStage(o.stage, specs)
	if err != nil {
		return nil, err
	}
	return created, nil
}

// checkInputs requires every declared input to be produced by some parent
func checkInputs(r rule.Rule, parents []*graph.Task) error {
	for _, name := range r.DeclaredInputs() {
		found := false
		for _, p := range parents {
			if rule.Declares(p.Rule, name) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: rule %s needs %q which no parent of the group starting at %s declares",
				ErrMissingInput, r.Name(), name, parents[0])
		}
	}
	return nil
}
