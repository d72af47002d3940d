// internal/pipeline/pipeline.go
package pipeline

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fawad-mazhar/genoflow/internal/flow"
	"github.com/fawad-mazhar/genoflow/internal/graph"
	"github.com/fawad-mazhar/genoflow/internal/models"
	"github.com/fawad-mazhar/genoflow/internal/outputs"
	"github.com/fawad-mazhar/genoflow/internal/rule"
)

var (
	ErrInvalidStep  = errors.New("invalid pipeline step")
	ErrUnknownStage = errors.New("unknown stage")
)

// StepKind selects the combinator a step is built with
type StepKind string

const (
	StepApply       StepKind = "apply"
	StepReduce      StepKind = "reduce"
	StepSplit       StepKind = "split"
	StepReduceSplit StepKind = "reduce_split"
)

// Input is one piece of pre-existing data the pipeline starts from
type Input struct {
	Name    string            `yaml:"name"`
	Tags    models.Tags       `yaml:"tags"`
	Outputs map[string]string `yaml:"outputs"`
}

// Step applies a rule to a frontier
type Step struct {
	Name string      `yaml:"name"` // stage name, defaults to the rule name
	Kind StepKind    `yaml:"kind"`
	Rule string      `yaml:"rule"`
	Keys []string    `yaml:"keys"`
	Axes []flow.Axis `yaml:"axes"`
	// From lists the stages whose tasks form the frontier. Empty means the
	// tasks created by the previous step, or every input for the first step.
	From []string    `yaml:"from"`
	Tags models.Tags `yaml:"tags"`
}

// Definition describes a whole pipeline
type Definition struct {
	Name   string  `yaml:"name"`
	Inputs []Input `yaml:"inputs"`
	Steps  []Step  `yaml:"steps"`
}

// Build creates the task graph for def, resolving step rules in registry
func Build(def Definition, registry *rule.Registry) (*graph.Graph, error) {
	if len(def.Inputs) == 0 {
		return nil, fmt.Errorf("pipeline %s: %w", def.Name, flow.ErrEmptyFrontier)
	}

	g := graph.New()
	frontier, err := addInputs(g, def.Inputs)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", def.Name, err)
	}

	for i, step := range def.Steps {
		created, err := addStep(g, step, frontier, registry)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s, step %d (%s): %w", def.Name, i, step.Rule, err)
		}
		frontier = created
	}
	return g, nil
}

// Check renders the command of every task still to run, so a template that
// cannot bind its inputs fails before anything is submitted
func Check(g *graph.Graph, resolver *outputs.Resolver) error {
	var errs []error
	for _, t := range g.TopologicalOrder() {
		if rule.IsInput(t.Rule) || t.State == models.TaskStateSucceeded {
			continue
		}
		io, err := resolver.IO(t)
		if err == nil {
			_, err = t.Rule.RenderCommand(io, t.Tags)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t, err))
		}
	}
	return errors.Join(errs...)
}

// addInputs registers one Input rule per distinct input name. Every input
// sharing a name must supply the same output names.
func addInputs(g *graph.Graph, inputs []Input) ([]*graph.Task, error) {
	rules := make(map[string]*rule.Input)
	tasks := make([]*graph.Task, 0, len(inputs))
	for _, in := range inputs {
		if in.Name == "" {
			return nil, fmt.Errorf("input name is required")
		}
		if len(in.Outputs) == 0 {
			return nil, fmt.Errorf("input %s declares no outputs", in.Name)
		}

		names := make([]string, 0, len(in.Outputs))
		for name := range in.Outputs {
			names = append(names, name)
		}
		sort.Strings(names)

		r, ok := rules[in.Name]
		if !ok {
			r = rule.NewInput(in.Name, names...)
			rules[in.Name] = r
		} else if !equal(r.DeclaredOutputs(), names) {
			return nil, fmt.Errorf("input %s %s: outputs %v differ from %v",
				in.Name, in.Tags, names, r.DeclaredOutputs())
		}

		t, err := g.AddInput(r, in.Tags, in.Outputs)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", in.Name, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func addStep(g *graph.Graph, step Step, previous []*graph.Task, registry *rule.Registry) ([]*graph.Task, error) {
	if step.Rule == "" {
		return nil, fmt.Errorf("%w: rule is required", ErrInvalidStep)
	}
	r, err := registry.Get(step.Rule)
	if err != nil {
		return nil, err
	}

	frontier := previous
	if len(step.From) > 0 {
		if frontier, err = stageTasks(g, step.From); err != nil {
			return nil, err
		}
	}

	var opts []flow.Option
	if step.Name != "" {
		opts = append(opts, flow.WithStage(step.Name))
	}
	if len(step.Tags) > 0 {
		opts = append(opts, flow.WithTags(step.Tags))
	}

	switch step.Kind {
	case StepApply, "":
		return flow.Apply(g, frontier, r, opts...)
	case StepReduce:
		return flow.Reduce(g, frontier, step.Keys, r, opts...)
	case StepSplit:
		if len(step.Axes) == 0 {
			return nil, fmt.Errorf("%w: split needs at least one axis", ErrInvalidStep)
		}
		return flow.Split(g, frontier, step.Axes, r, opts...)
	case StepReduceSplit:
		if len(step.Axes) == 0 {
			return nil, fmt.Errorf("%w: reduce_split needs at least one axis", ErrInvalidStep)
		}
		return flow.ReduceSplit(g, frontier, step.Keys, step.Axes, r, opts...)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidStep, step.Kind)
	}
}

func stageTasks(g *graph.Graph, names []string) ([]*graph.Task, error) {
	var tasks []*graph.Task
	for _, name := range names {
		stage, ok := g.Stage(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStage, name)
		}
		tasks = append(tasks, stage.Tasks...)
	}
	return tasks, nil
}
