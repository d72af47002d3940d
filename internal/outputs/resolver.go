// internal/outputs/resolver.go
package outputs

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/fawad-mazhar/genoflow/internal/graph"
	"github.com/fawad-mazhar/genoflow/internal/rule"
)

var ErrInvalidOutputName = graph.ErrInvalidOutputName

// Resolution is the outcome of resolving one output name
type Resolution struct {
	Path     string
	Explicit bool // false when Path was derived from task identity
}

// Resolver maps declared output names to filesystem paths
type Resolver struct {
	root string
}

// NewResolver creates a resolver rooted at the output directory
func NewResolver(root string) *Resolver {
	return &Resolver{root: root}
}

// Root returns the configured output directory
func (r *Resolver) Root() string { return r.root }

// Resolve returns the explicit path for name if one was declared, otherwise
// {root}/{rule}/{task id}/{name}.
func (r *Resolver) Resolve(t *graph.Task, name string) (Resolution, error) {
	if !rule.Declares(t.Rule, name) {
		return Resolution{}, fmt.Errorf("%w: %q is not declared by %s", ErrInvalidOutputName, name, t)
	}
	if p, ok := t.OutputPath(name); ok {
		return Resolution{Path: p, Explicit: true}, nil
	}
	return Resolution{Path: filepath.Join(r.Dir(t), name)}, nil
}

// Dir is the directory holding t's default outputs and job logs
func (r *Resolver) Dir(t *graph.Task) string {
	return filepath.Join(r.root, t.Rule.Name(), strconv.FormatInt(t.ID, 10))
}

// Path is Resolve without the explicit flag
func (r *Resolver) Path(t *graph.Task, name string) (string, error) {
	res, err := r.Resolve(t, name)
	if err != nil {
		return "", err
	}
	return res.Path, nil
}

// Declare pins an output of t to an explicit path
func (r *Resolver) Declare(t *graph.Task, name, path string) error {
	return t.SetOutputPath(name, path)
}

// Outputs resolves every declared output of t
func (r *Resolver) Outputs(t *graph.Task) (map[string]string, error) {
	out := make(map[string]string, len(t.DeclaredOutputs()))
	for _, name := range t.DeclaredOutputs() {
		p, err := r.Path(t, name)
		if err != nil {
			return nil, err
		}
		out[name] = p
	}
	return out, nil
}

// IO resolves the command bindings for t: each declared input is gathered
// from every parent declaring an output of that name, in parent order.
func (r *Resolver) IO(t *graph.Task) (rule.IO, error) {
	outputs, err := r.Outputs(t)
	if err != nil {
		return rule.IO{}, err
	}

	inputs := make(map[string][]string, len(t.Rule.DeclaredInputs()))
	for _, name := range t.Rule.DeclaredInputs() {
		for _, p := range t.Parents() {
			if !rule.Declares(p.Rule, name) {
				continue
			}
			path, err := r.Path(p, name)
			if err != nil {
				return rule.IO{}, err
			}
			inputs[name] = append(inputs[name], path)
		}
		if len(inputs[name]) == 0 {
			return rule.IO{}, fmt.Errorf("input %q of %s is not produced by any parent", name, t)
		}
	}

	return rule.IO{Inputs: inputs, Outputs: outputs}, nil
}
