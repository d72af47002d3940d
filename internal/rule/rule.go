// internal/rule/rule.go
package rule

import (
	"errors"
	"fmt"

	"github.com/fawad-mazhar/genoflow/internal/models"
)

var (
	ErrAmbiguousInput = errors.New("ambiguous input")
	ErrUnknownRule    = errors.New("unknown rule")
	ErrNotRunnable    = errors.New("rule is not runnable")
)

// Rule is the capability every transformation exposes to the engine.
// The engine never interprets the rendered command.
type Rule interface {
	Name() string
	DeclaredInputs() []string
	DeclaredOutputs() []string
	RenderCommand(io IO, tags models.Tags) (string, error)
}

// Resourced is implemented by rules that override the default resource spec
type Resourced interface {
	Resources() models.ResourceSpec
}

// IO carries the resolved paths a command is rendered against.
// Inputs hold one path per supplying parent, in parent order.
type IO struct {
	Inputs  map[string][]string
	Outputs map[string]string
}

// One returns the single path supplied for an input name
func (io IO) One(name string) (string, error) {
	paths := io.Inputs[name]
	switch len(paths) {
	case 0:
		return "", fmt.Errorf("input %q not resolved", name)
	case 1:
		return paths[0], nil
	default:
		return "", fmt.Errorf("%w: %q supplied by %d parents", ErrAmbiguousInput, name, len(paths))
	}
}

// IsInput reports whether r only describes pre-existing data
func IsInput(r Rule) bool {
	_, ok := r.(*Input)
	return ok
}

// Declares reports whether name is among the rule's declared outputs
func Declares(r Rule, name string) bool {
	for _, out := range r.DeclaredOutputs() {
		if out == name {
			return true
		}
	}
	return false
}
