// internal/rule/input.go
package rule

import (
	"fmt"

	"github.com/fawad-mazhar/genoflow/internal/models"
)

// Input describes data that already exists on disk. Tasks built from it are
// roots that supply their outputs directly and are never submitted.
type Input struct {
	name    string
	outputs []string
}

// NewInput creates an input rule declaring the given output names
func NewInput(name string, outputs ...string) *Input {
	return &Input{name: name, outputs: outputs}
}

func (r *Input) Name() string              { return r.name }
func (r *Input) DeclaredInputs() []string  { return nil }
func (r *Input) DeclaredOutputs() []string { return r.outputs }

func (r *Input) RenderCommand(IO, models.Tags) (string, error) {
	return "", fmt.Errorf("%w: %s", ErrNotRunnable, r.name)
}
