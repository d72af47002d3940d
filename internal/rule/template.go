// internal/rule/template.go
package rule

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/fawad-mazhar/genoflow/internal/models"
)

// Definition is the YAML form of a command rule
type Definition struct {
	Name      string              `yaml:"name"`
	Inputs    []string            `yaml:"inputs"`
	Outputs   []string            `yaml:"outputs"`
	Command   string              `yaml:"command"`
	Resources models.ResourceSpec `yaml:"resources"`
}

// Template renders its command from a text/template. The template sees
// .Inputs (name -> paths), .Outputs (name -> path) and .Tags, plus the
// helpers "one" and "join".
type Template struct {
	def  Definition
	tmpl *template.Template
}

var templateFuncs = template.FuncMap{
	"one": func(paths []string) (string, error) {
		switch len(paths) {
		case 1:
			return paths[0], nil
		case 0:
			return "", fmt.Errorf("no path supplied")
		default:
			return "", fmt.Errorf("%w: %d paths supplied", ErrAmbiguousInput, len(paths))
		}
	},
	"join": func(paths []string, sep string) string {
		return strings.Join(paths, sep)
	},
}

// NewTemplate parses def.Command and returns the rule
func NewTemplate(def Definition) (*Template, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("rule name is required")
	}
	if strings.TrimSpace(def.Command) == "" {
		return nil, fmt.Errorf("rule %s: command is required", def.Name)
	}
	if err := def.Resources.Validate(); err != nil {
		return nil, fmt.Errorf("rule %s: %w", def.Name, err)
	}

	tmpl, err := template.New(def.Name).
		Option("missingkey=error").
		Funcs(templateFuncs).
		Parse(def.Command)
	if err != nil {
		return nil, fmt.Errorf("rule %s: failed to parse command: %w", def.Name, err)
	}

	return &Template{def: def, tmpl: tmpl}, nil
}

func (r *Template) Name() string                   { return r.def.Name }
func (r *Template) DeclaredInputs() []string       { return r.def.Inputs }
func (r *Template) DeclaredOutputs() []string      { return r.def.Outputs }
func (r *Template) Resources() models.ResourceSpec { return r.def.Resources }

func (r *Template) RenderCommand(io IO, tags models.Tags) (string, error) {
	inputs := io.Inputs
	if inputs == nil {
		inputs = map[string][]string{}
	}
	outputs := io.Outputs
	if outputs == nil {
		outputs = map[string]string{}
	}

	data := struct {
		Inputs  map[string][]string
		Outputs map[string]string
		Tags    models.Tags
	}{inputs, outputs, tags.Clone()}

	var b strings.Builder
	if err := r.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("rule %s: failed to render command: %w", r.def.Name, err)
	}
	return strings.TrimSpace(b.String()), nil
}
