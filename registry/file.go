package registry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/taskweave/taskweave/core"
	"github.com/taskweave/taskweave/workflow"
	"gopkg.in/yaml.v3"
)

// fileDefinition is the yaml document describing a workflow definition.
// Guards and hooks are code-registered capabilities, they cannot be declared
// in files.
type fileDefinition struct {
	Initial  string   `yaml:"initial"`
	States   []string `yaml:"states"`
	Terminal []string `yaml:"terminal"`
	Failed   []string `yaml:"failed"`

	Transitions []fileTransition `yaml:"transitions"`

	SLAs        map[string]string `yaml:"slas"`
	Escalations map[string]string `yaml:"escalations"`
}

type fileTransition struct {
	From   string `yaml:"from"`
	Action string `yaml:"action"`
	To     string `yaml:"to"`

	RequiresDependencies bool `yaml:"requires_dependencies"`
}

// LoadDefinition parses a yaml workflow definition document. The result is
// not validated; Register performs validation.
func LoadDefinition(r io.Reader) (*workflow.Definition, error) {
	var fd fileDefinition
	if err := yaml.NewDecoder(r).Decode(&fd); err != nil {
		return nil, fmt.Errorf("could not decode definition: %w", err)
	}

	states := make([]workflow.State, 0, len(fd.States))
	for _, s := range fd.States {
		states = append(states, workflow.State(s))
	}

	def := workflow.NewDefinition(workflow.State(fd.Initial), states...)

	for _, s := range fd.Terminal {
		def.MarkTerminal(workflow.State(s))
	}

	for _, s := range fd.Failed {
		def.MarkFailed(workflow.State(s))
	}

	for _, t := range fd.Transitions {
		var opts []workflow.TransitionOption
		if t.RequiresDependencies {
			opts = append(opts, workflow.WithDependencyCheck())
		}

		if err := def.AddTransition(workflow.State(t.From), workflow.Action(t.Action), workflow.State(t.To), opts...); err != nil {
			return nil, err
		}
	}

	for s, threshold := range fd.SLAs {
		d, err := time.ParseDuration(threshold)
		if err != nil {
			return nil, fmt.Errorf("could not parse SLA threshold for state %q: %w", s, err)
		}

		def.WithSLA(workflow.State(s), d)
	}

	for s, action := range fd.Escalations {
		def.WithEscalation(workflow.State(s), workflow.Action(action))
	}

	return def, nil
}

// LoadFile reads a yaml workflow definition from path.
func LoadFile(path string) (*workflow.Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return LoadDefinition(f)
}

// RegisterFile loads, validates, and registers a yaml definition file as the
// next version for (tenant, taskType).
func (r *Registry) RegisterFile(ctx context.Context, tenant core.TenantID, taskType core.TaskType, path string) (int, error) {
	def, err := LoadFile(path)
	if err != nil {
		return 0, err
	}

	return r.Register(ctx, tenant, taskType, def)
}
