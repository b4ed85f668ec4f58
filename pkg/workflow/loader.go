package workflow

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidDefinition indicates a workflow document failed validation.
var ErrInvalidDefinition = errors.New("invalid workflow definition")

// Load reads and validates a workflow definition from a YAML file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses and validates a workflow definition from YAML bytes.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse workflow YAML: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks the structural integrity of the definition: every
// transition endpoint must be a declared phase, transition names must be
// unique, each phase has at most one default (intent-less) edge, and
// wait-states must be declared phases.
func (d *Definition) Validate() error {
	if len(d.Phases) == 0 {
		return fmt.Errorf("%w: no phases declared", ErrInvalidDefinition)
	}

	seen := make(map[Phase]bool, len(d.Phases))
	for _, p := range d.Phases {
		if p == "" {
			return fmt.Errorf("%w: empty phase name", ErrInvalidDefinition)
		}
		if seen[p] {
			return fmt.Errorf("%w: duplicate phase %s", ErrInvalidDefinition, p)
		}
		seen[p] = true
	}

	for _, w := range d.WaitStates {
		if !seen[w] {
			return fmt.Errorf("%w: wait-state %s is not a declared phase", ErrInvalidDefinition, w)
		}
	}

	names := make(map[string]bool, len(d.Transitions))
	defaults := make(map[Phase]bool)
	for i := range d.Transitions {
		t := &d.Transitions[i]
		if t.Name == "" {
			return fmt.Errorf("%w: transition %d has no name", ErrInvalidDefinition, i)
		}
		if names[t.Name] {
			return fmt.Errorf("%w: duplicate transition name %s", ErrInvalidDefinition, t.Name)
		}
		names[t.Name] = true

		if !seen[t.From] {
			return fmt.Errorf("%w: transition %s references undeclared phase %s", ErrInvalidDefinition, t.Name, t.From)
		}
		if !seen[t.To] {
			return fmt.Errorf("%w: transition %s references undeclared phase %s", ErrInvalidDefinition, t.Name, t.To)
		}

		if t.Intent == "" {
			if defaults[t.From] {
				return fmt.Errorf("%w: phase %s has multiple default transitions", ErrInvalidDefinition, t.From)
			}
			defaults[t.From] = true
		}

		for j := range t.Gates {
			if t.Gates[j].Check == "" {
				return fmt.Errorf("%w: transition %s gate %d has no check name", ErrInvalidDefinition, t.Name, j)
			}
		}
	}

	return nil
}
