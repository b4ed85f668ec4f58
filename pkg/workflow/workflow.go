// Package workflow defines the static phase graph a mission moves through.
// A Definition is loaded once at startup and treated as read-only for the
// lifetime of the orchestrator.
package workflow

// Phase is a named node in the workflow graph.
type Phase string

// Well-known phases used by the default software-delivery workflow.
const (
	PhasePlanning         Phase = "PLANNING"
	PhaseCoding           Phase = "CODING"
	PhaseTesting          Phase = "TESTING"
	PhaseDeployment       Phase = "DEPLOYMENT"
	PhaseMaintenance      Phase = "MAINTENANCE"
	PhaseAwaitingApproval Phase = "AWAITING_APPROVAL"
)

// String returns the phase name.
func (p Phase) String() string {
	return string(p)
}

// GateSpec declares one quality check attached to a transition.
type GateSpec struct {
	Check    string `yaml:"check" json:"check"`
	Severity string `yaml:"severity" json:"severity"`
	Blocking bool   `yaml:"blocking" json:"blocking"`
}

// Transition is a named, directed edge between two phases. Intent selects
// the transition when a phase has more than one outgoing edge; a transition
// with an empty intent is the default edge for its source phase.
type Transition struct {
	Name   string     `yaml:"name" json:"name"`
	From   Phase      `yaml:"from" json:"from"`
	To     Phase      `yaml:"to" json:"to"`
	Intent string     `yaml:"intent,omitempty" json:"intent,omitempty"`
	Gates  []GateSpec `yaml:"gates,omitempty" json:"gates,omitempty"`
}

// Definition is the complete workflow graph: declared phases, wait-states
// and the transitions between them.
type Definition struct {
	Name        string       `yaml:"name" json:"name"`
	Phases      []Phase      `yaml:"phases" json:"phases"`
	WaitStates  []Phase      `yaml:"wait_states,omitempty" json:"wait_states,omitempty"`
	Transitions []Transition `yaml:"transitions" json:"transitions"`
}

// HasPhase reports whether the phase is declared in the definition.
func (d *Definition) HasPhase(phase Phase) bool {
	for _, p := range d.Phases {
		if p == phase {
			return true
		}
	}
	return false
}

// IsWaitState reports whether the phase is a designated HITL wait-state.
func (d *Definition) IsWaitState(phase Phase) bool {
	for _, p := range d.WaitStates {
		if p == phase {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the phase has no outgoing transitions.
func (d *Definition) IsTerminal(phase Phase) bool {
	if !d.HasPhase(phase) {
		return false
	}
	for i := range d.Transitions {
		if d.Transitions[i].From == phase {
			return false
		}
	}
	return true
}

// Resolve returns the transition out of the current phase matching the
// given intent, or nil if none applies. An empty intent selects the
// default (intent-less) transition for the phase.
func (d *Definition) Resolve(current Phase, intent string) *Transition {
	for i := range d.Transitions {
		t := &d.Transitions[i]
		if t.From != current {
			continue
		}
		if t.Intent == intent {
			return t
		}
	}
	// Fall back to the default edge when a specific intent has no match.
	if intent != "" {
		for i := range d.Transitions {
			t := &d.Transitions[i]
			if t.From == current && t.Intent == "" {
				return t
			}
		}
	}
	return nil
}

// TransitionByName returns the named transition, or nil if undeclared.
func (d *Definition) TransitionByName(name string) *Transition {
	for i := range d.Transitions {
		if d.Transitions[i].Name == name {
			return &d.Transitions[i]
		}
	}
	return nil
}
