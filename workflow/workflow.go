package workflow

import (
	"fmt"
	"time"
)

type State string

type Action string

// TransitionKey identifies a transition in a definition. Each (state,
// action) pair maps to exactly one target state; there is no nondeterminism.
type TransitionKey struct {
	From   State
	Action Action
}

type Transition struct {
	Target State

	Guards []Guard

	Hooks []Hook

	// RequiresDependencies forces all blocking tasks to be in a successful
	// terminal state before the transition is allowed. Transitions into a
	// terminal state always check dependencies, whether or not this is set.
	RequiresDependencies bool
}

// Definition is the finite state machine governing the lifecycle of one task
// type. States and transitions are wholly data-driven; the engine only
// recognizes the designated initial and terminal states for lifecycle
// bookkeeping.
//
// Definitions are treated as immutable once registered. Registering a
// changed definition creates a new version instead of mutating this one.
type Definition struct {
	States []State

	Initial State

	// Terminal are the states that end a task's lifecycle. The SLA clock
	// stops when a task enters any of them.
	Terminal []State

	// Failed marks terminal states that count as unsuccessful completion.
	// A task in one of these does not satisfy dependency constraints of
	// tasks blocked on it. Must be a subset of Terminal.
	Failed []State

	Transitions map[TransitionKey]*Transition

	// SLAs configures the breach threshold of active time per state.
	// States without an entry have no SLA.
	SLAs map[State]time.Duration

	// Escalations optionally names, per state, the action the SLA monitor
	// applies on breach. The action must be a legal transition out of that
	// state.
	Escalations map[State]Action
}

func NewDefinition(initial State, states ...State) *Definition {
	return &Definition{
		States:      states,
		Initial:     initial,
		Transitions: map[TransitionKey]*Transition{},
		SLAs:        map[State]time.Duration{},
		Escalations: map[State]Action{},
	}
}

type TransitionOption func(*Transition)

func WithGuards(guards ...Guard) TransitionOption {
	return func(t *Transition) {
		t.Guards = append(t.Guards, guards...)
	}
}

func WithHooks(hooks ...Hook) TransitionOption {
	return func(t *Transition) {
		t.Hooks = append(t.Hooks, hooks...)
	}
}

func WithDependencyCheck() TransitionOption {
	return func(t *Transition) {
		t.RequiresDependencies = true
	}
}

// AddTransition adds a (from, action) -> to entry. Duplicate (from, action)
// keys are rejected to keep the transition map a simple directed graph.
func (d *Definition) AddTransition(from State, action Action, to State, opts ...TransitionOption) error {
	key := TransitionKey{From: from, Action: action}
	if _, ok := d.Transitions[key]; ok {
		return &DefinitionError{fmt.Sprintf("duplicate transition (%v, %v)", from, action)}
	}

	t := &Transition{Target: to}
	for _, opt := range opts {
		opt(t)
	}

	d.Transitions[key] = t

	return nil
}

func (d *Definition) MarkTerminal(states ...State) *Definition {
	d.Terminal = append(d.Terminal, states...)
	return d
}

func (d *Definition) MarkFailed(states ...State) *Definition {
	d.Failed = append(d.Failed, states...)
	return d
}

func (d *Definition) WithSLA(state State, threshold time.Duration) *Definition {
	d.SLAs[state] = threshold
	return d
}

func (d *Definition) WithEscalation(state State, action Action) *Definition {
	d.Escalations[state] = action
	return d
}

func (d *Definition) HasState(s State) bool {
	for _, state := range d.States {
		if state == s {
			return true
		}
	}

	return false
}

func (d *Definition) IsTerminal(s State) bool {
	for _, state := range d.Terminal {
		if state == s {
			return true
		}
	}

	return false
}

func (d *Definition) IsFailed(s State) bool {
	for _, state := range d.Failed {
		if state == s {
			return true
		}
	}

	return false
}

// Transition returns the transition for (from, action) or nil if the action
// is not legal from that state.
func (d *Definition) Transition(from State, action Action) *Transition {
	return d.Transitions[TransitionKey{From: from, Action: action}]
}
