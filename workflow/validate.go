package workflow

import "fmt"

// DefinitionError is returned when a definition is rejected at registration
// time. Malformed workflow graphs never reach transition time.
type DefinitionError struct {
	msg string
}

func (e *DefinitionError) Error() string {
	return e.msg
}

// Validate checks that the definition describes a well-formed workflow
// graph:
//   - the initial state is a member of the state set
//   - every transition references only defined states
//   - terminal and failed states are defined, and failed is a subset of
//     terminal
//   - every non-initial state is reachable from the initial state
//   - SLA and escalation entries reference defined states, and escalation
//     actions are legal transitions out of their state
func (d *Definition) Validate() error {
	if len(d.States) == 0 {
		return &DefinitionError{"definition has no states"}
	}

	if !d.HasState(d.Initial) {
		return &DefinitionError{fmt.Sprintf("initial state %q is not in the state set", d.Initial)}
	}

	seen := map[State]bool{}
	for _, s := range d.States {
		if seen[s] {
			return &DefinitionError{fmt.Sprintf("state %q declared twice", s)}
		}
		seen[s] = true
	}

	for key, t := range d.Transitions {
		if !d.HasState(key.From) {
			return &DefinitionError{fmt.Sprintf("transition (%v, %v) starts from undefined state %q", key.From, key.Action, key.From)}
		}

		if !d.HasState(t.Target) {
			return &DefinitionError{fmt.Sprintf("transition (%v, %v) targets undefined state %q", key.From, key.Action, t.Target)}
		}

		if d.IsTerminal(key.From) {
			return &DefinitionError{fmt.Sprintf("transition (%v, %v) leaves terminal state %q", key.From, key.Action, key.From)}
		}
	}

	for _, s := range d.Terminal {
		if !d.HasState(s) {
			return &DefinitionError{fmt.Sprintf("terminal state %q is not in the state set", s)}
		}
	}

	for _, s := range d.Failed {
		if !d.HasState(s) {
			return &DefinitionError{fmt.Sprintf("failed state %q is not in the state set", s)}
		}

		if !d.IsTerminal(s) {
			return &DefinitionError{fmt.Sprintf("failed state %q is not terminal", s)}
		}
	}

	if err := d.checkReachability(); err != nil {
		return err
	}

	for s := range d.SLAs {
		if !d.HasState(s) {
			return &DefinitionError{fmt.Sprintf("SLA configured for undefined state %q", s)}
		}
	}

	for s, action := range d.Escalations {
		if !d.HasState(s) {
			return &DefinitionError{fmt.Sprintf("escalation configured for undefined state %q", s)}
		}

		if d.Transition(s, action) == nil {
			return &DefinitionError{fmt.Sprintf("escalation action %q is not a legal transition from state %q", action, s)}
		}
	}

	return nil
}

func (d *Definition) checkReachability() error {
	reachable := map[State]bool{d.Initial: true}

	queue := []State{d.Initial}
	for len(queue) > 0 {
		from := queue[0]
		queue = queue[1:]

		for key, t := range d.Transitions {
			if key.From != from || reachable[t.Target] {
				continue
			}

			reachable[t.Target] = true
			queue = append(queue, t.Target)
		}
	}

	for _, s := range d.States {
		if !reachable[s] {
			return &DefinitionError{fmt.Sprintf("state %q is not reachable from initial state %q", s, d.Initial)}
		}
	}

	return nil
}
