package call

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownKind means the session references a flow that is not registered.
	ErrUnknownKind = errors.New("call: unknown call kind")
	// ErrUnknownState means the session sits in a state its flow does not define.
	ErrUnknownState = errors.New("call: unknown logical state")
)

// TurnEvent classifies what a callback turn did to the session.
type TurnEvent string

const (
	// EventEnter is the first prompt of a state (call just answered, or the
	// state was freshly advanced into).
	EventEnter TurnEvent = "enter"
	// EventDigit is an admissible keypress that advanced the flow.
	EventDigit TurnEvent = "digit"
	// EventTimeout is an empty gather on a state already prompted at least once.
	EventTimeout TurnEvent = "timeout"
	// EventInvalid is a keypress the current state does not admit.
	EventInvalid TurnEvent = "invalid"
	// EventTerminal is a turn against an already-finished session.
	EventTerminal TurnEvent = "terminal"
)

// StepResult tells the caller what to compose next. It is cached on the
// session record so a carrier re-delivery of the same digit can replay the
// identical reply without touching state.
type StepResult struct {
	Event    TurnEvent    `json:"event"`
	State    LogicalState `json:"state"`
	Attempt  int          `json:"attempt"`
	Terminal bool         `json:"terminal"`
	// Replayed is set on the copy returned for a deduplicated re-delivery;
	// it is never part of the cached value.
	Replayed bool `json:"-"`
}

// replayWindow bounds how stale a re-delivered digit may be and still count
// as the same carrier request. A human cannot answer the next prompt faster
// than this, so the window cannot swallow a genuine repeated keypress.
const replayWindow = 3 * time.Second

// Machine advances sessions through their flow definitions. It is stateless;
// all mutation happens on the *State passed in, which callers must hold under
// the store's per-key lock.
type Machine struct {
	flows *Flows
}

// NewMachine builds a machine over the given flow registry.
func NewMachine(flows *Flows) *Machine {
	return &Machine{flows: flows}
}

// Step consumes one callback turn: digits is the (already unquoted) keypress,
// empty for call-answered and gather-timeout turns. It mutates st and returns
// what to compose. Timeouts and invalid digits burn retries; once a state's
// delivery cap is spent the flow's exhaust edge forces an advance.
func (m *Machine) Step(st *State, digits string, now time.Time) (StepResult, error) {
	flow, ok := m.flows.ByKind(st.Kind)
	if !ok {
		return StepResult{}, fmt.Errorf("%w: %q", ErrUnknownKind, st.Kind)
	}
	nd, ok := flow.nodes[st.LogicalState]
	if !ok {
		return StepResult{}, fmt.Errorf("%w: %q", ErrUnknownState, st.LogicalState)
	}
	st.LastInteractionAt = now

	if nd.terminal {
		// The carrier keeps fetching after the goodbye started playing;
		// repeat it without moving anything.
		return StepResult{Event: EventTerminal, State: st.LogicalState, Attempt: 1, Terminal: true}, nil
	}

	if digits == "" {
		return m.stepEmpty(st, flow, nd, now), nil
	}

	// Same digit, straight after the last handled one: the carrier re-sent a
	// request we already answered. Hand back the cached result untouched.
	if st.Last != nil && st.Last.Digit == digits && now.Sub(st.Last.At) <= replayWindow {
		res := st.Last.Result
		res.Replayed = true
		return res, nil
	}

	edge, admissible := nd.edges[digits]
	if !admissible || len(digits) > 1 {
		res := m.retryOrExhaust(st, flow, nd, EventInvalid, now)
		st.Last = &lastInput{Digit: digits, At: now, Result: res}
		return res, nil
	}

	res := m.applyEdge(st, flow, edge, EventDigit, now)
	st.Last = &lastInput{Digit: digits, At: now, Result: res}
	return res, nil
}

// stepEmpty handles answered-call and gather-timeout turns. The first empty
// turn on a state is its entry prompt; later ones are timeouts.
func (m *Machine) stepEmpty(st *State, flow *Flow, nd node, now time.Time) StepResult {
	if st.Attempts == nil {
		st.Attempts = make(map[LogicalState]int, 2)
	}
	if st.Attempts[st.LogicalState] == 0 {
		st.Attempts[st.LogicalState] = 1
		return StepResult{Event: EventEnter, State: st.LogicalState, Attempt: 1}
	}
	if nd.onTimeout != nil {
		// Silence means "take the default" on this state.
		return m.applyEdge(st, flow, *nd.onTimeout, EventTimeout, now)
	}
	return m.retryOrExhaust(st, flow, nd, EventTimeout, now)
}

// retryOrExhaust burns one delivery of the current state's prompt, forcing the
// exhaust edge once the cap is spent.
func (m *Machine) retryOrExhaust(st *State, flow *Flow, nd node, event TurnEvent, now time.Time) StepResult {
	if st.Attempts == nil {
		st.Attempts = make(map[LogicalState]int, 2)
	}
	st.Attempts[st.LogicalState]++
	attempt := st.Attempts[st.LogicalState]
	if attempt > flow.maxAttempts {
		return m.applyEdge(st, flow, nd.exhaust, event, now)
	}
	return StepResult{Event: event, State: st.LogicalState, Attempt: attempt}
}

// applyEdge commits a transition: slot writes first (write-once, earliest
// wins), then the state advance, then the terminal outcome if the edge ends
// the call. Lifecycle is deliberately untouched; only status reconciliation
// moves it.
func (m *Machine) applyEdge(st *State, flow *Flow, edge edgeAction, event TurnEvent, now time.Time) StepResult {
	for slot, value := range edge.sets {
		st.SetCollected(slot, value)
	}
	st.LogicalState = edge.next
	if edge.terminal {
		st.Outcome = edge.outcome
		t := now
		st.TerminalAt = &t
		return StepResult{Event: event, State: edge.next, Attempt: 1, Terminal: true}
	}
	if st.Attempts == nil {
		st.Attempts = make(map[LogicalState]int, 2)
	}
	st.Attempts[edge.next] = 1
	return StepResult{Event: event, State: edge.next, Attempt: 1}
}
