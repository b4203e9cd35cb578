package call

// Rejection reason menu mapping for the vendor flow. Digit 2 is the canonical
// "too busy" answer; timeouts and exhausted retries land on "other".
const (
	ReasonOutOfStock  = "out_of_stock"
	ReasonTooBusy     = "too_busy"
	ReasonClosingSoon = "closing_soon"
	ReasonOther       = "other"
)

// edgeAction is the effect of consuming one admissible input.
type edgeAction struct {
	next     LogicalState
	terminal bool
	outcome  Outcome
	sets     map[string]any
}

// node describes one logical state of a flow.
type node struct {
	terminal bool
	// edges maps a single digit to its transition.
	edges map[string]edgeAction
	// onTimeout, when set, fires immediately on a timeout instead of
	// burning a retry (used where silence means "take the default").
	onTimeout *edgeAction
	// exhaust is where the call goes once the per-state attempt cap is spent.
	exhaust edgeAction
}

// Flow is a complete per-kind state machine definition. Flows are data: the
// machine interprets them, the composer renders their states.
type Flow struct {
	kind        Kind
	initial     LogicalState
	maxAttempts int
	nodes       map[LogicalState]node
}

// Kind returns the flow's call kind.
func (f *Flow) Kind() Kind { return f.kind }

// Initial returns the logical state new sessions start in.
func (f *Flow) Initial() LogicalState { return f.initial }

// IsTerminal reports whether a logical state ends the call.
func (f *Flow) IsTerminal(state LogicalState) bool {
	return f.nodes[state].terminal
}

// StateCount reports how many logical states the flow defines.
func (f *Flow) StateCount() int { return len(f.nodes) }

// MaxAttempts is the per-state cap on prompt deliveries before the flow
// forces an advance.
func (f *Flow) MaxAttempts() int { return f.maxAttempts }

// vendorOrderFlow confirms a new order with a restaurant vendor: accept or
// reject, then preparation time or rejection reason.
func vendorOrderFlow(defaultPrepMinutes int) *Flow {
	if defaultPrepMinutes <= 0 {
		defaultPrepMinutes = 30
	}
	return &Flow{
		kind:        KindVendorOrderConfirmation,
		initial:     StateGreeting,
		maxAttempts: 2,
		nodes: map[LogicalState]node{
			StateGreeting: {
				edges: map[string]edgeAction{
					"1": {next: StatePrepTimeInquiry, sets: map[string]any{SlotAccepted: true}},
					"0": {next: StateRejectionReason, sets: map[string]any{SlotAccepted: false}},
				},
				exhaust: edgeAction{next: StateGoodbyeNoInput, terminal: true, outcome: OutcomeNoResponse},
			},
			StatePrepTimeInquiry: {
				edges: map[string]edgeAction{
					"1": {next: StateGoodbyeAccepted, terminal: true, outcome: OutcomeAccepted, sets: map[string]any{SlotPrepMinutes: 15}},
					"2": {next: StateGoodbyeAccepted, terminal: true, outcome: OutcomeAccepted, sets: map[string]any{SlotPrepMinutes: 30}},
					"3": {next: StateGoodbyeAccepted, terminal: true, outcome: OutcomeAccepted, sets: map[string]any{SlotPrepMinutes: 45}},
				},
				onTimeout: &edgeAction{next: StateGoodbyeAccepted, terminal: true, outcome: OutcomeAccepted, sets: map[string]any{SlotPrepMinutes: defaultPrepMinutes}},
				exhaust:   edgeAction{next: StateGoodbyeAccepted, terminal: true, outcome: OutcomeAccepted, sets: map[string]any{SlotPrepMinutes: defaultPrepMinutes}},
			},
			StateRejectionReason: {
				edges: map[string]edgeAction{
					"1": {next: StateGoodbyeRejected, terminal: true, outcome: OutcomeRejected, sets: map[string]any{SlotReason: ReasonOutOfStock}},
					"2": {next: StateGoodbyeRejected, terminal: true, outcome: OutcomeRejected, sets: map[string]any{SlotReason: ReasonTooBusy}},
					"3": {next: StateGoodbyeRejected, terminal: true, outcome: OutcomeRejected, sets: map[string]any{SlotReason: ReasonClosingSoon}},
					"4": {next: StateGoodbyeRejected, terminal: true, outcome: OutcomeRejected, sets: map[string]any{SlotReason: ReasonOther}},
				},
				onTimeout: &edgeAction{next: StateGoodbyeRejected, terminal: true, outcome: OutcomeRejected, sets: map[string]any{SlotReason: ReasonOther}},
				exhaust:   edgeAction{next: StateGoodbyeRejected, terminal: true, outcome: OutcomeRejected, sets: map[string]any{SlotReason: ReasonOther}},
			},
			StateGoodbyeAccepted: {terminal: true},
			StateGoodbyeRejected: {terminal: true},
			StateGoodbyeNoInput:  {terminal: true},
		},
	}
}

// riderAssignmentFlow offers a delivery assignment to a rider: a single
// accept/decline menu, then goodbye.
func riderAssignmentFlow() *Flow {
	return &Flow{
		kind:        KindRiderAssignment,
		initial:     StateGreeting,
		maxAttempts: 2,
		nodes: map[LogicalState]node{
			StateGreeting: {
				edges: map[string]edgeAction{
					"1": {next: StateRiderAccepted, terminal: true, outcome: OutcomeAccepted, sets: map[string]any{SlotAccepted: true}},
					"0": {next: StateRiderDeclined, terminal: true, outcome: OutcomeRejected, sets: map[string]any{SlotAccepted: false}},
				},
				exhaust: edgeAction{next: StateGoodbyeNoInput, terminal: true, outcome: OutcomeNoResponse},
			},
			StateRiderAccepted:  {terminal: true},
			StateRiderDeclined:  {terminal: true},
			StateGoodbyeNoInput: {terminal: true},
		},
	}
}

// Flows is the registry of known call kinds.
type Flows struct {
	byKind map[Kind]*Flow
}

// NewFlows builds the registry with the deployment's prep-time default.
func NewFlows(defaultPrepMinutes int) *Flows {
	return &Flows{byKind: map[Kind]*Flow{
		KindVendorOrderConfirmation: vendorOrderFlow(defaultPrepMinutes),
		KindRiderAssignment:         riderAssignmentFlow(),
	}}
}

// ByKind looks up the flow for a call kind.
func (f *Flows) ByKind(kind Kind) (*Flow, bool) {
	fl, ok := f.byKind[kind]
	return fl, ok
}

// Kinds lists the registered call kinds.
func (f *Flows) Kinds() []Kind {
	out := make([]Kind, 0, len(f.byKind))
	for k := range f.byKind {
		out = append(out, k)
	}
	return out
}
