package call

import (
	"strings"
	"time"
)

// Kind identifies a call flow family.
type Kind string

const (
	KindVendorOrderConfirmation Kind = "vendor_order_confirmation"
	KindRiderAssignment         Kind = "rider_assignment"
)

// Language selects the prompt locale.
type Language string

const (
	LanguageHindi   Language = "hi"
	LanguageEnglish Language = "en"
	LanguageMarathi Language = "mr"
)

// ParseLanguage maps a request-supplied language code onto a supported locale,
// falling back to the provided default for unknown codes.
func ParseLanguage(code string, fallback Language) Language {
	switch Language(strings.ToLower(strings.TrimSpace(code))) {
	case LanguageHindi:
		return LanguageHindi
	case LanguageEnglish:
		return LanguageEnglish
	case LanguageMarathi:
		return LanguageMarathi
	case "":
		return fallback
	default:
		return fallback
	}
}

// LogicalState names a node of a call flow.
type LogicalState string

const (
	StateGreeting        LogicalState = "greeting"
	StatePrepTimeInquiry LogicalState = "prep_time_inquiry"
	StateRejectionReason LogicalState = "rejection_reason"
	StateGoodbyeAccepted LogicalState = "goodbye_accepted"
	StateGoodbyeRejected LogicalState = "goodbye_rejected"
	StateGoodbyeNoInput  LogicalState = "goodbye_no_response"
	StateRiderAccepted   LogicalState = "goodbye_rider_accepted"
	StateRiderDeclined   LogicalState = "goodbye_rider_declined"
	// StateApology is not part of any flow; composed when handling falls apart.
	StateApology LogicalState = "apology"
)

// Lifecycle mirrors the carrier's view of the phone call.
type Lifecycle string

const (
	LifecycleInitiated  Lifecycle = "initiated"
	LifecycleRinging    Lifecycle = "ringing"
	LifecycleAnswered   Lifecycle = "answered"
	LifecycleInProgress Lifecycle = "in_progress"
	LifecycleCompleted  Lifecycle = "completed"
	LifecycleFailed     Lifecycle = "failed"
	LifecycleBusy       Lifecycle = "busy"
	LifecycleNoAnswer   Lifecycle = "no_answer"
	LifecycleCancelled  Lifecycle = "cancelled"
)

// Terminal reports whether the carrier considers the call over.
func (l Lifecycle) Terminal() bool {
	switch l {
	case LifecycleCompleted, LifecycleFailed, LifecycleBusy, LifecycleNoAnswer, LifecycleCancelled:
		return true
	}
	return false
}

// Outcome is the business result reported upstream once the call ends.
type Outcome string

const (
	OutcomeAccepted   Outcome = "accepted"
	OutcomeRejected   Outcome = "rejected"
	OutcomeNoResponse Outcome = "no_response"
	OutcomeFailed     Outcome = "failed"
)

// Collected slot names. Each slot is write-once per call.
const (
	SlotAccepted    = "accepted"
	SlotPrepMinutes = "prep_minutes"
	SlotReason      = "reason"
)

// LineItem is one order line carried in the frozen payload.
type LineItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// Payload is the business snapshot frozen at initiation; the composer reads it,
// nothing mutates it afterwards.
type Payload struct {
	PickupName string     `json:"pickup_name,omitempty"`
	Amount     float64    `json:"amount,omitempty"`
	Items      []LineItem `json:"items,omitempty"`
}

// lastInput remembers the most recent handled digit so carrier re-deliveries
// of the same keypress replay the committed turn instead of advancing twice.
type lastInput struct {
	Digit  string     `json:"digit"`
	At     time.Time  `json:"at"`
	Result StepResult `json:"result"`
}

// State is one in-flight (or recently terminal) call session.
type State struct {
	CallSid     string   `json:"call_sid"`
	Kind        Kind     `json:"kind"`
	OrderID     string   `json:"order_id"`
	PartyID     string   `json:"party_id"`
	CalleePhone string   `json:"callee_phone,omitempty"`
	CalleeName  string   `json:"callee_name,omitempty"`
	Language    Language `json:"language"`
	Payload     Payload  `json:"payload"`

	LogicalState LogicalState         `json:"logical_state"`
	Collected    map[string]any       `json:"collected,omitempty"`
	Attempts     map[LogicalState]int `json:"attempts,omitempty"`

	Lifecycle Lifecycle `json:"lifecycle"`
	Outcome   Outcome   `json:"outcome,omitempty"`
	Reported  bool      `json:"reported"`

	DurationSeconds int    `json:"duration_seconds,omitempty"`
	RecordingURL    string `json:"recording_url,omitempty"`

	CreatedAt         time.Time  `json:"created_at"`
	LastInteractionAt time.Time  `json:"last_interaction_at"`
	TerminalAt        *time.Time `json:"terminal_at,omitempty"`

	Last *lastInput `json:"last_input,omitempty"`

	// Synthetic marks records reconstructed from CustomField alone, with no
	// frozen payload behind them.
	Synthetic bool `json:"synthetic,omitempty"`
}

// SetCollected records a slot value. Slots are write-once: the first value
// sticks and later writes report false.
func (s *State) SetCollected(slot string, value any) bool {
	if s.Collected == nil {
		s.Collected = make(map[string]any, 4)
	}
	if _, exists := s.Collected[slot]; exists {
		return false
	}
	s.Collected[slot] = value
	return true
}

// CollectedInt reads an integer slot, tolerating the float64 shape JSON
// round-trips produce.
func (s *State) CollectedInt(slot string) (int, bool) {
	v, ok := s.Collected[slot]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// Clone returns a deep copy safe to use outside the store's per-key lock.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	if s.Collected != nil {
		out.Collected = make(map[string]any, len(s.Collected))
		for k, v := range s.Collected {
			out.Collected[k] = v
		}
	}
	if s.Attempts != nil {
		out.Attempts = make(map[LogicalState]int, len(s.Attempts))
		for k, v := range s.Attempts {
			out.Attempts[k] = v
		}
	}
	if s.Payload.Items != nil {
		out.Payload.Items = append([]LineItem(nil), s.Payload.Items...)
	}
	if s.TerminalAt != nil {
		t := *s.TerminalAt
		out.TerminalAt = &t
	}
	if s.Last != nil {
		li := *s.Last
		out.Last = &li
	}
	return &out
}
