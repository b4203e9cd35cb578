package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mangwale/voice-platform/internal/call"
	"github.com/mangwale/voice-platform/internal/carrier"
	"github.com/mangwale/voice-platform/internal/observability/metrics"
	"github.com/mangwale/voice-platform/pkg/logging"
)

var voiceTracer = otel.Tracer("mangwale.voice.http")

const (
	defaultLockWait   = 500 * time.Millisecond
	defaultTurnBudget = 4 * time.Second
	snapshotTimeout   = 2 * time.Second
)

// CallbackHandler answers the carrier's applet fetches: one HTTP request per
// call turn (answer, keypress, gather timeout), one dialect payload back.
// The carrier tears the call down on any non-2xx, so every path out of here,
// panics and encoder failures included, writes 200 with something speakable.
type CallbackHandler struct {
	store     *call.Store
	machine   *call.Machine
	composer  *call.Composer
	encoder   carrier.ResponseEncoder
	flows     *call.Flows
	snapshots *call.Snapshotter
	metrics   *metrics.CallMetrics
	logger    *logging.Logger
	lockWait  time.Duration
	budget    time.Duration
	fallback  []byte
}

// CallbackConfig wires the callback handler. Snapshots and Metrics are
// optional.
type CallbackConfig struct {
	Store     *call.Store
	Machine   *call.Machine
	Composer  *call.Composer
	Encoder   carrier.ResponseEncoder
	Flows     *call.Flows
	Snapshots *call.Snapshotter
	Metrics   *metrics.CallMetrics
	Logger    *logging.Logger
	LockWait  time.Duration
	Budget    time.Duration
}

// NewCallbackHandler builds the handler and pre-encodes the apology it falls
// back to when composing or encoding fails mid-request.
func NewCallbackHandler(cfg CallbackConfig) (*CallbackHandler, error) {
	if cfg.Store == nil || cfg.Machine == nil || cfg.Composer == nil || cfg.Encoder == nil || cfg.Flows == nil {
		return nil, errors.New("handlers: callback requires store, machine, composer, encoder and flows")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = defaultLockWait
	}
	if cfg.Budget <= 0 {
		cfg.Budget = defaultTurnBudget
	}
	fallback, err := cfg.Encoder.Encode(cfg.Composer.Apology(""))
	if err != nil {
		return nil, fmt.Errorf("handlers: encode fallback apology: %w", err)
	}
	return &CallbackHandler{
		store:     cfg.Store,
		machine:   cfg.Machine,
		composer:  cfg.Composer,
		encoder:   cfg.Encoder,
		flows:     cfg.Flows,
		snapshots: cfg.Snapshots,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		lockWait:  cfg.LockWait,
		budget:    cfg.Budget,
		fallback:  fallback,
	}, nil
}

// Handle serves GET and POST; the carrier uses both depending on how the
// applet is configured, with the same fields either way. Quote-wrapping of
// individual values follows whatever the carrier felt like sending.
func (h *CallbackHandler) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	_, span := voiceTracer.Start(r.Context(), "voice.callback.turn")
	defer span.End()

	wrote := false
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("callback turn panicked", "panic", fmt.Sprint(rec), "path", r.URL.Path)
			span.RecordError(fmt.Errorf("panic: %v", rec))
			if !wrote {
				h.writeFallback(w)
			}
		}
	}()

	// A malformed body still leaves the query params in r.Form.
	_ = r.ParseForm()

	callSid := strings.TrimSpace(r.Form.Get("CallSid"))
	digits := call.UnwrapQuoted(strings.TrimSpace(r.Form.Get("digits")))
	rawField := strings.TrimSpace(r.Form.Get("CustomField"))

	if callSid == "" {
		h.logger.Warn("callback without CallSid", "remote_ip", r.RemoteAddr)
		h.metrics.ObserveTurn("unknown", "missing_call_sid")
		wrote = h.respond(w, h.composer.Apology(""))
		return
	}
	span.SetAttributes(attribute.String("call.sid", callSid))

	lookup := h.store.GetOrCreate(callSid, func() (*call.State, call.SessionLookup) {
		return h.sessionFromField(callSid, rawField)
	})
	if lookup == call.LookupAbsent {
		h.logger.Warn("callback for unknown call", "call_sid", callSid)
		h.metrics.ObserveTurn("unknown", "no_session")
		wrote = h.respond(w, h.composer.TryAgainLater(""))
		return
	}
	if lookup == call.LookupCreatedFromPayload {
		h.logger.Info("session rebuilt from custom field", "call_sid", callSid)
	}

	var (
		res  call.StepResult
		snap *call.State
	)
	err := h.store.UpdateWait(callSid, h.lockWait, func(st *call.State) error {
		if st.Lifecycle.Terminal() {
			// Late fetch for a call the status callback already closed.
			// The record is immutable now; repeat a goodbye without
			// stepping.
			state := st.LogicalState
			if flow, ok := h.flows.ByKind(st.Kind); !ok || !flow.IsTerminal(state) {
				state = call.StateGoodbyeNoInput
			}
			res = call.StepResult{Event: call.EventTerminal, State: state, Attempt: 1, Terminal: true}
			snap = st.Clone()
			return nil
		}
		st.Lifecycle = call.LifecycleInProgress
		stepped, err := h.machine.Step(st, digits, time.Now().UTC())
		if err != nil {
			return err
		}
		res = stepped
		snap = st.Clone()
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, call.ErrBusy):
		h.logger.Warn("session lock contended, deferring turn", "call_sid", callSid)
		h.metrics.ObserveLockWaitTimeout()
		span.RecordError(err)
		wrote = h.respond(w, h.composer.HoldOn(""))
		return
	case errors.Is(err, call.ErrNotFound):
		// Evicted between lookup and lock; nothing left to drive.
		h.logger.Warn("session vanished mid-turn", "call_sid", callSid)
		wrote = h.respond(w, h.composer.TryAgainLater(""))
		return
	default:
		h.logger.Error("callback step failed", "call_sid", callSid, "error", err)
		h.metrics.ObserveTurn("unknown", "error")
		span.RecordError(err)
		wrote = h.writeFallback(w)
		return
	}

	wrote = h.respond(w, h.composer.Compose(snap, res))

	event := string(res.Event)
	if res.Replayed {
		event = "replay"
	}
	span.SetAttributes(
		attribute.String("call.kind", string(snap.Kind)),
		attribute.String("call.turn_event", event),
		attribute.String("call.logical_state", string(res.State)),
	)
	h.metrics.ObserveTurn(string(snap.Kind), event)
	h.metrics.ObserveTurnLatency(h.encoder.Dialect(), time.Since(start).Seconds())

	if res.Terminal && snap.TerminalAt != nil && !snap.Reported {
		h.saveSnapshot(snap)
	}

	if elapsed := time.Since(start); elapsed > h.budget {
		h.logger.Warn("callback turn exceeded budget",
			"call_sid", callSid, "duration_ms", elapsed.Milliseconds())
	}
}

// sessionFromField rebuilds a session from the carrier-echoed CustomField
// when the store has none (process restart, or the first fetch raced the
// initiator's own record).
func (h *CallbackHandler) sessionFromField(callSid, raw string) (*call.State, call.SessionLookup) {
	if raw == "" {
		return nil, call.LookupAbsent
	}
	cf, err := call.DecodeCustomField(raw)
	if err != nil {
		h.logger.Warn("undecodable custom field", "call_sid", callSid, "error", err)
		return nil, call.LookupAbsent
	}
	flow, ok := h.flows.ByKind(cf.Kind)
	if !ok {
		h.logger.Warn("custom field names unregistered kind", "call_sid", callSid, "kind", string(cf.Kind))
		return nil, call.LookupAbsent
	}
	now := time.Now().UTC()
	st := &call.State{
		CallSid:           callSid,
		Kind:              cf.Kind,
		OrderID:           cf.OrderID,
		PartyID:           cf.VendorID,
		Language:          cf.Language,
		LogicalState:      flow.Initial(),
		Lifecycle:         call.LifecycleInProgress,
		Synthetic:         true,
		CreatedAt:         now,
		LastInteractionAt: now,
	}
	if cf.Kind == call.KindRiderAssignment {
		st.PartyID = cf.RiderID
	}
	return st, call.LookupCreatedFromPayload
}

// respond encodes and writes one prompt. Encoder failures fall back to the
// pre-encoded apology rather than surface as an HTTP error.
func (h *CallbackHandler) respond(w http.ResponseWriter, p call.Prompt) bool {
	body, err := h.encoder.Encode(p)
	if err != nil {
		h.logger.Error("prompt encoding failed", "terminal", p.Terminal(), "error", err)
		return h.writeFallback(w)
	}
	w.Header().Set("Content-Type", h.encoder.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
	return true
}

func (h *CallbackHandler) writeFallback(w http.ResponseWriter) bool {
	w.Header().Set("Content-Type", h.encoder.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.fallback)
	return true
}

// saveSnapshot persists a terminal-but-unreported record so a restart between
// now and report delivery cannot lose the outcome. Runs after the response is
// written; snapshot latency never touches the carrier deadline.
func (h *CallbackHandler) saveSnapshot(st *call.State) {
	if h.snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	if err := h.snapshots.Save(ctx, st); err != nil {
		h.logger.Warn("session snapshot failed", "call_sid", st.CallSid, "error", err)
		h.metrics.ObserveSnapshotError()
	}
}
