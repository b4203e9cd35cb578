package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mangwale/voice-platform/internal/call"
	"github.com/mangwale/voice-platform/internal/observability/metrics"
	"github.com/mangwale/voice-platform/pkg/logging"
)

// outcomeEnqueuer hands a terminal session to the reporter pipeline.
type outcomeEnqueuer interface {
	Enqueue(ctx context.Context, st *call.State) error
}

// StatusHandler reconciles the carrier's call status callbacks onto session
// records: it commits the final lifecycle, fills the outcome when the digit
// flow never produced one, and hands the finished record to the reporter.
type StatusHandler struct {
	store     *call.Store
	flows     *call.Flows
	reporter  outcomeEnqueuer
	snapshots *call.Snapshotter
	metrics   *metrics.CallMetrics
	logger    *logging.Logger
}

// StatusConfig wires the status handler. Reporter, Snapshots and Metrics are
// optional; without a reporter terminal records just wait for the sweeper.
type StatusConfig struct {
	Store     *call.Store
	Flows     *call.Flows
	Reporter  outcomeEnqueuer
	Snapshots *call.Snapshotter
	Metrics   *metrics.CallMetrics
	Logger    *logging.Logger
}

func NewStatusHandler(cfg StatusConfig) (*StatusHandler, error) {
	if cfg.Store == nil || cfg.Flows == nil {
		return nil, errors.New("handlers: status requires store and flows")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &StatusHandler{
		store:     cfg.Store,
		flows:     cfg.Flows,
		reporter:  cfg.Reporter,
		snapshots: cfg.Snapshots,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}, nil
}

// Handle processes one status callback. The carrier treats any failure here
// as "try the callback again later", so the reply is always a 200 ack; bad
// input is logged and dropped instead of bounced.
func (h *StatusHandler) Handle(w http.ResponseWriter, r *http.Request) {
	_, span := voiceTracer.Start(r.Context(), "voice.status.reconcile")
	defer span.End()

	_ = r.ParseForm()

	callSid := strings.TrimSpace(r.Form.Get("CallSid"))
	status := strings.ToLower(strings.TrimSpace(r.Form.Get("Status")))
	rawField := strings.TrimSpace(r.Form.Get("CustomField"))

	if callSid == "" {
		h.logger.Warn("status callback without CallSid", "remote_ip", r.RemoteAddr)
		h.ack(w)
		return
	}
	span.SetAttributes(
		attribute.String("call.sid", callSid),
		attribute.String("call.carrier_status", status),
	)

	lifecycle, known := lifecycleForStatus(status)
	if !known {
		h.logger.Warn("unrecognized call status", "call_sid", callSid, "status", status)
		h.ack(w)
		return
	}
	h.metrics.ObserveStatus(string(lifecycle))

	lookup := h.store.GetOrCreate(callSid, func() (*call.State, call.SessionLookup) {
		return h.syntheticSession(callSid, rawField)
	})
	if lookup == call.LookupAbsent {
		// Status for a call nobody remembers and whose CustomField cannot
		// rebuild: nothing to reconcile, nothing to report.
		h.logger.Warn("status for unknown call", "call_sid", callSid, "status", status)
		h.ack(w)
		return
	}
	if lookup == call.LookupCreatedSynthetic {
		h.logger.Info("synthetic session built from status callback", "call_sid", callSid)
	}

	durationSeconds := parseSeconds(r.Form.Get("Duration"))
	recordingURL := strings.TrimSpace(r.Form.Get("RecordingUrl"))

	var (
		becameTerminal bool
		snap           *call.State
	)
	err := h.store.Update(callSid, func(st *call.State) error {
		if st.Lifecycle.Terminal() {
			// Re-delivered terminal status; the record is already sealed.
			snap = st.Clone()
			return nil
		}
		now := time.Now().UTC()
		st.LastInteractionAt = now
		st.Lifecycle = lifecycle
		if !lifecycle.Terminal() {
			// Progress report (ringing, in-progress); nothing to seal yet.
			snap = st.Clone()
			return nil
		}

		if st.TerminalAt == nil {
			t := now
			st.TerminalAt = &t
		}
		if durationSeconds > 0 {
			st.DurationSeconds = durationSeconds
		}
		if recordingURL != "" {
			st.RecordingURL = recordingURL
		}
		// A digit flow that reached goodbye already committed its outcome;
		// the carrier status only fills the gap for calls that never got
		// that far.
		if st.Outcome == "" {
			st.Outcome = outcomeForLifecycle(lifecycle)
		}
		becameTerminal = true
		snap = st.Clone()
		return nil
	})
	if err != nil {
		// Evicted between lookup and lock; the sweeper already owned it.
		h.logger.Warn("status update lost its session", "call_sid", callSid, "error", err)
		span.RecordError(err)
		h.ack(w)
		return
	}

	if becameTerminal {
		h.logger.Info("call reached terminal status",
			"call_sid", callSid,
			"status", status,
			"outcome", string(snap.Outcome),
			"duration_seconds", snap.DurationSeconds,
		)
		h.saveSnapshot(snap)
		if h.reporter != nil {
			if err := h.reporter.Enqueue(r.Context(), snap); err != nil {
				// The sweeper re-enqueues unreported terminal records, so a
				// failed enqueue delays the report instead of losing it.
				h.logger.Error("outcome enqueue failed", "call_sid", callSid, "error", err)
			}
		}
	}

	h.ack(w)
}

func (h *StatusHandler) ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}` + "\n"))
}

// syntheticSession builds a minimal record for a status callback that beat
// (or outlived) every other sighting of its call.
func (h *StatusHandler) syntheticSession(callSid, raw string) (*call.State, call.SessionLookup) {
	if raw == "" {
		return nil, call.LookupAbsent
	}
	cf, err := call.DecodeCustomField(raw)
	if err != nil {
		h.logger.Warn("undecodable custom field on status", "call_sid", callSid, "error", err)
		return nil, call.LookupAbsent
	}
	flow, ok := h.flows.ByKind(cf.Kind)
	if !ok {
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
		Lifecycle:         call.LifecycleInitiated,
		Synthetic:         true,
		CreatedAt:         now,
		LastInteractionAt: now,
	}
	if cf.Kind == call.KindRiderAssignment {
		st.PartyID = cf.RiderID
	}
	return st, call.LookupCreatedSynthetic
}

func (h *StatusHandler) saveSnapshot(st *call.State) {
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

// lifecycleForStatus maps the carrier's status vocabulary onto ours. The
// carrier spells cancellation with one l.
func lifecycleForStatus(status string) (call.Lifecycle, bool) {
	switch status {
	case "completed":
		return call.LifecycleCompleted, true
	case "busy":
		return call.LifecycleBusy, true
	case "no-answer":
		return call.LifecycleNoAnswer, true
	case "failed":
		return call.LifecycleFailed, true
	case "canceled":
		return call.LifecycleCancelled, true
	case "ringing":
		return call.LifecycleRinging, true
	case "in-progress":
		return call.LifecycleInProgress, true
	case "answered":
		return call.LifecycleAnswered, true
	default:
		return "", false
	}
}

// outcomeForLifecycle fills the outcome for calls whose digit flow never
// committed one: an answered call that drifted to completion without input
// is a no_response, an unplaceable call is failed.
func outcomeForLifecycle(lc call.Lifecycle) call.Outcome {
	switch lc {
	case call.LifecycleCompleted, call.LifecycleBusy, call.LifecycleNoAnswer:
		return call.OutcomeNoResponse
	case call.LifecycleFailed, call.LifecycleCancelled:
		return call.OutcomeFailed
	default:
		return call.OutcomeNoResponse
	}
}

func parseSeconds(raw string) int {
	raw = call.UnwrapQuoted(strings.TrimSpace(raw))
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
