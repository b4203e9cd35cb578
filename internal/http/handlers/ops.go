package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mangwale/voice-platform/internal/call"
	"github.com/mangwale/voice-platform/internal/observability/metrics"
	"github.com/mangwale/voice-platform/internal/report"
	"github.com/mangwale/voice-platform/pkg/logging"
)

// reportJournal looks up delivery records for calls the in-memory store has
// already evicted.
type reportJournal interface {
	Get(ctx context.Context, callSid string) (*report.JournalRecord, error)
}

// OpsHandler exposes live-session inspection and counter summaries for the
// on-call runbook. Everything here is read-only.
type OpsHandler struct {
	store    *call.Store
	journal  reportJournal
	gatherer prometheus.Gatherer
	logger   *logging.Logger
}

// OpsConfig wires the ops endpoints. Gatherer defaults to the prometheus
// default; Journal is optional.
type OpsConfig struct {
	Store    *call.Store
	Journal  reportJournal
	Gatherer prometheus.Gatherer
	Logger   *logging.Logger
}

func NewOpsHandler(cfg OpsConfig) (*OpsHandler, error) {
	if cfg.Store == nil {
		return nil, errors.New("handlers: ops requires a store")
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &OpsHandler{
		store:    cfg.Store,
		journal:  cfg.Journal,
		gatherer: cfg.Gatherer,
		logger:   cfg.Logger,
	}, nil
}

// ListSessions returns every live session, newest first.
// GET /ops/sessions
func (h *OpsHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	states := h.store.States()
	sort.Slice(states, func(i, j int) bool {
		return states[i].CreatedAt.After(states[j].CreatedAt)
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"count":    len(states),
		"sessions": states,
	})
}

// GetSession returns one live session by call sid.
// GET /ops/sessions/{callSid}
func (h *OpsHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	callSid := chi.URLParam(r, "callSid")
	if callSid == "" {
		http.Error(w, "missing callSid", http.StatusBadRequest)
		return
	}
	st, ok := h.store.Get(callSid)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(st)
}

// GetReport returns the delivery journal entry for a call, which outlives
// the session record by days. 503 when no journal table is configured.
// GET /ops/reports/{callSid}
func (h *OpsHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		http.Error(w, "report journal not configured", http.StatusServiceUnavailable)
		return
	}
	callSid := chi.URLParam(r, "callSid")
	if callSid == "" {
		http.Error(w, "missing callSid", http.StatusBadRequest)
		return
	}
	rec, err := h.journal.Get(r.Context(), callSid)
	if err != nil {
		if errors.Is(err, report.ErrRecordNotFound) {
			http.Error(w, "report not found", http.StatusNotFound)
			return
		}
		h.logger.Error("journal lookup failed", "call_sid", callSid, "error", err)
		http.Error(w, "journal unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(rec)
}

// Totals returns summed engine counters, a quick numeric answer to "is this
// thing delivering reports" without scraping the metrics endpoint.
// GET /ops/totals
func (h *OpsHandler) Totals(w http.ResponseWriter, r *http.Request) {
	totals, err := metrics.GatherTotals(h.gatherer)
	if err != nil {
		h.logger.Error("gathering counter totals failed", "error", err)
		http.Error(w, "metrics unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(totals)
}
