package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mangwale/voice-platform/internal/call"
)

// retryCounter exposes how many outcome reports sit in the retry table.
type retryCounter interface {
	PendingRetries() int
}

// HealthHandler answers load-balancer and uptime probes.
type HealthHandler struct {
	store   *call.Store
	retries retryCounter
	dialect string
}

// NewHealthHandler builds the liveness endpoint. Store is required; retries
// may be nil when no reporter is wired.
func NewHealthHandler(store *call.Store, retries retryCounter, dialect string) *HealthHandler {
	return &HealthHandler{store: store, retries: retries, dialect: dialect}
}

func (h *HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":  "healthy",
		"dialect": h.dialect,
		"time":    time.Now().UTC().Format(time.RFC3339),
	}
	if h.store != nil {
		response["live_sessions"] = h.store.Len()
	}
	if h.retries != nil {
		response["pending_retries"] = h.retries.PendingRetries()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}
