package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mangwale/voice-platform/internal/call"
	"github.com/mangwale/voice-platform/internal/observability/metrics"
	"github.com/mangwale/voice-platform/internal/report"
	"github.com/mangwale/voice-platform/pkg/logging"
)

// opsRequest routes through a real chi mux so URL params resolve.
func opsRequest(t *testing.T, h *OpsHandler, path string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/ops/sessions", h.ListSessions)
	r.Get("/ops/sessions/{callSid}", h.GetSession)
	r.Get("/ops/reports/{callSid}", h.GetReport)
	r.Get("/ops/totals", h.Totals)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func newOpsFixture(t *testing.T, journal reportJournal, gatherer prometheus.Gatherer) (*OpsHandler, *call.Store) {
	t.Helper()
	store := call.NewStore(call.StoreConfig{})
	h, err := NewOpsHandler(OpsConfig{
		Store:    store,
		Journal:  journal,
		Gatherer: gatherer,
		Logger:   logging.Default(),
	})
	if err != nil {
		t.Fatalf("ops handler: %v", err)
	}
	return h, store
}

func TestOpsListSessionsNewestFirst(t *testing.T) {
	h, store := newOpsFixture(t, nil, prometheus.NewRegistry())
	old := time.Now().UTC().Add(-time.Minute)
	store.Put(&call.State{CallSid: "C1", Kind: call.KindVendorOrderConfirmation, CreatedAt: old})
	store.Put(&call.State{CallSid: "C2", Kind: call.KindVendorOrderConfirmation, CreatedAt: old.Add(30 * time.Second)})

	rec := opsRequest(t, h, "/ops/sessions")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Count    int           `json:"count"`
		Sessions []*call.State `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 || len(body.Sessions) != 2 {
		t.Fatalf("body = %+v", body)
	}
	if body.Sessions[0].CallSid != "C2" {
		t.Fatalf("expected newest first, got %s", body.Sessions[0].CallSid)
	}
}

func TestOpsGetSession(t *testing.T) {
	h, store := newOpsFixture(t, nil, prometheus.NewRegistry())
	store.Put(&call.State{CallSid: "C7", Kind: call.KindRiderAssignment, OrderID: "42"})

	rec := opsRequest(t, h, "/ops/sessions/C7")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var st call.State
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.OrderID != "42" {
		t.Fatalf("state = %+v", st)
	}

	if rec := opsRequest(t, h, "/ops/sessions/missing"); rec.Code != http.StatusNotFound {
		t.Fatalf("missing session status = %d", rec.Code)
	}
}

func TestOpsGetReportFromJournal(t *testing.T) {
	journal := &stubJournalReader{records: map[string]*report.JournalRecord{
		"C9": {CallSid: "C9", Status: report.DeliveryDelivered, Attempts: 2},
	}}
	h, _ := newOpsFixture(t, journal, prometheus.NewRegistry())

	rec := opsRequest(t, h, "/ops/reports/C9")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got report.JournalRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != report.DeliveryDelivered || got.Attempts != 2 {
		t.Fatalf("record = %+v", got)
	}

	if rec := opsRequest(t, h, "/ops/reports/unknown"); rec.Code != http.StatusNotFound {
		t.Fatalf("missing record status = %d", rec.Code)
	}
}

func TestOpsGetReportWithoutJournal(t *testing.T) {
	h, _ := newOpsFixture(t, nil, prometheus.NewRegistry())
	if rec := opsRequest(t, h, "/ops/reports/C1"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestOpsTotalsSumCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewCallMetrics(reg)
	m.ObserveInitiation("vendor_order_confirmation", "placed")
	m.ObserveInitiation("vendor_order_confirmation", "duplicate")
	m.ObserveTurn("vendor_order_confirmation", "digit")
	m.ObserveReport("delivered")
	m.ObserveReport("dead_letter")

	h, _ := newOpsFixture(t, nil, reg)
	rec := opsRequest(t, h, "/ops/totals")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var totals metrics.Totals
	if err := json.Unmarshal(rec.Body.Bytes(), &totals); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if totals.CallsInitiated != 2 || totals.CallbackTurns != 1 {
		t.Fatalf("totals = %+v", totals)
	}
	if totals.ReportsDelivered != 1 || totals.ReportsFailed != 1 {
		t.Fatalf("report totals = %+v", totals)
	}
}
