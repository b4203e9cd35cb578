package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mangwale/voice-platform/internal/call"
	"github.com/mangwale/voice-platform/internal/carrier"
	"github.com/mangwale/voice-platform/pkg/logging"
)

func TestStatusCompletedKeepsDigitOutcome(t *testing.T) {
	f := newVoiceFixture(t, carrier.DialectJSON)
	enq := &stubEnqueuer{}
	handler := f.statusHandler(t, StatusConfig{Reporter: enq, Logger: logging.Default()})

	f.seedVendor("C20", "500")
	if err := f.store.Update("C20", func(st *call.State) error {
		st.Lifecycle = call.LifecycleInProgress
		st.LogicalState = call.StateGoodbyeAccepted
		st.Outcome = call.OutcomeAccepted
		st.SetCollected(call.SlotPrepMinutes, 30)
		now := time.Now().UTC()
		st.TerminalAt = &now
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.Handle(rec, statusRequest(map[string]string{
		"CallSid":      "C20",
		"Status":       "completed",
		"Duration":     "35",
		"RecordingUrl": "https://recordings.exotel.com/C20.mp3",
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Fatalf("body = %s", rec.Body.String())
	}

	st, _ := f.store.Get("C20")
	if st.Lifecycle != call.LifecycleCompleted {
		t.Fatalf("lifecycle = %q", st.Lifecycle)
	}
	if st.Outcome != call.OutcomeAccepted {
		t.Fatalf("digit outcome overwritten: %q", st.Outcome)
	}
	if st.DurationSeconds != 35 {
		t.Fatalf("duration = %d", st.DurationSeconds)
	}
	if st.RecordingURL != "https://recordings.exotel.com/C20.mp3" {
		t.Fatalf("recording = %q", st.RecordingURL)
	}

	queued := enq.enqueued()
	if len(queued) != 1 {
		t.Fatalf("enqueued %d reports, want 1", len(queued))
	}
	if queued[0].CallSid != "C20" || queued[0].Outcome != call.OutcomeAccepted {
		t.Fatalf("enqueued snapshot = %+v", queued[0])
	}
}

func TestStatusFillsOutcomeWhenFlowNeverFinished(t *testing.T) {
	cases := []struct {
		status string
		want   call.Outcome
		wantLC call.Lifecycle
	}{
		{"completed", call.OutcomeNoResponse, call.LifecycleCompleted},
		{"busy", call.OutcomeNoResponse, call.LifecycleBusy},
		{"no-answer", call.OutcomeNoResponse, call.LifecycleNoAnswer},
		{"failed", call.OutcomeFailed, call.LifecycleFailed},
		{"canceled", call.OutcomeFailed, call.LifecycleCancelled},
	}
	for _, tc := range cases {
		t.Run(tc.status, func(t *testing.T) {
			f := newVoiceFixture(t, carrier.DialectJSON)
			enq := &stubEnqueuer{}
			handler := f.statusHandler(t, StatusConfig{Reporter: enq, Logger: logging.Default()})
			f.seedVendor("C21", "501")

			rec := httptest.NewRecorder()
			handler.Handle(rec, statusRequest(map[string]string{
				"CallSid": "C21",
				"Status":  tc.status,
			}))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}

			st, _ := f.store.Get("C21")
			if st.Lifecycle != tc.wantLC {
				t.Fatalf("lifecycle = %q, want %q", st.Lifecycle, tc.wantLC)
			}
			if st.Outcome != tc.want {
				t.Fatalf("outcome = %q, want %q", st.Outcome, tc.want)
			}
			if st.TerminalAt == nil {
				t.Fatalf("terminal timestamp not set")
			}
			if len(enq.enqueued()) != 1 {
				t.Fatalf("expected exactly one enqueued report")
			}
		})
	}
}

func TestStatusBuildsSyntheticSession(t *testing.T) {
	f := newVoiceFixture(t, carrier.DialectJSON)
	enq := &stubEnqueuer{}
	handler := f.statusHandler(t, StatusConfig{Reporter: enq, Logger: logging.Default()})

	encoded := encodedCustomField(t, call.CustomField{
		Kind:     call.KindVendorOrderConfirmation,
		OrderID:  "902",
		VendorID: "V44",
		Language: call.LanguageHindi,
	})

	rec := httptest.NewRecorder()
	handler.Handle(rec, statusRequest(map[string]string{
		"CallSid":     "C22",
		"Status":      "no-answer",
		"CustomField": encoded,
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	st, ok := f.store.Get("C22")
	if !ok {
		t.Fatalf("synthetic session not created")
	}
	if !st.Synthetic || st.OrderID != "902" || st.PartyID != "V44" {
		t.Fatalf("synthetic session = %+v", st)
	}
	if st.Outcome != call.OutcomeNoResponse || !st.Lifecycle.Terminal() {
		t.Fatalf("synthetic session not sealed: %+v", st)
	}
	if len(enq.enqueued()) != 1 {
		t.Fatalf("synthetic terminal must still be reported")
	}
}

func TestStatusUnknownCallWithoutCustomField(t *testing.T) {
	f := newVoiceFixture(t, carrier.DialectJSON)
	enq := &stubEnqueuer{}
	handler := f.statusHandler(t, StatusConfig{Reporter: enq, Logger: logging.Default()})

	rec := httptest.NewRecorder()
	handler.Handle(rec, statusRequest(map[string]string{
		"CallSid": "C23",
		"Status":  "completed",
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, must always ack", rec.Code)
	}
	if f.store.Len() != 0 || len(enq.enqueued()) != 0 {
		t.Fatalf("nothing should be created or reported")
	}
}

func TestStatusRedeliveryIsIdempotent(t *testing.T) {
	f := newVoiceFixture(t, carrier.DialectJSON)
	enq := &stubEnqueuer{}
	handler := f.statusHandler(t, StatusConfig{Reporter: enq, Logger: logging.Default()})
	f.seedVendor("C24", "502")

	fields := map[string]string{
		"CallSid":  "C24",
		"Status":   "completed",
		"Duration": "20",
	}
	rec := httptest.NewRecorder()
	handler.Handle(rec, statusRequest(fields))

	// Carrier re-sends the same terminal status with a different duration.
	fields["Duration"] = "99"
	rec = httptest.NewRecorder()
	handler.Handle(rec, statusRequest(fields))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	st, _ := f.store.Get("C24")
	if st.DurationSeconds != 20 {
		t.Fatalf("sealed duration mutated to %d", st.DurationSeconds)
	}
	if len(enq.enqueued()) != 1 {
		t.Fatalf("re-delivery enqueued a second report")
	}
}

func TestStatusRingingIsProgressOnly(t *testing.T) {
	f := newVoiceFixture(t, carrier.DialectJSON)
	enq := &stubEnqueuer{}
	handler := f.statusHandler(t, StatusConfig{Reporter: enq, Logger: logging.Default()})
	f.seedVendor("C25", "503")

	rec := httptest.NewRecorder()
	handler.Handle(rec, statusRequest(map[string]string{
		"CallSid": "C25",
		"Status":  "ringing",
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	st, _ := f.store.Get("C25")
	if st.Lifecycle != call.LifecycleRinging {
		t.Fatalf("lifecycle = %q", st.Lifecycle)
	}
	if st.TerminalAt != nil || st.Outcome != "" {
		t.Fatalf("ringing must not seal the session: %+v", st)
	}
	if len(enq.enqueued()) != 0 {
		t.Fatalf("ringing must not report")
	}
}

func TestStatusUnrecognizedValueIsDropped(t *testing.T) {
	f := newVoiceFixture(t, carrier.DialectJSON)
	handler := f.statusHandler(t, StatusConfig{Logger: logging.Default()})
	f.seedVendor("C26", "504")

	rec := httptest.NewRecorder()
	handler.Handle(rec, statusRequest(map[string]string{
		"CallSid": "C26",
		"Status":  "vanished",
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	st, _ := f.store.Get("C26")
	if st.Lifecycle != call.LifecycleInitiated {
		t.Fatalf("unknown status mutated lifecycle to %q", st.Lifecycle)
	}
}

func TestStatusMissingCallSidAcks(t *testing.T) {
	f := newVoiceFixture(t, carrier.DialectJSON)
	handler := f.statusHandler(t, StatusConfig{Logger: logging.Default()})

	rec := httptest.NewRecorder()
	handler.Handle(rec, statusRequest(map[string]string{"Status": "completed"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}
