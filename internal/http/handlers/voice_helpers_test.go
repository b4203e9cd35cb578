package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mangwale/voice-platform/internal/call"
	"github.com/mangwale/voice-platform/internal/carrier"
	"github.com/mangwale/voice-platform/internal/report"
)

// voiceFixture bundles the real in-memory engine parts the handler tests
// drive: store, flows, machine and composer, plus one dialect encoder.
type voiceFixture struct {
	store    *call.Store
	flows    *call.Flows
	machine  *call.Machine
	composer *call.Composer
	encoder  carrier.ResponseEncoder
}

func newVoiceFixture(t *testing.T, dialect string) *voiceFixture {
	t.Helper()
	flows := call.NewFlows(30)
	enc, err := carrier.NewEncoder(dialect, "https://voice.mangwale.in/callback")
	if err != nil {
		t.Fatalf("encoder: %v", err)
	}
	return &voiceFixture{
		store:    call.NewStore(call.StoreConfig{}),
		flows:    flows,
		machine:  call.NewMachine(flows),
		composer: call.NewComposer(call.ComposerConfig{DefaultLanguage: call.LanguageEnglish}),
		encoder:  enc,
	}
}

func (f *voiceFixture) callbackHandler(t *testing.T, cfg CallbackConfig) *CallbackHandler {
	t.Helper()
	cfg.Store = f.store
	cfg.Machine = f.machine
	cfg.Composer = f.composer
	cfg.Encoder = f.encoder
	cfg.Flows = f.flows
	h, err := NewCallbackHandler(cfg)
	if err != nil {
		t.Fatalf("callback handler: %v", err)
	}
	return h
}

func (f *voiceFixture) statusHandler(t *testing.T, cfg StatusConfig) *StatusHandler {
	t.Helper()
	cfg.Store = f.store
	cfg.Flows = f.flows
	h, err := NewStatusHandler(cfg)
	if err != nil {
		t.Fatalf("status handler: %v", err)
	}
	return h
}

// seedVendor inserts a live vendor-confirmation session the way the
// initiator would, waiting at the greeting for its first applet fetch.
func (f *voiceFixture) seedVendor(callSid, orderID string) {
	now := time.Now().UTC()
	f.store.Put(&call.State{
		CallSid:           callSid,
		Kind:              call.KindVendorOrderConfirmation,
		OrderID:           orderID,
		PartyID:           "V001",
		CalleePhone:       "919923383838",
		Language:          call.LanguageEnglish,
		Payload:           call.Payload{Amount: 550},
		LogicalState:      call.StateGreeting,
		Lifecycle:         call.LifecycleInitiated,
		CreatedAt:         now,
		LastInteractionAt: now,
	})
}

// callbackRequest builds a carrier applet fetch. GET carries the fields on
// the query string, POST in a form body, matching both carrier wirings.
func callbackRequest(method, callSid, digits, customField string) *http.Request {
	vals := url.Values{}
	if callSid != "" {
		vals.Set("CallSid", callSid)
	}
	if digits != "" {
		vals.Set("digits", digits)
	}
	if customField != "" {
		vals.Set("CustomField", customField)
	}
	if method == http.MethodGet {
		return httptest.NewRequest(http.MethodGet, "/callback?"+vals.Encode(), nil)
	}
	req := httptest.NewRequest(method, "/callback", strings.NewReader(vals.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// statusRequest builds a carrier status callback POST.
func statusRequest(fields map[string]string) *http.Request {
	vals := url.Values{}
	for k, v := range fields {
		vals.Set(k, v)
	}
	req := httptest.NewRequest(http.MethodPost, "/status", strings.NewReader(vals.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// gatherBody is the JSON dialect payload, decoded for assertions.
type gatherBody struct {
	GatherPrompt struct {
		Text string `json:"text"`
	} `json:"gather_prompt"`
	Voice          string `json:"voice"`
	MaxInputDigits int    `json:"max_input_digits"`
	InputTimeout   int    `json:"input_timeout"`
}

func decodeGather(t *testing.T, body []byte) gatherBody {
	t.Helper()
	var out gatherBody
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode gather payload: %v (body=%s)", err, body)
	}
	return out
}

func encodedCustomField(t *testing.T, cf call.CustomField) string {
	t.Helper()
	encoded, err := cf.Encode()
	if err != nil {
		t.Fatalf("encode custom field: %v", err)
	}
	return encoded
}

// stubPlacer counts carrier dials and hands back scripted call sids.
type stubPlacer struct {
	mu    sync.Mutex
	sids  []string
	err   error
	calls int
	last  call.PlaceRequest
}

func (p *stubPlacer) PlaceCall(ctx context.Context, req call.PlaceRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.last = req
	if p.err != nil {
		return "", p.err
	}
	if len(p.sids) == 0 {
		return "CAtest", nil
	}
	sid := p.sids[0]
	if len(p.sids) > 1 {
		p.sids = p.sids[1:]
	}
	return sid, nil
}

func (p *stubPlacer) placed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// stubEnqueuer records the terminal sessions the status handler hands over.
type stubEnqueuer struct {
	mu     sync.Mutex
	states []*call.State
	err    error
}

func (s *stubEnqueuer) Enqueue(ctx context.Context, st *call.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.states = append(s.states, st)
	return nil
}

func (s *stubEnqueuer) enqueued() []*call.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*call.State, len(s.states))
	copy(out, s.states)
	return out
}

// stubJournalReader serves scripted journal records to the ops endpoints.
type stubJournalReader struct {
	records map[string]*report.JournalRecord
	err     error
}

func (s *stubJournalReader) Get(ctx context.Context, callSid string) (*report.JournalRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	rec, ok := s.records[callSid]
	if !ok {
		return nil, report.ErrRecordNotFound
	}
	return rec, nil
}
