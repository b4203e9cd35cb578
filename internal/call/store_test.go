package call

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func storeState(sid string) *State {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return &State{
		CallSid:           sid,
		Kind:              KindVendorOrderConfirmation,
		OrderID:           "900",
		Language:          LanguageHindi,
		LogicalState:      StateGreeting,
		Lifecycle:         LifecycleInitiated,
		CreatedAt:         now,
		LastInteractionAt: now,
	}
}

func TestGetOrCreate(t *testing.T) {
	s := NewStore(StoreConfig{})

	calls := 0
	factory := func() (*State, SessionLookup) {
		calls++
		return storeState("CA1"), LookupCreatedFromPayload
	}

	if got := s.GetOrCreate("CA1", factory); got != LookupCreatedFromPayload {
		t.Fatalf("first lookup = %q, want created_from_payload", got)
	}
	if got := s.GetOrCreate("CA1", factory); got != LookupFound {
		t.Fatalf("second lookup = %q, want found", got)
	}
	if calls != 1 {
		t.Fatalf("factory ran %d times, want 1", calls)
	}

	absent := s.GetOrCreate("CA2", func() (*State, SessionLookup) { return nil, LookupAbsent })
	if absent != LookupAbsent {
		t.Fatalf("nil factory result = %q, want absent", absent)
	}
	if _, ok := s.Get("CA2"); ok {
		t.Fatal("absent lookup must not insert a session")
	}
}

func TestGetReturnsDeepCopy(t *testing.T) {
	s := NewStore(StoreConfig{})
	s.Put(storeState("CA1"))

	st, ok := s.Get("CA1")
	if !ok {
		t.Fatal("session missing")
	}
	st.SetCollected(SlotAccepted, true)
	st.OrderID = "scribbled"

	fresh, _ := s.Get("CA1")
	if fresh.OrderID != "900" || len(fresh.Collected) != 0 {
		t.Fatalf("mutating a copy leaked into the store: %+v", fresh)
	}
}

func TestUpdateSerializesPerSid(t *testing.T) {
	s := NewStore(StoreConfig{})
	s.Put(storeState("CA1"))

	const n = 64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_ = s.Update("CA1", func(st *State) error {
				st.DurationSeconds++
				return nil
			})
		}()
	}
	wg.Wait()

	st, _ := s.Get("CA1")
	if st.DurationSeconds != n {
		t.Fatalf("duration = %d after %d serialized updates", st.DurationSeconds, n)
	}
}

func TestUpdateMissingSession(t *testing.T) {
	s := NewStore(StoreConfig{})
	err := s.Update("nope", func(*State) error { return nil })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateWaitTimesOut(t *testing.T) {
	s := NewStore(StoreConfig{})
	s.Put(storeState("CA1"))

	hold := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = s.Update("CA1", func(*State) error {
			close(held)
			<-hold
			return nil
		})
	}()
	<-held

	err := s.UpdateWait("CA1", 20*time.Millisecond, func(*State) error { return nil })
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	close(hold)

	// Once released the same update goes through.
	if err := s.UpdateWait("CA1", time.Second, func(*State) error { return nil }); err != nil {
		t.Fatalf("post-release update: %v", err)
	}
}

func TestScanExpiredForcesNoResponse(t *testing.T) {
	s := NewStore(StoreConfig{LiveTTL: 15 * time.Minute, ReportedTTL: time.Minute})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	stale := storeState("CA-stale")
	stale.LastInteractionAt = now.Add(-16 * time.Minute)
	s.Put(stale)

	fresh := storeState("CA-fresh")
	fresh.LastInteractionAt = now.Add(-time.Minute)
	s.Put(fresh)

	pending := s.ScanExpired(now)
	if len(pending) != 1 || pending[0].CallSid != "CA-stale" {
		t.Fatalf("pending = %+v, want only CA-stale", pending)
	}
	got := pending[0]
	if got.Outcome != OutcomeNoResponse || got.Lifecycle != LifecycleNoAnswer || got.TerminalAt == nil {
		t.Fatalf("forced record = outcome %q lifecycle %q terminal_at %v", got.Outcome, got.Lifecycle, got.TerminalAt)
	}
	if _, ok := s.Get("CA-stale"); ok {
		t.Fatal("expired session still present")
	}
	if _, ok := s.Get("CA-fresh"); !ok {
		t.Fatal("fresh session was swept")
	}
}

func TestScanExpiredKeepsCommittedOutcome(t *testing.T) {
	s := NewStore(StoreConfig{LiveTTL: 15 * time.Minute})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	st := storeState("CA-done")
	st.LastInteractionAt = now.Add(-20 * time.Minute)
	st.Outcome = OutcomeAccepted
	terminal := now.Add(-20 * time.Minute)
	st.TerminalAt = &terminal
	st.SetCollected(SlotPrepMinutes, 15)
	s.Put(st)

	pending := s.ScanExpired(now)
	if len(pending) != 1 {
		t.Fatalf("pending = %d records, want 1", len(pending))
	}
	if pending[0].Outcome != OutcomeAccepted {
		t.Fatalf("sweep overwrote committed outcome: %q", pending[0].Outcome)
	}
	if minutes, _ := pending[0].CollectedInt(SlotPrepMinutes); minutes != 15 {
		t.Fatalf("collected lost in sweep: %v", pending[0].Collected)
	}
}

func TestScanExpiredDropsReported(t *testing.T) {
	s := NewStore(StoreConfig{ReportedTTL: time.Minute})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	st := storeState("CA-reported")
	st.Reported = true
	st.Outcome = OutcomeAccepted
	terminal := now.Add(-2 * time.Minute)
	st.TerminalAt = &terminal
	s.Put(st)

	if pending := s.ScanExpired(now); len(pending) != 0 {
		t.Fatalf("reported record re-enqueued: %+v", pending)
	}
	if _, ok := s.Get("CA-reported"); ok {
		t.Fatal("reported record outlived its linger TTL")
	}
}

func TestOrderReservation(t *testing.T) {
	s := NewStore(StoreConfig{OrderTTL: 5 * time.Minute})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	sid, err := s.ReserveOrder(KindVendorOrderConfirmation, "42", now)
	if err != nil || sid != "" {
		t.Fatalf("first reservation = (%q, %v), want empty claim", sid, err)
	}

	if _, err := s.ReserveOrder(KindVendorOrderConfirmation, "42", now); !errors.Is(err, ErrInitiationInFlight) {
		t.Fatalf("concurrent reservation err = %v, want ErrInitiationInFlight", err)
	}

	s.CommitOrder(KindVendorOrderConfirmation, "42", "CA42", now)
	sid, err = s.ReserveOrder(KindVendorOrderConfirmation, "42", now.Add(10*time.Second))
	if err != nil || sid != "CA42" {
		t.Fatalf("post-commit reservation = (%q, %v), want duplicate CA42", sid, err)
	}

	// A different kind for the same order is its own window.
	sid, err = s.ReserveOrder(KindRiderAssignment, "42", now)
	if err != nil || sid != "" {
		t.Fatalf("cross-kind reservation = (%q, %v), want empty claim", sid, err)
	}

	// Past the window the order can be called again.
	sid, err = s.ReserveOrder(KindVendorOrderConfirmation, "42", now.Add(6*time.Minute))
	if err != nil || sid != "" {
		t.Fatalf("expired-window reservation = (%q, %v), want empty claim", sid, err)
	}
}

func TestReleaseOrderFreesSlot(t *testing.T) {
	s := NewStore(StoreConfig{})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if _, err := s.ReserveOrder(KindVendorOrderConfirmation, "7", now); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	s.ReleaseOrder(KindVendorOrderConfirmation, "7")
	if sid, err := s.ReserveOrder(KindVendorOrderConfirmation, "7", now); err != nil || sid != "" {
		t.Fatalf("post-release reservation = (%q, %v), want fresh claim", sid, err)
	}
}

func TestMarkReported(t *testing.T) {
	s := NewStore(StoreConfig{})
	s.Put(storeState("CA1"))

	if err := s.MarkReported("CA1"); err != nil {
		t.Fatalf("mark reported: %v", err)
	}
	st, _ := s.Get("CA1")
	if !st.Reported {
		t.Fatal("reported flag not set")
	}
	if err := s.MarkReported("gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing session err = %v, want ErrNotFound", err)
	}
}
