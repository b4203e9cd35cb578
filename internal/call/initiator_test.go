package call

import (
	"context"
	"errors"
	"testing"
)

type stubPlacer struct {
	sid   string
	err   error
	calls int
	last  PlaceRequest
}

func (p *stubPlacer) PlaceCall(_ context.Context, req PlaceRequest) (string, error) {
	p.calls++
	p.last = req
	if p.err != nil {
		return "", p.err
	}
	return p.sid, nil
}

func initiatorFixture(t *testing.T, placer *stubPlacer) (*Initiator, *Store) {
	t.Helper()
	store := NewStore(StoreConfig{})
	ini, err := NewInitiator(InitiatorConfig{
		Store:  store,
		Placer: placer,
		Flows:  NewFlows(30),
	})
	if err != nil {
		t.Fatalf("NewInitiator: %v", err)
	}
	return ini, store
}

func vendorInitiateRequest() InitiateRequest {
	return InitiateRequest{
		Kind:     KindVendorOrderConfirmation,
		OrderID:  "42",
		PartyID:  "V001",
		Phone:    "919923383838",
		Name:     "Sharma Kitchen",
		Language: LanguageHindi,
		Payload:  Payload{Amount: 550},
	}
}

func TestInitiatePlacesCallAndSeedsSession(t *testing.T) {
	placer := &stubPlacer{sid: "CA42"}
	ini, store := initiatorFixture(t, placer)

	res, err := ini.Initiate(context.Background(), vendorInitiateRequest())
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if res.CallSid != "CA42" || res.DuplicateOf != "" {
		t.Fatalf("result = %+v", res)
	}

	cf, err := DecodeCustomField(placer.last.CustomField)
	if err != nil {
		t.Fatalf("placed call carried bad custom field: %v", err)
	}
	if cf.Kind != KindVendorOrderConfirmation || cf.OrderID != "42" || cf.VendorID != "V001" {
		t.Fatalf("custom field = %+v", cf)
	}

	st, ok := store.Get("CA42")
	if !ok {
		t.Fatal("session not seeded")
	}
	if st.LogicalState != StateGreeting || st.Lifecycle != LifecycleInitiated {
		t.Fatalf("seeded session = %q/%q", st.LogicalState, st.Lifecycle)
	}
	if st.Payload.Amount != 550 || st.CalleeName != "Sharma Kitchen" {
		t.Fatalf("payload not frozen: %+v", st)
	}
}

func TestInitiateDeduplicatesWithinWindow(t *testing.T) {
	placer := &stubPlacer{sid: "CA42"}
	ini, _ := initiatorFixture(t, placer)

	if _, err := ini.Initiate(context.Background(), vendorInitiateRequest()); err != nil {
		t.Fatalf("first initiate: %v", err)
	}
	res, err := ini.Initiate(context.Background(), vendorInitiateRequest())
	if err != nil {
		t.Fatalf("second initiate: %v", err)
	}
	if res.DuplicateOf != "CA42" || res.CallSid != "" {
		t.Fatalf("second result = %+v, want duplicate_of CA42", res)
	}
	if placer.calls != 1 {
		t.Fatalf("carrier called %d times, want 1", placer.calls)
	}
}

func TestInitiateReleasesReservationOnCarrierFailure(t *testing.T) {
	placer := &stubPlacer{err: errors.New("carrier down")}
	ini, store := initiatorFixture(t, placer)

	if _, err := ini.Initiate(context.Background(), vendorInitiateRequest()); err == nil {
		t.Fatal("want carrier error")
	}
	if _, ok := store.Get("CA42"); ok {
		t.Fatal("failed initiation must not seed a session")
	}

	// The slot is free again for a retry.
	placer.err = nil
	placer.sid = "CA43"
	res, err := ini.Initiate(context.Background(), vendorInitiateRequest())
	if err != nil || res.CallSid != "CA43" {
		t.Fatalf("retry after failure = (%+v, %v)", res, err)
	}
}

func TestInitiateRiderCarriesRiderID(t *testing.T) {
	placer := &stubPlacer{sid: "CR7"}
	ini, _ := initiatorFixture(t, placer)

	req := InitiateRequest{
		Kind:     KindRiderAssignment,
		OrderID:  "42",
		PartyID:  "R7",
		Phone:    "919900112233",
		Name:     "Ravi",
		Language: LanguageMarathi,
		Payload:  Payload{PickupName: "Sharma Kitchen"},
	}
	if _, err := ini.Initiate(context.Background(), req); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	cf, err := DecodeCustomField(placer.last.CustomField)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cf.RiderID != "R7" || cf.VendorID != "" {
		t.Fatalf("custom field = %+v, want rider_id only", cf)
	}
}

func TestInitiateValidation(t *testing.T) {
	ini, _ := initiatorFixture(t, &stubPlacer{sid: "CA1"})

	req := vendorInitiateRequest()
	req.Kind = "customer_survey"
	if _, err := ini.Initiate(context.Background(), req); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("unknown kind err = %v", err)
	}

	req = vendorInitiateRequest()
	req.OrderID = ""
	if _, err := ini.Initiate(context.Background(), req); !errors.Is(err, ErrInvalidInitiation) {
		t.Fatalf("missing order err = %v", err)
	}

	req = vendorInitiateRequest()
	req.Phone = ""
	if _, err := ini.Initiate(context.Background(), req); !errors.Is(err, ErrInvalidInitiation) {
		t.Fatalf("missing phone err = %v", err)
	}
}
