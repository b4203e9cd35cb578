package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mangwale/voice-platform/pkg/logging"
)

var tracer = otel.Tracer("mangwale.voice.call")

// ErrInvalidInitiation means the initiation request is missing required
// business fields.
var ErrInvalidInitiation = errors.New("call: invalid initiation request")

// PlaceRequest is what the carrier needs to start one outbound call. The
// carrier client supplies caller id, applet and status URLs from its own
// config.
type PlaceRequest struct {
	// Phone is the callee in local or E.164-ish form; the carrier client
	// normalizes it.
	Phone string
	// CustomField is the encoded session seed echoed back on every fetch.
	CustomField string
	// TimeLimit caps the whole call; zero means carrier default.
	TimeLimit time.Duration
	// RingTimeout caps unanswered ringing; zero means carrier default.
	RingTimeout time.Duration
}

// Placer starts calls on the telephony carrier.
type Placer interface {
	PlaceCall(ctx context.Context, req PlaceRequest) (callSid string, err error)
}

// InitiateRequest is a validated, kind-agnostic order to call someone.
type InitiateRequest struct {
	Kind     Kind
	OrderID  string
	PartyID  string
	Phone    string
	Name     string
	Language Language
	Payload  Payload
}

// InitiateResult reports either the placed call or the earlier call this
// request deduplicated onto.
type InitiateResult struct {
	CallSid     string `json:"call_sid,omitempty"`
	DuplicateOf string `json:"duplicate_of,omitempty"`
}

// InitiatorConfig wires call initiation.
type InitiatorConfig struct {
	Store  *Store
	Placer Placer
	Flows  *Flows
	// TimeLimit and RingTimeout are passed through to every placed call.
	TimeLimit   time.Duration
	RingTimeout time.Duration
	Logger      *logging.Logger
}

// Initiator places calls: it claims the per-order dedup slot, asks the
// carrier for a call, and seeds the session the callback handler will drive.
type Initiator struct {
	store       *Store
	placer      Placer
	flows       *Flows
	timeLimit   time.Duration
	ringTimeout time.Duration
	logger      *logging.Logger
}

// NewInitiator builds an initiator. Store, Placer and Flows are required.
func NewInitiator(cfg InitiatorConfig) (*Initiator, error) {
	if cfg.Store == nil || cfg.Placer == nil || cfg.Flows == nil {
		return nil, errors.New("call: initiator requires store, placer and flows")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Initiator{
		store:       cfg.Store,
		placer:      cfg.Placer,
		flows:       cfg.Flows,
		timeLimit:   cfg.TimeLimit,
		ringTimeout: cfg.RingTimeout,
		logger:      cfg.Logger,
	}, nil
}

// Initiate places one call unless the (kind, order id) window already holds
// one. Carrier errors propagate typed so the HTTP layer can map them; the
// dedup reservation is released on failure so a retry can claim it.
func (i *Initiator) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	ctx, span := tracer.Start(ctx, "call.initiate")
	defer span.End()
	span.SetAttributes(
		attribute.String("call.kind", string(req.Kind)),
		attribute.String("call.order_id", req.OrderID),
	)

	flow, ok := i.flows.ByKind(req.Kind)
	if !ok {
		return InitiateResult{}, fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
	}
	if req.OrderID == "" || req.Phone == "" {
		return InitiateResult{}, fmt.Errorf("%w: order_id and phone required", ErrInvalidInitiation)
	}

	now := time.Now().UTC()
	existing, err := i.store.ReserveOrder(req.Kind, req.OrderID, now)
	if err != nil {
		return InitiateResult{}, err
	}
	if existing != "" {
		i.logger.Info("initiation deduplicated onto existing call",
			"kind", string(req.Kind), "order_id", req.OrderID, "call_sid", existing)
		return InitiateResult{DuplicateOf: existing}, nil
	}

	cf := CustomField{
		Kind:     req.Kind,
		OrderID:  req.OrderID,
		Language: req.Language,
	}
	switch req.Kind {
	case KindRiderAssignment:
		cf.RiderID = req.PartyID
	default:
		cf.VendorID = req.PartyID
	}
	encoded, err := cf.Encode()
	if err != nil {
		i.store.ReleaseOrder(req.Kind, req.OrderID)
		return InitiateResult{}, err
	}

	callSid, err := i.placer.PlaceCall(ctx, PlaceRequest{
		Phone:       req.Phone,
		CustomField: encoded,
		TimeLimit:   i.timeLimit,
		RingTimeout: i.ringTimeout,
	})
	if err != nil {
		i.store.ReleaseOrder(req.Kind, req.OrderID)
		span.RecordError(err)
		return InitiateResult{}, err
	}

	st := &State{
		CallSid:           callSid,
		Kind:              req.Kind,
		OrderID:           req.OrderID,
		PartyID:           req.PartyID,
		CalleePhone:       req.Phone,
		CalleeName:        req.Name,
		Language:          req.Language,
		Payload:           req.Payload,
		LogicalState:      flow.Initial(),
		Lifecycle:         LifecycleInitiated,
		CreatedAt:         now,
		LastInteractionAt: now,
	}
	i.store.Put(st)
	i.store.CommitOrder(req.Kind, req.OrderID, callSid, now)

	span.SetAttributes(attribute.String("call.sid", callSid))
	i.logger.Info("call placed",
		"kind", string(req.Kind),
		"order_id", req.OrderID,
		"call_sid", callSid,
		"language", string(req.Language),
	)
	return InitiateResult{CallSid: callSid}, nil
}
