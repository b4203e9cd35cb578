package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mangwale/voice-platform/internal/call"
	"github.com/mangwale/voice-platform/internal/carrier"
	"github.com/mangwale/voice-platform/internal/observability/metrics"
	"github.com/mangwale/voice-platform/pkg/logging"
)

// maxInitiateBody bounds initiation request bodies; order payloads are tiny.
const maxInitiateBody = 64 << 10

type callInitiator interface {
	Initiate(ctx context.Context, req call.InitiateRequest) (call.InitiateResult, error)
}

// flexibleID decodes ids the orders service sends sometimes as JSON numbers
// and sometimes as strings.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

type vendorInitiateRequest struct {
	OrderID     flexibleID      `json:"order_id"`
	VendorID    flexibleID      `json:"vendor_id"`
	VendorPhone string          `json:"vendor_phone"`
	VendorName  string          `json:"vendor_name"`
	OrderAmount float64         `json:"order_amount"`
	OrderItems  []call.LineItem `json:"order_items"`
	Language    string          `json:"language"`
}

type riderInitiateRequest struct {
	OrderID    flexibleID `json:"order_id"`
	RiderID    flexibleID `json:"rider_id"`
	RiderPhone string     `json:"rider_phone"`
	RiderName  string     `json:"rider_name"`
	PickupName string     `json:"pickup_name"`
	Language   string     `json:"language"`
}

// InitiateHandler turns orders-service requests into placed carrier calls,
// one endpoint per call kind.
type InitiateHandler struct {
	initiator       callInitiator
	defaultLanguage call.Language
	metrics         *metrics.CallMetrics
	logger          *logging.Logger
}

// InitiateConfig wires the initiation endpoints.
type InitiateConfig struct {
	Initiator       callInitiator
	DefaultLanguage call.Language
	Metrics         *metrics.CallMetrics
	Logger          *logging.Logger
}

func NewInitiateHandler(cfg InitiateConfig) (*InitiateHandler, error) {
	if cfg.Initiator == nil {
		return nil, errors.New("handlers: initiate requires an initiator")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &InitiateHandler{
		initiator:       cfg.Initiator,
		defaultLanguage: cfg.DefaultLanguage,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
	}, nil
}

// HandleVendorOrder places a vendor order-confirmation call.
func (h *InitiateHandler) HandleVendorOrder(w http.ResponseWriter, r *http.Request) {
	var body vendorInitiateRequest
	if !h.decode(w, r, &body) {
		return
	}
	req := call.InitiateRequest{
		Kind:     call.KindVendorOrderConfirmation,
		OrderID:  string(body.OrderID),
		PartyID:  string(body.VendorID),
		Phone:    strings.TrimSpace(body.VendorPhone),
		Name:     strings.TrimSpace(body.VendorName),
		Language: call.ParseLanguage(body.Language, h.defaultLanguage),
		Payload: call.Payload{
			Amount: body.OrderAmount,
			Items:  body.OrderItems,
		},
	}
	h.place(w, r, req)
}

// HandleRiderAssignment places a rider pickup-assignment call.
func (h *InitiateHandler) HandleRiderAssignment(w http.ResponseWriter, r *http.Request) {
	var body riderInitiateRequest
	if !h.decode(w, r, &body) {
		return
	}
	req := call.InitiateRequest{
		Kind:     call.KindRiderAssignment,
		OrderID:  string(body.OrderID),
		PartyID:  string(body.RiderID),
		Phone:    strings.TrimSpace(body.RiderPhone),
		Name:     strings.TrimSpace(body.RiderName),
		Language: call.ParseLanguage(body.Language, h.defaultLanguage),
		Payload: call.Payload{
			PickupName: strings.TrimSpace(body.PickupName),
		},
	}
	h.place(w, r, req)
}

func (h *InitiateHandler) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInitiateBody))
	if err := dec.Decode(into); err != nil {
		h.logger.Warn("undecodable initiation body", "error", err)
		h.writeError(w, http.StatusBadRequest, "invalid_body")
		return false
	}
	return true
}

func (h *InitiateHandler) place(w http.ResponseWriter, r *http.Request, req call.InitiateRequest) {
	res, err := h.initiator.Initiate(r.Context(), req)
	if err != nil {
		h.writePlacementError(w, req, err)
		return
	}

	result := "placed"
	if res.DuplicateOf != "" {
		result = "duplicate"
	}
	h.metrics.ObserveInitiation(string(req.Kind), result)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(res)
}

// writePlacementError maps initiator failures onto machine-readable HTTP
// answers the orders service can branch on.
func (h *InitiateHandler) writePlacementError(w http.ResponseWriter, req call.InitiateRequest, err error) {
	kind := string(req.Kind)

	var carrierErr *carrier.Error
	switch {
	case errors.Is(err, call.ErrInvalidInitiation), errors.Is(err, call.ErrUnknownKind):
		h.metrics.ObserveInitiation(kind, "invalid")
		h.logger.Warn("rejected initiation request", "kind", kind, "order_id", req.OrderID, "error", err)
		h.writeError(w, http.StatusBadRequest, "invalid_request")
	case errors.Is(err, call.ErrInitiationInFlight):
		// A concurrent initiation for the same order holds the dedup slot
		// but has no call sid yet; the caller should retry in a moment.
		h.metrics.ObserveInitiation(kind, "in_flight")
		h.logger.Warn("initiation already in flight", "kind", kind, "order_id", req.OrderID)
		h.writeError(w, http.StatusConflict, "initiation_in_flight")
	case errors.As(err, &carrierErr):
		h.metrics.ObserveInitiation(kind, carrierErr.Code)
		h.logger.Error("carrier refused call",
			"kind", kind, "order_id", req.OrderID, "code", carrierErr.Code, "error", err)
		switch carrierErr.Code {
		case carrier.CodeRejected:
			h.writeError(w, http.StatusBadRequest, carrierErr.Code)
		case carrier.CodeAuthInvalid:
			h.writeError(w, http.StatusUnauthorized, carrierErr.Code)
		default:
			h.writeError(w, http.StatusBadGateway, carrierErr.Code)
		}
	default:
		h.metrics.ObserveInitiation(kind, "error")
		h.logger.Error("initiation failed", "kind", kind, "order_id", req.OrderID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func (h *InitiateHandler) writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}
