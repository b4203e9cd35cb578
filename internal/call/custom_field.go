package call

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrBadCustomField means the carrier echoed back something we cannot use to
// recover a session.
var ErrBadCustomField = errors.New("call: custom field missing kind or order id")

// CustomField is the compact session seed attached to every placed call. The
// carrier stores it opaquely and echoes it on each applet fetch and status
// callback, which lets us rebuild a usable record even when the process that
// placed the call is gone.
type CustomField struct {
	Kind     Kind     `json:"kind"`
	OrderID  string   `json:"order_id"`
	VendorID string   `json:"vendor_id,omitempty"`
	RiderID  string   `json:"rider_id,omitempty"`
	Language Language `json:"language,omitempty"`
}

// Encode serializes the field for the carrier's CustomField form parameter.
func (cf CustomField) Encode() (string, error) {
	b, err := json.Marshal(cf)
	if err != nil {
		return "", fmt.Errorf("call: encode custom field: %w", err)
	}
	return string(b), nil
}

// DecodeCustomField parses a carrier-echoed CustomField value. Some carrier
// paths wrap the value in an extra pair of double quotes; exactly one layer
// is stripped before parsing.
func DecodeCustomField(raw string) (CustomField, error) {
	raw = UnwrapQuoted(strings.TrimSpace(raw))
	if raw == "" {
		return CustomField{}, ErrBadCustomField
	}
	var cf CustomField
	if err := json.Unmarshal([]byte(raw), &cf); err != nil {
		return CustomField{}, fmt.Errorf("call: decode custom field: %w", err)
	}
	if cf.Kind == "" || cf.OrderID == "" {
		return CustomField{}, ErrBadCustomField
	}
	return cf, nil
}

// UnwrapQuoted strips at most one layer of surrounding double quotes. The
// carrier quote-wraps some query values (digits, CustomField) and the exact
// conditions are undocumented, so both bare and wrapped forms must work.
func UnwrapQuoted(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
