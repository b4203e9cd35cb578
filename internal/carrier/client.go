package carrier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mangwale/voice-platform/internal/call"
	"github.com/mangwale/voice-platform/pkg/logging"
)

const (
	defaultBaseURL   = "https://api.exotel.com"
	defaultSubdomain = "my.exotel.com"
	callTimeout      = 15 * time.Second
)

// Error codes surfaced to the initiation API.
const (
	CodeUnavailable = "carrier_unavailable"
	CodeRejected    = "carrier_rejected"
	CodeAuthInvalid = "auth_invalid"
)

// Error is a classified carrier failure. The HTTP layer maps Code onto a
// status for the caller; Body keeps the carrier's own words for the logs.
type Error struct {
	Code   string
	Status int
	Body   string
	err    error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("carrier: %s: %v", e.Code, e.err)
	}
	return fmt.Sprintf("carrier: %s: status %d", e.Code, e.Status)
}

func (e *Error) Unwrap() error { return e.err }

// Client places calls through the carrier's connect API. The carrier then
// drives the conversation by fetching our callback URL applet-style.
type Client struct {
	baseURL         string
	subdomain       string
	accountSID      string
	apiKey          string
	apiToken        string
	callerID        string
	appID           string
	callbackBaseURL string
	httpClient      *http.Client
	logger          *logging.Logger
}

// ClientConfig configures the carrier client.
type ClientConfig struct {
	// BaseURL is the carrier API origin. Defaults to the hosted service.
	BaseURL string
	// Subdomain hosts the applet bridge URLs, e.g. "my.exotel.com".
	Subdomain string
	// AccountSID, APIKey and APIToken are the tenant credentials; key and
	// token ride HTTP Basic auth.
	AccountSID string
	APIKey     string
	APIToken   string
	// CallerID is the virtual number shown to callees.
	CallerID string
	// AppID is the dashboard-configured applet bound to our callback URL.
	AppID string
	// CallbackBaseURL is our public origin; the status webhook address is
	// derived from it.
	CallbackBaseURL string
	// HTTPClient overrides the default client (for testing).
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// NewClient validates credentials and builds a carrier client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" {
		return nil, fmt.Errorf("carrier client: account sid required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.APIToken) == "" {
		return nil, fmt.Errorf("carrier client: api key and token required")
	}
	if strings.TrimSpace(cfg.CallerID) == "" {
		return nil, fmt.Errorf("carrier client: caller id required")
	}
	if strings.TrimSpace(cfg.AppID) == "" {
		return nil, fmt.Errorf("carrier client: app id required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	subdomain := cfg.Subdomain
	if subdomain == "" {
		subdomain = defaultSubdomain
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: callTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		subdomain:       subdomain,
		accountSID:      cfg.AccountSID,
		apiKey:          cfg.APIKey,
		apiToken:        cfg.APIToken,
		callerID:        cfg.CallerID,
		appID:           cfg.AppID,
		callbackBaseURL: strings.TrimRight(cfg.CallbackBaseURL, "/"),
		httpClient:      httpClient,
		logger:          logger,
	}, nil
}

var _ call.Placer = (*Client)(nil)

// connectResponse is the carrier's envelope for an accepted call.
type connectResponse struct {
	Call struct {
		Sid    string `json:"Sid"`
		Status string `json:"Status"`
	} `json:"Call"`
}

// PlaceCall dials the callee and bridges the answered leg onto our applet.
// No retries: the initiation API reports carrier failures to its caller,
// which owns the retry decision.
func (c *Client) PlaceCall(ctx context.Context, req call.PlaceRequest) (string, error) {
	phone := NormalizePhone(req.Phone)
	if phone == "" {
		return "", fmt.Errorf("carrier: callee phone required")
	}

	form := url.Values{}
	form.Set("From", phone)
	form.Set("CallerId", c.callerID)
	form.Set("Url", c.AppletURL())
	form.Set("CallType", "trans")
	form.Set("StatusCallback", c.callbackBaseURL+"/status")
	if req.CustomField != "" {
		form.Set("CustomField", req.CustomField)
	}
	if req.TimeLimit > 0 {
		form.Set("TimeLimit", strconv.Itoa(int(req.TimeLimit.Seconds())))
	}
	if req.RingTimeout > 0 {
		form.Set("TimeOut", strconv.Itoa(int(req.RingTimeout.Seconds())))
	}

	endpoint := fmt.Sprintf("%s/v1/Accounts/%s/Calls/connect.json", c.baseURL, c.accountSID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("carrier: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(c.apiKey, c.apiToken)

	c.logger.Info("carrier: placing call",
		"to", maskPhone(phone),
		"caller_id", maskPhone(c.callerID),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &Error{Code: CodeUnavailable, err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &Error{Code: CodeUnavailable, err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.logger.Error("carrier: credentials rejected", "status", resp.StatusCode)
		return "", &Error{Code: CodeAuthInvalid, Status: resp.StatusCode, Body: string(respBody)}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		c.logger.Error("carrier: call rejected",
			"status", resp.StatusCode,
			"body", string(respBody),
		)
		return "", &Error{Code: CodeRejected, Status: resp.StatusCode, Body: string(respBody)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		c.logger.Error("carrier: unavailable",
			"status", resp.StatusCode,
			"body", string(respBody),
		)
		return "", &Error{Code: CodeUnavailable, Status: resp.StatusCode, Body: string(respBody)}
	}

	var cr connectResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return "", &Error{Code: CodeUnavailable, Status: resp.StatusCode, err: fmt.Errorf("decode response: %w", err)}
	}
	if cr.Call.Sid == "" {
		return "", &Error{Code: CodeUnavailable, Status: resp.StatusCode, err: fmt.Errorf("response carried no call sid")}
	}

	c.logger.Info("carrier: call placed",
		"call_sid", cr.Call.Sid,
		"to", maskPhone(phone),
	)
	return cr.Call.Sid, nil
}

// AppletURL is the bridge address the answered leg is connected to; the
// carrier resolves it to the applet that fetches our /callback.
func (c *Client) AppletURL() string {
	host := c.subdomain
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return fmt.Sprintf("%s/%s/exoml/start_voice/%s", strings.TrimRight(host, "/"), c.accountSID, c.appID)
}

// NormalizePhone strips formatting and prefixes the default country code onto
// bare 10-digit subscriber numbers. Returns empty when nothing dialable
// remains.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 10 {
		return ""
	}
	if len(digits) == 10 {
		return "91" + digits
	}
	return digits
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "***" + phone[len(phone)-4:]
}
