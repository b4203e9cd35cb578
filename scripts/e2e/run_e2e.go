// Package main runs E2E tests of the outbound voice control plane by playing
// the carrier's side of the conversation against a running instance.
//
// Scenarios cover:
//   - Vendor accept with chosen preparation time
//   - Vendor reject with reason menu
//   - Silence on the prep menu taking the default prep time
//   - Silence through the greeting exhausting into no_response
//   - Invalid keypress re-prompting without burning the flow
//   - Carrier re-delivery of the same keypress replaying the turn
//   - Callback for a call nobody knows (no CustomField)
//   - Session rebuild from the carrier-echoed CustomField
//   - Status callback sealing a call that never pressed anything
//   - Synthetic session from a status-first no-answer
//   - Re-delivered terminal status staying a no-op
//   - Late applet fetch after terminal status repeating the goodbye
//   - Rider accept / decline
//   - Bearer auth on the ops surface
//   - Health probe and metrics exposition
//   - Outcome report delivery (needs a reachable upstream sink)
//
// Usage:
//
//	INITIATE_AUTH_SECRET=... API_BASE_URL=... go run scripts/e2e/run_e2e.go [scenario-name]
//	INITIATE_AUTH_SECRET=... API_BASE_URL=... go run scripts/e2e/run_e2e.go               # runs all
//	INITIATE_AUTH_SECRET=... API_BASE_URL=... go run scripts/e2e/run_e2e.go vendor-accept # runs one
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

const (
	maxWaitSecs  = 30
	pollInterval = 2 * time.Second
)

var (
	apiBase   string
	jwtSecret string
	jwt       string
	dialect   string
)

// ---------------------------------------------------------------------------
// Scenario definition
// ---------------------------------------------------------------------------

type scenario struct {
	Name string
	Fn   func(t *T)
}

// T is a lightweight test context for a single scenario.
type T struct {
	passed int
	failed int
	name   string
}

func (t *T) check(name string, ok bool) {
	if ok {
		fmt.Printf("    PASS: %s\n", name)
		t.passed++
	} else {
		fmt.Printf("    FAIL: %s\n", name)
		t.failed++
	}
}

func (t *T) fatalf(format string, args ...interface{}) {
	fmt.Printf("    FATAL: "+format+"\n", args...)
	t.failed++
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var sidSeq int

// newCallSid fabricates a unique carrier call sid for one scenario.
func newCallSid() string {
	sidSeq++
	return fmt.Sprintf("CAe2e%d%02d", time.Now().UnixNano(), sidSeq)
}

func newOrderID() string {
	return fmt.Sprintf("ord-e2e-%d", time.Now().UnixNano())
}

// vendorField builds the CustomField JSON the carrier echoes back on every
// callback for a vendor confirmation call.
func vendorField(orderID string) string {
	b, _ := json.Marshal(map[string]string{
		"kind":      "vendor_order_confirmation",
		"order_id":  orderID,
		"vendor_id": "v-9001",
		"language":  "hi",
	})
	return string(b)
}

func riderField(orderID string) string {
	b, _ := json.Marshal(map[string]string{
		"kind":     "rider_assignment",
		"order_id": orderID,
		"rider_id": "r-7777",
		"language": "hi",
	})
	return string(b)
}

// fetchCallback plays one applet fetch: empty digits for call-answered and
// gather-timeout turns, a keypress otherwise.
func fetchCallback(callSid, digits, customField string) (int, string, error) {
	q := url.Values{}
	q.Set("CallSid", callSid)
	if digits != "" {
		q.Set("digits", `"`+digits+`"`)
	}
	if customField != "" {
		q.Set("CustomField", customField)
	}
	resp, err := http.Get(apiBase + "/callback?" + q.Encode())
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body), nil
}

// postStatus plays the carrier's call status callback.
func postStatus(callSid, status, customField string, durationSecs int) (int, error) {
	form := url.Values{}
	form.Set("CallSid", callSid)
	form.Set("Status", status)
	if customField != "" {
		form.Set("CustomField", customField)
	}
	if durationSecs > 0 {
		form.Set("Duration", strconv.Itoa(durationSecs))
	}
	resp, err := http.PostForm(apiBase+"/status", form)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// opsGet fetches an authenticated ops path and decodes the JSON body.
func opsGet(path string) (map[string]interface{}, int, error) {
	req, _ := http.NewRequest("GET", apiBase+path, nil)
	req.Header.Set("Authorization", "Bearer "+jwt)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, nil
	}
	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, err
	}
	return result, resp.StatusCode, nil
}

func opsSession(callSid string) (map[string]interface{}, int, error) {
	return opsGet("/ops/sessions/" + url.PathEscape(callSid))
}

// waitForSession polls the ops session until the predicate holds.
func waitForSession(callSid string, pred func(map[string]interface{}) bool, maxSecs int) (map[string]interface{}, error) {
	deadline := time.Now().Add(time.Duration(maxSecs) * time.Second)
	for time.Now().Before(deadline) {
		sess, code, err := opsSession(callSid)
		if err == nil && code == http.StatusOK && pred(sess) {
			return sess, nil
		}
		time.Sleep(pollInterval)
	}
	return nil, fmt.Errorf("timed out waiting on session %s after %ds", callSid, maxSecs)
}

// isGatherTurn reports whether a callback body asks the caller for digits,
// in whichever dialect the instance speaks.
func isGatherTurn(body string) bool {
	if dialect == "json" {
		return !strings.Contains(body, `"max_input_digits":0`)
	}
	return strings.Contains(body, "<Gather")
}

// isTerminalTurn reports whether a callback body ends the call.
func isTerminalTurn(body string) bool {
	if dialect == "json" {
		return strings.Contains(body, `"max_input_digits":0`)
	}
	return strings.Contains(body, "<Hangup") && !strings.Contains(body, "<Gather")
}

func collected(sess map[string]interface{}) map[string]interface{} {
	m, _ := sess["collected"].(map[string]interface{})
	return m
}

func sessionString(sess map[string]interface{}, key string) string {
	s, _ := sess[key].(string)
	return s
}

func generateJWT(secret string) string {
	header := base64url(map[string]string{"alg": "HS256", "typ": "JWT"})
	now := time.Now()
	payload := base64url(map[string]interface{}{
		"sub": "e2e-driver",
		"iat": now.Unix(),
		"exp": now.Add(12 * time.Hour).Unix(),
	})
	unsigned := header + "." + payload
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(unsigned))
	sig := strings.TrimRight(base64.URLEncoding.EncodeToString(mac.Sum(nil)), "=")
	return unsigned + "." + sig
}

func base64url(v interface{}) string {
	b, _ := json.Marshal(v)
	return strings.TrimRight(base64.URLEncoding.EncodeToString(b), "=")
}

// discoverDialect asks the health endpoint which response dialect the
// instance speaks so body assertions match.
func discoverDialect() error {
	resp, err := http.Get(apiBase + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var health map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return err
	}
	dialect, _ = health["dialect"].(string)
	if dialect == "" {
		return fmt.Errorf("health response carries no dialect")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

// 1. Vendor accepts and picks the 30 minute prep option.
func scenarioVendorAccept(t *T) {
	sid := newCallSid()
	field := vendorField(newOrderID())

	code, body, err := fetchCallback(sid, "", field)
	if err != nil {
		t.fatalf("answer fetch: %v", err)
		return
	}
	t.check("answer fetch returns 200", code == http.StatusOK)
	t.check("greeting asks for digits", isGatherTurn(body))

	code, body, err = fetchCallback(sid, "1", field)
	if err != nil {
		t.fatalf("accept keypress: %v", err)
		return
	}
	t.check("accept keypress returns 200", code == http.StatusOK)
	t.check("prep menu asks for digits", isGatherTurn(body))

	code, body, err = fetchCallback(sid, "2", field)
	if err != nil {
		t.fatalf("prep keypress: %v", err)
		return
	}
	t.check("prep keypress returns 200", code == http.StatusOK)
	t.check("goodbye ends the call", isTerminalTurn(body))

	if code, err = postStatus(sid, "completed", field, 47); err != nil {
		t.fatalf("status: %v", err)
		return
	}
	t.check("status callback acked", code == http.StatusOK)

	sess, _, err := opsSession(sid)
	if err != nil || sess == nil {
		t.fatalf("ops session lookup: %v", err)
		return
	}
	t.check("outcome is accepted", sessionString(sess, "outcome") == "accepted")
	t.check("lifecycle is completed", sessionString(sess, "lifecycle") == "completed")
	prep, _ := collected(sess)["prep_minutes"].(float64)
	t.check("prep time 30 recorded", int(prep) == 30)
	dur, _ := sess["duration_seconds"].(float64)
	t.check("duration recorded", int(dur) == 47)
}

// 2. Vendor rejects and names the reason.
func scenarioVendorRejectReason(t *T) {
	sid := newCallSid()
	field := vendorField(newOrderID())

	if _, _, err := fetchCallback(sid, "", field); err != nil {
		t.fatalf("answer fetch: %v", err)
		return
	}
	_, body, err := fetchCallback(sid, "0", field)
	if err != nil {
		t.fatalf("reject keypress: %v", err)
		return
	}
	t.check("reason menu asks for digits", isGatherTurn(body))

	_, body, err = fetchCallback(sid, "2", field)
	if err != nil {
		t.fatalf("reason keypress: %v", err)
		return
	}
	t.check("goodbye ends the call", isTerminalTurn(body))

	if _, err = postStatus(sid, "completed", field, 31); err != nil {
		t.fatalf("status: %v", err)
		return
	}

	sess, _, err := opsSession(sid)
	if err != nil || sess == nil {
		t.fatalf("ops session lookup: %v", err)
		return
	}
	t.check("outcome is rejected", sessionString(sess, "outcome") == "rejected")
	reason, _ := collected(sess)["reason"].(string)
	t.check("reason is too_busy", reason == "too_busy")
}

// 3. Vendor accepts, then says nothing on the prep menu: silence takes the
// deployment default instead of burning a retry.
func scenarioPrepTimeoutDefault(t *T) {
	sid := newCallSid()
	field := vendorField(newOrderID())

	if _, _, err := fetchCallback(sid, "", field); err != nil {
		t.fatalf("answer fetch: %v", err)
		return
	}
	if _, _, err := fetchCallback(sid, "1", field); err != nil {
		t.fatalf("accept keypress: %v", err)
		return
	}

	_, body, err := fetchCallback(sid, "", field)
	if err != nil {
		t.fatalf("prep timeout fetch: %v", err)
		return
	}
	t.check("silent prep menu still ends accepted", isTerminalTurn(body))

	sess, _, err := opsSession(sid)
	if err != nil || sess == nil {
		t.fatalf("ops session lookup: %v", err)
		return
	}
	t.check("outcome is accepted", sessionString(sess, "outcome") == "accepted")
	prep, _ := collected(sess)["prep_minutes"].(float64)
	t.check("default prep time recorded", int(prep) > 0)
}

// 4. Nothing but silence: greeting re-prompts once, then exhausts.
func scenarioSilentNoResponse(t *T) {
	sid := newCallSid()
	field := vendorField(newOrderID())

	_, body, err := fetchCallback(sid, "", field)
	if err != nil {
		t.fatalf("answer fetch: %v", err)
		return
	}
	t.check("first prompt gathers", isGatherTurn(body))

	_, body, err = fetchCallback(sid, "", field)
	if err != nil {
		t.fatalf("first timeout: %v", err)
		return
	}
	t.check("first timeout re-prompts", isGatherTurn(body))

	_, body, err = fetchCallback(sid, "", field)
	if err != nil {
		t.fatalf("second timeout: %v", err)
		return
	}
	t.check("second timeout exhausts into goodbye", isTerminalTurn(body))

	sess, _, err := opsSession(sid)
	if err != nil || sess == nil {
		t.fatalf("ops session lookup: %v", err)
		return
	}
	t.check("outcome is no_response", sessionString(sess, "outcome") == "no_response")
}

// 5. A digit the menu does not admit re-prompts and the flow still works.
func scenarioInvalidDigitReprompt(t *T) {
	sid := newCallSid()
	field := vendorField(newOrderID())

	if _, _, err := fetchCallback(sid, "", field); err != nil {
		t.fatalf("answer fetch: %v", err)
		return
	}
	_, body, err := fetchCallback(sid, "7", field)
	if err != nil {
		t.fatalf("invalid keypress: %v", err)
		return
	}
	t.check("invalid digit re-prompts", isGatherTurn(body))

	_, body, err = fetchCallback(sid, "1", field)
	if err != nil {
		t.fatalf("accept keypress: %v", err)
		return
	}
	t.check("valid digit still advances", isGatherTurn(body))

	sess, _, err := opsSession(sid)
	if err != nil || sess == nil {
		t.fatalf("ops session lookup: %v", err)
		return
	}
	t.check("flow sits on prep menu", sessionString(sess, "logical_state") == "prep_time_inquiry")
}

// 6. The carrier re-sends a keypress it already sent: the turn replays
// byte-identically instead of advancing twice.
func scenarioDuplicateDigitReplay(t *T) {
	sid := newCallSid()
	field := vendorField(newOrderID())

	if _, _, err := fetchCallback(sid, "", field); err != nil {
		t.fatalf("answer fetch: %v", err)
		return
	}
	_, first, err := fetchCallback(sid, "1", field)
	if err != nil {
		t.fatalf("accept keypress: %v", err)
		return
	}
	_, second, err := fetchCallback(sid, "1", field)
	if err != nil {
		t.fatalf("re-delivered keypress: %v", err)
		return
	}
	t.check("re-delivery replays the same body", first == second)
	t.check("replayed turn still gathers", isGatherTurn(second))

	sess, _, err := opsSession(sid)
	if err != nil || sess == nil {
		t.fatalf("ops session lookup: %v", err)
		return
	}
	t.check("flow did not advance twice", sessionString(sess, "logical_state") == "prep_time_inquiry")
}

// 7. A callback for a call nobody remembers and that carries no CustomField
// gets a polite goodbye, never an error the carrier would punish.
func scenarioUnknownCall(t *T) {
	sid := newCallSid()

	code, body, err := fetchCallback(sid, "", "")
	if err != nil {
		t.fatalf("unknown fetch: %v", err)
		return
	}
	t.check("unknown call still 200", code == http.StatusOK)
	t.check("unknown call gets a goodbye", isTerminalTurn(body))

	_, lookupCode, err := opsSession(sid)
	if err != nil {
		t.fatalf("ops session lookup: %v", err)
		return
	}
	t.check("no session was created", lookupCode == http.StatusNotFound)
}

// 8. The store lost the session (restart) but the carrier still echoes the
// CustomField: the flow restarts from its greeting.
func scenarioSessionRebuild(t *T) {
	sid := newCallSid()
	field := vendorField(newOrderID())

	_, body, err := fetchCallback(sid, "1", field)
	if err != nil {
		t.fatalf("rebuild fetch: %v", err)
		return
	}
	// Keypress against a rebuilt session lands on the fresh greeting, where 1
	// means accept.
	t.check("rebuilt session advances", isGatherTurn(body))

	sess, _, err := opsSession(sid)
	if err != nil || sess == nil {
		t.fatalf("ops session lookup: %v", err)
		return
	}
	synthetic, _ := sess["synthetic"].(bool)
	t.check("session marked synthetic", synthetic)
}

// 9. A call that connected but never pressed anything: the terminal status
// callback seals it as no_response.
func scenarioStatusSealsQuietCall(t *T) {
	sid := newCallSid()
	field := vendorField(newOrderID())

	if _, _, err := fetchCallback(sid, "", field); err != nil {
		t.fatalf("answer fetch: %v", err)
		return
	}
	if _, err := postStatus(sid, "completed", field, 12); err != nil {
		t.fatalf("status: %v", err)
		return
	}

	sess, _, err := opsSession(sid)
	if err != nil || sess == nil {
		t.fatalf("ops session lookup: %v", err)
		return
	}
	t.check("lifecycle completed", sessionString(sess, "lifecycle") == "completed")
	t.check("outcome filled as no_response", sessionString(sess, "outcome") == "no_response")
}

// 10. The status callback is the first (and only) sighting of the call.
func scenarioStatusNoAnswerSynthetic(t *T) {
	sid := newCallSid()
	field := vendorField(newOrderID())

	code, err := postStatus(sid, "no-answer", field, 0)
	if err != nil {
		t.fatalf("status: %v", err)
		return
	}
	t.check("status acked", code == http.StatusOK)

	sess, _, err := opsSession(sid)
	if err != nil || sess == nil {
		t.fatalf("ops session lookup: %v", err)
		return
	}
	t.check("lifecycle no_answer", sessionString(sess, "lifecycle") == "no_answer")
	t.check("outcome no_response", sessionString(sess, "outcome") == "no_response")
	synthetic, _ := sess["synthetic"].(bool)
	t.check("session marked synthetic", synthetic)
}

// 11. A re-delivered terminal status must not reopen or rewrite the record.
func scenarioStatusRedelivery(t *T) {
	sid := newCallSid()
	field := vendorField(newOrderID())

	if _, _, err := fetchCallback(sid, "", field); err != nil {
		t.fatalf("answer fetch: %v", err)
		return
	}
	if _, err := postStatus(sid, "completed", field, 42); err != nil {
		t.fatalf("first status: %v", err)
		return
	}
	if _, err := postStatus(sid, "completed", field, 99); err != nil {
		t.fatalf("second status: %v", err)
		return
	}

	sess, _, err := opsSession(sid)
	if err != nil || sess == nil {
		t.fatalf("ops session lookup: %v", err)
		return
	}
	dur, _ := sess["duration_seconds"].(float64)
	t.check("first duration kept", int(dur) == 42)
	t.check("lifecycle still completed", sessionString(sess, "lifecycle") == "completed")
}

// 12. An applet fetch that arrives after the terminal status repeats the
// goodbye without touching the sealed record.
func scenarioLateCallbackAfterTerminal(t *T) {
	sid := newCallSid()
	field := vendorField(newOrderID())

	if _, _, err := fetchCallback(sid, "", field); err != nil {
		t.fatalf("answer fetch: %v", err)
		return
	}
	if _, err := postStatus(sid, "completed", field, 9); err != nil {
		t.fatalf("status: %v", err)
		return
	}

	code, body, err := fetchCallback(sid, "", field)
	if err != nil {
		t.fatalf("late fetch: %v", err)
		return
	}
	t.check("late fetch still 200", code == http.StatusOK)
	t.check("late fetch repeats a goodbye", isTerminalTurn(body))
}

// 13. Rider accepts the assignment with 1.
func scenarioRiderAccept(t *T) {
	sid := newCallSid()
	field := riderField(newOrderID())

	_, body, err := fetchCallback(sid, "", field)
	if err != nil {
		t.fatalf("answer fetch: %v", err)
		return
	}
	t.check("rider greeting gathers", isGatherTurn(body))

	_, body, err = fetchCallback(sid, "1", field)
	if err != nil {
		t.fatalf("accept keypress: %v", err)
		return
	}
	t.check("accept ends the call", isTerminalTurn(body))

	sess, _, err := opsSession(sid)
	if err != nil || sess == nil {
		t.fatalf("ops session lookup: %v", err)
		return
	}
	t.check("outcome accepted", sessionString(sess, "outcome") == "accepted")
	t.check("kind is rider_assignment", sessionString(sess, "kind") == "rider_assignment")
}

// 14. Rider declines with 0.
func scenarioRiderDecline(t *T) {
	sid := newCallSid()
	field := riderField(newOrderID())

	if _, _, err := fetchCallback(sid, "", field); err != nil {
		t.fatalf("answer fetch: %v", err)
		return
	}
	_, body, err := fetchCallback(sid, "0", field)
	if err != nil {
		t.fatalf("decline keypress: %v", err)
		return
	}
	t.check("decline ends the call", isTerminalTurn(body))

	sess, _, err := opsSession(sid)
	if err != nil || sess == nil {
		t.fatalf("ops session lookup: %v", err)
		return
	}
	t.check("outcome rejected", sessionString(sess, "outcome") == "rejected")
}

// 15. The ops surface requires a valid bearer token.
func scenarioOpsAuth(t *T) {
	resp, err := http.Get(apiBase + "/ops/sessions")
	if err != nil {
		t.fatalf("unauthenticated request: %v", err)
		return
	}
	resp.Body.Close()
	t.check("missing token rejected", resp.StatusCode == http.StatusUnauthorized)

	req, _ := http.NewRequest("GET", apiBase+"/ops/sessions", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.fatalf("garbage token request: %v", err)
		return
	}
	resp.Body.Close()
	t.check("garbage token rejected", resp.StatusCode == http.StatusUnauthorized)

	sessions, code, err := opsGet("/ops/sessions")
	if err != nil {
		t.fatalf("authenticated request: %v", err)
		return
	}
	t.check("signed token accepted", code == http.StatusOK && sessions != nil)
}

// 16. Probes: health answers, metrics expose the turn counters.
func scenarioHealthAndMetrics(t *T) {
	resp, err := http.Get(apiBase + "/health")
	if err != nil {
		t.fatalf("health: %v", err)
		return
	}
	var health map[string]interface{}
	err = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if err != nil {
		t.fatalf("health decode: %v", err)
		return
	}
	t.check("health reports healthy", health["status"] == "healthy")
	t.check("health names the dialect", health["dialect"] == dialect)

	// Guarantee at least one counted turn before scraping.
	sid := newCallSid()
	if _, _, err := fetchCallback(sid, "", vendorField(newOrderID())); err != nil {
		t.fatalf("warmup fetch: %v", err)
		return
	}

	resp, err = http.Get(apiBase + "/metrics")
	if err != nil {
		t.fatalf("metrics: %v", err)
		return
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	t.check("turn counter exported", strings.Contains(string(body), "mangwale_voice_callback_turns_total"))

	totals, code, err := opsGet("/ops/totals")
	if err != nil {
		t.fatalf("ops totals: %v", err)
		return
	}
	t.check("ops totals answers", code == http.StatusOK && totals != nil)
}

// 17. The outcome report actually leaves the building. Needs the instance's
// UPSTREAM_OUTCOME_URL pointing at a reachable sink.
func scenarioReportDelivery(t *T) {
	sid := newCallSid()
	field := vendorField(newOrderID())

	if _, _, err := fetchCallback(sid, "", field); err != nil {
		t.fatalf("answer fetch: %v", err)
		return
	}
	if _, _, err := fetchCallback(sid, "1", field); err != nil {
		t.fatalf("accept keypress: %v", err)
		return
	}
	if _, _, err := fetchCallback(sid, "1", field); err != nil {
		t.fatalf("prep keypress: %v", err)
		return
	}
	if _, err := postStatus(sid, "completed", field, 25); err != nil {
		t.fatalf("status: %v", err)
		return
	}

	sess, err := waitForSession(sid, func(s map[string]interface{}) bool {
		reported, _ := s["reported"].(bool)
		return reported
	}, maxWaitSecs)
	if err != nil {
		t.fatalf("%v", err)
		return
	}
	t.check("outcome reported upstream", sess != nil)
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	apiBase = os.Getenv("API_BASE_URL")
	jwtSecret = os.Getenv("INITIATE_AUTH_SECRET")
	if apiBase == "" || jwtSecret == "" {
		fmt.Fprintln(os.Stderr, "ERROR: API_BASE_URL and INITIATE_AUTH_SECRET required")
		os.Exit(1)
	}
	jwt = generateJWT(jwtSecret)

	if err := discoverDialect(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: cannot reach %s/health: %v\n", apiBase, err)
		os.Exit(1)
	}
	fmt.Printf("Target %s speaks dialect %q\n", apiBase, dialect)

	scenarios := []scenario{
		{"vendor-accept", scenarioVendorAccept},
		{"vendor-reject-reason", scenarioVendorRejectReason},
		{"prep-timeout-default", scenarioPrepTimeoutDefault},
		{"silent-no-response", scenarioSilentNoResponse},
		{"invalid-digit-reprompt", scenarioInvalidDigitReprompt},
		{"duplicate-digit-replay", scenarioDuplicateDigitReplay},
		{"unknown-call", scenarioUnknownCall},
		{"session-rebuild", scenarioSessionRebuild},
		{"status-seals-quiet-call", scenarioStatusSealsQuietCall},
		{"status-no-answer-synthetic", scenarioStatusNoAnswerSynthetic},
		{"status-redelivery", scenarioStatusRedelivery},
		{"late-callback-after-terminal", scenarioLateCallbackAfterTerminal},
		{"rider-accept", scenarioRiderAccept},
		{"rider-decline", scenarioRiderDecline},
		{"ops-auth", scenarioOpsAuth},
		{"health-and-metrics", scenarioHealthAndMetrics},
		{"report-delivery", scenarioReportDelivery},
	}

	// Filter by name if argument provided
	filter := ""
	if len(os.Args) > 1 {
		filter = os.Args[1]
	}

	totalPassed := 0
	totalFailed := 0
	scenarioResults := make([]string, 0)

	for _, s := range scenarios {
		if filter != "" && s.Name != filter {
			continue
		}

		fmt.Printf("\n========================================\n")
		fmt.Printf("SCENARIO: %s\n", s.Name)
		fmt.Printf("========================================\n")

		t := &T{name: s.Name}
		s.Fn(t)

		totalPassed += t.passed
		totalFailed += t.failed

		status := "✅"
		if t.failed > 0 {
			status = "❌"
		}
		scenarioResults = append(scenarioResults, fmt.Sprintf("  %s %s (%d passed, %d failed)", status, s.Name, t.passed, t.failed))
	}

	fmt.Printf("\n========================================\n")
	fmt.Println("SUMMARY")
	fmt.Printf("========================================\n")
	for _, r := range scenarioResults {
		fmt.Println(r)
	}
	fmt.Printf("\nTotal: %d passed, %d failed\n", totalPassed, totalFailed)

	if totalFailed > 0 {
		fmt.Println("\n❌ SOME TESTS FAILED")
		os.Exit(1)
	}
	fmt.Println("\n✅ ALL TESTS PASSED")
}
