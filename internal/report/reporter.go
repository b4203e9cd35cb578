package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mangwale/voice-platform/internal/call"
	"github.com/mangwale/voice-platform/internal/observability/metrics"
	"github.com/mangwale/voice-platform/pkg/logging"
)

var tracer = otel.Tracer("mangwale.voice.report")

const (
	defaultMaxAge         = 30 * time.Minute
	defaultAttemptTimeout = 10 * time.Second
	defaultRetryTick      = time.Second
	jitterFraction        = 0.2
	maxErrorBodyBytes     = 4 << 10
)

// defaultSchedule is the delay before each delivery attempt. The first entry
// covers the initial attempt off the queue; once the schedule runs out the
// last delay repeats until maxAge abandons the job.
var defaultSchedule = []time.Duration{
	0,
	2 * time.Second,
	8 * time.Second,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
}

const (
	resultDelivered  = "delivered"
	resultRetried    = "retried"
	resultDeadLetter = "dead_letter"
	resultDropped    = "dropped"
)

// Payload is the JSON body POSTed to the upstream outcome endpoint. The shape
// is stable: the upstream dedupes on the Idempotency-Key header, which always
// equals call_sid.
type Payload struct {
	CallSid         string         `json:"call_sid"`
	Kind            call.Kind      `json:"kind"`
	OrderID         string         `json:"order_id"`
	VendorID        string         `json:"vendor_id,omitempty"`
	RiderID         string         `json:"rider_id,omitempty"`
	Outcome         call.Outcome   `json:"outcome"`
	Collected       map[string]any `json:"collected"`
	Lifecycle       call.Lifecycle `json:"lifecycle"`
	DurationSeconds int            `json:"duration_seconds"`
	RecordingURL    string         `json:"recording_url,omitempty"`
	Language        call.Language  `json:"language"`
	StartedAt       time.Time      `json:"started_at"`
	TerminalAt      *time.Time     `json:"terminal_at"`
}

// PayloadFor flattens a terminal call record into the upstream report body.
func PayloadFor(st *call.State) Payload {
	p := Payload{
		CallSid:         st.CallSid,
		Kind:            st.Kind,
		OrderID:         st.OrderID,
		Outcome:         st.Outcome,
		Collected:       st.Collected,
		Lifecycle:       st.Lifecycle,
		DurationSeconds: st.DurationSeconds,
		RecordingURL:    st.RecordingURL,
		Language:        st.Language,
		StartedAt:       st.CreatedAt,
		TerminalAt:      st.TerminalAt,
	}
	if p.Collected == nil {
		p.Collected = map[string]any{}
	}
	switch st.Kind {
	case call.KindRiderAssignment:
		p.RiderID = st.PartyID
	default:
		p.VendorID = st.PartyID
	}
	return p
}

// AlertSender notifies operators when a report is abandoned.
type AlertSender interface {
	ReportDeadLetter(ctx context.Context, st *call.State, reason string) error
}

type journalStore interface {
	PutPending(ctx context.Context, st *call.State) error
	MarkDelivered(ctx context.Context, callSid string, attempts int) error
	MarkDeadLetter(ctx context.Context, callSid string, attempts int, lastErr string) error
}

// permanentError marks upstream responses that must not be retried.
type permanentError struct {
	status int
	detail string
}

func (e *permanentError) Error() string {
	if e.status == 0 {
		return e.detail
	}
	if e.detail == "" {
		return fmt.Sprintf("upstream rejected report: status %d", e.status)
	}
	return fmt.Sprintf("upstream rejected report: status %d: %s", e.status, e.detail)
}

type scheduledJob struct {
	job   job
	dueAt time.Time
}

// Reporter delivers terminal call outcomes to the upstream order brain. Jobs
// arrive from the queue via Worker; failed attempts wait in an in-memory retry
// table drained by Run. Both paths converge on deliver, so dedupe relies on
// the session's reported flag plus the upstream Idempotency-Key.
type Reporter struct {
	queue          queueClient
	store          *call.Store
	upstreamURL    string
	client         *http.Client
	journal        journalStore
	snapshots      *call.Snapshotter
	alerts         AlertSender
	metrics        *metrics.CallMetrics
	logger         *logging.Logger
	schedule       []time.Duration
	maxAge         time.Duration
	attemptTimeout time.Duration
	tick           time.Duration

	mu      sync.Mutex
	pending []scheduledJob
	rng     *rand.Rand
}

// ReporterOption customizes reporter behavior.
type ReporterOption func(*Reporter)

// WithJournal wires a DynamoDB delivery journal.
func WithJournal(journal journalStore) ReporterOption {
	return func(r *Reporter) {
		r.journal = journal
	}
}

// WithSnapshotter wires the Redis snapshot store so delivered reports release
// their pending snapshot.
func WithSnapshotter(snapshots *call.Snapshotter) ReporterOption {
	return func(r *Reporter) {
		r.snapshots = snapshots
	}
}

// WithAlerts wires an operator alert sender for dead-lettered reports.
func WithAlerts(alerts AlertSender) ReporterOption {
	return func(r *Reporter) {
		r.alerts = alerts
	}
}

// WithMetrics wires delivery counters.
func WithMetrics(m *metrics.CallMetrics) ReporterOption {
	return func(r *Reporter) {
		r.metrics = m
	}
}

// WithSchedule overrides the per-attempt delay table.
func WithSchedule(delays []time.Duration) ReporterOption {
	return func(r *Reporter) {
		if len(delays) > 0 {
			r.schedule = delays
		}
	}
}

// WithMaxAge bounds how long a report may keep retrying before it is abandoned.
func WithMaxAge(d time.Duration) ReporterOption {
	return func(r *Reporter) {
		if d > 0 {
			r.maxAge = d
		}
	}
}

// WithAttemptTimeout bounds a single upstream POST.
func WithAttemptTimeout(d time.Duration) ReporterOption {
	return func(r *Reporter) {
		if d > 0 {
			r.attemptTimeout = d
		}
	}
}

// WithRetryTick sets how often the retry table is drained.
func WithRetryTick(d time.Duration) ReporterOption {
	return func(r *Reporter) {
		if d > 0 {
			r.tick = d
		}
	}
}

// WithHTTPClient overrides the upstream HTTP client.
func WithHTTPClient(client *http.Client) ReporterOption {
	return func(r *Reporter) {
		if client != nil {
			r.client = client
		}
	}
}

// NewReporter builds the outcome reporter. upstreamURL may be empty, in which
// case reports are dropped with a warning instead of delivered.
func NewReporter(queue queueClient, store *call.Store, upstreamURL string, logger *logging.Logger, opts ...ReporterOption) *Reporter {
	if queue == nil {
		panic("report: queue cannot be nil")
	}
	if store == nil {
		panic("report: session store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	r := &Reporter{
		queue:          queue,
		store:          store,
		upstreamURL:    strings.TrimSpace(upstreamURL),
		client:         &http.Client{},
		logger:         logger,
		schedule:       defaultSchedule,
		maxAge:         defaultMaxAge,
		attemptTimeout: defaultAttemptTimeout,
		tick:           defaultRetryTick,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enqueue publishes a terminal call record for upstream delivery. Records
// already reported, or missing a call SID, are skipped.
func (r *Reporter) Enqueue(ctx context.Context, st *call.State) error {
	if st == nil || st.CallSid == "" {
		return nil
	}
	if st.Reported {
		r.logger.Debug("outcome already reported, skipping enqueue", "call_sid", st.CallSid)
		return nil
	}

	j, body, err := encodeJob(job{State: st.Clone()})
	if err != nil {
		return err
	}

	if r.journal != nil {
		if err := r.journal.PutPending(ctx, st); err != nil {
			r.logger.Warn("report journal write failed", "error", err, "call_sid", st.CallSid)
		}
	}

	if err := r.queue.Send(ctx, body); err != nil {
		return fmt.Errorf("report: failed to enqueue outcome for %s: %w", st.CallSid, err)
	}

	r.logger.Info("outcome report queued",
		"call_sid", st.CallSid,
		"kind", st.Kind,
		"outcome", st.Outcome,
		"job_id", j.ID,
	)
	return nil
}

// Run drains due retries until ctx is cancelled. Start it once alongside the
// queue workers. Pending retries are in-memory only; on shutdown they are
// dropped and recovered from the Redis snapshot at next boot.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.drain(ctx)
		}
	}
}

// PendingRetries reports how many failed deliveries are waiting for their
// next attempt.
func (r *Reporter) PendingRetries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Reporter) drain(ctx context.Context) {
	now := time.Now()

	r.mu.Lock()
	var due []job
	rest := r.pending[:0]
	for _, sj := range r.pending {
		if sj.dueAt.After(now) {
			rest = append(rest, sj)
			continue
		}
		due = append(due, sj.job)
	}
	r.pending = rest
	r.mu.Unlock()

	for _, j := range due {
		r.deliver(ctx, j)
	}
}

func (r *Reporter) deliver(ctx context.Context, j job) {
	if ctx.Err() != nil {
		return
	}
	st := j.State
	if st == nil || st.CallSid == "" {
		r.logger.Error("report job missing call state", "job_id", j.ID)
		return
	}

	ctx, span := tracer.Start(ctx, "report.deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("call.sid", st.CallSid),
		attribute.Int("report.attempt", j.Attempt),
	)

	if r.upstreamURL == "" {
		r.finish(ctx, j, resultDropped, "upstream outcome URL not configured")
		return
	}
	if age := time.Since(j.QueuedAt); age > r.maxAge {
		r.finish(ctx, j, resultDeadLetter, fmt.Sprintf("gave up after %s", age.Round(time.Second)))
		return
	}

	err := r.post(ctx, st)
	if err == nil {
		r.finish(ctx, j, resultDelivered, "")
		return
	}
	span.RecordError(err)

	var perm *permanentError
	if errors.As(err, &perm) {
		r.finish(ctx, j, resultDeadLetter, perm.Error())
		return
	}
	r.scheduleRetry(j, err)
}

func (r *Reporter) post(ctx context.Context, st *call.State) error {
	body, err := json.Marshal(PayloadFor(st))
	if err != nil {
		return &permanentError{detail: fmt.Sprintf("encode payload: %v", err)}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, r.upstreamURL, bytes.NewReader(body))
	if err != nil {
		return &permanentError{detail: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", st.CallSid)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("report: post outcome: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout &&
		resp.StatusCode != http.StatusTooManyRequests {
		return &permanentError{status: resp.StatusCode, detail: strings.TrimSpace(string(respBody))}
	}
	return fmt.Errorf("report: upstream returned status %d", resp.StatusCode)
}

// finish closes out a job. Every exit, including dead letters, flags the
// session as reported so the sweeper stops re-enqueueing it.
func (r *Reporter) finish(ctx context.Context, j job, result string, detail string) {
	st := j.State
	attempts := j.Attempt + 1

	if err := r.store.MarkReported(st.CallSid); err != nil && !errors.Is(err, call.ErrNotFound) {
		r.logger.Warn("failed to flag session as reported", "error", err, "call_sid", st.CallSid)
	}
	if r.snapshots != nil {
		if err := r.snapshots.Delete(ctx, st.CallSid); err != nil {
			r.logger.Warn("failed to drop report snapshot", "error", err, "call_sid", st.CallSid)
		}
	}

	if result == resultDelivered {
		if r.journal != nil {
			if err := r.journal.MarkDelivered(ctx, st.CallSid, attempts); err != nil {
				r.logger.Warn("report journal update failed", "error", err, "call_sid", st.CallSid)
			}
		}
		r.metrics.ObserveReport(resultDelivered)
		r.logger.Info("outcome report delivered",
			"call_sid", st.CallSid,
			"kind", st.Kind,
			"outcome", st.Outcome,
			"attempts", attempts,
		)
		return
	}

	if r.journal != nil {
		if err := r.journal.MarkDeadLetter(ctx, st.CallSid, attempts, detail); err != nil {
			r.logger.Warn("report journal update failed", "error", err, "call_sid", st.CallSid)
		}
	}
	r.metrics.ObserveReport(result)
	r.logger.Error("outcome report abandoned",
		"call_sid", st.CallSid,
		"kind", st.Kind,
		"outcome", st.Outcome,
		"reason", detail,
		"attempts", attempts,
	)
	if result == resultDeadLetter && r.alerts != nil {
		if err := r.alerts.ReportDeadLetter(ctx, st, detail); err != nil {
			r.logger.Warn("dead letter alert failed", "error", err, "call_sid", st.CallSid)
		}
	}
}

func (r *Reporter) scheduleRetry(j job, cause error) {
	next := j
	next.Attempt++
	delay := r.nextDelay(next.Attempt)

	r.mu.Lock()
	r.pending = append(r.pending, scheduledJob{job: next, dueAt: time.Now().Add(delay)})
	r.mu.Unlock()

	r.metrics.ObserveReport(resultRetried)
	r.logger.Warn("outcome report attempt failed, will retry",
		"error", cause,
		"call_sid", j.State.CallSid,
		"attempt", j.Attempt+1,
		"retry_in", delay,
	)
}

func (r *Reporter) nextDelay(attempt int) time.Duration {
	idx := attempt
	if idx >= len(r.schedule) {
		idx = len(r.schedule) - 1
	}
	base := r.schedule[idx]
	if base <= 0 {
		return 0
	}

	r.mu.Lock()
	f := r.rng.Float64()
	r.mu.Unlock()

	jitter := time.Duration((f*2 - 1) * jitterFraction * float64(base))
	return base + jitter
}
