package call

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrNotFound means no session exists for the call sid.
	ErrNotFound = errors.New("call: session not found")
	// ErrBusy means the per-session lock could not be acquired within the
	// caller's wait budget.
	ErrBusy = errors.New("call: session busy")
	// ErrInitiationInFlight means another initiation for the same
	// (kind, order id) holds the dedup slot but has not finished placing
	// its call yet.
	ErrInitiationInFlight = errors.New("call: initiation in flight for order")
)

// SessionLookup classifies how a session materialized for a request.
type SessionLookup string

const (
	LookupFound              SessionLookup = "found"
	LookupCreatedFromPayload SessionLookup = "created_from_payload"
	LookupCreatedSynthetic   SessionLookup = "created_synthetic"
	LookupAbsent             SessionLookup = "absent"
)

// session pairs a state with its ownership lock. The lock is a one-slot
// channel so acquisition can race a timer without a dedicated goroutine.
type session struct {
	lock  chan struct{}
	state *State
}

func newSession(st *State) *session {
	return &session{lock: make(chan struct{}, 1), state: st}
}

// StoreConfig sizes the in-memory session store.
type StoreConfig struct {
	// LiveTTL bounds how long a session may sit without carrier interaction
	// before it is force-terminated. Defaults to 15 minutes.
	LiveTTL time.Duration
	// ReportedTTL is how long a reported terminal session lingers for
	// carrier re-deliveries before eviction. Defaults to 60 seconds.
	ReportedTTL time.Duration
	// OrderTTL bounds the (kind, order id) dedup window. Defaults to 5 minutes.
	OrderTTL time.Duration
}

type orderKey struct {
	kind    Kind
	orderID string
}

type orderEntry struct {
	callSid string
	expires time.Time
}

// Store owns every live CallState. All mutation happens through Update and
// UpdateWait, which serialize per call sid; independent sids proceed in
// parallel. The map lock is never held while waiting on a session lock.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session
	orders   map[orderKey]orderEntry

	liveTTL     time.Duration
	reportedTTL time.Duration
	orderTTL    time.Duration
}

// NewStore builds an empty store, applying defaults for unset TTLs.
func NewStore(cfg StoreConfig) *Store {
	if cfg.LiveTTL <= 0 {
		cfg.LiveTTL = 15 * time.Minute
	}
	if cfg.ReportedTTL <= 0 {
		cfg.ReportedTTL = 60 * time.Second
	}
	if cfg.OrderTTL <= 0 {
		cfg.OrderTTL = 5 * time.Minute
	}
	return &Store{
		sessions:    make(map[string]*session),
		orders:      make(map[orderKey]orderEntry),
		liveTTL:     cfg.LiveTTL,
		reportedTTL: cfg.ReportedTTL,
		orderTTL:    cfg.OrderTTL,
	}
}

// GetOrCreate finds the session for a call sid or inserts one built by the
// factory. The factory runs under the map lock and must not block; it
// returns a nil state to signal that no session can be built from what the
// request carried (lookup is then absent).
func (s *Store) GetOrCreate(callSid string, factory func() (*State, SessionLookup)) SessionLookup {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[callSid]; ok {
		return LookupFound
	}
	st, lookup := factory()
	if st == nil {
		return LookupAbsent
	}
	s.sessions[callSid] = newSession(st)
	return lookup
}

// Put inserts a session, replacing any existing one for the sid. Used by the
// initiator right after the carrier accepts a call, and by snapshot restore
// on boot.
func (s *Store) Put(st *State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[st.CallSid] = newSession(st)
}

// Get returns a deep copy of a session's state.
func (s *Store) Get(callSid string) (*State, bool) {
	sess := s.lookup(callSid)
	if sess == nil {
		return nil, false
	}
	sess.lock <- struct{}{}
	st := sess.state.Clone()
	<-sess.lock
	return st, true
}

// Update runs fn against the live state under the session's lock. fn's
// mutations are visible to every later update; an error from fn is returned
// as-is with the mutations kept (fn must not half-apply).
func (s *Store) Update(callSid string, fn func(*State) error) error {
	sess := s.lookup(callSid)
	if sess == nil {
		return ErrNotFound
	}
	sess.lock <- struct{}{}
	defer func() { <-sess.lock }()
	return fn(sess.state)
}

// UpdateWait is Update with a bounded wait for the session lock; it returns
// ErrBusy when the lock stays contended past the budget so the caller can
// degrade instead of queueing behind a stuck turn.
func (s *Store) UpdateWait(callSid string, wait time.Duration, fn func(*State) error) error {
	sess := s.lookup(callSid)
	if sess == nil {
		return ErrNotFound
	}
	select {
	case sess.lock <- struct{}{}:
	default:
		timer := time.NewTimer(wait)
		select {
		case sess.lock <- struct{}{}:
			timer.Stop()
		case <-timer.C:
			return ErrBusy
		}
	}
	defer func() { <-sess.lock }()
	return fn(sess.state)
}

// Evict drops a session. In-flight updates against it complete on the
// detached state and are discarded with it.
func (s *Store) Evict(callSid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, callSid)
}

// MarkReported flips the one field terminal sessions may still change.
func (s *Store) MarkReported(callSid string) error {
	return s.Update(callSid, func(st *State) error {
		st.Reported = true
		return nil
	})
}

// Len counts live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// States returns deep copies of every live session, for inspection endpoints.
func (s *Store) States() []*State {
	s.mu.RLock()
	sids := make([]string, 0, len(s.sessions))
	for sid := range s.sessions {
		sids = append(sids, sid)
	}
	s.mu.RUnlock()

	out := make([]*State, 0, len(sids))
	for _, sid := range sids {
		if st, ok := s.Get(sid); ok {
			out = append(out, st)
		}
	}
	return out
}

// ScanExpired sweeps the store: sessions idle past the live TTL without a
// terminal commit are force-terminated as no_response and evicted, terminal
// sessions that were never reconciled by a status callback are aged out with
// their committed outcome intact, and reported sessions past the linger TTL
// are dropped. It returns copies of every record that still needs reporting.
func (s *Store) ScanExpired(now time.Time) []*State {
	s.mu.RLock()
	snapshot := make(map[string]*session, len(s.sessions))
	for sid, sess := range s.sessions {
		snapshot[sid] = sess
	}
	s.mu.RUnlock()

	var pending []*State
	for sid, sess := range snapshot {
		sess.lock <- struct{}{}
		st := sess.state
		var (
			evict  bool
			report bool
		)
		switch {
		case st.Reported && st.TerminalAt != nil && now.Sub(*st.TerminalAt) > s.reportedTTL:
			evict = true
		case now.Sub(st.LastInteractionAt) > s.liveTTL:
			if st.TerminalAt == nil {
				st.Outcome = OutcomeNoResponse
				st.Lifecycle = LifecycleNoAnswer
				t := now
				st.TerminalAt = &t
			} else if !st.Lifecycle.Terminal() {
				st.Lifecycle = LifecycleCompleted
			}
			evict = true
			report = !st.Reported
		}
		var clone *State
		if report {
			clone = st.Clone()
		}
		<-sess.lock
		if evict {
			s.Evict(sid)
		}
		if clone != nil {
			pending = append(pending, clone)
		}
	}

	s.sweepOrders(now)
	return pending
}

func (s *Store) lookup(callSid string) *session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[callSid]
}

// ReserveOrder claims the (kind, order id) dedup slot. It returns the sid of
// the call already placed for this order when one exists inside the window,
// ErrInitiationInFlight when another request holds the slot but has not
// committed yet, and an empty sid when the claim succeeded.
func (s *Store) ReserveOrder(kind Kind, orderID string, now time.Time) (string, error) {
	key := orderKey{kind: kind, orderID: orderID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.orders[key]; ok && e.expires.After(now) {
		if e.callSid == "" {
			return "", ErrInitiationInFlight
		}
		return e.callSid, nil
	}
	s.orders[key] = orderEntry{expires: now.Add(s.orderTTL)}
	return "", nil
}

// CommitOrder records the placed call behind a reservation.
func (s *Store) CommitOrder(kind Kind, orderID, callSid string, now time.Time) {
	key := orderKey{kind: kind, orderID: orderID}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[key] = orderEntry{callSid: callSid, expires: now.Add(s.orderTTL)}
}

// ReleaseOrder frees a reservation whose carrier call never happened.
func (s *Store) ReleaseOrder(kind Kind, orderID string) {
	key := orderKey{kind: kind, orderID: orderID}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, key)
}

func (s *Store) sweepOrders(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.orders {
		if !e.expires.After(now) {
			delete(s.orders, key)
		}
	}
}
