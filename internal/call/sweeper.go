package call

import (
	"context"
	"time"

	"github.com/mangwale/voice-platform/pkg/logging"
)

// SweeperConfig wires the background session sweep.
type SweeperConfig struct {
	Store *Store
	// Interval between sweeps. Defaults to 30 seconds.
	Interval time.Duration
	// OnExpired receives each force-terminated record that still needs its
	// outcome delivered upstream.
	OnExpired func(context.Context, *State)
	// OnSweep observes the live session count after each pass.
	OnSweep func(live int)
	Logger  *logging.Logger
}

// Sweeper expires idle sessions on a fixed cadence so abandoned calls still
// produce a no_response outcome instead of leaking.
type Sweeper struct {
	store     *Store
	interval  time.Duration
	onExpired func(context.Context, *State)
	onSweep   func(int)
	logger    *logging.Logger
}

// NewSweeper builds a sweeper, defaulting the interval and logger.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Sweeper{
		store:     cfg.Store,
		interval:  cfg.Interval,
		onExpired: cfg.OnExpired,
		onSweep:   cfg.OnSweep,
		logger:    cfg.Logger,
	}
}

// Run sweeps until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass. Exported so boot code can reconcile restored
// snapshots immediately instead of waiting a full interval.
func (s *Sweeper) Sweep(ctx context.Context) {
	expired := s.store.ScanExpired(time.Now())
	for _, st := range expired {
		s.logger.Warn("session expired without a terminal status",
			"call_sid", st.CallSid,
			"kind", string(st.Kind),
			"order_id", st.OrderID,
			"logical_state", string(st.LogicalState),
		)
		if s.onExpired != nil {
			s.onExpired(ctx, st)
		}
	}
	if s.onSweep != nil {
		s.onSweep(s.store.Len())
	}
}
