package call

import (
	"context"
	"testing"
	"time"
)

func TestSweepInvokesHooks(t *testing.T) {
	s := NewStore(StoreConfig{LiveTTL: time.Minute})

	stale := storeState("CA-stale")
	stale.LastInteractionAt = time.Now().Add(-2 * time.Minute)
	s.Put(stale)

	fresh := storeState("CA-fresh")
	fresh.LastInteractionAt = time.Now()
	s.Put(fresh)

	var expired []*State
	var live int
	sweeper := NewSweeper(SweeperConfig{
		Store:     s,
		OnExpired: func(_ context.Context, st *State) { expired = append(expired, st) },
		OnSweep:   func(n int) { live = n },
	})

	sweeper.Sweep(context.Background())

	if len(expired) != 1 || expired[0].CallSid != "CA-stale" {
		t.Fatalf("expired = %+v, want only CA-stale", expired)
	}
	if expired[0].Outcome != OutcomeNoResponse {
		t.Fatalf("forced outcome = %q, want no_response", expired[0].Outcome)
	}
	if live != 1 {
		t.Fatalf("live count after sweep = %d, want 1", live)
	}
}

func TestSweepNilHooks(t *testing.T) {
	s := NewStore(StoreConfig{LiveTTL: time.Minute})
	stale := storeState("CA-stale")
	stale.LastInteractionAt = time.Now().Add(-2 * time.Minute)
	s.Put(stale)

	sweeper := NewSweeper(SweeperConfig{Store: s})
	sweeper.Sweep(context.Background())

	if _, ok := s.Get("CA-stale"); ok {
		t.Fatal("expired session still present")
	}
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	s := NewStore(StoreConfig{LiveTTL: time.Minute})

	swept := make(chan struct{}, 1)
	sweeper := NewSweeper(SweeperConfig{
		Store:    s,
		Interval: 5 * time.Millisecond,
		OnSweep: func(int) {
			select {
			case swept <- struct{}{}:
			default:
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	select {
	case <-swept:
	case <-time.After(time.Second):
		t.Fatal("sweeper never ticked")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func TestNewSweeperDefaults(t *testing.T) {
	sweeper := NewSweeper(SweeperConfig{Store: NewStore(StoreConfig{})})
	if sweeper.interval != 30*time.Second {
		t.Fatalf("default interval = %s, want 30s", sweeper.interval)
	}
	if sweeper.logger == nil {
		t.Fatal("logger not defaulted")
	}
}
