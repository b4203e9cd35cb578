package call

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pendingKeyPrefix = "voice:pending:"
	// pendingTTL caps how long an undelivered outcome survives in Redis.
	// Far past the reporter's abort horizon; anything older is noise.
	pendingTTL = time.Hour

	snapshotScanBatch = 100
)

// Snapshotter persists terminal-but-unreported sessions to Redis so a process
// restart does not lose outcomes still awaiting upstream delivery. Live
// mid-call sessions are never snapshotted: calls last a couple of minutes and
// the carrier re-supplies CustomField on every fetch anyway.
//
// All methods are no-ops on a nil snapshotter, so deployments without Redis
// wire nothing special.
type Snapshotter struct {
	rdb *redis.Client
}

// NewSnapshotter creates a snapshotter backed by Redis. Returns nil when no
// client is configured.
func NewSnapshotter(rdb *redis.Client) *Snapshotter {
	if rdb == nil {
		return nil
	}
	return &Snapshotter{rdb: rdb}
}

func pendingKey(callSid string) string {
	return pendingKeyPrefix + callSid
}

// Save persists one record awaiting report.
func (s *Snapshotter) Save(ctx context.Context, st *State) error {
	if s == nil {
		return nil
	}
	if st == nil || st.CallSid == "" {
		return fmt.Errorf("call snapshot: call_sid required")
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("call snapshot: marshal: %w", err)
	}
	return s.rdb.Set(ctx, pendingKey(st.CallSid), data, pendingTTL).Err()
}

// Delete drops a record once its outcome was delivered or dead-lettered.
func (s *Snapshotter) Delete(ctx context.Context, callSid string) error {
	if s == nil {
		return nil
	}
	return s.rdb.Del(ctx, pendingKey(callSid)).Err()
}

// LoadAll returns every snapshotted record, for boot-time re-enqueueing.
func (s *Snapshotter) LoadAll(ctx context.Context) ([]*State, error) {
	if s == nil {
		return nil, nil
	}
	var (
		out    []*State
		cursor uint64
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pendingKeyPrefix+"*", snapshotScanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("call snapshot: scan: %w", err)
		}
		for _, key := range keys {
			data, err := s.rdb.Get(ctx, key).Bytes()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				return nil, fmt.Errorf("call snapshot: get %s: %w", key, err)
			}
			var st State
			if err := json.Unmarshal(data, &st); err != nil {
				// A corrupt snapshot should not block the rest.
				continue
			}
			out = append(out, &st)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}
