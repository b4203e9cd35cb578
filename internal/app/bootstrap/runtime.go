package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/mangwale/voice-platform/internal/call"
	appconfig "github.com/mangwale/voice-platform/internal/config"
	"github.com/mangwale/voice-platform/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available, session snapshots disabled", "error", err)
		return nil
	}
	return client
}

// BuildSnapshotter wires the Redis-backed store for terminal-but-unreported
// sessions. Returns nil (snapshots disabled) when Redis is not configured or
// not reachable.
func BuildSnapshotter(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *call.Snapshotter {
	client := BuildRedisClient(ctx, cfg, logger, true)
	if client == nil {
		return nil
	}
	if logger != nil {
		logger.Info("session snapshotter enabled", "redis", cfg.RedisAddr)
	}
	return call.NewSnapshotter(client)
}

// RestoreSnapshots re-enqueues outcomes that were still waiting for upstream
// delivery when the previous process died. Returns the number restored.
func RestoreSnapshots(ctx context.Context, snapshots *call.Snapshotter, enqueue func(context.Context, *call.State) error, logger *logging.Logger) int {
	if snapshots == nil || enqueue == nil {
		return 0
	}
	if logger == nil {
		logger = logging.Default()
	}

	states, err := snapshots.LoadAll(ctx)
	if err != nil {
		logger.Error("failed to load session snapshots", "error", err)
		return 0
	}

	restored := 0
	for _, st := range states {
		if st.Reported {
			continue
		}
		if err := enqueue(ctx, st); err != nil {
			logger.Error("failed to re-enqueue snapshotted outcome",
				"call_sid", st.CallSid, "error", err)
			continue
		}
		restored++
	}
	if restored > 0 {
		logger.Info("re-enqueued outcomes from previous run", "count", restored)
	}
	return restored
}
