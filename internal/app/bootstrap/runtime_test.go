package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mangwale/voice-platform/internal/call"
	appconfig "github.com/mangwale/voice-platform/internal/config"
	"github.com/mangwale/voice-platform/pkg/logging"
)

func testLogger() *logging.Logger {
	return logging.New("error")
}

func TestBuildRedisClientDisabledWithoutAddr(t *testing.T) {
	assert.Nil(t, BuildRedisClient(context.Background(), nil, testLogger(), false))
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{}, testLogger(), false))
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: "   "}, testLogger(), false))
}

func TestBuildRedisClientVerifiesPing(t *testing.T) {
	mr := miniredis.RunT(t)

	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, testLogger(), true)
	require.NotNil(t, client)
	t.Cleanup(func() { _ = client.Close() })

	// An unreachable address must downgrade to nil instead of returning a
	// client that fails on first use.
	dead := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: "127.0.0.1:1"}, testLogger(), true)
	assert.Nil(t, dead)
}

func TestBuildSnapshotter(t *testing.T) {
	mr := miniredis.RunT(t)

	snap := BuildSnapshotter(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, testLogger())
	require.NotNil(t, snap)

	assert.Nil(t, BuildSnapshotter(context.Background(), &appconfig.Config{}, testLogger()))
}

func TestRestoreSnapshotsReEnqueuesUnreported(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	snap := BuildSnapshotter(ctx, &appconfig.Config{RedisAddr: mr.Addr()}, testLogger())
	require.NotNil(t, snap)

	pending := &call.State{
		CallSid:  "CAboot1",
		Kind:     call.KindVendorOrderConfirmation,
		OrderID:  "ord-1",
		Outcome:  call.OutcomeAccepted,
		Reported: false,
	}
	alreadyReported := &call.State{
		CallSid:  "CAboot2",
		Kind:     call.KindVendorOrderConfirmation,
		OrderID:  "ord-2",
		Outcome:  call.OutcomeRejected,
		Reported: true,
	}
	require.NoError(t, snap.Save(ctx, pending))
	require.NoError(t, snap.Save(ctx, alreadyReported))

	var enqueued []string
	restored := RestoreSnapshots(ctx, snap, func(_ context.Context, st *call.State) error {
		enqueued = append(enqueued, st.CallSid)
		return nil
	}, testLogger())

	assert.Equal(t, 1, restored)
	assert.Equal(t, []string{"CAboot1"}, enqueued)
}

func TestRestoreSnapshotsCountsOnlySuccesses(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	snap := BuildSnapshotter(ctx, &appconfig.Config{RedisAddr: mr.Addr()}, testLogger())
	require.NotNil(t, snap)
	require.NoError(t, snap.Save(ctx, &call.State{CallSid: "CAboot3", OrderID: "ord-3"}))

	restored := RestoreSnapshots(ctx, snap, func(context.Context, *call.State) error {
		return errors.New("queue full")
	}, testLogger())
	assert.Zero(t, restored)

	assert.Zero(t, RestoreSnapshots(ctx, nil, nil, testLogger()))
}
