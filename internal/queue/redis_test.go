package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vendaflow/zapengine/internal/queue"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func testJob(recipientID string) queue.Job {
	return queue.Job{
		SessionID:   "s1",
		To:          "5511912345678",
		Body:        "oi",
		CampaignID:  "c1",
		RecipientID: recipientID,
	}
}

func TestPublishReceiveAck(t *testing.T) {
	b := queue.NewRedisBroker(newTestRedis(t))
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, testJob("r1")))

	depth, err := b.PendingDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	d, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r1", d.Job.RecipientID)
	assert.Equal(t, "5511912345678", d.Job.To)

	// Received but unacked: pending is empty, job parked in processing.
	depth, err = b.PendingDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)

	require.NoError(t, b.Ack(ctx, d))
}

func TestNackRequeuesForRedelivery(t *testing.T) {
	b := queue.NewRedisBroker(newTestRedis(t))
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, testJob("r1")))

	d, err := b.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Nack(ctx, d))

	d2, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r1", d2.Job.RecipientID)
	require.NoError(t, b.Ack(ctx, d2))
}

func TestReceive_FIFOAcrossJobs(t *testing.T) {
	b := queue.NewRedisBroker(newTestRedis(t))
	ctx := context.Background()

	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, b.Publish(ctx, testJob(id)))
	}
	for _, want := range []string{"r1", "r2", "r3"} {
		d, err := b.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, d.Job.RecipientID)
		require.NoError(t, b.Ack(ctx, d))
	}
}

func TestReceive_ContextCanceled(t *testing.T) {
	b := queue.NewRedisBroker(newTestRedis(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Receive(ctx)
	require.Error(t, err)
}

func TestSessionLock(t *testing.T) {
	rdb := newTestRedis(t)
	lock := queue.NewSessionLock(rdb, time.Minute)
	ctx := context.Background()

	held, err := lock.Acquire(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, held)

	// Second acquire while held must fail, not wait.
	held, err = lock.Acquire(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, held)

	// A different session is independent.
	held, err = lock.Acquire(ctx, "s2")
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, lock.Release(ctx, "s1"))
	held, err = lock.Acquire(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, held)
}
