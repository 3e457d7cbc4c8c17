package jobs

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
)

func newTestRedisQueue(t *testing.T, clk clock.Clock, lease time.Duration) *RedisQueue {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := redisx.New(addr)
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()
	require.NoError(t, redisx.Ping(ctx, rdb))
	require.NoError(t, rdb.Del(ctx, redisx.KeyJobsReady, redisx.KeyJobsRunning).Err())
	return NewRedisQueue(rdb, clk, lease, 10*time.Millisecond)
}

func TestRedisQueue_Lifecycle(t *testing.T) {
	clk := clock.NewMock()
	clk.Add(time.Duration(time.Now().UnixNano()))
	q := newTestRedisQueue(t, clk, time.Minute)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, KindOrderConfirmationEmail, []byte(`{"order_id":"o-1"}`), 0, 3)
	require.NoError(t, err)

	j, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, j.ID)
	assert.Equal(t, 1, j.AttemptCount)
	assert.JSONEq(t, `{"order_id":"o-1"}`, string(j.Payload))

	st, err := q.Nack(ctx, id, 60*time.Second, errors.New("smtp: 421"))
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, st)
	requireNothingReady(t, q)

	clk.Add(60 * time.Second)
	j, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, j.AttemptCount)
	require.NoError(t, q.Ack(ctx, id))

	j, err = q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, j.Status)

	ttl, err := q.rdb.TTL(ctx, jobKey(id)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRedisQueue_ExpiredLeaseIsRedelivered(t *testing.T) {
	clk := clock.NewMock()
	clk.Add(time.Duration(time.Now().UnixNano()))
	q := newTestRedisQueue(t, clk, 30*time.Second)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, KindStockDecrement, []byte(`{}`), 0, 5)
	require.NoError(t, err)
	_, err = q.Dequeue(ctx)
	require.NoError(t, err)
	// the worker "crashes" here: no ack
	requireNothingReady(t, q)

	clk.Add(31 * time.Second)
	j, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, j.ID)
	assert.Equal(t, 2, j.AttemptCount)
}

func TestRedisQueue_GetMissing(t *testing.T) {
	q := newTestRedisQueue(t, clock.New(), time.Minute)
	_, err := q.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.False(t, errors.Is(err, redis.Nil))
}
