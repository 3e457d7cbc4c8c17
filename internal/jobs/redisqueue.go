package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
)

// claimScript returns expired leases to the ready set, then moves the
// earliest ready job into the in-flight set under a fresh lease.
//
// KEYS[1] ready zset, KEYS[2] in-flight zset
// ARGV[1] now (ms), ARGV[2] lease deadline (ms)
var claimScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(expired) do
	redis.call('ZREM', KEYS[2], id)
	redis.call('ZADD', KEYS[1], ARGV[1], id)
end
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
	return false
end
redis.call('ZREM', KEYS[1], ids[1])
redis.call('ZADD', KEYS[2], ARGV[2], ids[1])
return ids[1]
`)

// RedisQueue keeps each job as a JSON record plus two sorted sets: ready
// (scored by not_before) and in-flight (scored by lease deadline). A
// worker that dies mid-job loses its lease and the job is handed out
// again.
type RedisQueue struct {
	rdb       *redis.Client
	clk       clock.Clock
	lease     time.Duration
	poll      time.Duration
	retention time.Duration
}

var _ Queue = (*RedisQueue)(nil)

func NewRedisQueue(rdb *redis.Client, clk clock.Clock, lease, poll time.Duration) *RedisQueue {
	if clk == nil {
		clk = clock.New()
	}
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	if poll <= 0 {
		poll = time.Second
	}
	return &RedisQueue{rdb: rdb, clk: clk, lease: lease, poll: poll, retention: redisx.TTLJobRetention}
}

func jobKey(id string) string { return fmt.Sprintf(redisx.KeyJob, id) }

func (q *RedisQueue) Enqueue(ctx context.Context, kind Kind, payload []byte, delay time.Duration, maxAttempts int) (string, error) {
	if maxAttempts < 1 {
		return "", fmt.Errorf("enqueue %s: max attempts must be >= 1", kind)
	}
	now := q.clk.Now()
	j := Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		Payload:     payload,
		MaxAttempts: maxAttempts,
		NotBefore:   now.Add(delay),
		Status:      StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	b, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, jobKey(j.ID), b, 0)
		p.ZAdd(ctx, redisx.KeyJobsReady, redis.Z{Score: float64(j.NotBefore.UnixMilli()), Member: j.ID})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return j.ID, nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Job, error) {
	for {
		now := q.clk.Now()
		id, err := claimScript.Run(ctx, q.rdb,
			[]string{redisx.KeyJobsReady, redisx.KeyJobsRunning},
			now.UnixMilli(), now.Add(q.lease).UnixMilli(),
		).Text()
		switch {
		case errors.Is(err, redis.Nil):
			select {
			case <-ctx.Done():
				return Job{}, ctx.Err()
			case <-q.clk.After(q.poll):
			}
			continue
		case err != nil:
			return Job{}, fmt.Errorf("dequeue: %w", err)
		}

		j, err := q.Get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			// record expired or was removed; drop the dangling id
			q.rdb.ZRem(ctx, redisx.KeyJobsRunning, id)
			continue
		}
		if err != nil {
			return Job{}, err
		}
		j.AttemptCount++
		j.Status = StatusRunning
		j.UpdatedAt = now
		if err := q.save(ctx, j, 0); err != nil {
			return Job{}, err
		}
		return j, nil
	}
}

func (q *RedisQueue) save(ctx context.Context, j Job, ttl time.Duration) error {
	b, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return q.rdb.Set(ctx, jobKey(j.ID), b, ttl).Err()
}

func (q *RedisQueue) Ack(ctx context.Context, id string) error {
	j, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	j.Status = StatusSucceeded
	j.LastError = ""
	return q.finish(ctx, j)
}

func (q *RedisQueue) Nack(ctx context.Context, id string, retryAfter time.Duration, cause error) (Status, error) {
	j, err := q.Get(ctx, id)
	if err != nil {
		return "", err
	}
	j.LastError = errString(cause)
	if j.Exhausted() {
		j.Status = StatusFailedPermanent
		return j.Status, q.finish(ctx, j)
	}

	now := q.clk.Now()
	j.Status = StatusQueued
	j.NotBefore = now.Add(retryAfter)
	j.UpdatedAt = now
	b, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, jobKey(id), b, 0)
		p.ZRem(ctx, redisx.KeyJobsRunning, id)
		p.ZAdd(ctx, redisx.KeyJobsReady, redis.Z{Score: float64(j.NotBefore.UnixMilli()), Member: id})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("nack %s: %w", id, err)
	}
	return j.Status, nil
}

func (q *RedisQueue) Fail(ctx context.Context, id string, cause error) error {
	j, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	j.Status = StatusFailedPermanent
	j.LastError = errString(cause)
	return q.finish(ctx, j)
}

// finish stores a terminal record with the retention TTL and releases
// its lease.
func (q *RedisQueue) finish(ctx context.Context, j Job) error {
	j.UpdatedAt = q.clk.Now()
	b, err := json.Marshal(j)
	if err != nil {
		return err
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, jobKey(j.ID), b, q.retention)
		p.ZRem(ctx, redisx.KeyJobsRunning, j.ID)
		p.ZRem(ctx, redisx.KeyJobsReady, j.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("finish %s: %w", j.ID, err)
	}
	return nil
}

func (q *RedisQueue) Get(ctx context.Context, id string) (Job, error) {
	b, err := q.rdb.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Job{}, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return Job{}, err
	}
	var j Job
	if err := json.Unmarshal(b, &j); err != nil {
		return Job{}, fmt.Errorf("job %s: %w", id, err)
	}
	return j, nil
}
