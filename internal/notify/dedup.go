package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
)

// ErrSendInProgress means another delivery holds the key right now. It
// is transient: the holder either confirms or its claim expires.
var ErrSendInProgress = errors.New("send in progress")

type ClaimResult int

const (
	// ClaimAcquired: the caller owns the key and must send, then Confirm
	// or Release.
	ClaimAcquired ClaimResult = iota
	// ClaimSent: the message already went out.
	ClaimSent
	// ClaimBusy: someone else is sending.
	ClaimBusy
)

// Deduper records which idempotency keys have been sent. A claim is
// short-lived until confirmed, so a sender that dies mid-send does not
// hold the key for the whole dedup window.
type Deduper interface {
	Claim(ctx context.Context, key string) (ClaimResult, error)
	// Confirm marks a claimed key as sent.
	Confirm(ctx context.Context, key string) error
	// Release gives a claimed key back after a failed send.
	Release(ctx context.Context, key string) error
}

const (
	dedupSending = "sending"
	dedupSent    = "sent"
)

type RedisDeduper struct {
	Redis *redis.Client
	// TTL is how long a sent key is remembered.
	TTL time.Duration
	// ClaimTTL bounds an unconfirmed claim; keep it above the SMTP timeout.
	ClaimTTL time.Duration
}

func dedupKey(key string) string { return fmt.Sprintf(redisx.KeyDedup, "notify", key) }

func (d RedisDeduper) Claim(ctx context.Context, key string) (ClaimResult, error) {
	ttl := d.ClaimTTL
	if ttl <= 0 {
		ttl = redisx.TTLDedupClaim
	}
	ok, err := d.Redis.SetNX(ctx, dedupKey(key), dedupSending, ttl).Result()
	if err != nil {
		return ClaimBusy, err
	}
	if ok {
		return ClaimAcquired, nil
	}
	v, err := d.Redis.Get(ctx, dedupKey(key)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// claim expired between the two calls
		return ClaimBusy, nil
	case err != nil:
		return ClaimBusy, err
	case v == dedupSent:
		return ClaimSent, nil
	}
	return ClaimBusy, nil
}

func (d RedisDeduper) Confirm(ctx context.Context, key string) error {
	ttl := d.TTL
	if ttl <= 0 {
		ttl = redisx.TTLDedup
	}
	return d.Redis.Set(ctx, dedupKey(key), dedupSent, ttl).Err()
}

func (d RedisDeduper) Release(ctx context.Context, key string) error {
	return d.Redis.Del(ctx, dedupKey(key)).Err()
}

// MemDeduper is an in-process Deduper.
type MemDeduper struct {
	mu   sync.Mutex
	keys map[string]string
}

func NewMemDeduper() *MemDeduper { return &MemDeduper{keys: map[string]string{}} }

func (d *MemDeduper) Claim(_ context.Context, key string) (ClaimResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.keys[key] {
	case dedupSent:
		return ClaimSent, nil
	case dedupSending:
		return ClaimBusy, nil
	}
	d.keys[key] = dedupSending
	return ClaimAcquired, nil
}

func (d *MemDeduper) Confirm(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[key] = dedupSent
	return nil
}

func (d *MemDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.keys, key)
	return nil
}

// IdempotentSender sends each keyed message at most once per dedup
// window. Messages without a key pass straight through.
type IdempotentSender struct {
	Next  Sender
	Dedup Deduper
}

func (s IdempotentSender) Send(ctx context.Context, m Message) error {
	if m.Key == "" {
		return s.Next.Send(ctx, m)
	}
	res, err := s.Dedup.Claim(ctx, m.Key)
	if err != nil {
		return fmt.Errorf("claim %s: %w", m.Key, err)
	}
	switch res {
	case ClaimSent:
		return nil
	case ClaimBusy:
		return fmt.Errorf("%w: %s", ErrSendInProgress, m.Key)
	}

	sent := false
	defer func() {
		// covers errors and panics alike; the retry sends it
		if !sent {
			_ = s.Dedup.Release(context.WithoutCancel(ctx), m.Key)
		}
	}()
	if err := s.Next.Send(ctx, m); err != nil {
		return err
	}
	sent = true
	// delivered; if Confirm fails the claim still expires on its own
	_ = s.Dedup.Confirm(context.WithoutCancel(ctx), m.Key)
	return nil
}
