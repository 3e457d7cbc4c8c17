package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
)

// MemQueue is a Queue held in process memory. It serves tests and
// single-process runs; jobs do not survive a restart.
type MemQueue struct {
	clk clock.Clock

	mu     sync.Mutex
	jobs   map[string]*Job
	seq    map[string]uint64 // enqueue order, breaks not_before ties
	next   uint64
	notify chan struct{}
}

var _ Queue = (*MemQueue)(nil)

func NewMemQueue(clk clock.Clock) *MemQueue {
	if clk == nil {
		clk = clock.New()
	}
	return &MemQueue{
		clk:    clk,
		jobs:   map[string]*Job{},
		seq:    map[string]uint64{},
		notify: make(chan struct{}, 1),
	}
}

func (q *MemQueue) Enqueue(_ context.Context, kind Kind, payload []byte, delay time.Duration, maxAttempts int) (string, error) {
	if maxAttempts < 1 {
		return "", fmt.Errorf("enqueue %s: max attempts must be >= 1", kind)
	}
	now := q.clk.Now()
	j := &Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		Payload:     append([]byte(nil), payload...),
		MaxAttempts: maxAttempts,
		NotBefore:   now.Add(delay),
		Status:      StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	q.mu.Lock()
	q.jobs[j.ID] = j
	q.next++
	q.seq[j.ID] = q.next
	q.mu.Unlock()
	q.wake()
	return j.ID, nil
}

func (q *MemQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *MemQueue) Dequeue(ctx context.Context) (Job, error) {
	for {
		j, wait, ok := q.claim()
		if ok {
			return j, nil
		}
		if err := q.sleep(ctx, wait); err != nil {
			return Job{}, err
		}
	}
}

// claim takes the earliest ready job. Otherwise it reports how long until
// the next one becomes ready, or a negative wait when nothing is queued.
func (q *MemQueue) claim() (Job, time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clk.Now()

	var best *Job
	var earliest time.Time
	for _, j := range q.jobs {
		if j.Status != StatusQueued {
			continue
		}
		if j.NotBefore.After(now) {
			if earliest.IsZero() || j.NotBefore.Before(earliest) {
				earliest = j.NotBefore
			}
			continue
		}
		if best == nil || j.NotBefore.Before(best.NotBefore) ||
			(j.NotBefore.Equal(best.NotBefore) && q.seq[j.ID] < q.seq[best.ID]) {
			best = j
		}
	}
	if best == nil {
		if earliest.IsZero() {
			return Job{}, -1, false
		}
		return Job{}, earliest.Sub(now), false
	}
	best.AttemptCount++
	best.Status = StatusRunning
	best.UpdatedAt = now
	return *best, 0, true
}

func (q *MemQueue) sleep(ctx context.Context, wait time.Duration) error {
	if wait < 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.notify:
			return nil
		}
	}
	t := q.clk.Timer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.notify:
	case <-t.C:
	}
	return nil
}

func (q *MemQueue) Ack(_ context.Context, id string) error {
	return q.update(id, func(j *Job) {
		j.Status = StatusSucceeded
		j.LastError = ""
	})
}

func (q *MemQueue) Nack(_ context.Context, id string, retryAfter time.Duration, cause error) (Status, error) {
	var st Status
	err := q.update(id, func(j *Job) {
		j.LastError = errString(cause)
		if j.Exhausted() {
			j.Status = StatusFailedPermanent
		} else {
			j.Status = StatusQueued
			j.NotBefore = q.clk.Now().Add(retryAfter)
		}
		st = j.Status
	})
	if err == nil && st == StatusQueued {
		q.wake()
	}
	return st, err
}

func (q *MemQueue) Fail(_ context.Context, id string, cause error) error {
	return q.update(id, func(j *Job) {
		j.Status = StatusFailedPermanent
		j.LastError = errString(cause)
	})
}

func (q *MemQueue) update(id string, fn func(*Job)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	fn(j)
	j.UpdatedAt = q.clk.Now()
	return nil
}

func (q *MemQueue) Get(_ context.Context, id string) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	return *j, nil
}

// List returns every job of the given kind (all kinds when empty) in
// enqueue order.
func (q *MemQueue) List(kind Kind) []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		if kind == "" || j.Kind == kind {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return q.seq[out[a].ID] < q.seq[out[b].ID] })
	return out
}

// Pending counts jobs that are queued or running.
func (q *MemQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, j := range q.jobs {
		if !j.Status.Terminal() {
			n++
		}
	}
	return n
}
