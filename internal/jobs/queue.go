package jobs

import (
	"context"
	"time"
)

// Queue is a durable at-least-once queue. A job handed out by Dequeue
// that is never acked, nacked or failed is delivered again.
type Queue interface {
	Enqueue(ctx context.Context, kind Kind, payload []byte, delay time.Duration, maxAttempts int) (string, error)
	// Dequeue blocks until a job's not_before has passed or ctx is done.
	// The returned job has its attempt count already incremented.
	Dequeue(ctx context.Context) (Job, error)
	Ack(ctx context.Context, id string) error
	// Nack reschedules the job after retryAfter, or marks it
	// failed_permanent when its attempts are used up. It returns the
	// resulting status.
	Nack(ctx context.Context, id string, retryAfter time.Duration, cause error) (Status, error)
	// Fail marks the job failed_permanent without further attempts.
	Fail(ctx context.Context, id string, cause error) error
	Get(ctx context.Context, id string) (Job, error)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
