package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/facebookgo/clock"
)

// Handler performs the effect of one job kind. Returning an error wrapped
// with Permanent fails the job at once; any other error is retried under
// the kind's Policy.
type Handler func(ctx context.Context, job Job) error

// Pool runs a fixed number of workers over a Queue. The kind to handler
// mapping is fixed at construction.
type Pool struct {
	q        Queue
	handlers map[Kind]Handler
	policies map[Kind]Policy
	size     int
	timeout  time.Duration
	clk      clock.Clock
	alerter  Alerter
	log      *slog.Logger
}

type Option func(*Pool)

func WithSize(n int) Option { return func(p *Pool) { p.size = n } }

// WithHandlerTimeout bounds a single handler execution.
func WithHandlerTimeout(d time.Duration) Option { return func(p *Pool) { p.timeout = d } }

func WithClock(c clock.Clock) Option { return func(p *Pool) { p.clk = c } }

func WithAlerter(a Alerter) Option { return func(p *Pool) { p.alerter = a } }

func WithLogger(l *slog.Logger) Option { return func(p *Pool) { p.log = l } }

func WithPolicies(m map[Kind]Policy) Option { return func(p *Pool) { p.policies = m } }

// NewPool fails if a handler is nil or its kind has no valid policy.
func NewPool(q Queue, handlers map[Kind]Handler, opts ...Option) (*Pool, error) {
	p := &Pool{
		q:        q,
		handlers: handlers,
		policies: DefaultPolicies,
		size:     1,
		timeout:  2 * time.Minute,
		clk:      clock.New(),
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.alerter == nil {
		p.alerter = LogAlerter{Log: p.log}
	}
	if p.size < 1 {
		return nil, errors.New("pool size must be >= 1")
	}
	if len(handlers) == 0 {
		return nil, errors.New("no handlers registered")
	}
	for k, h := range handlers {
		if h == nil {
			return nil, fmt.Errorf("handler %s is nil", k)
		}
		pol, ok := p.policies[k]
		if !ok {
			return nil, fmt.Errorf("no retry policy for %s", k)
		}
		if err := pol.validate(k); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Run starts the workers and blocks until ctx is cancelled and every
// worker has finished its current job.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info("worker_pool_started", "workers", p.size)
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, id)
		}(i)
	}
	wg.Wait()
	p.log.Info("worker_pool_stopped")
	return nil
}

func (p *Pool) worker(ctx context.Context, id int) {
	for {
		err := p.RunOne(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			p.log.Warn("dequeue_failed", "worker", id, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-p.clk.After(time.Second):
			}
		}
	}
}

// RunOne dequeues a single job, runs it and records the outcome. It
// returns only queue errors; handler failures are recorded on the job.
func (p *Pool) RunOne(ctx context.Context) error {
	job, err := p.q.Dequeue(ctx)
	if err != nil {
		return err
	}
	// a dequeued job runs to completion even during shutdown
	p.process(context.WithoutCancel(ctx), job)
	return nil
}

func (p *Pool) process(ctx context.Context, job Job) {
	log := p.log.With("job_id", job.ID, "kind", string(job.Kind), "attempt", job.AttemptCount)

	h, ok := p.handlers[job.Kind]
	if !ok {
		err := Permanent(fmt.Errorf("no handler for kind %s", job.Kind))
		p.fail(ctx, log, job, err)
		return
	}

	start := p.clk.Now()
	err := p.invoke(ctx, h, job)
	log = log.With("duration_ms", p.clk.Now().Sub(start).Milliseconds())

	switch Classify(err) {
	case OutcomeSucceeded:
		if err := p.q.Ack(ctx, job.ID); err != nil {
			log.Error("ack_failed", "error", err)
			return
		}
		log.Info("job_succeeded")
	case OutcomePermanent:
		p.fail(ctx, log, job, err)
	case OutcomeRetry:
		backoff := p.policies[job.Kind].Backoff
		st, nerr := p.q.Nack(ctx, job.ID, backoff, err)
		if nerr != nil {
			log.Error("nack_failed", "error", nerr, "cause", err)
			return
		}
		if st == StatusFailedPermanent {
			log.Warn("job_retries_exhausted", "error", err)
			p.alert(ctx, log, job, ReasonExhausted, err)
			return
		}
		log.Warn("job_retry_scheduled", "error", err, "retry_in", backoff.String())
	}
}

func (p *Pool) invoke(ctx context.Context, h Handler, job Job) (err error) {
	hctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(hctx, job)
}

func (p *Pool) fail(ctx context.Context, log *slog.Logger, job Job, err error) {
	if ferr := p.q.Fail(ctx, job.ID, err); ferr != nil {
		log.Error("fail_failed", "error", ferr, "cause", err)
		return
	}
	log.Warn("job_failed", "error", err)
	p.alert(ctx, log, job, ReasonPermanent, err)
}

func (p *Pool) alert(ctx context.Context, log *slog.Logger, job Job, reason FailureReason, err error) {
	ev := FailureEvent{
		JobID:       job.ID,
		Kind:        job.Kind,
		Attempts:    job.AttemptCount,
		MaxAttempts: job.MaxAttempts,
		Reason:      reason,
		Error:       errString(err),
		Payload:     job.Payload,
		At:          p.clk.Now(),
	}
	if aerr := p.alerter.Alert(ctx, ev); aerr != nil {
		log.Error("alert_failed", "error", aerr)
	}
}
