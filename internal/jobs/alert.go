package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

type FailureReason string

const (
	ReasonPermanent FailureReason = "permanent"
	ReasonExhausted FailureReason = "exhausted"
)

// FailureEvent is raised when a job reaches failed_permanent. Its side
// effect may or may not have happened.
type FailureEvent struct {
	JobID       string          `json:"job_id"`
	Kind        Kind            `json:"kind"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Reason      FailureReason   `json:"reason"`
	Error       string          `json:"error"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	At          time.Time       `json:"at"`
}

// Alerter surfaces failure events to operators.
type Alerter interface {
	Alert(ctx context.Context, ev FailureEvent) error
}

type LogAlerter struct {
	Log *slog.Logger
}

func (a LogAlerter) Alert(ctx context.Context, ev FailureEvent) error {
	l := a.Log
	if l == nil {
		l = slog.Default()
	}
	l.LogAttrs(ctx, slog.LevelError, "job_failed_permanent",
		slog.String("job_id", ev.JobID),
		slog.String("kind", string(ev.Kind)),
		slog.Int("attempts", ev.Attempts),
		slog.Int("max_attempts", ev.MaxAttempts),
		slog.String("reason", string(ev.Reason)),
		slog.String("error", ev.Error),
		slog.String("payload", string(ev.Payload)),
	)
	return nil
}

// Publisher is the part of kafka.Producer the alerter needs.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// KafkaAlerter publishes failure events wrapped in the usual envelope,
// keyed by job id.
type KafkaAlerter struct {
	Producer Publisher
	Service  string
}

func (a KafkaAlerter) Alert(_ context.Context, ev FailureEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventJobFailed,
		EventVersion:  1,
		OccurredAt:    ev.At.UTC(),
		Producer:      a.Service,
		CorrelationID: ev.JobID,
		Payload:       payload,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	a.Producer.Publish([]byte(ev.JobID), b,
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventJobFailed)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
	return nil
}

// MultiAlerter fans an event out to every alerter and joins their errors.
type MultiAlerter []Alerter

func (m MultiAlerter) Alert(ctx context.Context, ev FailureEvent) error {
	var errs []error
	for _, a := range m {
		if err := a.Alert(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
