package fulfillment

import (
	"context"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-order-fulfillment/internal/jobs"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

// Bridge turns order.created events from Kafka into OrderCreated jobs.
type Bridge struct {
	Jobs *jobs.Client
	Log  *slog.Logger
}

// HandleMessage is a kafka.Handler. Undecodable or foreign messages are
// logged and committed; only an enqueue failure keeps the offset.
func (b *Bridge) HandleMessage(ctx context.Context, m kafkago.Message) error {
	log := b.Log
	if log == nil {
		log = slog.Default()
	}
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		log.Warn("bridge_bad_envelope", "offset", m.Offset, "error", err)
		return nil
	}
	if env.EventType != orders.EventOrderCreated {
		return nil
	}
	p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
	if err != nil || p.OrderID == "" {
		log.Warn("bridge_bad_payload", "event_id", env.EventID, "error", err)
		return nil
	}
	id, err := b.Jobs.EnqueueOrderCreated(ctx, p.OrderID)
	if err != nil {
		return err
	}
	log.Info("bridge_enqueued", "event_id", env.EventID, "order_id", p.OrderID, "job_id", id)
	return nil
}
