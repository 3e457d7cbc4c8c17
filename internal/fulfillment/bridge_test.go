package fulfillment

import (
	"context"
	"testing"

	"github.com/facebookgo/clock"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-fulfillment/internal/jobs"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

func TestBridge_HandleMessage(t *testing.T) {
	q := jobs.NewMemQueue(clock.NewMock())
	b := &Bridge{Jobs: jobs.NewClient(q, nil)}
	ctx := context.Background()

	envelope := func(eventType string, payload any) kafkago.Message {
		return kafkago.Message{Value: kafkax.MustMarshal(orders.Envelope{
			EventID:   "e-1",
			EventType: eventType,
			Payload:   kafkax.MustMarshal(payload),
		})}
	}

	require.NoError(t, b.HandleMessage(ctx, envelope(orders.EventOrderCreated, orders.OrderCreatedPayload{OrderID: "o-1"})))
	require.NoError(t, b.HandleMessage(ctx, envelope(orders.EventJobFailed, map[string]string{"job_id": "x"})))
	require.NoError(t, b.HandleMessage(ctx, envelope(orders.EventOrderCreated, map[string]string{})))
	require.NoError(t, b.HandleMessage(ctx, kafkago.Message{Value: []byte("garbage")}))

	got := q.List(jobs.KindOrderCreated)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"order_id":"o-1"}`, string(got[0].Payload))
	assert.Equal(t, 3, got[0].MaxAttempts)
}
