package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

func TestEnvelopePayload(t *testing.T) {
	raw := MustMarshal(orders.Envelope{
		EventID:      "e-1",
		EventType:    orders.EventOrderCreated,
		EventVersion: 1,
		OccurredAt:   time.Unix(0, 0).UTC(),
		Payload:      MustMarshal(orders.OrderCreatedPayload{OrderID: "o-1"}),
	})

	env, err := UnmarshalEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, orders.EventOrderCreated, env.EventType)

	p, err := UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, "o-1", p.OrderID)

	_, err = UnmarshalEnvelope([]byte("not json"))
	assert.Error(t, err)
	_, err = UnwrapPayload[orders.OrderCreatedPayload]([]byte(`[1]`))
	assert.Error(t, err)
}
