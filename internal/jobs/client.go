package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type OrderCreatedPayload struct {
	OrderID string `json:"order_id"`
}

type InventorySyncPayload struct {
	VendorID string `json:"vendor_id"`
}

// Client is the enqueue side of the pipeline. It is built once and
// passed to everything that submits work.
type Client struct {
	q        Queue
	policies map[Kind]Policy
}

func NewClient(q Queue, policies map[Kind]Policy) *Client {
	if policies == nil {
		policies = DefaultPolicies
	}
	return &Client{q: q, policies: policies}
}

// Submit enqueues v as the payload of a new job of kind, ready now.
func (c *Client) Submit(ctx context.Context, kind Kind, v any) (string, error) {
	return c.SubmitAfter(ctx, kind, v, 0)
}

func (c *Client) SubmitAfter(ctx context.Context, kind Kind, v any, delay time.Duration) (string, error) {
	pol, ok := c.policies[kind]
	if !ok {
		return "", fmt.Errorf("submit: no retry policy for %s", kind)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", kind, err)
	}
	return c.q.Enqueue(ctx, kind, b, delay, pol.MaxAttempts)
}

func (c *Client) EnqueueOrderCreated(ctx context.Context, orderID string) (string, error) {
	return c.Submit(ctx, KindOrderCreated, OrderCreatedPayload{OrderID: orderID})
}

func (c *Client) EnqueueInventorySync(ctx context.Context, vendorID string) (string, error) {
	return c.Submit(ctx, KindInventorySync, InventorySyncPayload{VendorID: vendorID})
}

func (c *Client) Job(ctx context.Context, id string) (Job, error) {
	return c.q.Get(ctx, id)
}
