package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-order-fulfillment/internal/jobs"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/notify"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

type memCache struct {
	mu   sync.Mutex
	m    map[string]orders.CachedStatus
	hits int
}

func (c *memCache) Get(_ context.Context, id string) (orders.CachedStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.m[id]
	if ok {
		c.hits++
	}
	return s, ok
}

func (c *memCache) Set(_ context.Context, id string, s orders.CachedStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[id] = s
}

type captureWriter struct {
	mu   sync.Mutex
	err  error
	msgs []kafkago.Message
}

func (p *captureWriter) Write(_ context.Context, key, value []byte, headers ...kafkago.Header) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, kafkago.Message{Key: key, Value: value, Headers: headers})
	return nil
}

// downQueue fails every enqueue until up is set.
type downQueue struct {
	jobs.Queue
	up bool
}

func (q *downQueue) Enqueue(ctx context.Context, kind jobs.Kind, payload []byte, delay time.Duration, maxAttempts int) (string, error) {
	if !q.up {
		return "", errors.New("redis: connection refused")
	}
	return q.Queue.Enqueue(ctx, kind, payload, delay, maxAttempts)
}

type apiFixture struct {
	store *orders.MemStore
	queue *jobs.MemQueue
	cache *memCache
	h     *OrdersHandler
	srv   http.Handler
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		store: orders.NewMemStore(),
		queue: jobs.NewMemQueue(nil),
		cache: &memCache{m: map[string]orders.CachedStatus{}},
	}
	f.store.PutUser(orders.User{ID: "cust-1", Email: "ana@example.com"})
	f.store.PutUser(orders.User{ID: "vendor-1", Email: "shop@example.com", IsVendor: true})
	f.store.PutProduct(orders.Product{ID: "p1", SKU: "SKU-1", VendorID: "vendor-1", Price: decimal.RequireFromString("10.00"), StockQuantity: 10})
	f.store.PutProduct(orders.Product{ID: "p2", SKU: "SKU-2", VendorID: "vendor-1", Price: decimal.RequireFromString("5.00"), StockQuantity: 2})
	f.h = &OrdersHandler{Store: f.store, Jobs: jobs.NewClient(f.queue, nil), Cache: f.cache, Service: "test"}
	r := NewRouter(nil)
	f.h.Register(r)
	f.srv = r
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func validOrder() orders.NewOrder {
	return orders.NewOrder{
		CustomerID:      "cust-1",
		ShippingAddress: "1 Main St",
		BillingAddress:  "1 Main St",
		Items:           []orders.ItemInput{{ProductID: "p1", Quantity: 2}, {ProductID: "p2", Quantity: 3}},
	}
}

func (f *apiFixture) create(t *testing.T) CreateOrderResp {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/orders", validOrder())
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp CreateOrderResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreateOrder_PricesAndEnqueues(t *testing.T) {
	f := newAPI(t)
	resp := f.create(t)

	assert.True(t, resp.Order.TotalAmount.Equal(decimal.RequireFromString("48.50")), resp.Order.TotalAmount.String())
	assert.Equal(t, orders.StatusPending, resp.Order.Status)
	assert.Len(t, resp.Items, 2)
	require.NotEmpty(t, resp.JobID)

	queued := f.queue.List(jobs.KindOrderCreated)
	require.Len(t, queued, 1)
	assert.Equal(t, resp.JobID, queued[0].ID)
	p, err := jobs.Decode[jobs.OrderCreatedPayload](queued[0])
	require.NoError(t, err)
	assert.Equal(t, resp.Order.ID, p.OrderID)
}

func TestCreateOrder_PublishesEventWhenKafkaIntake(t *testing.T) {
	f := newAPI(t)
	pub := &captureWriter{}
	f.h.Events = pub

	resp := f.create(t)
	assert.Empty(t, resp.JobID)
	assert.Empty(t, f.queue.List(jobs.KindOrderCreated))

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, resp.Order.ID, string(pub.msgs[0].Key))
	env, err := kafkax.UnmarshalEnvelope(pub.msgs[0].Value)
	require.NoError(t, err)
	assert.Equal(t, orders.EventOrderCreated, env.EventType)
	p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, resp.Order.ID, p.OrderID)
}

func TestCreateOrder_EnqueueFailureIs503(t *testing.T) {
	f := newAPI(t)
	dq := &downQueue{Queue: f.queue}
	f.h.Jobs = jobs.NewClient(dq, nil)

	rec := f.do(t, http.MethodPost, "/orders", validOrder())
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	id := body["order_id"]
	require.NotEmpty(t, id)
	assert.Empty(t, f.queue.List(jobs.KindOrderCreated))

	o, err := f.store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, o.Status)

	rec = f.do(t, http.MethodPost, "/orders/"+id+"/fulfill", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	dq.up = true
	rec = f.do(t, http.MethodPost, "/orders/"+id+"/fulfill", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	queued := f.queue.List(jobs.KindOrderCreated)
	require.Len(t, queued, 1)
	assert.Equal(t, body["job_id"], queued[0].ID)
}

func TestCreateOrder_PublishFailureIs503(t *testing.T) {
	f := newAPI(t)
	pub := &captureWriter{err: errors.New("kafka: not enough replicas")}
	f.h.Events = pub

	rec := f.do(t, http.MethodPost, "/orders", validOrder())
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body["order_id"])

	pub.err = nil
	rec = f.do(t, http.MethodPost, "/orders/"+body["order_id"]+"/fulfill", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, body["order_id"], string(pub.msgs[0].Key))
}

func TestFulfillOrder_Rejections(t *testing.T) {
	f := newAPI(t)
	id := f.create(t).Order.ID
	rec := f.do(t, http.MethodPost, "/orders/"+id+"/status", UpdateStatusReq{Status: orders.StatusCancelled})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/orders/"+id+"/fulfill", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/orders/missing/fulfill", nil).Code)
}

func TestCreateOrder_Rejections(t *testing.T) {
	f := newAPI(t)

	noItems := validOrder()
	noItems.Items = nil
	unknownProduct := validOrder()
	unknownProduct.Items = []orders.ItemInput{{ProductID: "nope", Quantity: 1}}
	zeroQty := validOrder()
	zeroQty.Items = []orders.ItemInput{{ProductID: "p1", Quantity: 0}}

	cases := []struct {
		name string
		body any
		code int
	}{
		{"no items", noItems, http.StatusBadRequest},
		{"zero quantity", zeroQty, http.StatusBadRequest},
		{"unknown product", unknownProduct, http.StatusUnprocessableEntity},
		{"not json", "nope", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/orders", tc.body)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
		})
	}
	assert.Empty(t, f.queue.List(""))
}

func TestGetOrder(t *testing.T) {
	f := newAPI(t)
	created := f.create(t)

	rec := f.do(t, http.MethodGet, "/orders/"+created.Order.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp OrderResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, created.Order.OrderNumber, resp.Order.OrderNumber)
	assert.Len(t, resp.Items, 2)
	require.Len(t, resp.History, 1)
	assert.Equal(t, orders.StatusPending, resp.History[0].Status)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/orders/missing", nil).Code)
}

func TestUpdateStatus(t *testing.T) {
	f := newAPI(t)
	id := f.create(t).Order.ID

	rec := f.do(t, http.MethodPost, "/orders/"+id+"/status", UpdateStatusReq{Status: orders.StatusCancelled, Notes: "customer asked"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, orders.StatusCancelled, f.cache.m[id].Status)

	rec = f.do(t, http.MethodPost, "/orders/"+id+"/status", UpdateStatusReq{Status: orders.StatusShipped})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/orders/"+id+"/status", UpdateStatusReq{Status: "lost"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/orders/missing/status", UpdateStatusReq{Status: orders.StatusConfirmed})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	history, err := f.store.StatusHistory(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestGetStatus_ReadsThroughCache(t *testing.T) {
	f := newAPI(t)
	id := f.create(t).Order.ID
	delete(f.cache.m, id)

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodGet, "/orders/"+id+"/status", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var s orders.CachedStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
		assert.Equal(t, orders.StatusPending, s.Status)
	}
	assert.Equal(t, 1, f.cache.hits)
}

func TestGetStatus_SeesWorkerConfirmation(t *testing.T) {
	f := newAPI(t)
	id := f.create(t).Order.ID

	// prime the cache with pending
	rec := f.do(t, http.MethodGet, "/orders/"+id+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	svc := &fulfillment.Service{
		Store: f.store,
		Jobs:  f.h.Jobs,
		Mail:  notify.SenderFunc(func(context.Context, notify.Message) error { return nil }),
		Cache: f.cache,
	}
	pool, err := jobs.NewPool(f.queue, svc.Handlers())
	require.NoError(t, err)
	for i := 0; f.queue.Pending() > 0; i++ {
		require.Less(t, i, 50, "queue did not drain")
		require.NoError(t, pool.RunOne(context.Background()))
	}

	o, err := f.store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, orders.StatusConfirmed, o.Status)

	rec = f.do(t, http.MethodGet, "/orders/"+id+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var s orders.CachedStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, orders.StatusConfirmed, s.Status)
}

func TestSyncVendorAndJobLookup(t *testing.T) {
	f := newAPI(t)

	rec := f.do(t, http.MethodPost, "/vendors/vendor-1/inventory-sync", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body["job_id"])

	rec = f.do(t, http.MethodGet, "/jobs/"+body["job_id"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var j jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &j))
	assert.Equal(t, jobs.KindInventorySync, j.Kind)
	assert.Equal(t, jobs.StatusQueued, j.Status)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/jobs/missing", nil).Code)
}

func TestHealthz(t *testing.T) {
	f := newAPI(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
