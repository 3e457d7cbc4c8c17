package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-order-fulfillment/internal/jobs"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

// OrdersHandler is the order intake API. With Events set, a new order is
// announced on Kafka and the worker's bridge enqueues its OrderCreated
// job; otherwise the job is enqueued here directly. If neither succeeds
// the order stays pending and the client gets 503 with its id, to
// retry through POST /orders/{id}/fulfill.
type OrdersHandler struct {
	Store   orders.Store
	Jobs    *jobs.Client
	Cache   orders.StatusCache
	Events  EventWriter
	Service string
	Log     *slog.Logger
}

// EventWriter is the synchronous half of kafka.Producer.
type EventWriter interface {
	Write(ctx context.Context, key, value []byte, headers ...kafkago.Header) error
}

type CreateOrderResp struct {
	Order orders.Order       `json:"order"`
	Items []orders.OrderItem `json:"items"`
	JobID string             `json:"job_id,omitempty"`
}

type OrderResp struct {
	Order   orders.Order         `json:"order"`
	Items   []orders.OrderItem   `json:"items"`
	History []orders.StatusEvent `json:"history"`
}

type UpdateStatusReq struct {
	Status orders.Status `json:"status"`
	Notes  string        `json:"notes"`
	Actor  string        `json:"actor"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/fulfill", h.fulfillOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Post("/orders/{id}/status", h.updateStatus)
	r.Post("/vendors/{id}/inventory-sync", h.syncVendor)
	r.Get("/jobs/{id}", h.getJob)
}

func (h *OrdersHandler) log() *slog.Logger {
	if h.Log == nil {
		return slog.Default()
	}
	return h.Log
}

func (h *OrdersHandler) cache() orders.StatusCache {
	if h.Cache == nil {
		return orders.NoStatusCache{}
	}
	return h.Cache
}

// storeError maps store errors onto HTTP statuses.
func storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orders.ErrInvalidOrder):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, jobs.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orders.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.NewOrder
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Store.CreateOrder(ctx, req)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			// an unknown customer or product is a bad request, not a missing resource
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.log().Error("create_order_failed", "error", err)
		storeError(w, err)
		return
	}
	items, err := h.Store.GetOrderItems(ctx, o.ID)
	if err != nil {
		storeError(w, err)
		return
	}
	h.cache().Set(ctx, o.ID, orders.CachedStatus{Status: o.Status, UpdatedAt: o.UpdatedAt})

	resp := CreateOrderResp{Order: o, Items: items}
	resp.JobID, err = h.startFulfillment(r.WithContext(ctx), o.ID)
	if err != nil {
		// the order is committed; the client can retry the hand-off alone
		h.log().Error("start_fulfillment_failed", "order_id", o.ID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error":    "order saved but fulfillment could not be started",
			"order_id": o.ID,
		})
		return
	}
	h.log().Info("order_created", "order_id", o.ID, "order_number", o.OrderNumber, "total", o.TotalAmount.StringFixed(2))
	writeJSON(w, http.StatusAccepted, resp)
}

// fulfillOrder hands a pending order to the pipeline again. Stock and
// email keys make a repeat harmless.
func (h *OrdersHandler) fulfillOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Store.GetOrder(ctx, id)
	if err != nil {
		storeError(w, err)
		return
	}
	if o.Status != orders.StatusPending {
		writeError(w, http.StatusConflict, "order is "+string(o.Status))
		return
	}
	jobID, err := h.startFulfillment(r.WithContext(ctx), id)
	if err != nil {
		h.log().Error("start_fulfillment_failed", "order_id", id, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "fulfillment could not be started", "order_id": id})
		return
	}
	h.log().Info("order_fulfillment_restarted", "order_id", id)
	writeJSON(w, http.StatusAccepted, map[string]string{"order_id": id, "job_id": jobID})
}

// startFulfillment announces the order on Kafka, or enqueues its
// OrderCreated job when there is no event stream. The job id is empty
// on the Kafka path.
func (h *OrdersHandler) startFulfillment(r *http.Request, orderID string) (string, error) {
	if h.Events != nil {
		return "", h.publishCreated(r, orderID)
	}
	return h.Jobs.EnqueueOrderCreated(r.Context(), orderID)
}

func (h *OrdersHandler) publishCreated(r *http.Request, orderID string) error {
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderCreated,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		TraceID:       middleware.GetReqID(r.Context()),
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(orders.OrderCreatedPayload{OrderID: orderID}),
	}
	return h.Events.Write(r.Context(), orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderCreated)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Store.GetOrder(ctx, id)
	if err != nil {
		storeError(w, err)
		return
	}
	items, err := h.Store.GetOrderItems(ctx, id)
	if err != nil {
		storeError(w, err)
		return
	}
	history, err := h.Store.StatusHistory(ctx, id)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OrderResp{Order: o, Items: items, History: history})
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if s, ok := h.cache().Get(ctx, id); ok {
		writeJSON(w, http.StatusOK, s)
		return
	}
	o, err := h.Store.GetOrder(ctx, id)
	if err != nil {
		storeError(w, err)
		return
	}
	s := orders.CachedStatus{Status: o.Status, UpdatedAt: o.UpdatedAt}
	h.cache().Set(ctx, id, s)
	writeJSON(w, http.StatusOK, s)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req UpdateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	if req.Actor == "" {
		req.Actor = "api"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ev, err := h.Store.AppendStatusEvent(ctx, id, req.Status, req.Notes, req.Actor)
	if err != nil {
		storeError(w, err)
		return
	}
	h.cache().Set(ctx, id, orders.CachedStatus{Status: ev.Status, UpdatedAt: ev.CreatedAt})
	h.log().Info("order_status_changed", "order_id", id, "status", ev.Status, "actor", req.Actor)
	writeJSON(w, http.StatusOK, ev)
}

func (h *OrdersHandler) syncVendor(w http.ResponseWriter, r *http.Request) {
	vendorID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	jobID, err := h.Jobs.EnqueueInventorySync(ctx, vendorID)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (h *OrdersHandler) getJob(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	j, err := h.Jobs.Job(ctx, chi.URLParam(r, "id"))
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}
