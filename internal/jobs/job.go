// Package jobs is the durable at-least-once work queue of the pipeline
// and the worker pool that drains it.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind names a job type; every kind a pool serves has a Handler and a Policy.
type Kind string

const (
	KindOrderCreated           Kind = "OrderCreated"
	KindStockDecrement         Kind = "StockDecrement"
	KindOrderConfirmationEmail Kind = "OrderConfirmationEmail"
	KindLowStockAlert          Kind = "LowStockAlert"
	KindDailyReport            Kind = "DailyReport"
	KindCleanup                Kind = "Cleanup"
	KindInventorySync          Kind = "InventorySync"
	KindBackup                 Kind = "Backup"
)

type Status string

const (
	StatusQueued          Status = "queued"
	StatusRunning         Status = "running"
	StatusSucceeded       Status = "succeeded"
	StatusFailedPermanent Status = "failed_permanent"
)

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailedPermanent
}

var ErrJobNotFound = errors.New("job not found")

type Job struct {
	ID           string          `json:"id"`
	Kind         Kind            `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
	AttemptCount int             `json:"attempt_count"`
	MaxAttempts  int             `json:"max_attempts"`
	NotBefore    time.Time       `json:"not_before"`
	Status       Status          `json:"status"`
	LastError    string          `json:"last_error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Exhausted reports whether the job has used its whole retry budget.
func (j Job) Exhausted() bool { return j.AttemptCount >= j.MaxAttempts }

// Decode unmarshals a job payload. A payload that does not decode will
// never decode, so the error is permanent.
func Decode[T any](j Job) (T, error) {
	var t T
	if err := json.Unmarshal(j.Payload, &t); err != nil {
		return t, Permanent(fmt.Errorf("decode %s payload: %w", j.Kind, err))
	}
	return t, nil
}
