package jobs

import (
	"fmt"
	"time"
)

// Policy is the fixed retry budget of one job kind.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
}

var DefaultPolicies = map[Kind]Policy{
	KindOrderCreated:           {MaxAttempts: 3, Backoff: 60 * time.Second},
	KindStockDecrement:         {MaxAttempts: 5, Backoff: 30 * time.Second},
	KindOrderConfirmationEmail: {MaxAttempts: 3, Backoff: 60 * time.Second},
	KindLowStockAlert:          {MaxAttempts: 3, Backoff: 120 * time.Second},
	KindDailyReport:            {MaxAttempts: 2, Backoff: 300 * time.Second},
	KindCleanup:                {MaxAttempts: 2, Backoff: 3600 * time.Second},
	KindInventorySync:          {MaxAttempts: 3, Backoff: 600 * time.Second},
	KindBackup:                 {MaxAttempts: 2, Backoff: 7200 * time.Second},
}

func (p Policy) validate(k Kind) error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("policy %s: max attempts must be >= 1", k)
	}
	if p.Backoff < 0 {
		return fmt.Errorf("policy %s: negative backoff", k)
	}
	return nil
}
