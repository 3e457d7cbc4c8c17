package redisx

import "time"

const (
	// Cache status order: order_status:{order_id} -> {"status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup side effects: dedup:{scope}:{key} (scope = notify, ...)
	KeyDedup = "dedup:%s:%s"

	// Job queue: record per job, ready zset by not_before, in-flight zset by lease deadline
	KeyJob         = "jobq:job:%s"
	KeyJobsReady   = "jobq:ready"
	KeyJobsRunning = "jobq:inflight"
)

var (
	TTLStatusCache  = 5 * time.Minute
	TTLDedup        = 48 * time.Hour
	TTLDedupClaim   = 10 * time.Minute
	TTLJobRetention = 7 * 24 * time.Hour
)
