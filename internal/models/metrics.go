package models

import "time"

// MetricsSnapshot is a JSON summary of the in-process counters.
type MetricsSnapshot struct {
	RequestsTotal            uint64            `json:"requests_total"`
	AverageRequestDurationMs float64           `json:"average_request_duration_ms"`
	CacheHitRatio            float64           `json:"cache_hit_ratio"`
	CodesClaimed             map[string]uint64 `json:"codes_claimed"`
	AllocationFailures       map[string]uint64 `json:"allocation_failures"`
	CodesReserved            uint64            `json:"codes_reserved"`
	Goroutines               int               `json:"goroutines"`
	GeneratedAt              time.Time         `json:"generated_at"`
}
