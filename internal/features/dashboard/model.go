package dashboard

import (
	"time"

	"roadwatch/internal/features/report"
)

// AggregateSnapshot is a point-in-time rollup of report counts pushed to
// dashboard subscribers. Total never decreases across the lifetime of a
// subscription: terminal reports keep counting, only buckets move.
type AggregateSnapshot struct {
	Total      int64                     `json:"total"`
	ByStatus   map[report.Status]int64   `json:"byStatus"`
	BySeverity map[report.Severity]int64 `json:"bySeverity"`
	ComputedAt time.Time                 `json:"computedAt"`
}
