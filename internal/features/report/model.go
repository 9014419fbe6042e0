package report

import (
	"time"
)

// Status is the lifecycle state of a report. Created as Pending by the
// gateway, advanced by triage operators through UpdateStatus.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "InProgress"
	StatusResolved   Status = "Resolved"
	StatusRejected   Status = "Rejected"
)

// AllStatuses lists every status in lifecycle order, used to zero-fill
// dashboard buckets.
var AllStatuses = []Status{StatusPending, StatusInProgress, StatusResolved, StatusRejected}

// transitions maps a target status to the statuses it may be reached from.
// Resolved and Rejected are terminal, nothing transitions back to Pending.
var transitions = map[Status][]Status{
	StatusInProgress: {StatusPending},
	StatusResolved:   {StatusInProgress},
	StatusRejected:   {StatusPending, StatusInProgress},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusResolved, StatusRejected:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusRejected
}

// CanTransitionTo reports whether the state machine allows moving from s to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, from := range transitions[next] {
		if from == s {
			return true
		}
	}
	return false
}

// AllowedPredecessors returns the statuses a report may hold for a
// transition into next to succeed. Empty for Pending and unknown statuses.
func AllowedPredecessors(next Status) []Status {
	return transitions[next]
}

// Severity is the reporter-assessed damage severity.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

var AllSeverities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Report is a single road-damage submission. One document per report in
// the "reports" collection, keyed by the public ID (unique index).
type Report struct {
	ID           string         `bson:"id" json:"id"`
	Type         string         `bson:"type" json:"type"`
	Severity     Severity       `bson:"severity" json:"severity"`
	Location     string         `bson:"location" json:"location"`
	Coords       []float64      `bson:"coords,omitempty" json:"coords,omitempty"` // [lat, lng]
	Description  string         `bson:"description,omitempty" json:"description,omitempty"`
	ReportedDate string         `bson:"reported_date,omitempty" json:"reportedDate,omitempty"` // stored verbatim
	Status       Status         `bson:"status" json:"status"`
	AIResult     map[string]any `bson:"ai_result,omitempty" json:"aiResult,omitempty"`
	SubmittedBy  string         `bson:"submitted_by,omitempty" json:"submittedBy,omitempty"`
	ImagePath    string         `bson:"image_path,omitempty" json:"-"`
	CreatedAt    time.Time      `bson:"created_at" json:"createdAt"`
}

// Filter narrows List results. Zero values mean "any".
type Filter struct {
	Status   Status
	Severity Severity
	Type     string
}

// Summary is the raw rollup the dashboard feed is built from.
type Summary struct {
	Total      int64
	ByStatus   map[Status]int64
	BySeverity map[Severity]int64
}
