package models

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

type SourceKind string

const (
	SourceDelimited   SourceKind = "delimited"
	SourceSpreadsheet SourceKind = "spreadsheet"
)

// ReconciliationJob tracks one uploaded ledger file through the runner.
type ReconciliationJob struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Filename       string     `json:"filename"`
	SourceKind     SourceKind `gorm:"size:16" json:"source_kind"`
	Status         JobStatus  `gorm:"size:16;index" json:"status"`
	TotalRecords   int        `json:"total_records"`
	ProcessedCount int        `json:"processed_count"`
	MatchedCount   int        `json:"matched"`
	PartialCount   int        `json:"partial_matches"`
	UnmatchedCount int        `json:"unmatched"`
	SubmittedBy    string     `gorm:"index" json:"submitted_by"`
	ErrorKind      string     `gorm:"size:32" json:"error_kind,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// JobCounters are the per-classification tallies of a job.
type JobCounters struct {
	Total     int `json:"total_records"`
	Matched   int `json:"matched"`
	Partial   int `json:"partial_matches"`
	Unmatched int `json:"unmatched"`
}

// Add counts one result of the given classification.
func (c *JobCounters) Add(cl Classification) {
	c.Total++
	switch cl {
	case ClassMatched:
		c.Matched++
	case ClassPartial:
		c.Partial++
	default:
		c.Unmatched++
	}
}
