package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Classification string

const (
	ClassMatched   Classification = "MATCHED"
	ClassPartial   Classification = "PARTIAL"
	ClassUnmatched Classification = "UNMATCHED"
)

func (c Classification) Valid() bool {
	return c == ClassMatched || c == ClassPartial || c == ClassUnmatched
}

type ReviewState string

const (
	ReviewPending  ReviewState = "PENDING"
	ReviewApproved ReviewState = "APPROVED"
	ReviewRejected ReviewState = "REJECTED"
)

func (s ReviewState) Valid() bool {
	return s == ReviewPending || s == ReviewApproved || s == ReviewRejected
}

// ReconciliationResult is the persisted outcome for one ledger row.
type ReconciliationResult struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	JobID            uuid.UUID      `gorm:"type:uuid;index:idx_result_job_row,priority:1" json:"job_id"`
	RowNumber        int            `gorm:"index:idx_result_job_row,priority:2" json:"row_number"`
	LedgerFields     datatypes.JSON `json:"ledger_fields"`
	ParseFlags       datatypes.JSON `json:"parse_flags,omitempty"`
	Classification   Classification `gorm:"size:16;index" json:"classification"`
	Confidence       float64        `json:"confidence"`
	MatchedBookingID *uuid.UUID     `gorm:"type:uuid" json:"matched_booking_id"`
	CandidateCount   int            `json:"candidate_count"`
	CandidateLimited bool           `json:"candidate_limited"`
	MatchDetails     datatypes.JSON `json:"match_details,omitempty"`
	Diagnostic       string         `json:"diagnostic,omitempty"`
	ReviewState      ReviewState    `gorm:"size:16;index" json:"review_state"`
	ReviewedBy       *string        `json:"reviewed_by"`
	ReviewedAt       *time.Time     `json:"reviewed_at"`
	Notes            string         `json:"notes"`
	Version          int            `gorm:"not null;default:1" json:"version"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// ResultID derives the id of the result for one row of a job, so rewriting a
// row is an upsert rather than a duplicate.
func ResultID(jobID uuid.UUID, row int) uuid.UUID {
	return uuid.NewSHA1(jobID, []byte("row:"+strconv.Itoa(row)))
}
