package models

import (
	"time"

	"github.com/google/uuid"
)

type ReviewAction string

const (
	ActionApprove ReviewAction = "approve"
	ActionReject  ReviewAction = "reject"
	ActionReopen  ReviewAction = "reopen"
)

// ReviewAuditLog records every effective review transition of a result.
type ReviewAuditLog struct {
	ID              uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	ResultID        uuid.UUID    `gorm:"type:uuid;index" json:"result_id"`
	Action          ReviewAction `gorm:"size:16" json:"action"`
	PreviousState   ReviewState  `gorm:"size:16" json:"previous_state"`
	NewState        ReviewState  `gorm:"size:16" json:"new_state"`
	PreviousBooking *uuid.UUID   `gorm:"type:uuid" json:"previous_booking_id"`
	NewBooking      *uuid.UUID   `gorm:"type:uuid" json:"new_booking_id"`
	PerformedBy     string       `json:"performed_by"`
	Reason          string       `json:"reason"`
	CreatedAt       time.Time    `json:"created_at"`
}

// All lists every model for AutoMigrate.
func All() []any {
	return []any{
		&Booking{},
		&ReconciliationJob{},
		&ReconciliationResult{},
		&ReviewAuditLog{},
	}
}
