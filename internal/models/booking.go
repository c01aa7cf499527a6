package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Booking belongs to the booking subsystem. Reconciliation reads it for
// candidate lookup and only writes TicketNumber, AirlineReference and the
// Validated* fields on approval.
type Booking struct {
	ID               uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	BookingCode      string          `gorm:"uniqueIndex" json:"booking_code"`
	PassengerName    string          `gorm:"index" json:"passenger_name"`
	Route            string          `json:"route"`
	TravelDate       time.Time       `gorm:"index" json:"travel_date"`
	TicketNumber     string          `gorm:"index" json:"ticket_number"`
	AirlineReference string          `gorm:"index" json:"airline_reference"`
	FareAmount       decimal.Decimal `gorm:"type:numeric(14,2)" json:"fare_amount"`
	Validated        bool            `json:"validated"`
	ValidatedBy      *string         `json:"validated_by"`
	ValidatedAt      *time.Time      `json:"validated_at"`
	CreatedAt        time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
