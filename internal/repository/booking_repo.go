package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"travel-admin-backend/internal/models"
)

type BookingRepository struct {
	db *gorm.DB
}

func NewBookingRepository(db *gorm.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *BookingRepository) WithTx(tx *gorm.DB) *BookingRepository {
	return &BookingRepository{db: tx}
}

// FindInWindow returns bookings with from <= travel_date < to.
func (r *BookingRepository) FindInWindow(ctx context.Context, from, to time.Time) ([]models.Booking, error) {
	var bookings []models.Booking
	err := r.db.WithContext(ctx).
		Where("travel_date >= ? AND travel_date < ?", from.UTC(), to.UTC()).
		Find(&bookings).Error
	return bookings, wrap("find bookings in window", "booking", "", err)
}

// Get fetches a single booking by ID
func (r *BookingRepository) Get(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	if err := r.db.WithContext(ctx).First(&booking, "id = ?", id).Error; err != nil {
		return nil, wrap("get booking", "booking", id.String(), err)
	}
	return &booking, nil
}

// Create inserts b, ignoring a duplicate booking code. created is false for
// a duplicate.
func (r *BookingRepository) Create(ctx context.Context, b *models.Booking) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(b)
	if res.Error != nil {
		return false, wrap("create booking", "booking", b.ID.String(), res.Error)
	}
	return res.RowsAffected > 0, nil
}

type BookingSearch struct {
	Query      string
	TravelDate *time.Time
	Limit      int
}

// Search is the manual lookup reviewers use to pick an override booking.
func (r *BookingRepository) Search(ctx context.Context, s BookingSearch) ([]models.Booking, error) {
	var bookings []models.Booking
	if s.Limit <= 0 {
		s.Limit = 20
	}

	dbQuery := r.db.WithContext(ctx).Model(&models.Booking{})

	if s.Query != "" {
		like := "%" + strings.ToLower(s.Query) + "%"
		dbQuery = dbQuery.Where(
			"LOWER(passenger_name) LIKE ? OR LOWER(booking_code) LIKE ? OR LOWER(ticket_number) LIKE ? OR LOWER(airline_reference) LIKE ?",
			like, like, like, like,
		)
	}
	if s.TravelDate != nil {
		day := s.TravelDate.UTC()
		dbQuery = dbQuery.Where("travel_date >= ? AND travel_date < ?", day, day.Add(24*time.Hour))
	}

	err := dbQuery.Order("travel_date DESC").Order("id ASC").Limit(s.Limit).Find(&bookings).Error
	return bookings, wrap("search bookings", "booking", "", err)
}

// Validation is what an approval writes onto a booking.
type Validation struct {
	TicketNumber     string
	AirlineReference string
	ValidatedBy      string
	ValidatedAt      time.Time
}

// ApplyValidation marks the booking validated. Empty identifiers leave the
// stored value untouched.
func (r *BookingRepository) ApplyValidation(ctx context.Context, id uuid.UUID, v Validation) error {
	updates := map[string]interface{}{
		"validated":    true,
		"validated_by": v.ValidatedBy,
		"validated_at": v.ValidatedAt,
	}
	if v.TicketNumber != "" {
		updates["ticket_number"] = v.TicketNumber
	}
	if v.AirlineReference != "" {
		updates["airline_reference"] = v.AirlineReference
	}

	res := r.db.WithContext(ctx).Model(&models.Booking{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return wrap("validate booking", "booking", id.String(), res.Error)
	}
	if res.RowsAffected == 0 {
		return wrap("validate booking", "booking", id.String(), gorm.ErrRecordNotFound)
	}
	return nil
}
