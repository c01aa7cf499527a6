package matching

import (
	"context"
	"sort"
	"time"

	"travel-admin-backend/internal/apperr"
	"travel-admin-backend/internal/ledger"
	"travel-admin-backend/internal/models"
)

// BookingSource supplies bookings whose travel date falls in [from, to).
type BookingSource interface {
	FindInWindow(ctx context.Context, from, to time.Time) ([]models.Booking, error)
}

type LookupConfig struct {
	DateToleranceDays int
	// Ceiling caps the candidate list. Exceeding it sets Candidates.Limited.
	Ceiling int
}

func DefaultLookupConfig() LookupConfig {
	return LookupConfig{DateToleranceDays: 1, Ceiling: 50}
}

// Candidates is the ordered, best-first candidate set for one record.
type Candidates struct {
	Bookings []models.Booking
	// Found is the number of bookings that qualified before the ceiling.
	Found   int
	Limited bool
}

type Lookup struct {
	source BookingSource
	cfg    LookupConfig
}

func NewLookup(source BookingSource, cfg LookupConfig) *Lookup {
	if cfg.Ceiling < 1 {
		cfg.Ceiling = DefaultLookupConfig().Ceiling
	}
	return &Lookup{source: source, cfg: cfg}
}

type ranked struct {
	booking models.Booking
	rank    int
}

// Find returns the bookings travelling within the date tolerance of rec that
// share a route or passenger name token with it, or carry its ticket number
// or airline reference.
func (l *Lookup) Find(ctx context.Context, rec ledger.Record) (Candidates, error) {
	if rec.TravelDate == nil {
		msg := "travel date is missing"
		if rec.Flagged(ledger.FieldTravelDate) {
			msg = "travel date could not be parsed"
		}
		return Candidates{}, apperr.RowProcessing(rec.Row, string(ledger.FieldTravelDate), msg)
	}

	day := *rec.TravelDate
	tol := time.Duration(l.cfg.DateToleranceDays) * 24 * time.Hour
	from := day.Add(-tol)
	to := day.Add(tol + 24*time.Hour)

	bookings, err := l.source.FindInWindow(ctx, from, to)
	if err != nil {
		return Candidates{}, err
	}

	recNames := nameTokens(rec.Get(ledger.FieldPassengerName))
	recRoute := routeTokens(rec.Get(ledger.FieldRoute))
	recTicket := normalizeIdentifier(rec.Get(ledger.FieldTicketNumber))
	recRef := normalizeIdentifier(rec.Get(ledger.FieldAirlineReference))

	var kept []ranked
	for _, b := range bookings {
		routeHit := overlaps(recRoute, routeTokens(b.Route))
		nameHit := overlaps(recNames, nameTokens(b.PassengerName))
		idHit := (recTicket != "" && recTicket == normalizeIdentifier(b.TicketNumber)) ||
			(recRef != "" && recRef == normalizeIdentifier(b.AirlineReference))
		if !routeHit && !nameHit && !idHit {
			continue
		}
		rank := 0
		if idHit {
			rank += 4
		}
		if dayDiff(day, b.TravelDate) == 0 {
			rank += 2
		}
		if routeHit {
			rank++
		}
		if nameHit {
			rank++
		}
		kept = append(kept, ranked{booking: b, rank: rank})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.rank != b.rank {
			return a.rank > b.rank
		}
		if !a.booking.CreatedAt.Equal(b.booking.CreatedAt) {
			return a.booking.CreatedAt.After(b.booking.CreatedAt)
		}
		return a.booking.ID.String() < b.booking.ID.String()
	})

	out := Candidates{Found: len(kept)}
	if len(kept) > l.cfg.Ceiling {
		kept = kept[:l.cfg.Ceiling]
		out.Limited = true
	}
	out.Bookings = make([]models.Booking, len(kept))
	for i, k := range kept {
		out.Bookings[i] = k.booking
	}
	return out, nil
}
