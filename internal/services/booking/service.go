// Package booking is the thin stand-in for the booking subsystem: seeding,
// lookup and manual search used by reviewers.
package booking

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"travel-admin-backend/internal/apperr"
	"travel-admin-backend/internal/models"
	"travel-admin-backend/internal/repository"
)

var dateLayouts = []string{"2006-01-02", "02-01-2006", "02/01/2006"}

func parseTravelDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid travel date %q, expected yyyy-mm-dd or dd-mm-yyyy", s)
}

type NewBooking struct {
	BookingCode      string
	PassengerName    string
	Route            string
	TravelDate       string
	TicketNumber     string
	AirlineReference string
	FareAmount       string
}

type BookingService struct {
	repo *repository.BookingRepository
	log  logrus.FieldLogger
}

func NewBookingService(repo *repository.BookingRepository, log logrus.FieldLogger) *BookingService {
	return &BookingService{repo: repo, log: log}
}

func (in NewBooking) build() (*models.Booking, error) {
	name := strings.TrimSpace(in.PassengerName)
	route := strings.TrimSpace(in.Route)
	if name == "" || route == "" {
		return nil, errors.New("passenger name and route are required")
	}
	date, err := parseTravelDate(in.TravelDate)
	if err != nil {
		return nil, err
	}
	fare := decimal.Zero
	if s := strings.TrimSpace(in.FareAmount); s != "" {
		fare, err = decimal.NewFromString(s)
		if err != nil || fare.IsNegative() {
			return nil, fmt.Errorf("invalid fare amount %q", s)
		}
	}

	id := uuid.New()
	code := strings.TrimSpace(in.BookingCode)
	if code == "" {
		code = "BK-" + strings.ToUpper(id.String()[:8])
	}
	return &models.Booking{
		ID:               id,
		BookingCode:      code,
		PassengerName:    name,
		Route:            strings.ToUpper(route),
		TravelDate:       date,
		TicketNumber:     strings.TrimSpace(in.TicketNumber),
		AirlineReference: strings.TrimSpace(in.AirlineReference),
		FareAmount:       fare,
	}, nil
}

// Create stores one booking. A booking code that already exists yields a
// Conflict.
func (s *BookingService) Create(ctx context.Context, in NewBooking) (*models.Booking, error) {
	b, err := in.build()
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	created, err := s.repo.Create(ctx, b)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, apperr.Conflict("booking code " + b.BookingCode + " already exists")
	}
	return b, nil
}

// ImportSummary reports the outcome of a CSV import.
type ImportSummary struct {
	Inserted   int      `json:"inserted"`
	Duplicates int      `json:"duplicates"`
	Skipped    int      `json:"skipped"`
	Problems   []string `json:"problems,omitempty"`
}

var importColumns = map[string]string{
	"booking_code":      "booking_code",
	"code":              "booking_code",
	"passenger_name":    "passenger_name",
	"passenger":         "passenger_name",
	"name":              "passenger_name",
	"route":             "route",
	"travel_date":       "travel_date",
	"date":              "travel_date",
	"ticket_number":     "ticket_number",
	"ticket":            "ticket_number",
	"airline_reference": "airline_reference",
	"pnr":               "airline_reference",
	"fare_amount":       "fare_amount",
	"fare":              "fare_amount",
	"amount":            "fare_amount",
}

// Import loads bookings from a CSV with a header row. Bad rows are skipped
// and reported; duplicates by booking code are counted, not overwritten.
func (s *BookingService) Import(ctx context.Context, r io.Reader) (ImportSummary, error) {
	var sum ImportSummary
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return sum, apperr.MalformedInput("cannot read CSV header", 1, err)
	}
	cols := map[string]int{}
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		key = strings.ReplaceAll(key, " ", "_")
		if f, ok := importColumns[key]; ok {
			if _, seen := cols[f]; !seen {
				cols[f] = i
			}
		}
	}
	for _, req := range []string{"passenger_name", "route", "travel_date"} {
		if _, ok := cols[req]; !ok {
			return sum, apperr.SchemaMismatch([]string{req})
		}
	}

	cell := func(rec []string, f string) string {
		i, ok := cols[f]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	row := 1
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			sum.Skipped++
			sum.Problems = append(sum.Problems, fmt.Sprintf("row %d: %v", row, err))
			continue
		}
		if strings.TrimSpace(strings.Join(rec, "")) == "" {
			continue
		}

		b, err := NewBooking{
			BookingCode:      cell(rec, "booking_code"),
			PassengerName:    cell(rec, "passenger_name"),
			Route:            cell(rec, "route"),
			TravelDate:       cell(rec, "travel_date"),
			TicketNumber:     cell(rec, "ticket_number"),
			AirlineReference: cell(rec, "airline_reference"),
			FareAmount:       cell(rec, "fare_amount"),
		}.build()
		if err != nil {
			sum.Skipped++
			sum.Problems = append(sum.Problems, fmt.Sprintf("row %d: %v", row, err))
			continue
		}

		created, err := s.repo.Create(ctx, b)
		if err != nil {
			return sum, err
		}
		if created {
			sum.Inserted++
		} else {
			sum.Duplicates++
		}
	}

	s.log.WithFields(logrus.Fields{
		"inserted":   sum.Inserted,
		"duplicates": sum.Duplicates,
		"skipped":    sum.Skipped,
	}).Info("booking import finished")
	return sum, nil
}

func (s *BookingService) Get(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return s.repo.Get(ctx, id)
}

// Search finds bookings by free text over name, code, ticket and reference,
// optionally restricted to one travel day.
func (s *BookingService) Search(ctx context.Context, query, travelDate string, limit int) ([]models.Booking, error) {
	q := repository.BookingSearch{Query: strings.TrimSpace(query), Limit: limit}
	if strings.TrimSpace(travelDate) != "" {
		d, err := parseTravelDate(travelDate)
		if err != nil {
			return nil, apperr.Validation(err.Error())
		}
		q.TravelDate = &d
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	out, err := s.repo.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Booking{}
	}
	return out, nil
}
