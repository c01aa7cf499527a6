package matching

import (
	"math"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"

	"travel-admin-backend/internal/ledger"
	"travel-admin-backend/internal/models"
)

type Strength string

const (
	Strong   Strength = "strong"
	Moderate Strength = "moderate"
)

type Outcome string

const (
	Pass Outcome = "pass"
	Near Outcome = "near"
	Fail Outcome = "fail"
	// Absent means one side had no value to compare.
	Absent Outcome = "absent"
)

const (
	SignalTicketNumber     = "ticket_number"
	SignalAirlineReference = "airline_reference"
	SignalPassengerName    = "passenger_name"
	SignalRoute            = "route"
	SignalTravelDate       = "travel_date"
)

// Signal is the outcome of comparing one field of a ledger record with a booking.
type Signal struct {
	Name     string   `json:"name"`
	Strength Strength `json:"strength"`
	Outcome  Outcome  `json:"outcome"`
	// Similarity is set for the passenger name signal only.
	Similarity float64 `json:"similarity,omitempty"`
	// StrongNegative marks evidence that rules the booking out.
	StrongNegative bool `json:"strong_negative,omitempty"`
}

// Score is the scorer's verdict for one (record, booking) pair.
type Score struct {
	Classification models.Classification `json:"classification"`
	// BookingID is only set for MATCHED and PARTIAL.
	BookingID *uuid.UUID `json:"booking_id,omitempty"`
	// Compared is the booking the signals were computed against.
	Compared      uuid.UUID `json:"compared_booking_id"`
	Confidence    float64   `json:"confidence"`
	Signals       []Signal  `json:"signals"`
	Contradiction bool      `json:"contradiction"`
}

type ScorerConfig struct {
	NameThreshold float64
	// NameNearMargin is how far below NameThreshold still counts as near.
	NameNearMargin    float64
	DateToleranceDays int
}

func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{NameThreshold: 0.85, NameNearMargin: 0.15, DateToleranceDays: 1}
}

// signal weights for the confidence figure
const (
	weightStrong       = 40
	weightModerate     = 20
	weightNear         = 10
	penaltyNegative    = 50
	maxConfidenceScore = 100
)

// Scorer is pure: the same record and booking always produce the same Score.
type Scorer struct {
	cfg ScorerConfig
}

func NewScorer(cfg ScorerConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

func (s *Scorer) Score(rec ledger.Record, b models.Booking) Score {
	signals := []Signal{
		identifierSignal(SignalTicketNumber, rec.Get(ledger.FieldTicketNumber), b.TicketNumber),
		identifierSignal(SignalAirlineReference, rec.Get(ledger.FieldAirlineReference), b.AirlineReference),
		s.nameSignal(rec.Get(ledger.FieldPassengerName), b.PassengerName),
		routeSignal(rec.Get(ledger.FieldRoute), b.Route),
		s.dateSignal(rec.TravelDate, b.TravelDate),
	}

	var (
		strongPass     bool
		moderatePasses int
		contradiction  bool
		confidence     float64
	)
	for _, sig := range signals {
		if sig.StrongNegative {
			contradiction = true
		}
		switch sig.Outcome {
		case Pass:
			if sig.Strength == Strong {
				strongPass = true
				confidence += weightStrong
			} else {
				moderatePasses++
				confidence += weightModerate
			}
		case Near:
			confidence += weightNear
		}
	}
	confidence = math.Min(confidence, maxConfidenceScore)
	if contradiction {
		confidence = math.Max(confidence-penaltyNegative, 0)
	}

	sc := Score{Compared: b.ID, Confidence: confidence, Signals: signals, Contradiction: contradiction}
	switch {
	case contradiction:
		sc.Classification = models.ClassUnmatched
	case strongPass:
		sc.Classification = models.ClassMatched
	case moderatePasses >= 2:
		sc.Classification = models.ClassPartial
	default:
		sc.Classification = models.ClassUnmatched
	}
	if sc.Classification != models.ClassUnmatched {
		id := b.ID
		sc.BookingID = &id
	}
	return sc
}

// Best scores candidates in order and stops at the first MATCHED. Without a
// MATCHED it returns the highest PARTIAL, the earliest one on ties. When
// nothing qualifies the closest UNMATCHED score is returned for its signals.
// ok is false only for an empty candidate list.
func (s *Scorer) Best(rec ledger.Record, candidates []models.Booking) (best Score, ok bool) {
	var partial, closest *Score
	for _, b := range candidates {
		sc := s.Score(rec, b)
		switch sc.Classification {
		case models.ClassMatched:
			return sc, true
		case models.ClassPartial:
			if partial == nil || sc.Confidence > partial.Confidence {
				partial = &sc
			}
		default:
			if closest == nil || sc.Confidence > closest.Confidence {
				closest = &sc
			}
		}
	}
	if partial != nil {
		return *partial, true
	}
	if closest != nil {
		return *closest, true
	}
	return Score{Classification: models.ClassUnmatched}, false
}

func identifierSignal(name, ledgerValue, bookingValue string) Signal {
	sig := Signal{Name: name, Strength: Strong, Outcome: Absent}
	a, b := normalizeIdentifier(ledgerValue), normalizeIdentifier(bookingValue)
	if a == "" || b == "" {
		return sig
	}
	if a == b {
		sig.Outcome = Pass
	} else {
		sig.Outcome = Fail
	}
	return sig
}

func (s *Scorer) nameSignal(ledgerName, bookingName string) Signal {
	sig := Signal{Name: SignalPassengerName, Strength: Moderate, Outcome: Absent}
	a, b := normalizeName(ledgerName), normalizeName(bookingName)
	if a == "" || b == "" {
		return sig
	}
	sig.Similarity = nameSimilarity(a, b)
	switch {
	case sig.Similarity >= s.cfg.NameThreshold:
		sig.Outcome = Pass
	case sig.Similarity >= s.cfg.NameThreshold-s.cfg.NameNearMargin:
		sig.Outcome = Near
	default:
		sig.Outcome = Fail
	}
	return sig
}

// nameSimilarity is 1 - levenshtein/maxLen over runes, rounded to 4 places.
func nameSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	d := levenshtein.ComputeDistance(a, b)
	sim := 1 - float64(d)/float64(maxLen)
	return math.Round(sim*10000) / 10000
}

func routeSignal(ledgerRoute, bookingRoute string) Signal {
	sig := Signal{Name: SignalRoute, Strength: Moderate, Outcome: Absent}
	a, b := routeTokens(ledgerRoute), routeTokens(bookingRoute)
	if len(a) == 0 || len(b) == 0 {
		return sig
	}
	switch {
	case equalTokens(a, b):
		sig.Outcome = Pass
	case equalTokens(a, reversed(b)):
		sig.Outcome = Near
	default:
		sig.Outcome = Fail
	}
	return sig
}

func (s *Scorer) dateSignal(ledgerDate *time.Time, bookingDate time.Time) Signal {
	sig := Signal{Name: SignalTravelDate, Strength: Moderate, Outcome: Absent}
	if ledgerDate == nil || bookingDate.IsZero() {
		return sig
	}
	days := dayDiff(*ledgerDate, bookingDate)
	switch {
	case days == 0:
		sig.Outcome = Pass
	case days <= s.cfg.DateToleranceDays:
		sig.Outcome = Near
	default:
		sig.Outcome = Fail
		sig.StrongNegative = true
	}
	return sig
}

// dayDiff is the absolute difference in calendar days, both sides taken in UTC.
func dayDiff(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bu := b.UTC()
	db := time.Date(bu.Year(), bu.Month(), bu.Day(), 0, 0, 0, 0, time.UTC)
	d := int(da.Sub(db).Hours() / 24)
	if d < 0 {
		d = -d
	}
	return d
}

func equalTokens(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func reversed(s []string) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}
