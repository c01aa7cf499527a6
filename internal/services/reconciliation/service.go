package reconciliation

import (
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"travel-admin-backend/internal/config"
	"travel-admin-backend/internal/repository"
	"travel-admin-backend/internal/services/matching"
	"travel-admin-backend/internal/worker"
)

// Actor is the authenticated caller of a review operation.
type Actor struct {
	ID   string
	Role string
}

type Config struct {
	ProgressInterval int
	AdminRole        string
	Lookup           matching.LookupConfig
	Scorer           matching.ScorerConfig
}

// ConfigFrom derives the service configuration from the application config.
func ConfigFrom(rc config.ReconciliationConfig, auth config.AuthConfig) Config {
	return Config{
		ProgressInterval: rc.ProgressInterval,
		AdminRole:        auth.AdminRole,
		Lookup: matching.LookupConfig{
			DateToleranceDays: rc.DateToleranceDays,
			Ceiling:           rc.CandidateCeiling,
		},
		Scorer: matching.ScorerConfig{
			NameThreshold:     rc.NameSimilarityThreshold,
			NameNearMargin:    0.15,
			DateToleranceDays: rc.DateToleranceDays,
		},
	}
}

type ReconciliationService struct {
	db       *gorm.DB
	jobs     *repository.JobRepository
	results  *repository.ResultRepository
	bookings *repository.BookingRepository
	audits   *repository.AuditRepository
	lookup   *matching.Lookup
	scorer   *matching.Scorer
	pool     *worker.Pool
	log      logrus.FieldLogger
	cfg      Config
	now      func() time.Time
}

type Option func(*ReconciliationService)

// WithClock replaces time.Now for review and job timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *ReconciliationService) { s.now = now }
}

// NewReconciliationService wires the service. pool may be nil when jobs are
// only run synchronously (see Reconcile).
func NewReconciliationService(db *gorm.DB, pool *worker.Pool, cfg Config, log logrus.FieldLogger, opts ...Option) *ReconciliationService {
	if cfg.ProgressInterval < 1 {
		cfg.ProgressInterval = 100
	}
	bookings := repository.NewBookingRepository(db)
	s := &ReconciliationService{
		db:       db,
		jobs:     repository.NewJobRepository(db),
		results:  repository.NewResultRepository(db),
		bookings: bookings,
		audits:   repository.NewAuditRepository(db),
		lookup:   matching.NewLookup(bookings, cfg.Lookup),
		scorer:   matching.NewScorer(cfg.Scorer),
		pool:     pool,
		log:      log,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *ReconciliationService) isAdmin(a Actor) bool {
	return a.Role != "" && a.Role == s.cfg.AdminRole
}
