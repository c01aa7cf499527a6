package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"travel-admin-backend/internal/apperr"
	"travel-admin-backend/internal/models"
)

// classificationColumns are rewritten when a row is upserted again. Review
// columns are left alone so a rewrite never undoes a decision.
var classificationColumns = []string{
	"ledger_fields",
	"parse_flags",
	"classification",
	"confidence",
	"matched_booking_id",
	"candidate_count",
	"candidate_limited",
	"match_details",
	"diagnostic",
	"updated_at",
}

type ResultRepository struct {
	db *gorm.DB
}

func NewResultRepository(db *gorm.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *ResultRepository) WithTx(tx *gorm.DB) *ResultRepository {
	return &ResultRepository{db: tx}
}

// Upsert writes one result keyed by its id.
func (r *ResultRepository) Upsert(ctx context.Context, res *models.ReconciliationResult) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(classificationColumns),
	}).Create(res).Error
	return wrap("upsert result", "result", res.ID.String(), err)
}

func (r *ResultRepository) Get(ctx context.Context, id uuid.UUID) (*models.ReconciliationResult, error) {
	var res models.ReconciliationResult
	if err := r.db.WithContext(ctx).First(&res, "id = ?", id).Error; err != nil {
		return nil, wrap("get result", "result", id.String(), err)
	}
	return &res, nil
}

type ResultFilter struct {
	Classification models.Classification
	ReviewState    models.ReviewState
	// Cursor is the last row number already seen.
	Cursor int
	Limit  int
}

// ListByJob returns results in row order after the cursor. nextCursor is
// empty when there is nothing more.
func (r *ResultRepository) ListByJob(ctx context.Context, jobID uuid.UUID, f ResultFilter) ([]models.ReconciliationResult, string, bool, error) {
	var results []models.ReconciliationResult
	query := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("row_number ASC").
		Limit(f.Limit + 1)

	if f.Classification != "" {
		query = query.Where("classification = ?", f.Classification)
	}
	if f.ReviewState != "" {
		query = query.Where("review_state = ?", f.ReviewState)
	}
	if f.Cursor > 0 {
		query = query.Where("row_number > ?", f.Cursor)
	}

	if err := query.Find(&results).Error; err != nil {
		return nil, "", false, wrap("list results", "result", "", err)
	}

	hasMore := false
	var nextCursor string
	if len(results) > f.Limit {
		hasMore = true
		nextCursor = strconv.Itoa(results[f.Limit-1].RowNumber)
		results = results[:f.Limit]
	}
	return results, nextCursor, hasMore, nil
}

type countRow struct {
	Label string
	Count int64
}

// CountByClassification tallies a job's persisted results.
func (r *ResultRepository) CountByClassification(ctx context.Context, jobID uuid.UUID) (models.JobCounters, error) {
	var rows []countRow
	err := r.db.WithContext(ctx).Model(&models.ReconciliationResult{}).
		Where("job_id = ?", jobID).
		Select("classification AS label, COUNT(*) AS count").
		Group("classification").
		Scan(&rows).Error
	if err != nil {
		return models.JobCounters{}, wrap("count results", "result", "", err)
	}

	var c models.JobCounters
	for _, row := range rows {
		n := int(row.Count)
		c.Total += n
		switch models.Classification(row.Label) {
		case models.ClassMatched:
			c.Matched += n
		case models.ClassPartial:
			c.Partial += n
		default:
			c.Unmatched += n
		}
	}
	return c, nil
}

// ResultStats breaks a job's results down by classification and review state.
type ResultStats struct {
	Total            int64                           `json:"total"`
	ByClassification map[models.Classification]int64 `json:"by_classification"`
	ByReviewState    map[models.ReviewState]int64    `json:"by_review_state"`
}

func (r *ResultRepository) Stats(ctx context.Context, jobID uuid.UUID) (ResultStats, error) {
	stats := ResultStats{
		ByClassification: map[models.Classification]int64{
			models.ClassMatched: 0, models.ClassPartial: 0, models.ClassUnmatched: 0,
		},
		ByReviewState: map[models.ReviewState]int64{
			models.ReviewPending: 0, models.ReviewApproved: 0, models.ReviewRejected: 0,
		},
	}

	var rows []struct {
		Classification string
		ReviewState    string
		Count          int64
	}
	err := r.db.WithContext(ctx).Model(&models.ReconciliationResult{}).
		Where("job_id = ?", jobID).
		Select("classification, review_state, COUNT(*) AS count").
		Group("classification, review_state").
		Scan(&rows).Error
	if err != nil {
		return stats, wrap("result stats", "result", "", err)
	}

	for _, row := range rows {
		stats.Total += row.Count
		stats.ByClassification[models.Classification(row.Classification)] += row.Count
		stats.ByReviewState[models.ReviewState(row.ReviewState)] += row.Count
	}
	return stats, nil
}

// PendingMatched lists a job's MATCHED results still awaiting review.
func (r *ResultRepository) PendingMatched(ctx context.Context, jobID uuid.UUID) ([]models.ReconciliationResult, error) {
	var results []models.ReconciliationResult
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND classification = ? AND review_state = ?", jobID, models.ClassMatched, models.ReviewPending).
		Order("row_number ASC").
		Find(&results).Error
	return results, wrap("list pending matched", "result", "", err)
}

// ReviewUpdate is the review portion of a result.
type ReviewUpdate struct {
	State      models.ReviewState
	BookingID  *uuid.UUID
	ReviewedBy *string
	ReviewedAt *time.Time
	Notes      string
}

// SaveReview writes u and bumps the version. With expectedVersion set, a
// stale version yields a conflict error. The returned version is the new one.
func (r *ResultRepository) SaveReview(ctx context.Context, id uuid.UUID, u ReviewUpdate, expectedVersion *int) (int, error) {
	q := r.db.WithContext(ctx).Model(&models.ReconciliationResult{}).Where("id = ?", id)
	if expectedVersion != nil {
		q = q.Where("version = ?", *expectedVersion)
	}
	res := q.Updates(map[string]interface{}{
		"review_state":       u.State,
		"matched_booking_id": u.BookingID,
		"reviewed_by":        u.ReviewedBy,
		"reviewed_at":        u.ReviewedAt,
		"notes":              u.Notes,
		"version":            gorm.Expr("version + 1"),
	})
	if res.Error != nil {
		return 0, wrap("save review", "result", id.String(), res.Error)
	}
	if res.RowsAffected == 0 {
		if expectedVersion != nil {
			return 0, apperr.Conflict("result " + id.String() + " was modified by another reviewer")
		}
		return 0, apperr.NotFound("result", id.String())
	}

	var versions []int
	err := r.db.WithContext(ctx).Model(&models.ReconciliationResult{}).
		Where("id = ?", id).
		Pluck("version", &versions).Error
	if err != nil {
		return 0, wrap("read result version", "result", id.String(), err)
	}
	if len(versions) == 0 {
		return 0, apperr.NotFound("result", id.String())
	}
	return versions[0], nil
}
