package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"travel-admin-backend/internal/apperr"
	"travel-admin-backend/internal/models"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *models.ReconciliationJob) error {
	return wrap("create job", "job", job.ID.String(), r.db.WithContext(ctx).Create(job).Error)
}

// Get fetches a single job by ID
func (r *JobRepository) Get(ctx context.Context, id uuid.UUID) (*models.ReconciliationJob, error) {
	var job models.ReconciliationJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, wrap("get job", "job", id.String(), err)
	}
	return &job, nil
}

type JobFilter struct {
	Status   models.JobStatus
	Page     int
	PageSize int
}

// List returns one page of jobs, newest first, and the total matching count.
func (r *JobRepository) List(ctx context.Context, f JobFilter) ([]models.ReconciliationJob, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.ReconciliationJob{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, wrap("count jobs", "job", "", err)
	}

	var jobs []models.ReconciliationJob
	err := q.Order("created_at DESC").Order("id ASC").
		Offset((f.Page - 1) * f.PageSize).
		Limit(f.PageSize).
		Find(&jobs).Error
	if err != nil {
		return nil, 0, wrap("list jobs", "job", "", err)
	}
	return jobs, total, nil
}

// notProcessing is returned when a job update finds the job already terminal
// (or gone).
func notProcessing(id uuid.UUID) error {
	return apperr.Conflict("job " + id.String() + " is no longer processing")
}

// stillProcessing applies updates only while the job is PROCESSING.
func (r *JobRepository) stillProcessing(ctx context.Context, op string, id uuid.UUID, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.ReconciliationJob{}).
		Where("id = ? AND status = ?", id, models.JobProcessing).
		Updates(updates)
	if res.Error != nil {
		return wrap(op, "job", id.String(), res.Error)
	}
	if res.RowsAffected == 0 {
		return notProcessing(id)
	}
	return nil
}

// UpdateProgress stores the running counters of a job that is still processing.
func (r *JobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, processed int, c models.JobCounters) error {
	return r.stillProcessing(ctx, "update job progress", id, map[string]interface{}{
		"processed_count": processed,
		"matched_count":   c.Matched,
		"partial_count":   c.Partial,
		"unmatched_count": c.Unmatched,
	})
}

// Complete marks a PROCESSING job COMPLETED with counters taken from its
// persisted results. A job that is already terminal yields a Conflict.
func (r *JobRepository) Complete(ctx context.Context, id uuid.UUID, c models.JobCounters, at time.Time) error {
	return r.stillProcessing(ctx, "complete job", id, map[string]interface{}{
		"status":          models.JobCompleted,
		"total_records":   c.Total,
		"processed_count": c.Total,
		"matched_count":   c.Matched,
		"partial_count":   c.Partial,
		"unmatched_count": c.Unmatched,
		"completed_at":    at,
	})
}

// Fail marks a PROCESSING job FAILED. Counters reflect the results written so
// far. A job that is already terminal yields a Conflict.
func (r *JobRepository) Fail(ctx context.Context, id uuid.UUID, kind, message string, c models.JobCounters, at time.Time) error {
	return r.stillProcessing(ctx, "fail job", id, map[string]interface{}{
		"status":          models.JobFailed,
		"error_kind":      kind,
		"error_message":   message,
		"total_records":   c.Total,
		"processed_count": c.Total,
		"matched_count":   c.Matched,
		"partial_count":   c.Partial,
		"unmatched_count": c.Unmatched,
		"completed_at":    at,
	})
}

// FailProcessing moves every job still PROCESSING to FAILED and returns how
// many were touched.
func (r *JobRepository) FailProcessing(ctx context.Context, kind, message string, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.ReconciliationJob{}).
		Where("status = ?", models.JobProcessing).
		Updates(map[string]interface{}{
			"status":        models.JobFailed,
			"error_kind":    kind,
			"error_message": message,
			"completed_at":  at,
		})
	return res.RowsAffected, wrap("fail interrupted jobs", "job", "", res.Error)
}
