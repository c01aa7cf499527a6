package reconciliation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"travel-admin-backend/internal/apperr"
	"travel-admin-backend/internal/ledger"
	"travel-admin-backend/internal/models"
	"travel-admin-backend/internal/repository"
	"travel-admin-backend/internal/worker"
)

// Upload is one ledger file submitted for reconciliation.
type Upload struct {
	Filename string
	// Kind is inferred from Filename when empty.
	Kind        models.SourceKind
	Data        []byte
	Mapping     ledger.Mapping
	SubmittedBy string
}

func (u *Upload) validate() error {
	if strings.TrimSpace(u.Filename) == "" {
		u.Filename = "ledger"
	}
	if u.Kind == "" {
		kind, ok := ledger.SourceKindFromFilename(u.Filename)
		if !ok {
			return apperr.Validation("cannot infer file kind from " + u.Filename + "; pass kind=delimited or kind=spreadsheet")
		}
		u.Kind = kind
	}
	if u.Kind != models.SourceDelimited && u.Kind != models.SourceSpreadsheet {
		return apperr.Validation("unsupported file kind " + string(u.Kind))
	}
	return u.Mapping.Validate()
}

// Submit creates the job, checks the header synchronously and queues the
// row processing on the worker pool. When the header check fails the job is
// returned already FAILED together with the error.
func (s *ReconciliationService) Submit(ctx context.Context, u Upload) (*models.ReconciliationJob, error) {
	job, reader, err := s.start(ctx, u)
	if err != nil {
		return job, err
	}

	if s.pool == nil {
		_ = reader.Close()
		return job, s.failJob(ctx, job, apperr.Unavailable("no worker pool configured", nil))
	}
	running := *job
	err = s.pool.Submit(worker.Task{
		Name: "reconcile " + job.ID.String(),
		Run: func(ctx context.Context) {
			_ = s.Run(ctx, &running, reader)
		},
	})
	if err != nil {
		_ = reader.Close()
		return job, s.failJob(ctx, job, apperr.Unavailable("reconciliation queue is full, retry later", err))
	}

	s.log.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"filename": job.Filename,
		"kind":     job.SourceKind,
	}).Info("reconciliation job queued")
	return job, nil
}

// Reconcile runs a job to completion on the calling goroutine.
func (s *ReconciliationService) Reconcile(ctx context.Context, u Upload) (*models.ReconciliationJob, error) {
	job, reader, err := s.start(ctx, u)
	if err != nil {
		return job, err
	}
	if err := s.Run(ctx, job, reader); err != nil {
		return job, err
	}
	return s.jobs.Get(ctx, job.ID)
}

func (s *ReconciliationService) start(ctx context.Context, u Upload) (*models.ReconciliationJob, ledger.Reader, error) {
	if err := u.validate(); err != nil {
		return nil, nil, err
	}

	now := s.now()
	job := &models.ReconciliationJob{
		ID:          uuid.New(),
		Filename:    u.Filename,
		SourceKind:  u.Kind,
		Status:      models.JobProcessing,
		SubmittedBy: u.SubmittedBy,
		StartedAt:   &now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, nil, err
	}

	reader, err := ledger.Open(u.Data, u.Kind, u.Mapping)
	if err != nil {
		return job, nil, s.failJob(ctx, job, err)
	}
	return job, reader, nil
}

// Run processes every record of reader in file order and leaves the job
// COMPLETED or FAILED. Row-level problems become UNMATCHED results; file or
// storage errors fail the job and keep what was already written.
func (s *ReconciliationService) Run(ctx context.Context, job *models.ReconciliationJob, reader ledger.Reader) (err error) {
	log := s.log.WithField("job_id", job.ID)
	defer reader.Close()
	defer func() {
		if r := recover(); r != nil {
			err = s.failJob(ctx, job, &apperr.Error{
				Kind:    apperr.KindInternal,
				Message: fmt.Sprintf("job aborted: %v", r),
			})
		}
	}()

	var counters models.JobCounters
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return s.failJob(ctx, job, err)
		}

		res, err := s.reconcileRecord(ctx, job.ID, rec)
		if err != nil {
			return s.failJob(ctx, job, err)
		}
		if err := s.results.Upsert(ctx, res); err != nil {
			return s.failJob(ctx, job, err)
		}
		counters.Add(res.Classification)

		if counters.Total%s.cfg.ProgressInterval == 0 {
			if err := s.jobs.UpdateProgress(ctx, job.ID, counters.Total, counters); err != nil {
				if apperr.IsConflict(err) {
					return s.abandon(ctx, job, err)
				}
				return s.failJob(ctx, job, err)
			}
			log.WithField("processed", counters.Total).Debug("reconciliation progress")
		}
	}

	final, err := s.results.CountByClassification(ctx, job.ID)
	if err != nil {
		return s.failJob(ctx, job, err)
	}
	completedAt := s.now()
	if err := s.jobs.Complete(ctx, job.ID, final, completedAt); err != nil {
		if apperr.IsConflict(err) {
			return s.abandon(ctx, job, err)
		}
		return s.failJob(ctx, job, err)
	}
	applyCounters(job, final)
	job.Status = models.JobCompleted
	job.CompletedAt = &completedAt

	log.WithFields(logrus.Fields{
		"total":     final.Total,
		"matched":   final.Matched,
		"partial":   final.Partial,
		"unmatched": final.Unmatched,
	}).Info("reconciliation job completed")
	return nil
}

// matchDetails is stored as the result's match_details column.
type matchDetails struct {
	ComparedBookingID *uuid.UUID      `json:"compared_booking_id,omitempty"`
	Signals           json.RawMessage `json:"signals,omitempty"`
	Contradiction     bool            `json:"contradiction"`
	CandidatesFound   int             `json:"candidates_found"`
}

func (s *ReconciliationService) reconcileRecord(ctx context.Context, jobID uuid.UUID, rec ledger.Record) (*models.ReconciliationResult, error) {
	res := &models.ReconciliationResult{
		ID:             models.ResultID(jobID, rec.Row),
		JobID:          jobID,
		RowNumber:      rec.Row,
		LedgerFields:   mustJSON(rec.Fields),
		Classification: models.ClassUnmatched,
		ReviewState:    models.ReviewPending,
	}
	if len(rec.Flags) > 0 {
		res.ParseFlags = mustJSON(rec.Flags)
	}

	var notes []string
	for _, fl := range rec.Flags {
		notes = append(notes, fmt.Sprintf("%s %q kept as text: %s", fl.Field, fl.Value, fl.Reason))
	}

	cands, err := s.lookup.Find(ctx, rec)
	if err != nil {
		if apperr.IsRowProcessing(err) {
			res.Diagnostic = strings.Join(append([]string{err.Error()}, notes...), "; ")
			return res, nil
		}
		return nil, err
	}
	res.CandidateCount = len(cands.Bookings)
	res.CandidateLimited = cands.Limited

	if cands.Limited {
		notes = append([]string{fmt.Sprintf("candidate list limited to %d of %d bookings", len(cands.Bookings), cands.Found)}, notes...)
	}

	details := matchDetails{CandidatesFound: cands.Found}
	if score, ok := s.scorer.Best(rec, cands.Bookings); ok {
		res.Classification = score.Classification
		res.Confidence = score.Confidence
		res.MatchedBookingID = score.BookingID
		compared := score.Compared
		details.ComparedBookingID = &compared
		details.Signals = json.RawMessage(mustJSON(score.Signals))
		details.Contradiction = score.Contradiction
	} else {
		notes = append(notes, "no booking within the date window shares a route, passenger name, ticket number or airline reference")
	}
	res.MatchDetails = mustJSON(details)
	res.Diagnostic = strings.Join(notes, "; ")
	return res, nil
}

// failJob records err on the job. It returns err so callers can propagate it.
func (s *ReconciliationService) failJob(ctx context.Context, job *models.ReconciliationJob, err error) error {
	ctx = context.WithoutCancel(ctx)
	kind := apperr.KindOf(err)
	log := s.log.WithFields(logrus.Fields{"job_id": job.ID, "error_kind": kind})
	if kind == apperr.KindPersistence || kind == apperr.KindInternal {
		log.Errorf("reconciliation job failed: %+v", err)
	} else {
		log.WithError(err).Warn("reconciliation job failed")
	}

	counters, cerr := s.results.CountByClassification(ctx, job.ID)
	if cerr != nil {
		log.WithError(cerr).Error("count results of failed job")
	}
	at := s.now()
	if ferr := s.jobs.Fail(ctx, job.ID, string(kind), err.Error(), counters, at); ferr != nil {
		if apperr.IsConflict(ferr) {
			log.WithError(ferr).Warn("job already terminal, keeping its stored state")
			s.reload(ctx, job)
			return err
		}
		log.Errorf("mark job failed: %+v", ferr)
	}
	applyCounters(job, counters)
	job.Status = models.JobFailed
	job.ErrorKind = string(kind)
	job.ErrorMessage = err.Error()
	job.CompletedAt = &at
	return err
}

// abandon stops a run whose job was already moved to a terminal state by
// someone else. The stored state wins.
func (s *ReconciliationService) abandon(ctx context.Context, job *models.ReconciliationJob, err error) error {
	s.log.WithField("job_id", job.ID).WithError(err).Warn("reconciliation run abandoned")
	s.reload(context.WithoutCancel(ctx), job)
	return err
}

func (s *ReconciliationService) reload(ctx context.Context, job *models.ReconciliationJob) {
	stored, err := s.jobs.Get(ctx, job.ID)
	if err != nil {
		s.log.WithField("job_id", job.ID).WithError(err).Error("reload job")
		return
	}
	*job = *stored
}

func applyCounters(job *models.ReconciliationJob, c models.JobCounters) {
	job.TotalRecords = c.Total
	job.ProcessedCount = c.Total
	job.MatchedCount = c.Matched
	job.PartialCount = c.Partial
	job.UnmatchedCount = c.Unmatched
}

// RecoverInterrupted fails jobs left PROCESSING by a previous process.
func (s *ReconciliationService) RecoverInterrupted(ctx context.Context) (int64, error) {
	n, err := s.jobs.FailProcessing(ctx, string(apperr.KindUnavailable), "interrupted by service restart", s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.WithField("jobs", n).Warn("marked interrupted reconciliation jobs as failed")
	}
	return n, nil
}

func (s *ReconciliationService) GetJob(ctx context.Context, id uuid.UUID) (*models.ReconciliationJob, error) {
	return s.jobs.Get(ctx, id)
}

type JobQuery struct {
	Status   models.JobStatus
	Page     int
	PageSize int
}

type JobPage struct {
	Items    []models.ReconciliationJob `json:"items"`
	Total    int64                      `json:"total"`
	Page     int                        `json:"page"`
	PageSize int                        `json:"page_size"`
}

func (s *ReconciliationService) ListJobs(ctx context.Context, q JobQuery) (JobPage, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 || q.PageSize > 100 {
		q.PageSize = 20
	}
	items, total, err := s.jobs.List(ctx, repository.JobFilter{Status: q.Status, Page: q.Page, PageSize: q.PageSize})
	if err != nil {
		return JobPage{}, err
	}
	return JobPage{Items: items, Total: total, Page: q.Page, PageSize: q.PageSize}, nil
}

type ResultQuery struct {
	Classification models.Classification
	ReviewState    models.ReviewState
	Cursor         int
	Limit          int
}

type ResultPage struct {
	Items      []models.ReconciliationResult `json:"items"`
	NextCursor string                        `json:"next_cursor"`
	HasMore    bool                          `json:"has_more"`
}

func (s *ReconciliationService) ListResults(ctx context.Context, jobID uuid.UUID, q ResultQuery) (ResultPage, error) {
	if _, err := s.jobs.Get(ctx, jobID); err != nil {
		return ResultPage{}, err
	}
	if q.Limit < 1 || q.Limit > 500 {
		q.Limit = 50
	}
	items, next, more, err := s.results.ListByJob(ctx, jobID, repository.ResultFilter{
		Classification: q.Classification,
		ReviewState:    q.ReviewState,
		Cursor:         q.Cursor,
		Limit:          q.Limit,
	})
	if err != nil {
		return ResultPage{}, err
	}
	if items == nil {
		items = []models.ReconciliationResult{}
	}
	return ResultPage{Items: items, NextCursor: next, HasMore: more}, nil
}

func (s *ReconciliationService) JobStats(ctx context.Context, jobID uuid.UUID) (repository.ResultStats, error) {
	if _, err := s.jobs.Get(ctx, jobID); err != nil {
		return repository.ResultStats{}, err
	}
	return s.results.Stats(ctx, jobID)
}

func mustJSON(v interface{}) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return datatypes.JSON(b)
}
