package reconciliation

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"travel-admin-backend/internal/apperr"
	"travel-admin-backend/internal/ledger"
	"travel-admin-backend/internal/models"
	"travel-admin-backend/internal/repository"
)

type ApproveInput struct {
	// BookingID overrides the booking proposed by the scorer.
	BookingID       *uuid.UUID
	Notes           string
	ExpectedVersion *int
}

type RejectInput struct {
	Notes           string
	ExpectedVersion *int
}

// txRepos are the repositories bound to one review transaction.
type txRepos struct {
	results  *repository.ResultRepository
	bookings *repository.BookingRepository
	audits   *repository.AuditRepository
}

func (s *ReconciliationService) inTx(ctx context.Context, fn func(r txRepos) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(txRepos{
			results:  s.results.WithTx(tx),
			bookings: s.bookings.WithTx(tx),
			audits:   s.audits.WithTx(tx),
		})
	})
}

func checkVersion(res *models.ReconciliationResult, expected *int) error {
	if expected != nil && *expected != res.Version {
		return apperr.Conflict("result " + res.ID.String() + " was modified by another reviewer")
	}
	return nil
}

func sameBooking(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// keepNotes treats empty notes as "leave the current notes".
func keepNotes(current, requested string) string {
	if requested == "" {
		return current
	}
	return requested
}

// Approve confirms a result. When a booking is associated its ticket number,
// airline reference and validation fields are written in the same
// transaction. Repeating an identical approval is a no-op; changing a decided
// result needs the admin role.
func (s *ReconciliationService) Approve(ctx context.Context, resultID uuid.UUID, actor Actor, in ApproveInput) (*models.ReconciliationResult, error) {
	var out *models.ReconciliationResult
	err := s.inTx(ctx, func(r txRepos) error {
		res, err := r.results.Get(ctx, resultID)
		if err != nil {
			return err
		}
		if err := checkVersion(res, in.ExpectedVersion); err != nil {
			return err
		}

		target := res.MatchedBookingID
		if in.BookingID != nil {
			id := *in.BookingID
			target = &id
		}
		if target == nil && res.CandidateCount == 0 {
			return apperr.Validation("result has no booking and no candidates; approve with a booking_id")
		}

		var booking *models.Booking
		if target != nil {
			booking, err = r.bookings.Get(ctx, *target)
			if apperr.IsNotFound(err) {
				return apperr.Validation("booking " + target.String() + " does not exist")
			}
			if err != nil {
				return err
			}
		}

		notes := keepNotes(res.Notes, in.Notes)
		if res.ReviewState == models.ReviewApproved && sameBooking(res.MatchedBookingID, target) && res.Notes == notes {
			out = res
			return nil
		}
		if res.ReviewState != models.ReviewPending && !s.isAdmin(actor) {
			return apperr.Forbidden("result is already " + string(res.ReviewState) + "; only an admin can change the decision")
		}

		now := s.now()
		reviewer := actor.ID
		if _, err := r.results.SaveReview(ctx, res.ID, repository.ReviewUpdate{
			State:      models.ReviewApproved,
			BookingID:  target,
			ReviewedBy: &reviewer,
			ReviewedAt: &now,
			Notes:      notes,
		}, in.ExpectedVersion); err != nil {
			return err
		}

		if booking != nil {
			v := ledgerIdentifiers(res)
			v.ValidatedBy = actor.ID
			v.ValidatedAt = now
			if !alreadyValidated(booking, v) {
				if err := r.bookings.ApplyValidation(ctx, booking.ID, v); err != nil {
					return err
				}
			}
		}

		if err := r.audits.Create(ctx, &models.ReviewAuditLog{
			ResultID:        res.ID,
			Action:          models.ActionApprove,
			PreviousState:   res.ReviewState,
			NewState:        models.ReviewApproved,
			PreviousBooking: res.MatchedBookingID,
			NewBooking:      target,
			PerformedBy:     actor.ID,
			Reason:          notes,
		}); err != nil {
			return err
		}

		out, err = r.results.Get(ctx, res.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"result_id": resultID,
		"reviewer":  actor.ID,
	}).Info("reconciliation result approved")
	return out, nil
}

// ledgerIdentifiers reads the ticket number and airline reference the ledger
// row carried.
func ledgerIdentifiers(res *models.ReconciliationResult) repository.Validation {
	var fields map[ledger.Field]string
	if len(res.LedgerFields) > 0 {
		_ = json.Unmarshal(res.LedgerFields, &fields)
	}
	return repository.Validation{
		TicketNumber:     fields[ledger.FieldTicketNumber],
		AirlineReference: fields[ledger.FieldAirlineReference],
	}
}

func alreadyValidated(b *models.Booking, v repository.Validation) bool {
	if !b.Validated {
		return false
	}
	if v.TicketNumber != "" && b.TicketNumber != v.TicketNumber {
		return false
	}
	if v.AirlineReference != "" && b.AirlineReference != v.AirlineReference {
		return false
	}
	return true
}

// Reject records a negative decision. The booking is never touched.
func (s *ReconciliationService) Reject(ctx context.Context, resultID uuid.UUID, actor Actor, in RejectInput) (*models.ReconciliationResult, error) {
	var out *models.ReconciliationResult
	err := s.inTx(ctx, func(r txRepos) error {
		res, err := r.results.Get(ctx, resultID)
		if err != nil {
			return err
		}
		if err := checkVersion(res, in.ExpectedVersion); err != nil {
			return err
		}

		notes := keepNotes(res.Notes, in.Notes)
		if res.ReviewState == models.ReviewRejected && res.Notes == notes {
			out = res
			return nil
		}
		if res.ReviewState != models.ReviewPending && !s.isAdmin(actor) {
			return apperr.Forbidden("result is already " + string(res.ReviewState) + "; only an admin can change the decision")
		}

		now := s.now()
		reviewer := actor.ID
		if _, err := r.results.SaveReview(ctx, res.ID, repository.ReviewUpdate{
			State:      models.ReviewRejected,
			BookingID:  res.MatchedBookingID,
			ReviewedBy: &reviewer,
			ReviewedAt: &now,
			Notes:      notes,
		}, in.ExpectedVersion); err != nil {
			return err
		}

		if err := r.audits.Create(ctx, &models.ReviewAuditLog{
			ResultID:        res.ID,
			Action:          models.ActionReject,
			PreviousState:   res.ReviewState,
			NewState:        models.ReviewRejected,
			PreviousBooking: res.MatchedBookingID,
			NewBooking:      res.MatchedBookingID,
			PerformedBy:     actor.ID,
			Reason:          notes,
		}); err != nil {
			return err
		}

		out, err = r.results.Get(ctx, res.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"result_id": resultID,
		"reviewer":  actor.ID,
	}).Info("reconciliation result rejected")
	return out, nil
}

// Reopen puts a decided result back to PENDING. Admin only. Booking
// validation written by an earlier approval stays in place.
func (s *ReconciliationService) Reopen(ctx context.Context, resultID uuid.UUID, actor Actor, notes string) (*models.ReconciliationResult, error) {
	if !s.isAdmin(actor) {
		return nil, apperr.Forbidden("only an admin can reopen a result")
	}
	var out *models.ReconciliationResult
	err := s.inTx(ctx, func(r txRepos) error {
		res, err := r.results.Get(ctx, resultID)
		if err != nil {
			return err
		}
		if res.ReviewState == models.ReviewPending {
			out = res
			return nil
		}

		if _, err := r.results.SaveReview(ctx, res.ID, repository.ReviewUpdate{
			State:     models.ReviewPending,
			BookingID: res.MatchedBookingID,
			Notes:     keepNotes(res.Notes, notes),
		}, nil); err != nil {
			return err
		}

		if err := r.audits.Create(ctx, &models.ReviewAuditLog{
			ResultID:        res.ID,
			Action:          models.ActionReopen,
			PreviousState:   res.ReviewState,
			NewState:        models.ReviewPending,
			PreviousBooking: res.MatchedBookingID,
			NewBooking:      res.MatchedBookingID,
			PerformedBy:     actor.ID,
			Reason:          notes,
		}); err != nil {
			return err
		}

		out, err = r.results.Get(ctx, res.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BulkApproveMatched approves every PENDING MATCHED result of a completed
// job and returns how many were approved.
func (s *ReconciliationService) BulkApproveMatched(ctx context.Context, jobID uuid.UUID, actor Actor) (int, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return 0, err
	}
	if job.Status != models.JobCompleted {
		return 0, apperr.Validation("job " + jobID.String() + " is " + string(job.Status) + "; bulk approve needs a completed job")
	}

	pending, err := s.results.PendingMatched(ctx, jobID)
	if err != nil {
		return 0, err
	}
	approved := 0
	for _, res := range pending {
		if _, err := s.Approve(ctx, res.ID, actor, ApproveInput{}); err != nil {
			return approved, err
		}
		approved++
	}
	s.log.WithFields(logrus.Fields{
		"job_id":   jobID,
		"approved": approved,
		"reviewer": actor.ID,
	}).Info("bulk approve completed")
	return approved, nil
}

func (s *ReconciliationService) GetResult(ctx context.Context, id uuid.UUID) (*models.ReconciliationResult, error) {
	return s.results.Get(ctx, id)
}

// AuditTrail returns every review transition of a result, oldest first.
func (s *ReconciliationService) AuditTrail(ctx context.Context, resultID uuid.UUID) ([]models.ReviewAuditLog, error) {
	if _, err := s.results.Get(ctx, resultID); err != nil {
		return nil, err
	}
	entries, err := s.audits.ListByResult(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.ReviewAuditLog{}
	}
	return entries, nil
}
