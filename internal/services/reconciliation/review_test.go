package reconciliation

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"travel-admin-backend/internal/apperr"
	"travel-admin-backend/internal/models"
)

// reconciled runs the three row ledger and returns the matched, partial and
// unmatched results in that order.
func reconciled(t *testing.T) (*fixture, *models.ReconciliationJob, []models.ReconciliationResult) {
	t.Helper()
	f := newFixture(t, nil)
	job, err := f.svc.Reconcile(context.Background(), upload(threeRowLedger))
	require.NoError(t, err)
	results := f.results(t, job.ID)
	require.Len(t, results, 3)
	return f, job, results
}

func TestApproveWritesBookingOnce(t *testing.T) {
	f, _, results := reconciled(t)
	ctx := context.Background()
	matched := results[0]

	res, err := f.svc.Approve(ctx, matched.ID, reviewer, ApproveInput{Notes: "ok"})
	require.NoError(t, err)
	require.Equal(t, models.ReviewApproved, res.ReviewState)
	require.Equal(t, "finance-1", *res.ReviewedBy)
	require.True(t, fixedNow.Equal(*res.ReviewedAt))
	require.Equal(t, 2, res.Version)

	b := f.booking(t, f.johnDoe.ID)
	require.True(t, b.Validated)
	require.Equal(t, "finance-1", *b.ValidatedBy)
	require.Equal(t, "157-2401234567", b.TicketNumber)
	require.Equal(t, "ABC123", b.AirlineReference)

	again, err := f.svc.Approve(ctx, matched.ID, Actor{ID: "finance-2", Role: "finance"}, ApproveInput{})
	require.NoError(t, err)
	require.Equal(t, 2, again.Version)
	require.Equal(t, "finance-1", *again.ReviewedBy)

	after := f.booking(t, f.johnDoe.ID)
	require.Equal(t, *b.ValidatedBy, *after.ValidatedBy)
	require.Equal(t, b.TicketNumber, after.TicketNumber)

	trail, err := f.svc.AuditTrail(ctx, matched.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	require.Equal(t, models.ActionApprove, trail[0].Action)
	require.Equal(t, models.ReviewPending, trail[0].PreviousState)
}

func TestRejectNeverTouchesBooking(t *testing.T) {
	f, _, results := reconciled(t)
	ctx := context.Background()
	partial := results[1]

	before := f.booking(t, f.janeRoe.ID)
	res, err := f.svc.Reject(ctx, partial.ID, reviewer, RejectInput{Notes: "different passenger"})
	require.NoError(t, err)
	require.Equal(t, models.ReviewRejected, res.ReviewState)
	require.Equal(t, "different passenger", res.Notes)

	after := f.booking(t, f.janeRoe.ID)
	require.False(t, after.Validated)
	require.Equal(t, before.TicketNumber, after.TicketNumber)
	require.Equal(t, before.AirlineReference, after.AirlineReference)

	again, err := f.svc.Reject(ctx, partial.ID, reviewer, RejectInput{})
	require.NoError(t, err)
	require.Equal(t, res.Version, again.Version)
}

func TestChangingDecisionNeedsAdmin(t *testing.T) {
	f, _, results := reconciled(t)
	ctx := context.Background()
	matched := results[0]

	_, err := f.svc.Approve(ctx, matched.ID, reviewer, ApproveInput{})
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, matched.ID, reviewer, RejectInput{Notes: "changed my mind"})
	require.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	res, err := f.svc.Reject(ctx, matched.ID, admin, RejectInput{Notes: "duplicate ticket"})
	require.NoError(t, err)
	require.Equal(t, models.ReviewRejected, res.ReviewState)
	require.Equal(t, "admin-1", *res.ReviewedBy)
	require.True(t, f.booking(t, f.johnDoe.ID).Validated, "reject keeps the earlier validation")

	_, err = f.svc.Reopen(ctx, matched.ID, reviewer, "")
	require.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	res, err = f.svc.Reopen(ctx, matched.ID, admin, "recheck")
	require.NoError(t, err)
	require.Equal(t, models.ReviewPending, res.ReviewState)
	require.Nil(t, res.ReviewedBy)
	require.Nil(t, res.ReviewedAt)

	trail, err := f.svc.AuditTrail(ctx, matched.ID)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	require.Equal(t, []models.ReviewAction{models.ActionApprove, models.ActionReject, models.ActionReopen},
		[]models.ReviewAction{trail[0].Action, trail[1].Action, trail[2].Action})
}

func TestApproveUnmatchedNeedsOverride(t *testing.T) {
	f, _, results := reconciled(t)
	ctx := context.Background()
	unmatched := results[2]

	_, err := f.svc.Approve(ctx, unmatched.ID, reviewer, ApproveInput{})
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	missing := uuid.New()
	_, err = f.svc.Approve(ctx, unmatched.ID, reviewer, ApproveInput{BookingID: &missing})
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	res, err := f.svc.Approve(ctx, unmatched.ID, reviewer, ApproveInput{BookingID: &f.alan.ID, Notes: "rebooked"})
	require.NoError(t, err)
	require.Equal(t, models.ReviewApproved, res.ReviewState)
	require.Equal(t, f.alan.ID, *res.MatchedBookingID)
	require.Equal(t, models.ClassUnmatched, res.Classification)

	b := f.booking(t, f.alan.ID)
	require.True(t, b.Validated)
	require.Equal(t, "XYZ789", b.AirlineReference)
	require.Equal(t, "1575555555555", b.TicketNumber)
}

func TestReviewErrors(t *testing.T) {
	f, _, results := reconciled(t)
	ctx := context.Background()

	_, err := f.svc.Approve(ctx, uuid.New(), reviewer, ApproveInput{})
	require.True(t, apperr.IsNotFound(err))
	_, err = f.svc.Reject(ctx, uuid.New(), reviewer, RejectInput{})
	require.True(t, apperr.IsNotFound(err))
	_, err = f.svc.AuditTrail(ctx, uuid.New())
	require.True(t, apperr.IsNotFound(err))

	stale := results[0].Version + 1
	_, err = f.svc.Approve(ctx, results[0].ID, reviewer, ApproveInput{ExpectedVersion: &stale})
	require.True(t, apperr.IsConflict(err))

	current := results[0].Version
	res, err := f.svc.Approve(ctx, results[0].ID, reviewer, ApproveInput{ExpectedVersion: &current})
	require.NoError(t, err)
	require.Equal(t, current+1, res.Version)
}

func TestBulkApproveMatched(t *testing.T) {
	f, job, results := reconciled(t)
	ctx := context.Background()

	n, err := f.svc.BulkApproveMatched(ctx, job.ID, reviewer)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	res, err := f.svc.GetResult(ctx, results[0].ID)
	require.NoError(t, err)
	require.Equal(t, models.ReviewApproved, res.ReviewState)
	require.True(t, f.booking(t, f.johnDoe.ID).Validated)

	n, err = f.svc.BulkApproveMatched(ctx, job.ID, reviewer)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	stats, err := f.svc.JobStats(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.ByReviewState[models.ReviewApproved])
	require.Equal(t, int64(2), stats.ByReviewState[models.ReviewPending])

	_, err = f.svc.BulkApproveMatched(ctx, uuid.New(), reviewer)
	require.True(t, apperr.IsNotFound(err))
}
