package reconciliation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"travel-admin-backend/internal/apperr"
	"travel-admin-backend/internal/ledger"
	"travel-admin-backend/internal/logger"
	"travel-admin-backend/internal/models"
	"travel-admin-backend/internal/repository"
	"travel-admin-backend/internal/services/matching"
	"travel-admin-backend/internal/testutil"
	"travel-admin-backend/internal/worker"
)

var (
	reviewer = Actor{ID: "finance-1", Role: "finance"}
	admin    = Actor{ID: "admin-1", Role: "admin"}
	fixedNow = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
)

func testConfig() Config {
	return Config{
		ProgressInterval: 2,
		AdminRole:        "admin",
		Lookup:           matching.DefaultLookupConfig(),
		Scorer:           matching.DefaultScorerConfig(),
	}
}

type fixture struct {
	db      *gorm.DB
	svc     *ReconciliationService
	johnDoe models.Booking
	janeRoe models.Booking
	alan    models.Booking
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newFixture(t *testing.T, pool *worker.Pool) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	f := &fixture{
		db:  db,
		svc: NewReconciliationService(db, pool, testConfig(), logger.Discard(), WithClock(func() time.Time { return fixedNow })),
		johnDoe: models.Booking{
			ID: uuid.New(), BookingCode: "BK-1001", PassengerName: "John Doe", Route: "CGK-DPS",
			TravelDate: day(2024, 3, 15), TicketNumber: "1572401234567",
		},
		janeRoe: models.Booking{
			ID: uuid.New(), BookingCode: "BK-1002", PassengerName: "Jane Roe", Route: "DPS-CGK",
			TravelDate: day(2024, 3, 16), TicketNumber: "1570000000001", AirlineReference: "QQQ111",
		},
		// same ticket as the third ledger row, but travelling two months earlier
		alan: models.Booking{
			ID: uuid.New(), BookingCode: "BK-1003", PassengerName: "Alan Smith", Route: "SUB-KNO",
			TravelDate: day(2024, 1, 10), TicketNumber: "1575555555555",
		},
	}
	bookings := repository.NewBookingRepository(db)
	for _, b := range []*models.Booking{&f.johnDoe, &f.janeRoe, &f.alan} {
		_, err := bookings.Create(context.Background(), b)
		require.NoError(t, err)
	}
	return f
}

const threeRowLedger = `Passenger Name,Ticket Number,PNR,Route,Travel Date,Fare
DOE/JOHN MR,157-2401234567,ABC123,CGK-DPS,2024-03-15,1250000
ROE/JANE MS,1579999999999,ZZZ999,DPS-CGK,16/03/2024,990000
SMITH/ALAN,1575555555555,XYZ789,SUB-KNO,20-03-2024,500000
`

func upload(data string) Upload {
	return Upload{Filename: "ledger.csv", Data: []byte(data), SubmittedBy: "finance-1"}
}

func (f *fixture) results(t *testing.T, jobID uuid.UUID) []models.ReconciliationResult {
	t.Helper()
	page, err := f.svc.ListResults(context.Background(), jobID, ResultQuery{Limit: 100})
	require.NoError(t, err)
	return page.Items
}

func (f *fixture) booking(t *testing.T, id uuid.UUID) *models.Booking {
	t.Helper()
	b, err := repository.NewBookingRepository(f.db).Get(context.Background(), id)
	require.NoError(t, err)
	return b
}

func TestReconcileThreeRowScenario(t *testing.T) {
	f := newFixture(t, nil)

	job, err := f.svc.Reconcile(context.Background(), upload(threeRowLedger))
	require.NoError(t, err)
	require.Equal(t, models.JobCompleted, job.Status)
	require.Equal(t, 3, job.TotalRecords)
	require.Equal(t, 1, job.MatchedCount)
	require.Equal(t, 1, job.PartialCount)
	require.Equal(t, 1, job.UnmatchedCount)
	require.Equal(t, job.TotalRecords, job.MatchedCount+job.PartialCount+job.UnmatchedCount)
	require.NotNil(t, job.CompletedAt)

	results := f.results(t, job.ID)
	require.Len(t, results, 3)

	require.Equal(t, 2, results[0].RowNumber)
	require.Equal(t, models.ClassMatched, results[0].Classification)
	require.Equal(t, f.johnDoe.ID, *results[0].MatchedBookingID)
	require.Equal(t, models.ReviewPending, results[0].ReviewState)

	require.Equal(t, models.ClassPartial, results[1].Classification)
	require.Equal(t, f.janeRoe.ID, *results[1].MatchedBookingID)

	// the ticket collides with Alan's booking, which is outside the window
	require.Equal(t, models.ClassUnmatched, results[2].Classification)
	require.Nil(t, results[2].MatchedBookingID)
	require.Equal(t, 0, results[2].CandidateCount)
	require.Contains(t, results[2].Diagnostic, "no booking")

	stats, err := f.svc.JobStats(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.Total)
	require.Equal(t, int64(3), stats.ByReviewState[models.ReviewPending])
}

func TestReconcileIsDeterministic(t *testing.T) {
	f := newFixture(t, nil)

	first, err := f.svc.Reconcile(context.Background(), upload(threeRowLedger))
	require.NoError(t, err)
	second, err := f.svc.Reconcile(context.Background(), upload(threeRowLedger))
	require.NoError(t, err)

	a, b := f.results(t, first.ID), f.results(t, second.ID)
	require.Len(t, b, len(a))
	for i := range a {
		require.Equal(t, a[i].Classification, b[i].Classification)
		require.Equal(t, a[i].MatchedBookingID, b[i].MatchedBookingID)
		require.Equal(t, a[i].Confidence, b[i].Confidence)
		require.JSONEq(t, string(a[i].MatchDetails), string(b[i].MatchDetails))
	}
}

func TestSubmitSchemaMismatchFailsJob(t *testing.T) {
	f := newFixture(t, nil)

	job, err := f.svc.Submit(context.Background(), upload("Passenger Name,PNR,Travel Date\nDOE/JOHN,ABC123,2024-03-15\n"))
	require.True(t, apperr.IsSchemaMismatch(err))
	require.NotNil(t, job)
	require.Equal(t, models.JobFailed, job.Status)

	stored, err := f.svc.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobFailed, stored.Status)
	require.Equal(t, string(apperr.KindSchemaMismatch), stored.ErrorKind)
	require.Contains(t, stored.ErrorMessage, "ticket_number")
	require.Equal(t, 0, stored.TotalRecords)
	require.Empty(t, f.results(t, job.ID))
}

func TestSubmitRejectsBadUpload(t *testing.T) {
	f := newFixture(t, nil)

	job, err := f.svc.Submit(context.Background(), Upload{Filename: "ledger.pdf", Data: []byte("x")})
	require.Nil(t, job)
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	u := upload(threeRowLedger)
	u.Mapping = ledger.Mapping{"seat": {Name: "Seat"}}
	job, err = f.svc.Submit(context.Background(), u)
	require.Nil(t, job)
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestSubmitWithoutPoolFailsJob(t *testing.T) {
	f := newFixture(t, nil)

	job, err := f.svc.Submit(context.Background(), upload(threeRowLedger))
	require.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))
	require.Equal(t, models.JobFailed, job.Status)
}

func TestSubmitRunsOnPool(t *testing.T) {
	pool := worker.New(2, 4, logger.Discard())
	f := newFixture(t, pool)

	job, err := f.svc.Submit(context.Background(), upload(threeRowLedger))
	require.NoError(t, err)
	require.Equal(t, models.JobProcessing, job.Status)

	require.Eventually(t, func() bool {
		got, err := f.svc.GetJob(context.Background(), job.ID)
		return err == nil && got.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, pool.Shutdown(context.Background()))

	got, err := f.svc.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobCompleted, got.Status)
	require.Equal(t, 3, got.TotalRecords)
	require.Equal(t, 3, got.ProcessedCount)
}

func TestReconcileMalformedMidFileKeepsPriorResults(t *testing.T) {
	f := newFixture(t, nil)
	data := strings.Join([]string{
		"Passenger Name,Ticket Number,PNR,Route,Travel Date",
		"DOE/JOHN MR,1572401234567,ABC123,CGK-DPS,2024-03-15",
		`ROE/JANE,157"9999,ZZZ999,DPS-CGK,2024-03-16`,
		"SMITH/ALAN,1575555555555,XYZ789,SUB-KNO,2024-03-20",
	}, "\n")

	job, err := f.svc.Reconcile(context.Background(), upload(data))
	require.True(t, apperr.IsMalformedInput(err))
	require.Equal(t, models.JobFailed, job.Status)

	stored, err := f.svc.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobFailed, stored.Status)
	require.Equal(t, string(apperr.KindMalformedInput), stored.ErrorKind)
	require.Equal(t, 1, stored.TotalRecords)
	require.Equal(t, 1, stored.MatchedCount)

	results := f.results(t, job.ID)
	require.Len(t, results, 1)
	require.Equal(t, 2, results[0].RowNumber)
}

func TestReconcileRowErrorsBecomeUnmatched(t *testing.T) {
	f := newFixture(t, nil)
	data := strings.Join([]string{
		"Passenger Name,Ticket Number,PNR,Route,Travel Date,Fare",
		"DOE/JOHN MR,1572401234567,ABC123,CGK-DPS,,100",
		"DOE/JOHN MR,1572401234567,ABC123,CGK-DPS,someday,abc",
		"DOE/JOHN MR,1572401234567,ABC123,CGK-DPS,2024-03-15,n/a",
	}, "\n")

	job, err := f.svc.Reconcile(context.Background(), upload(data))
	require.NoError(t, err)
	require.Equal(t, models.JobCompleted, job.Status)
	require.Equal(t, 3, job.TotalRecords)
	require.Equal(t, 2, job.UnmatchedCount)
	require.Equal(t, 1, job.MatchedCount)

	results := f.results(t, job.ID)
	require.Contains(t, results[0].Diagnostic, "travel date is missing")
	require.Contains(t, results[1].Diagnostic, "could not be parsed")
	require.NotEmpty(t, results[1].ParseFlags)
	require.Equal(t, models.ClassMatched, results[2].Classification)
	require.Contains(t, results[2].Diagnostic, "fare_amount")
}

type panicReader struct{}

func (panicReader) Next() (ledger.Record, error) { panic("reader exploded") }
func (panicReader) Close() error                 { return nil }

func TestRunRecoversPanic(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	job := &models.ReconciliationJob{ID: uuid.New(), Filename: "x.csv", Status: models.JobProcessing}
	require.NoError(t, repository.NewJobRepository(f.db).Create(ctx, job))

	err := f.svc.Run(ctx, job, panicReader{})
	require.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	stored, err := f.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobFailed, stored.Status)
	require.Contains(t, stored.ErrorMessage, "reader exploded")
}

func TestRecoverInterrupted(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	jobs := repository.NewJobRepository(f.db)

	stuck := &models.ReconciliationJob{ID: uuid.New(), Filename: "x.csv", Status: models.JobProcessing}
	require.NoError(t, jobs.Create(ctx, stuck))

	n, err := f.svc.RecoverInterrupted(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	got, err := f.svc.GetJob(ctx, stuck.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobFailed, got.Status)
	require.Contains(t, got.ErrorMessage, "interrupted")
}

func TestListJobs(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Reconcile(ctx, upload(threeRowLedger))
	require.NoError(t, err)
	_, _ = f.svc.Submit(ctx, upload("PNR\nABC\n"))

	page, err := f.svc.ListJobs(ctx, JobQuery{})
	require.NoError(t, err)
	require.Equal(t, int64(2), page.Total)
	require.Equal(t, 1, page.Page)
	require.Equal(t, 20, page.PageSize)

	page, err = f.svc.ListJobs(ctx, JobQuery{Status: models.JobFailed})
	require.NoError(t, err)
	require.Equal(t, int64(1), page.Total)
	require.Equal(t, models.JobFailed, page.Items[0].Status)

	_, err = f.svc.ListResults(ctx, uuid.New(), ResultQuery{})
	require.True(t, apperr.IsNotFound(err))
}

func TestReconcileIdentifierOnlyLedgerMatches(t *testing.T) {
	f := newFixture(t, nil)

	job, err := f.svc.Reconcile(context.Background(), upload("Ticket Number,PNR,Travel Date\n1572401234567,ABC123,2024-03-15\n"))
	require.NoError(t, err)
	require.Equal(t, 1, job.MatchedCount)

	results := f.results(t, job.ID)
	require.Len(t, results, 1)
	require.Equal(t, models.ClassMatched, results[0].Classification)
	require.Equal(t, f.johnDoe.ID, *results[0].MatchedBookingID)
	require.Equal(t, 1, results[0].CandidateCount)
}

func TestReconcileTicketMatchIgnoresNameAndRouteFormatting(t *testing.T) {
	f := newFixture(t, nil)
	data := "Passenger Name,Ticket Number,PNR,Route,Travel Date\n" +
		"JOHNDOE,1572401234567,ABC123,CGKDPS,2024-03-15\n"

	job, err := f.svc.Reconcile(context.Background(), upload(data))
	require.NoError(t, err)

	results := f.results(t, job.ID)
	require.Len(t, results, 1)
	require.Equal(t, models.ClassMatched, results[0].Classification)
	require.Equal(t, f.johnDoe.ID, *results[0].MatchedBookingID)
}

func TestRunDoesNotOverrideTerminalJob(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	job, reader, err := f.svc.start(ctx, upload(threeRowLedger))
	require.NoError(t, err)

	n, err := f.svc.RecoverInterrupted(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	err = f.svc.Run(ctx, job, reader)
	require.True(t, apperr.IsConflict(err))
	require.Equal(t, models.JobFailed, job.Status)

	stored, err := f.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobFailed, stored.Status)
	require.Equal(t, string(apperr.KindUnavailable), stored.ErrorKind)
	require.Contains(t, stored.ErrorMessage, "interrupted")
}

func TestRowErrorKeepsFieldNotes(t *testing.T) {
	f := newFixture(t, nil)
	data := "Passenger Name,Ticket Number,PNR,Route,Travel Date,Fare\n" +
		"DOE/JOHN MR,1572401234567,ABC123,CGK-DPS,someday,abc\n"

	job, err := f.svc.Reconcile(context.Background(), upload(data))
	require.NoError(t, err)

	results := f.results(t, job.ID)
	require.Len(t, results, 1)
	require.Equal(t, models.ClassUnmatched, results[0].Classification)
	require.Contains(t, results[0].Diagnostic, "travel date could not be parsed")
	require.Contains(t, results[0].Diagnostic, "fare_amount")
	require.Contains(t, results[0].Diagnostic, `"abc"`)
}
