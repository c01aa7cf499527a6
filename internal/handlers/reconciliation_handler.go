package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"travel-admin-backend/internal/apperr"
	"travel-admin-backend/internal/ledger"
	"travel-admin-backend/internal/middleware"
	"travel-admin-backend/internal/models"
	service "travel-admin-backend/internal/services/reconciliation"
)

type ReconciliationHandler struct {
	service        *service.ReconciliationService
	log            logrus.FieldLogger
	maxUploadBytes int64
}

func NewReconciliationHandler(s *service.ReconciliationService, maxUploadBytes int64, log logrus.FieldLogger) *ReconciliationHandler {
	return &ReconciliationHandler{service: s, log: log, maxUploadBytes: maxUploadBytes}
}

func actor(c *gin.Context) service.Actor {
	return service.Actor{ID: middleware.UserID(c), Role: middleware.UserRole(c)}
}

// fail logs server-side failures with their stack and writes the error body.
func (h *ReconciliationHandler) fail(c *gin.Context, err error) {
	if status := statusFor(err); status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.log.WithField("request_id", middleware.GetRequestID(c)).Errorf("%s %s: %+v", c.Request.Method, c.FullPath(), err)
	}
	RespondError(c, err)
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		badRequest(c, "invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

// Upload accepts a ledger file and queues its reconciliation. A file whose
// header cannot be resolved is answered synchronously with the failed job.
func (h *ReconciliationHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, http.StatusRequestEntityTooLarge, string(apperr.KindValidation),
				"file exceeds "+strconv.FormatInt(h.maxUploadBytes, 10)+" bytes", nil)
			return
		}
		badRequest(c, "file required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		badRequest(c, "cannot read uploaded file")
		return
	}

	mapping, err := ledger.ParseMapping([]byte(c.PostForm("column_mapping")))
	if err != nil {
		h.fail(c, err)
		return
	}

	job, err := h.service.Submit(c.Request.Context(), service.Upload{
		Filename:    header.Filename,
		Kind:        models.SourceKind(strings.ToLower(strings.TrimSpace(c.PostForm("kind")))),
		Data:        data,
		Mapping:     mapping,
		SubmittedBy: middleware.UserID(c),
	})
	if err != nil {
		if job == nil {
			h.fail(c, err)
			return
		}
		code, message, details := errorBody(err)
		c.JSON(statusFor(err), gin.H{
			"error":      message,
			"code":       code,
			"details":    details,
			"request_id": middleware.GetRequestID(c),
			"job":        job,
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":  job.ID.String(),
		"status":  job.Status,
		"message": "reconciliation queued",
	})
}

func (h *ReconciliationHandler) ListJobs(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	status := models.JobStatus(strings.ToUpper(c.Query("status")))

	out, err := h.service.ListJobs(c.Request.Context(), service.JobQuery{Status: status, Page: page, PageSize: size})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *ReconciliationHandler) GetJob(c *gin.Context) {
	id, ok := parseID(c, "jobId")
	if !ok {
		return
	}
	job, err := h.service.GetJob(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *ReconciliationHandler) ListResults(c *gin.Context) {
	jobID, ok := parseID(c, "jobId")
	if !ok {
		return
	}

	classification := models.Classification(strings.ToUpper(c.Query("classification")))
	if classification != "" && !classification.Valid() {
		badRequest(c, "invalid classification")
		return
	}
	state := models.ReviewState(strings.ToUpper(c.Query("review_state")))
	if state != "" && !state.Valid() {
		badRequest(c, "invalid review_state")
		return
	}
	cursor := 0
	if raw := c.Query("cursor"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "invalid cursor")
			return
		}
		cursor = n
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	ctx := c.Request.Context()
	page, err := h.service.ListResults(ctx, jobID, service.ResultQuery{
		Classification: classification,
		ReviewState:    state,
		Cursor:         cursor,
		Limit:          limit,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	stats, err := h.service.JobStats(ctx, jobID)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items":       page.Items,
		"next_cursor": page.NextCursor,
		"has_more":    page.HasMore,
		"stats":       stats,
	})
}

func (h *ReconciliationHandler) JobStats(c *gin.Context) {
	jobID, ok := parseID(c, "jobId")
	if !ok {
		return
	}
	stats, err := h.service.JobStats(c.Request.Context(), jobID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *ReconciliationHandler) BulkApprove(c *gin.Context) {
	jobID, ok := parseID(c, "jobId")
	if !ok {
		return
	}
	n, err := h.service.BulkApproveMatched(c.Request.Context(), jobID, actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":          "bulk approve completed",
		"results_approved": n,
	})
}

func (h *ReconciliationHandler) GetResult(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	res, err := h.service.GetResult(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type approveRequest struct {
	BookingID       string `json:"booking_id"`
	Notes           string `json:"notes"`
	ExpectedVersion *int   `json:"expected_version"`
}

type rejectRequest struct {
	Notes           string `json:"notes"`
	ExpectedVersion *int   `json:"expected_version"`
}

type reopenRequest struct {
	Notes string `json:"notes"`
}

// bindOptional decodes a JSON body when one was sent.
func bindOptional(c *gin.Context, dst interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid payload")
		return false
	}
	return true
}

func (h *ReconciliationHandler) Approve(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req approveRequest
	if !bindOptional(c, &req) {
		return
	}

	in := service.ApproveInput{Notes: strings.TrimSpace(req.Notes), ExpectedVersion: req.ExpectedVersion}
	if req.BookingID != "" {
		bookingID, err := uuid.Parse(req.BookingID)
		if err != nil {
			badRequest(c, "invalid booking_id")
			return
		}
		in.BookingID = &bookingID
	}

	res, err := h.service.Approve(c.Request.Context(), id, actor(c), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "result approved", "result": res})
}

func (h *ReconciliationHandler) Reject(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req rejectRequest
	if !bindOptional(c, &req) {
		return
	}

	res, err := h.service.Reject(c.Request.Context(), id, actor(c), service.RejectInput{
		Notes:           strings.TrimSpace(req.Notes),
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "result rejected", "result": res})
}

func (h *ReconciliationHandler) Reopen(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req reopenRequest
	if !bindOptional(c, &req) {
		return
	}

	res, err := h.service.Reopen(c.Request.Context(), id, actor(c), strings.TrimSpace(req.Notes))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "result reopened", "result": res})
}

func (h *ReconciliationHandler) Audit(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	entries, err := h.service.AuditTrail(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": entries})
}
