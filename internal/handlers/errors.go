package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"travel-admin-backend/internal/apperr"
	"travel-admin-backend/internal/middleware"
)

var statusByKind = map[apperr.Kind]int{
	apperr.KindMalformedInput: http.StatusBadRequest,
	apperr.KindSchemaMismatch: http.StatusUnprocessableEntity,
	apperr.KindRowProcessing:  http.StatusUnprocessableEntity,
	apperr.KindPersistence:    http.StatusInternalServerError,
	apperr.KindNotFound:       http.StatusNotFound,
	apperr.KindValidation:     http.StatusBadRequest,
	apperr.KindConflict:       http.StatusConflict,
	apperr.KindForbidden:      http.StatusForbidden,
	apperr.KindUnavailable:    http.StatusServiceUnavailable,
	apperr.KindInternal:       http.StatusInternalServerError,
}

func statusFor(err error) int {
	if code, ok := statusByKind[apperr.KindOf(err)]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, status int, code, message string, details gin.H) {
	body := gin.H{
		"error":      message,
		"code":       code,
		"request_id": middleware.GetRequestID(c),
	}
	if len(details) > 0 {
		body["details"] = details
	}
	c.JSON(status, body)
}

// errorBody renders err the way every endpoint reports failures. Storage and
// internal failures hide their cause from the client.
func errorBody(err error) (string, string, gin.H) {
	e, ok := apperr.As(err)
	if !ok {
		return string(apperr.KindInternal), "internal error", nil
	}
	details := gin.H{}
	if e.Row > 0 {
		details["row"] = e.Row
	}
	if e.Field != "" {
		details["field"] = e.Field
	}
	if len(e.Missing) > 0 {
		details["missing"] = e.Missing
	}
	switch e.Kind {
	case apperr.KindPersistence, apperr.KindInternal:
		return string(e.Kind), "internal error", nil
	case apperr.KindUnavailable:
		return string(e.Kind), e.Message, nil
	}
	return string(e.Kind), e.Error(), details
}

// RespondError maps an application error onto its HTTP status.
func RespondError(c *gin.Context, err error) {
	code, message, details := errorBody(err)
	respondError(c, statusFor(err), code, message, details)
}

func badRequest(c *gin.Context, message string) {
	respondError(c, http.StatusBadRequest, string(apperr.KindValidation), message, nil)
}
