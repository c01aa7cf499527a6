package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"travel-admin-backend/internal/apperr"
	"travel-admin-backend/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		apperr.MalformedInput("bad quote", 3, nil):        http.StatusBadRequest,
		apperr.SchemaMismatch([]string{"ticket_number"}):  http.StatusUnprocessableEntity,
		apperr.RowProcessing(4, "travel_date", "missing"): http.StatusUnprocessableEntity,
		apperr.Persistence("save", errors.New("conn")):    http.StatusInternalServerError,
		apperr.NotFound("result", "x"):                    http.StatusNotFound,
		apperr.Validation("nope"):                         http.StatusBadRequest,
		apperr.Conflict("stale"):                          http.StatusConflict,
		apperr.Forbidden("admin only"):                    http.StatusForbidden,
		apperr.Unavailable("queue full", nil):             http.StatusServiceUnavailable,
		errors.New("plain"):                               http.StatusInternalServerError,
	}
	for err, want := range cases {
		require.Equal(t, want, statusFor(err), err.Error())
	}
}

func serve(t *testing.T, h gin.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	r := gin.New()
	r.Use(middleware.RequestID())
	r.GET("/x", h)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "req-1")
	r.ServeHTTP(w, req)
	return w
}

func TestRespondErrorBody(t *testing.T) {
	w := serve(t, func(c *gin.Context) {
		RespondError(c, apperr.SchemaMismatch([]string{"ticket_number", "route"}))
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body struct {
		Error     string `json:"error"`
		Code      string `json:"code"`
		RequestID string `json:"request_id"`
		Details   struct {
			Missing []string `json:"missing"`
		} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "schema_mismatch", body.Code)
	require.Equal(t, "req-1", body.RequestID)
	require.Equal(t, []string{"ticket_number", "route"}, body.Details.Missing)
	require.Contains(t, body.Error, "ticket_number")
}

func TestRespondErrorHidesPersistenceCause(t *testing.T) {
	w := serve(t, func(c *gin.Context) {
		RespondError(c, apperr.Persistence("save result", errors.New("pq: password authentication failed")))
	})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "password")
	require.Contains(t, w.Body.String(), `"code":"persistence"`)
}

func TestDatabaseHealth(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	h := NewHealthHandler(db)

	mock.ExpectPing()
	w := serve(t, h.Database)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"database":"up"`)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	w = serve(t, h.Database)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NotContains(t, w.Body.String(), "refused")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHealth(t *testing.T) {
	w := serve(t, NewHealthHandler(nil).Health)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
