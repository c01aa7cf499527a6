package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

var secret = []byte("s3cret")

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func engine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	chain := append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": UserID(c), "role": UserRole(c)})
	})
	r.GET("/x", chain...)
	return r
}

func get(r *gin.Engine, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthAcceptsSubOrUserID(t *testing.T) {
	r := engine(Auth(secret))
	exp := time.Now().Add(time.Hour).Unix()

	w := get(r, "Bearer "+sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"sub": "u-1", "role": "finance", "exp": exp}))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"user":"u-1","role":"finance"}`, w.Body.String())

	w = get(r, "Bearer "+sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"user_id": 42, "role": "admin", "exp": exp}))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"user":"42","role":"admin"}`, w.Body.String())
}

func TestAuthRejects(t *testing.T) {
	r := engine(Auth(secret))
	exp := time.Now().Add(time.Hour).Unix()

	cases := map[string]string{
		"missing header": "",
		"not bearer":     "Basic abc",
		"garbage":        "Bearer abc.def.ghi",
		"wrong key":      "Bearer " + sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "u", "role": "admin", "exp": exp}),
		"expired":        "Bearer " + sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"sub": "u", "role": "admin", "exp": time.Now().Add(-time.Hour).Unix()}),
		"no role":        "Bearer " + sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"sub": "u", "exp": exp}),
		"hs512":          "Bearer " + sign(t, jwt.SigningMethodHS512, secret, jwt.MapClaims{"sub": "u", "role": "admin", "exp": exp}),
	}
	for name, header := range cases {
		w := get(r, header)
		require.Equal(t, http.StatusUnauthorized, w.Code, name)
		require.Contains(t, w.Body.String(), "request_id", name)
	}
}

func TestRequireRoles(t *testing.T) {
	setRole := func(role string) gin.HandlerFunc {
		return func(c *gin.Context) {
			if role != "" {
				c.Set(userRoleKey, role)
			}
		}
	}

	require.Equal(t, http.StatusOK, get(engine(setRole("Finance"), RequireRoles("admin", "finance")), "").Code)
	require.Equal(t, http.StatusForbidden, get(engine(setRole("agent"), RequireRoles("admin", "finance")), "").Code)
	require.Equal(t, http.StatusUnauthorized, get(engine(setRole(""), RequireRoles("admin")), "").Code)
}

func TestRequestIDPropagates(t *testing.T) {
	r := engine()

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))

	w = get(r, "")
	require.Len(t, w.Header().Get("X-Request-ID"), 36)
}

func TestLoggerFields(t *testing.T) {
	log, hook := test.NewNullLogger()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Logger(log))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for _, path := range []string{"/ok", "/missing"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-Request-ID", "rid"+path)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	require.Equal(t, logrus.InfoLevel, entries[0].Level)
	require.Equal(t, "rid/ok", entries[0].Data["request_id"])
	require.Equal(t, http.StatusOK, entries[0].Data["status"])
	require.Equal(t, "/ok", entries[0].Data["path"])
	require.Equal(t, logrus.WarnLevel, entries[1].Level)
	require.Contains(t, entries[1].Data, "latency_ms")
}
