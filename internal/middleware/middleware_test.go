package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const testSecret = "middleware-test-secret"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

func signToken(t *testing.T, secret string, claims service.Claims) string {
	t.Helper()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestRequireStudentJWT(t *testing.T) {
	auth := service.NewAuthService(&config.Config{JWTSecret: testSecret})

	r := gin.New()
	r.GET("/me", RequireStudentJWT(auth), func(c *gin.Context) {
		c.String(http.StatusOK, "%d", GetClaims(c).UserID)
	})

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing token", "", "", http.StatusUnauthorized},
		{"student bearer", "Bearer " + signToken(t, testSecret, service.Claims{TokenType: service.TokenTypeStudent, UserID: 42}), "", http.StatusOK},
		{"student query fallback", "", signToken(t, testSecret, service.Claims{TokenType: service.TokenTypeStudent, UserID: 42}), http.StatusOK},
		{"admin token", "Bearer " + signToken(t, testSecret, service.Claims{TokenType: service.TokenTypeAdmin, UserID: 1}), "", http.StatusForbidden},
		{"wrong secret", "Bearer " + signToken(t, "other", service.Claims{TokenType: service.TokenTypeStudent, UserID: 42}), "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/me"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, "42", w.Body.String())
			}
		})
	}
}

func TestRequirePermission(t *testing.T) {
	auth := service.NewAuthService(&config.Config{JWTSecret: testSecret})

	r := gin.New()
	r.GET("/monitor", RequireAdminJWT(auth), RequirePermission(model.PermissionExamsMonitor), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	do := func(perms ...string) int {
		token := signToken(t, testSecret, service.Claims{TokenType: service.TokenTypeAdmin, UserID: 3, Permissions: perms})
		req := httptest.NewRequest(http.MethodGet, "/monitor", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, do(string(model.PermissionExamsMonitor)))
	assert.Equal(t, http.StatusForbidden, do(string(model.PermissionExamsRead)))
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(ctx, 2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("student:1"))
	assert.True(t, rl.Allow("student:1"))
	assert.False(t, rl.Allow("student:1"))
	assert.True(t, rl.Allow("student:2"))

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("student:1"))

	r := gin.New()
	r.POST("/submit", rl.Middleware(KeyByClientIP), func(c *gin.Context) { c.Status(http.StatusOK) })
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/submit", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestBrotli(t *testing.T) {
	large := strings.Repeat("jawaban ", 1000)

	r := gin.New()
	r.Use(Brotli())
	r.GET("/large", func(c *gin.Context) { c.String(http.StatusOK, large) })
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/large", nil)
	req.Header.Set("Accept-Encoding", "gzip, br")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, "br", w.Header().Get("Content-Encoding"))
	body, err := io.ReadAll(brotli.NewReader(bytes.NewReader(w.Body.Bytes())))
	require.NoError(t, err)
	assert.Equal(t, large, string(body))

	req = httptest.NewRequest(http.MethodGet, "/small", nil)
	req.Header.Set("Accept-Encoding", "br")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, "ok", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/large", nil)
	req.Header.Set("Accept-Encoding", "br")
	req.Header.Set("Accept", "text/event-stream")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
}

func TestRequireStudentJWT_ExpiredToken(t *testing.T) {
	auth := service.NewAuthService(&config.Config{JWTSecret: testSecret})

	claims := service.Claims{TokenType: service.TokenTypeStudent, UserID: 42}
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	r := gin.New()
	r.GET("/stream", RequireStudentWSAuth(auth), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stream?token="+token, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), string(response.ErrTokenExpired))

	// The stream endpoint never reads the Authorization header.
	req := httptest.NewRequest(http.MethodGet, "/stream", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, service.Claims{TokenType: service.TokenTypeStudent, UserID: 42}))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), string(response.ErrTokenRequired))
}

func TestAccessLog(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	r := gin.New()
	r.Use(response.RequestIDMiddleware(), AccessLog(log))
	r.GET("/attempts/:attempt_id", func(c *gin.Context) {
		c.Set(ContextKeyClaims, &service.Claims{TokenType: service.TokenTypeStudent, UserID: 9})
		c.Status(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/attempts/abc", nil)
	req.Header.Set("X-Request-ID", "trace-123")
	r.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "trace-123", entry["request_id"])
	assert.Equal(t, "/attempts/:attempt_id", entry["route"])
	assert.EqualValues(t, 404, entry["status"])
	assert.EqualValues(t, 9, entry["user_id"])
}
