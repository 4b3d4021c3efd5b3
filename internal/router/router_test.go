package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/handler"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "router-test-secret"

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &config.Config{GinMode: gin.TestMode, JWTSecret: secret, SubmitRatePerMinute: 5}
	log := zerolog.Nop()
	handlers := &Handlers{
		Attempt: handler.NewAttemptHandler(nil, log),
		WS:      handler.NewWSHandler(nil, log, nil),
		Monitor: handler.NewMonitorHandler(nil, nil, nil, log),
		System:  handler.NewSystemHandler(nil, nil, log),
	}
	return SetupRouter(ctx, service.NewAuthService(cfg), handlers, cfg, log)
}

func token(t *testing.T, claims service.Claims) string {
	t.Helper()
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestSetupRouter_Routes(t *testing.T) {
	r := newTestRouter(t)

	want := []string{
		"POST /api/v1/student/attempts/:attempt_id/open",
		"GET /api/v1/student/attempts/:attempt_id/state",
		"PUT /api/v1/student/attempts/:attempt_id/answers/:question_id",
		"POST /api/v1/student/attempts/:attempt_id/submit",
		"GET /api/v1/student/attempts/:attempt_id/result",
		"GET /ws/v1/student/attempts/:attempt_id/stream",
		"GET /api/v1/admin/exams/:exam_id/progress",
		"GET /api/v1/admin/exams/:exam_id/monitor",
		"GET /api/v1/admin/system/status",
		"GET /api/v1/admin/system/metrics",
		"GET /health",
	}
	registered := make(map[string]bool)
	for _, route := range r.Routes() {
		registered[route.Method+" "+route.Path] = true
	}
	for _, key := range want {
		assert.True(t, registered[key], key)
	}
}

func TestSetupRouter_Guards(t *testing.T) {
	r := newTestRouter(t)

	student := token(t, service.Claims{TokenType: service.TokenTypeStudent, UserID: 5})
	reader := token(t, service.Claims{TokenType: service.TokenTypeAdmin, UserID: 1, Permissions: []string{string(model.PermissionExamsRead)}})

	tests := []struct {
		name   string
		method string
		path   string
		bearer string
		want   int
	}{
		{"health", http.MethodGet, "/health", "", http.StatusOK},
		{"student route without token", http.MethodGet, "/api/v1/student/attempts/x/state", "", http.StatusUnauthorized},
		{"student route with admin token", http.MethodGet, "/api/v1/student/attempts/x/state", reader, http.StatusForbidden},
		{"student route bad id", http.MethodGet, "/api/v1/student/attempts/x/state", student, http.StatusBadRequest},
		{"stream without query token", http.MethodGet, "/ws/v1/student/attempts/x/stream", student, http.StatusUnauthorized},
		{"admin route with student token", http.MethodGet, "/api/v1/admin/system/status", student, http.StatusForbidden},
		{"monitor needs monitor permission", http.MethodGet, "/api/v1/admin/exams/x/monitor", reader, http.StatusForbidden},
		{"system needs system permission", http.MethodGet, "/api/v1/admin/system/status", reader, http.StatusForbidden},
		{"progress allowed for readers", http.MethodGet, "/api/v1/admin/exams/x/progress", reader, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
