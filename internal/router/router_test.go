package router

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tunr/backend/internal/broker"
	"github.com/tunr/backend/internal/config"
	"github.com/tunr/backend/internal/database"
	"github.com/tunr/backend/internal/db"
	"github.com/tunr/backend/internal/metrics"
	"github.com/tunr/backend/internal/store"
)

func newTestRouter(t *testing.T, m *metrics.Metrics) http.Handler {
	t.Helper()
	sqlDB, err := database.New(":memory:")
	if err != nil {
		t.Fatalf("database.New() error: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	if err := database.RunMigrations(sqlDB); err != nil {
		t.Fatalf("RunMigrations() error: %v", err)
	}
	cfg := &config.Config{
		JWTSecret:          "test",
		RateLimitPerMinute: 60,
		PulseRatePerSecond: 10,
		CORSAllowedOrigins: []string{"http://localhost:5173"},
	}
	return New(cfg, store.New(db.New(sqlDB), broker.New(), m), m)
}

func TestRoutes(t *testing.T) {
	h := newTestRouter(t, metrics.New())

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"health", http.MethodGet, "/api/health", http.StatusOK},
		{"public config", http.MethodGet, "/api/config", http.StatusOK},
		{"identity create is public", http.MethodPost, "/api/identities", http.StatusCreated},
		{"rooms need a token", http.MethodPost, "/api/rooms", http.StatusUnauthorized},
		{"queue needs a token", http.MethodGet, "/api/rooms/ABCD/queue", http.StatusUnauthorized},
		{"websocket needs a token", http.MethodGet, "/api/rooms/ABCD/ws", http.StatusUnauthorized},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK},
		{"unknown route", http.MethodGet, "/api/sessions", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
			}
			if rec.Header().Get("X-Request-Id") == "" {
				t.Error("response has no X-Request-Id")
			}
		})
	}
}

func TestMetricsExposeCollectors(t *testing.T) {
	h := newTestRouter(t, metrics.New())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "tunr_sync_channels_open") {
		t.Error("metrics output is missing tunr_sync_channels_open")
	}
}

func TestMetricsDisabled(t *testing.T) {
	h := newTestRouter(t, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("/metrics with metrics disabled = %d, want 404", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestRouter(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/rooms", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
