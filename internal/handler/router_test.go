package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ChadFarrow/stablekraft-app-sub010/internal/metrics"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/middleware"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/model"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/playlist"
)

// mockHealthChecker はHealthCheckerのモック実装。
type mockHealthChecker struct {
	pingErr error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.pingErr
}

// newTestRouterDeps はテスト用のRouterDepsを構築する。
func newTestRouterDeps() (*RouterDeps, *middleware.RateLimiter) {
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	deps := &RouterDeps{
		Logger:            slog.New(slog.NewJSONHandler(io.Discard, nil)),
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		HealthChecker:     &mockHealthChecker{},
		PlaylistService:   &mockPlaylistService{},
		FeedReader:        &mockFeedReader{},
		TrackFinder:       &mockTrackFinder{},
	}
	return deps, rl
}

func TestNewRouter_HealthzOK(t *testing.T) {
	deps, rl := newTestRouterDeps()
	defer rl.Stop()
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("GET /healthz status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("body = %q, want ok status", w.Body.String())
	}
}

func TestNewRouter_HealthzUnhealthy(t *testing.T) {
	deps, rl := newTestRouterDeps()
	defer rl.Stop()
	deps.HealthChecker = &mockHealthChecker{pingErr: errors.New("connection refused")}
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /healthz status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestNewRouter_MetricsEndpoint(t *testing.T) {
	deps, rl := newTestRouterDeps()
	defer rl.Stop()
	reg := prometheus.NewRegistry()
	metrics.NewCollector(reg)
	deps.MetricsRegistry = reg
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("GET /metrics status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "stablekraft_resolve_success_total") {
		t.Error("メトリクス出力にresolveカウンタが含まれていない")
	}
}

func TestNewRouter_MetricsDisabledWithoutRegistry(t *testing.T) {
	deps, rl := newTestRouterDeps()
	defer rl.Stop()
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("GET /metrics status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestNewRouter_ResolveRoute(t *testing.T) {
	deps, rl := newTestRouterDeps()
	defer rl.Stop()
	deps.PlaylistService = &mockPlaylistService{
		resolvePlaylistFn: func(ctx context.Context, playlistID string, refs []model.RemoteItem, opts playlist.ResolveOptions) (*model.PlaylistPayload, error) {
			return samplePayload(), nil
		},
	}
	router := NewRouter(deps)

	body := `{"playlist_id": "pl-1", "remote_items": [{"feed_guid": "f", "item_guid": "i"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/playlists/resolve", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("POST /api/playlists/resolve status = %d, want %d", w.Code, http.StatusOK)
	}

	var payload model.PlaylistPayload
	if err := json.NewDecoder(w.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.TotalCount != 1 {
		t.Errorf("TotalCount = %d, want 1", payload.TotalCount)
	}
}

func TestNewRouter_ResolveRateLimit(t *testing.T) {
	cfg := middleware.DefaultRateLimiterConfig()
	cfg.ResolveBurst = 1
	rl := middleware.NewRateLimiter(cfg)
	defer rl.Stop()

	deps, defaultRL := newTestRouterDeps()
	defaultRL.Stop()
	deps.RateLimiter = rl
	router := NewRouter(deps)

	body := `{"playlist_id": "pl-1", "remote_items": [{"feed_guid": "f", "item_guid": "i"}]}`

	// 1回目はバースト内
	req := httptest.NewRequest(http.MethodPost, "/api/playlists/resolve", bytes.NewBufferString(body))
	req.RemoteAddr = "203.0.113.10:1234"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("1回目 status = %d, want %d", w.Code, http.StatusOK)
	}

	// 2回目は解決専用レート制限にかかる
	req = httptest.NewRequest(http.MethodPost, "/api/playlists/resolve", bytes.NewBufferString(body))
	req.RemoteAddr = "203.0.113.10:1234"
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("2回目 status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-Afterヘッダが設定されていない")
	}
}

func TestNewRouter_GetTracksRoute(t *testing.T) {
	deps, rl := newTestRouterDeps()
	defer rl.Stop()
	deps.PlaylistService = &mockPlaylistService{
		cachedPayloadFn: func(playlistID string) (*model.PlaylistPayload, bool) {
			if playlistID != "pl-1" {
				return nil, false
			}
			return samplePayload(), true
		},
	}
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/playlists/pl-1/tracks", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("GET /api/playlists/pl-1/tracks status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNewRouter_FeedRoutes(t *testing.T) {
	deps, rl := newTestRouterDeps()
	defer rl.Stop()
	deps.FeedReader = &mockFeedReader{
		findByIDFn: func(ctx context.Context, id string) (*model.Feed, error) {
			return &model.Feed{ID: id, Title: "Indie Hour", FetchStatus: model.FetchStatusActive}, nil
		},
	}
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/feeds", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("GET /api/feeds status = %d, want %d", w.Code, http.StatusOK)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/feeds/feed-guid-1", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("GET /api/feeds/{id} status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNewRouter_TrackRoute(t *testing.T) {
	deps, rl := newTestRouterDeps()
	defer rl.Stop()
	deps.TrackFinder = &mockTrackFinder{
		findByAnyIDFn: func(ctx context.Context, candidates []string) (*model.Track, error) {
			return &model.Track{ID: "track-1", GUID: "item-guid-1"}, nil
		},
	}
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/tracks/item-guid-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("GET /api/tracks/{key} status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNewRouter_CORSHeadersApplied(t *testing.T) {
	deps, rl := newTestRouterDeps()
	defer rl.Stop()
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "http://localhost:3000")
	}
}

func TestNewRouter_RecoveryCatchesPanic(t *testing.T) {
	deps, rl := newTestRouterDeps()
	defer rl.Stop()
	deps.PlaylistService = &mockPlaylistService{
		cachedPayloadFn: func(playlistID string) (*model.PlaylistPayload, bool) {
			panic("boom")
		},
	}
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/playlists/pl-1/tracks", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
