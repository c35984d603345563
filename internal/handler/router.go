package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ChadFarrow/stablekraft-app-sub010/internal/metrics"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/middleware"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/model"
)

// HealthChecker はデータベース接続の死活確認を行うインターフェース。
// *sql.DB がそのまま満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// ヘルスチェック
	HealthChecker HealthChecker

	// メトリクス公開用レジストリ。nilの場合は /metrics を公開しない。
	MetricsRegistry *prometheus.Registry

	// プレイリスト解決
	PlaylistService PlaylistServiceInterface

	// フィード・トラック参照
	FeedReader  FeedReader
	TrackFinder TrackFinder
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → RateLimit(General)
//
// /healthz と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	playlistHandler := NewPlaylistHandler(deps.PlaylistService)
	libraryHandler := NewLibraryHandler(deps.FeedReader, deps.TrackFinder)

	// --- 運用系ルート（レート制限の外） ---

	r.Get("/healthz", newHealthzHandler(deps.HealthChecker))

	if deps.MetricsRegistry != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsRegistry))
	}

	// --- APIルート ---
	// ミドルウェアスタック: RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// プレイリスト解決
		r.Route("/api/playlists", func(r chi.Router) {
			// POST /api/playlists/resolve - 解決専用レート制限を追加
			r.With(deps.RateLimiter.ResolveMiddleware()).Post("/resolve", playlistHandler.Resolve)

			// GET /api/playlists/{playlistID}/tracks - キャッシュ済みペイロードの取得
			r.Get("/{playlistID}/tracks", playlistHandler.GetTracks)
		})

		// キャッシュ管理
		r.Post("/api/cache/invalidate", playlistHandler.InvalidateCache)

		// フィード参照
		r.Route("/api/feeds", func(r chi.Router) {
			r.Get("/", libraryHandler.ListFeeds)
			r.Get("/{id}", libraryHandler.GetFeed)
		})

		// トラック参照
		r.Get("/api/tracks/{key}", libraryHandler.GetTrack)
	})

	return r
}

// newHealthzHandler はデータベースへのpingで死活を返すハンドラを生成する。
func newHealthzHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		if checker != nil {
			if err := checker.PingContext(ctx); err != nil {
				middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, &model.APIError{
					Code:    "UNHEALTHY",
					Message: "データベースに接続できません",
				})
				return
			}
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}
}
