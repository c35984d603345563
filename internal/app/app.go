// Package app はアプリケーションの起動と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ChadFarrow/stablekraft-app-sub010/internal/cache"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/config"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/database"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/handler"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/logger"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/metrics"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/middleware"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/playlist"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/podcastindex"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/repository"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/resolver"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/security"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/worker/reresolve"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// newResolveEngine はメタデータサービスクライアントと解決エンジンを構築する。
// serveとworkerの両モードで共通のワイヤリング。
func newResolveEngine(
	cfg *config.Config,
	feedRepo repository.FeedRepository,
	trackRepo repository.TrackRepository,
	collector metrics.MetricsCollector,
) *resolver.Engine {
	lookup := podcastindex.NewClient(
		&http.Client{Timeout: cfg.ResolveTimeout},
		slog.Default(),
		collector,
		podcastindex.Config{
			BaseURL:    cfg.PodcastIndexBaseURL,
			APIKey:     cfg.PodcastIndexAPIKey,
			APISecret:  cfg.PodcastIndexAPISecret,
			Timeout:    cfg.ResolveTimeout,
			RatePerSec: cfg.UpstreamRatePerSec,
		},
	)

	sanitizer := security.NewMetadataSanitizer()

	return resolver.NewEngine(
		feedRepo, trackRepo, lookup, sanitizer, collector, slog.Default(),
		resolver.Config{
			BatchSize:  cfg.ResolveBatchSize,
			BatchDelay: cfg.ResolveBatchDelay,
			MaxRetries: cfg.ResolveMaxRetries,
		},
	)
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	feedRepo := repository.NewPostgresFeedRepo(db)
	trackRepo := repository.NewPostgresTrackRepo(db)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. 解決エンジンの構築
	engine := newResolveEngine(cfg, feedRepo, trackRepo, collector)

	// 5. プレイリストサービスの構築
	ssrfGuard := security.NewSSRFGuard()
	playlistCache := cache.NewPlaylistCache(cfg.PlaylistCacheTTL)
	fetcher := playlist.NewSourceFetcher(ssrfGuard, slog.Default(), cfg.FetchTimeout, cfg.FetchMaxSize)
	detector := playlist.NewSourceDetector(ssrfGuard, cfg.FetchTimeout, cfg.FetchMaxSize)
	playlistService := playlist.NewService(
		playlistCache, engine, fetcher, detector, collector, slog.Default(),
	)

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		HealthChecker:     db,
		MetricsRegistry:   registry,
		PlaylistService:   playlistService,
		FeedReader:        feedRepo,
		TrackFinder:       trackRepo,
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、プレースホルダトラックの定期再解決ジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	feedRepo := repository.NewPostgresFeedRepo(db)
	trackRepo := repository.NewPostgresTrackRepo(db)

	// 3. 解決エンジンの構築
	// ワーカーは/metricsを公開しないためメトリクスは記録しない
	engine := newResolveEngine(cfg, feedRepo, trackRepo, metrics.NopCollector{})

	// 4. 再解決ジョブの構築
	job := reresolve.NewJob(trackRepo, engine, slog.Default(), reresolve.JobConfig{
		Interval:  cfg.ReresolveInterval,
		BatchSize: cfg.ReresolveBatchSize,
	})

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("reresolve_interval", cfg.ReresolveInterval),
		slog.Int("batch_size", cfg.ReresolveBatchSize),
	)

	// 再解決ジョブをメインgoroutineで実行（ブロッキング）
	job.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
