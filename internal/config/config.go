// Package config は環境変数からのアプリケーション設定読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Podcast Index API
	PodcastIndexAPIKey    string
	PodcastIndexAPISecret string
	PodcastIndexBaseURL   string

	// Resolve
	ResolveBatchSize   int
	ResolveBatchDelay  time.Duration
	ResolveTimeout     time.Duration
	ResolveMaxRetries  int
	UpstreamRatePerSec float64

	// Playlist source fetch
	FetchTimeout time.Duration
	FetchMaxSize int64

	// Cache
	PlaylistCacheTTL time.Duration

	// Worker
	ReresolveInterval  time.Duration
	ReresolveBatchSize int

	// Rate Limit
	RateLimitGeneral int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.PodcastIndexAPIKey = os.Getenv("PODCAST_INDEX_API_KEY")
	if cfg.PodcastIndexAPIKey == "" {
		missing = append(missing, "PODCAST_INDEX_API_KEY")
	}

	cfg.PodcastIndexAPISecret = os.Getenv("PODCAST_INDEX_API_SECRET")
	if cfg.PodcastIndexAPISecret == "" {
		missing = append(missing, "PODCAST_INDEX_API_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.PodcastIndexBaseURL = getEnvString("PODCAST_INDEX_BASE_URL", "https://api.podcastindex.org/api/1.0")
	cfg.ResolveBatchSize = getEnvInt("RESOLVE_BATCH_SIZE", 5)
	cfg.ResolveBatchDelay = getEnvDuration("RESOLVE_BATCH_DELAY", 1*time.Second)
	cfg.ResolveTimeout = getEnvDuration("RESOLVE_TIMEOUT", 10*time.Second)
	cfg.ResolveMaxRetries = getEnvInt("RESOLVE_MAX_RETRIES", 1)
	cfg.UpstreamRatePerSec = getEnvFloat("UPSTREAM_RATE_PER_SEC", 5.0)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.PlaylistCacheTTL = getEnvDuration("PLAYLIST_CACHE_TTL", 10*time.Minute)
	cfg.ReresolveInterval = getEnvDuration("RERESOLVE_INTERVAL", 30*time.Minute)
	cfg.ReresolveBatchSize = getEnvInt("RERESOLVE_BATCH_SIZE", 100)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
