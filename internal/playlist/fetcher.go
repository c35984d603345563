package playlist

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// userAgent はプレイリストソース取得時のUser-Agentヘッダ。
const userAgent = "StableKraft/1.0 Playlist Resolver"

// SourceFetcher はプレイリストソース（RSSドキュメント）のHTTP取得を行う。
// SSRF検証付きクライアントを使用し、レスポンスサイズを制限する。
type SourceFetcher struct {
	ssrfGuard   SSRFValidator
	logger      *slog.Logger
	timeout     time.Duration
	maxBodySize int64
}

// NewSourceFetcher はSourceFetcherの新しいインスタンスを生成する。
func NewSourceFetcher(ssrfGuard SSRFValidator, logger *slog.Logger, timeout time.Duration, maxBodySize int64) *SourceFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxBodySize <= 0 {
		maxBodySize = 5 * 1024 * 1024
	}
	return &SourceFetcher{
		ssrfGuard:   ssrfGuard,
		logger:      logger,
		timeout:     timeout,
		maxBodySize: maxBodySize,
	}
}

// Fetch はソースURLからプレイリストRSSドキュメントを取得する。
func (f *SourceFetcher) Fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	start := time.Now()

	if err := f.ssrfGuard.ValidateURL(sourceURL); err != nil {
		f.logger.Warn("SSRF検証に失敗しました",
			slog.String("source_url", sourceURL),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	client := f.ssrfGuard.NewSafeClient(f.timeout, f.maxBodySize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	resp, err := client.Do(req)
	if err != nil {
		f.logger.Error("プレイリストソースの取得に失敗しました",
			slog.String("source_url", sourceURL),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f.logger.Warn("プレイリストソースが非200を返しました",
			slog.String("source_url", sourceURL),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("HTTPステータス %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}

	f.logger.Info("プレイリストソースを取得しました",
		slog.String("source_url", sourceURL),
		slog.Int("bytes", len(body)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return body, nil
}
