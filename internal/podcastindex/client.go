// Package podcastindex はサードパーティメタデータサービスへの
// レート制御付き読み取り専用クライアントを提供する。
// アップストリームへのアウトバウンド呼び出しはこのパッケージのみが行う。
// 永続ストアへの書き込みは一切行わない。
package podcastindex

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// userAgent はアップストリームへのリクエストに付与するUser-Agent。
const userAgent = "StableKraft/1.0 Music Discovery"

// StatusRecorder はアップストリームが返したHTTPステータスを記録する
// インターフェース。本番では metrics.Collector が実装する。
type StatusRecorder interface {
	RecordUpstreamStatus(statusCode int)
}

// Config はClientの設定パラメータ。
type Config struct {
	// BaseURL はメタデータサービスのAPIベースURL。
	BaseURL string
	// APIKey はクライアントキー。
	APIKey string
	// APISecret は共有シークレット。
	APISecret string
	// Timeout は1回の照会のタイムアウト。超過はLookupError(timeout)になる。
	Timeout time.Duration
	// RatePerSec はアップストリームへのソフトレート上限（req/sec）。
	RatePerSec float64
}

// Client はメタデータサービスのクライアント。
// リクエストごとに時刻窓付きの署名ヘッダを再計算する。
// 署名はリクエスト時刻を含むため、ヘッダの再利用は認証に失敗する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	statuses   StatusRecorder
	limiter    *rate.Limiter
	baseURL    string
	apiKey     string
	apiSecret  string
	timeout    time.Duration
	now        func() time.Time // テスト用に差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
// statusesはnil可（その場合ステータスは記録されない）。
func NewClient(httpClient *http.Client, logger *slog.Logger, statuses StatusRecorder, cfg Config) *Client {
	ratePerSec := cfg.RatePerSec
	if ratePerSec <= 0 {
		ratePerSec = 5.0
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		statuses:   statuses,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), 1),
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		timeout:    timeout,
		now:        time.Now,
	}
}

// LookupFeedByGuid はフィードGUIDでフィードメタデータを照会する。
// 未検出の場合はLookupError(not_found)を返す。リトライは行わない。
func (c *Client) LookupFeedByGuid(ctx context.Context, guid string) (*FeedInfo, error) {
	q := url.Values{}
	q.Set("guid", guid)

	var decoded feedResponse
	if err := c.get(ctx, "/podcasts/byguid", q, &decoded); err != nil {
		return nil, err
	}

	// ステータスフラグがfalse、またはfeedペイロードの欠落は未検出として扱う
	if decoded.Status != "true" || decoded.Feed == nil || decoded.Feed.ID == 0 {
		return nil, &LookupError{Kind: KindNotFound}
	}

	return decoded.Feed.toFeedInfo(), nil
}

// LookupEpisodeByGuid はフィード内部IDとアイテムGUIDでエピソードメタデータを照会する。
// フィード照会が先に成功してFeedIDが得られている場合にのみ呼び出せる。
// 未検出の場合はLookupError(not_found)を返す。リトライは行わない。
func (c *Client) LookupEpisodeByGuid(ctx context.Context, feedID int64, itemGUID string) (*EpisodeInfo, error) {
	q := url.Values{}
	q.Set("guid", itemGUID)
	q.Set("feedid", strconv.FormatInt(feedID, 10))

	var decoded episodeResponse
	if err := c.get(ctx, "/episodes/byguid", q, &decoded); err != nil {
		return nil, err
	}

	episode := decoded.Episode
	if episode == nil && len(decoded.Items) > 0 {
		episode = decoded.Items[0]
	}

	if decoded.Status != "true" || episode == nil || episode.GUID == "" {
		return nil, &LookupError{Kind: KindNotFound}
	}

	return episode.toEpisodeInfo(), nil
}

// get は認証ヘッダ付きのGETリクエストを実行してレスポンスをデコードする。
// 失敗はすべてLookupErrorに分類する。
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	// アップストリームのソフトレート上限を全呼び出しで共有する
	if err := c.limiter.Wait(ctx); err != nil {
		return &LookupError{Kind: KindTimeout, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := c.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	c.signRequest(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeoutError(err) {
			c.logger.Warn("メタデータサービスへのリクエストがタイムアウトしました",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return &LookupError{Kind: KindTimeout, Err: err}
		}
		c.logger.Error("メタデータサービスの呼び出しに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return &LookupError{Kind: KindTimeout, Err: err}
	}
	defer resp.Body.Close()

	if c.statuses != nil {
		c.statuses.RecordUpstreamStatus(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.logger.Warn("メタデータサービスがレート制限を返しました",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return &LookupError{Kind: KindRateLimited, Status: resp.StatusCode}
	case resp.StatusCode == http.StatusNotFound:
		return &LookupError{Kind: KindNotFound, Status: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		c.logger.Error("メタデータサービスがエラーステータスを返しました",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return &LookupError{Kind: KindUpstream, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &LookupError{Kind: KindMalformed, Err: err}
	}

	if err := json.Unmarshal(body, out); err != nil {
		c.logger.Error("メタデータサービスのレスポンスのパースに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return &LookupError{Kind: KindMalformed, Err: err}
	}

	return nil
}

// signRequest は時刻窓付きの認証ヘッダを付与する。
// Authorizationはsha1(key + secret + unixTime)の16進表現。
// タイムスタンプを埋め込むため、リクエストごとに再計算が必要。
func (c *Client) signRequest(req *http.Request) {
	ts := strconv.FormatInt(c.now().Unix(), 10)

	h := sha1.New()
	io.WriteString(h, c.apiKey)
	io.WriteString(h, c.apiSecret)
	io.WriteString(h, ts)

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Auth-Key", c.apiKey)
	req.Header.Set("X-Auth-Date", ts)
	req.Header.Set("Authorization", hex.EncodeToString(h.Sum(nil)))
}

// isTimeoutError はエラーがタイムアウト起因かを判定する。
func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) {
		return timeoutErr.Timeout()
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
