// Package resolver はリモートアイテムポインタのバッチ解決エンジンを提供する。
//
// エンジンはポインタ列を受け取り、重複を除去し、永続ストアを先に照会し、
// 未解決のポインタだけを固定サイズのバッチでメタデータサービスに問い合わせる。
// バッチ間には共有ディレイを挟み、レート制限応答を観測するとディレイを
// 増加させる。失敗したポインタはプレースホルダとして永続化し、
// 1件の失敗が実行全体を止めることはない（部分成功）。
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ChadFarrow/stablekraft-app-sub010/internal/metrics"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/model"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/podcastindex"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/repository"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/security"
)

// maxExtraDelay はレート制限バックオフで追加されるディレイの上限。
const maxExtraDelay = 30 * time.Second

// MetadataLookup はエンジンが必要とするメタデータサービス照会のインターフェース。
// 本番では podcastindex.Client が実装する。
type MetadataLookup interface {
	LookupFeedByGuid(ctx context.Context, guid string) (*podcastindex.FeedInfo, error)
	LookupEpisodeByGuid(ctx context.Context, feedID int64, itemGUID string) (*podcastindex.EpisodeInfo, error)
}

// Config は解決エンジンの動作パラメータ。
type Config struct {
	// BatchSize は同時に照会するポインタ数。
	BatchSize int
	// BatchDelay はバッチ間の基本ディレイ。
	BatchDelay time.Duration
	// MaxRetries は一時障害に対するポインタごとの再試行回数。
	MaxRetries int
}

// Options は1回の解決実行の挙動を制御する。
type Options struct {
	// RetryPlaceholders がtrueの場合、ストアに存在するプレースホルダも
	// 再度メタデータサービスに照会する（再解決パス用）。
	// falseの場合、ストアヒットは解決状態にかかわらずそのまま使用する。
	RetryPlaceholders bool
}

// Engine はリモートアイテムポインタのバッチ解決エンジン。
// 複数goroutineからの同時実行に対して安全。
type Engine struct {
	feedRepo  repository.FeedRepository
	trackRepo repository.TrackRepository
	lookup    MetadataLookup
	sanitizer security.MetadataSanitizerService
	collector metrics.MetricsCollector
	logger    *slog.Logger
	cfg       Config

	// レート制限バックオフの共有状態。バッチ間ディレイに加算される。
	mu         sync.Mutex
	extraDelay time.Duration

	// sleep はテストで差し替え可能なバッチ間待機。
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine は新しいEngineを生成する。
func NewEngine(
	feedRepo repository.FeedRepository,
	trackRepo repository.TrackRepository,
	lookup MetadataLookup,
	sanitizer security.MetadataSanitizerService,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg Config,
) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Engine{
		feedRepo:  feedRepo,
		trackRepo: trackRepo,
		lookup:    lookup,
		sanitizer: sanitizer,
		collector: collector,
		logger:    logger,
		cfg:       cfg,
		sleep:     sleepContext,
	}
}

// ResolveAll はポインタ列を解決し、元の位置順のペイロードを返す。
//
// 重複ポインタは1回だけ解決され、結果は全ての出現位置に複製される。
// メタデータサービスの失敗はプレースホルダに縮退するため実行を止めないが、
// 永続ストアの障害は即座にエラーとして返る。
func (e *Engine) ResolveAll(ctx context.Context, refs []model.RemoteItem, opts Options) (*model.PlaylistPayload, error) {
	if len(refs) == 0 {
		return &model.PlaylistPayload{Tracks: []model.ResolvedTrack{}}, nil
	}

	// 1. 重複除去（初出順を保持）とストア照会。
	// ストアに解決済みレコードがあるポインタは外部照会しない。
	results := make(map[string]*model.Track)
	seen := make(map[string]struct{}, len(refs))
	var pending []model.RemoteItem
	for _, ref := range refs {
		if ref.FeedGUID == "" || ref.ItemGUID == "" {
			// 不正なポインタ。永続化せず、組み立て時にプレースホルダを出力する。
			continue
		}
		key := ref.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		track, err := e.trackRepo.FindByPointer(ctx, ref.FeedGUID, ref.ItemGUID)
		if err != nil {
			return nil, fmt.Errorf("トラックの検索に失敗しました: %w", err)
		}
		if track != nil && (!track.NeedsResolution || !opts.RetryPlaceholders) {
			results[key] = track
			continue
		}
		pending = append(pending, ref)
	}

	e.logger.Info("ポインタ解決を開始します",
		slog.Int("total", len(refs)),
		slog.Int("store_hits", len(results)),
		slog.Int("pending", len(pending)),
	)

	// 2. 未解決ポインタを固定サイズのバッチで照会する。
	for start := 0; start < len(pending); start += e.cfg.BatchSize {
		if start > 0 {
			if err := e.sleep(ctx, e.interBatchDelay()); err != nil {
				return nil, err
			}
		}
		end := start + e.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		outcomes := make([]*model.Track, len(batch))
		errs := make([]error, len(batch))
		limited := make([]bool, len(batch))

		var wg sync.WaitGroup
		for i, ref := range batch {
			wg.Add(1)
			go func(i int, ref model.RemoteItem) {
				defer wg.Done()
				outcomes[i], limited[i], errs[i] = e.resolveOne(ctx, ref)
			}(i, ref)
		}
		wg.Wait()

		e.adjustDelay(anyTrue(limited))

		for i, ref := range batch {
			if errs[i] != nil {
				return nil, errs[i]
			}
			results[ref.Key()] = outcomes[i]
		}
	}

	// 3. 元の位置順に組み立てる。
	payload := &model.PlaylistPayload{
		Tracks:     make([]model.ResolvedTrack, 0, len(refs)),
		TotalCount: len(refs),
	}
	for _, ref := range refs {
		if ref.FeedGUID == "" || ref.ItemGUID == "" {
			payload.Tracks = append(payload.Tracks, model.ResolvedTrack{
				Position:    ref.Position,
				FeedGUID:    ref.FeedGUID,
				ItemGUID:    ref.ItemGUID,
				Title:       placeholderTitle(ref),
				Duration:    model.PlaceholderDuration,
				Placeholder: true,
			})
			continue
		}
		track := results[ref.Key()]
		entry := model.ResolvedTrack{
			Position:    ref.Position,
			TrackID:     track.ID,
			FeedGUID:    ref.FeedGUID,
			ItemGUID:    ref.ItemGUID,
			Title:       track.Title,
			Artist:      track.Artist,
			AudioURL:    track.AudioURL,
			ImageURL:    track.ImageURL,
			Duration:    track.Duration,
			Placeholder: track.NeedsResolution,
		}
		if track.AudioURL != "" {
			payload.ResolvedCount++
		}
		payload.Tracks = append(payload.Tracks, entry)
	}

	e.logger.Info("ポインタ解決が完了しました",
		slog.Int("total", payload.TotalCount),
		slog.Int("resolved", payload.ResolvedCount),
	)
	return payload, nil
}

// resolveOne は1つのポインタをフィード→エピソードの2段階で解決する。
// 戻り値のboolはレート制限応答を観測したかどうか。
// 戻り値のerrorは永続ストア障害のみで、メタデータサービスの失敗は
// プレースホルダに変換される。
func (e *Engine) resolveOne(ctx context.Context, ref model.RemoteItem) (*model.Track, bool, error) {
	feedInfo, err := e.lookupFeedWithRetry(ctx, ref.FeedGUID)
	if err != nil {
		e.logger.Warn("フィード照会に失敗しました",
			slog.String("feed_guid", ref.FeedGUID),
			slog.String("error", err.Error()),
		)
		e.collector.RecordResolveFailure(failureReason(err))
		track, serr := e.persistPlaceholder(ctx, ref, nil, err)
		return track, podcastindex.IsRateLimited(err), serr
	}

	// フィードレコードを長期キャッシュに反映する。
	// ポインタ経由のフィードはIDにフィードGUIDをそのまま使用する。
	now := time.Now()
	feed := &model.Feed{
		ID:            ref.FeedGUID,
		OriginalURL:   feedInfo.OriginalURL,
		Title:         e.sanitizer.Sanitize(feedInfo.Title),
		Artist:        e.sanitizer.Sanitize(feedInfo.Author),
		ImageURL:      e.sanitizer.SanitizeURL(feedInfo.ImageURL),
		FetchStatus:   model.FetchStatusActive,
		LastFetchedAt: &now,
	}
	savedFeed, serr := e.feedRepo.Upsert(ctx, feed)
	if serr != nil {
		return nil, false, fmt.Errorf("フィードの保存に失敗しました: %w", serr)
	}
	if savedFeed.ID != ref.FeedGUID {
		// 同じ配信URLを持つ既存フィードにUpsertが合流した。ポインタ照合と
		// tracks.feed_id の外部キーはフィードGUIDをIDとする行を前提とするため、
		// URLは既存行に残したままGUIDをIDとする行を別途確保する。
		alias := &model.Feed{
			ID:            ref.FeedGUID,
			Title:         feed.Title,
			Artist:        feed.Artist,
			ImageURL:      feed.ImageURL,
			FetchStatus:   model.FetchStatusActive,
			LastFetchedAt: &now,
		}
		if _, serr := e.feedRepo.Upsert(ctx, alias); serr != nil {
			return nil, false, fmt.Errorf("フィードの保存に失敗しました: %w", serr)
		}
	}

	episode, err := e.lookupEpisodeWithRetry(ctx, feedInfo.FeedID, ref.ItemGUID)
	if err != nil {
		// 部分解決: フィードは判明しているがエピソードが引けない。
		// フィード由来のartist/imageを持つプレースホルダとして記録する。
		e.logger.Warn("エピソード照会に失敗しました",
			slog.String("feed_guid", ref.FeedGUID),
			slog.String("item_guid", ref.ItemGUID),
			slog.String("error", err.Error()),
		)
		e.collector.RecordResolvePartial()
		e.collector.RecordResolveFailure(failureReason(err))
		track, serr := e.persistPlaceholder(ctx, ref, feedInfo, err)
		return track, podcastindex.IsRateLimited(err), serr
	}

	track := &model.Track{
		ID:       uuid.NewString(),
		FeedID:   ref.FeedGUID,
		GUID:     ref.ItemGUID,
		Title:    e.sanitizer.Sanitize(episode.Title),
		Artist:   e.sanitizer.Sanitize(feedInfo.Author),
		AudioURL: e.sanitizer.SanitizeURL(episode.EnclosureURL),
		ImageURL: e.sanitizer.SanitizeURL(episode.ImageURL),
		Duration: episode.Duration,
	}
	if track.ImageURL == "" {
		track.ImageURL = e.sanitizer.SanitizeURL(feedInfo.ImageURL)
	}
	if track.Title == "" {
		track.Title = placeholderTitle(ref)
	}
	if track.AudioURL == "" {
		// エンクロージャなしでは再生できないため、解決済みとは扱わない。
		track.NeedsResolution = true
		track.Duration = model.PlaceholderDuration
	}

	saved, serr := e.trackRepo.Upsert(ctx, track)
	if serr != nil {
		return nil, false, fmt.Errorf("トラックの保存に失敗しました: %w", serr)
	}
	if !saved.NeedsResolution {
		e.collector.RecordResolveSuccess()
	}
	return saved, false, nil
}

// persistPlaceholder はプレースホルダを永続化する。
// 並行する解決が先に完全なレコードを書き込んでいた場合は
// ダウングレードせず既存レコードを返す。
// causeは照会が失敗した原因エラー。フィード行が未作成の場合は
// トラックより先に「既知だが未解決」の最小フィード行を確保する
// （tracks.feed_id はfeedsへの外部キー）。
func (e *Engine) persistPlaceholder(ctx context.Context, ref model.RemoteItem, feedInfo *podcastindex.FeedInfo, cause error) (*model.Track, error) {
	existing, err := e.trackRepo.FindByPointer(ctx, ref.FeedGUID, ref.ItemGUID)
	if err != nil {
		return nil, fmt.Errorf("トラックの検索に失敗しました: %w", err)
	}
	if existing != nil && existing.AudioURL != "" {
		return existing, nil
	}

	if feedInfo == nil {
		if err := e.ensurePlaceholderFeed(ctx, ref, cause); err != nil {
			return nil, err
		}
	}

	placeholder := NewPlaceholderTrack(ref, feedInfo, isHardFailure(cause))
	if feedInfo != nil {
		placeholder.Artist = e.sanitizer.Sanitize(placeholder.Artist)
		placeholder.ImageURL = e.sanitizer.SanitizeURL(placeholder.ImageURL)
	}
	saved, err := e.trackRepo.Upsert(ctx, placeholder)
	if err != nil {
		return nil, fmt.Errorf("プレースホルダの保存に失敗しました: %w", err)
	}
	e.collector.RecordPlaceholderCreated()
	return saved, nil
}

// ensurePlaceholderFeed はフィードGUIDをIDとするフィード行の存在を保証する。
// フィード照会自体が失敗した場合でも、プレースホルダトラックを
// 書き込むためにはfeeds側の行が先に必要になる。
// 既存行があれば一切書き換えない（照会失敗で既知のメタデータを消さない）。
func (e *Engine) ensurePlaceholderFeed(ctx context.Context, ref model.RemoteItem, cause error) error {
	existing, err := e.feedRepo.FindByID(ctx, ref.FeedGUID)
	if err != nil {
		return fmt.Errorf("フィードの検索に失敗しました: %w", err)
	}
	if existing != nil {
		return nil
	}

	feed := &model.Feed{
		ID:          ref.FeedGUID,
		FetchStatus: model.FetchStatusError,
	}
	if cause != nil {
		feed.LastError = cause.Error()
	}
	if _, err := e.feedRepo.Upsert(ctx, feed); err != nil {
		return fmt.Errorf("フィードの保存に失敗しました: %w", err)
	}
	return nil
}

// lookupFeedWithRetry は一時障害に限り再試行付きでフィードを照会する。
func (e *Engine) lookupFeedWithRetry(ctx context.Context, guid string) (*podcastindex.FeedInfo, error) {
	var last error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		e.collector.RecordUpstreamCall("podcasts/byguid")
		start := time.Now()
		info, err := e.lookup.LookupFeedByGuid(ctx, guid)
		e.collector.RecordLookupLatency(time.Since(start))
		if err == nil {
			return info, nil
		}
		last = err
		if !podcastindex.IsTransient(err) {
			return nil, err
		}
	}
	return nil, last
}

// lookupEpisodeWithRetry は一時障害に限り再試行付きでエピソードを照会する。
func (e *Engine) lookupEpisodeWithRetry(ctx context.Context, feedID int64, itemGUID string) (*podcastindex.EpisodeInfo, error) {
	var last error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		e.collector.RecordUpstreamCall("episodes/byguid")
		start := time.Now()
		info, err := e.lookup.LookupEpisodeByGuid(ctx, feedID, itemGUID)
		e.collector.RecordLookupLatency(time.Since(start))
		if err == nil {
			return info, nil
		}
		last = err
		if !podcastindex.IsTransient(err) {
			return nil, err
		}
	}
	return nil, last
}

// interBatchDelay は現在のバッチ間ディレイ（基本値＋バックオフ分）を返す。
func (e *Engine) interBatchDelay() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.BatchDelay + e.extraDelay
}

// adjustDelay はバッチの観測結果に応じてバックオフ分を増減させる。
// レート制限を観測したバッチで倍増し、クリーンなバッチで半減する。
func (e *Engine) adjustDelay(rateLimited bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rateLimited {
		if e.extraDelay == 0 {
			e.extraDelay = e.cfg.BatchDelay
		} else {
			e.extraDelay *= 2
		}
		if e.extraDelay > maxExtraDelay {
			e.extraDelay = maxExtraDelay
		}
		e.logger.Warn("レート制限を検出したためバッチ間ディレイを拡大します",
			slog.Duration("extra_delay", e.extraDelay),
		)
	} else if e.extraDelay > 0 {
		e.extraDelay /= 2
	}
}

// isHardFailure は再解決パスでの再試行が無意味な恒久的失敗かどうかを返す。
func isHardFailure(err error) bool {
	return podcastindex.IsNotFound(err)
}

// failureReason はメトリクス用の失敗分類ラベルを返す。
func failureReason(err error) string {
	switch {
	case podcastindex.IsRateLimited(err):
		return "rate_limited"
	case podcastindex.IsNotFound(err):
		return "not_found"
	case podcastindex.IsTransient(err):
		return "transient"
	default:
		return "upstream"
	}
}

// sleepContext はコンテキストのキャンセルを尊重して待機する。
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func anyTrue(flags []bool) bool {
	for _, f := range flags {
		if f {
			return true
		}
	}
	return false
}

var _ MetadataLookup = (*podcastindex.Client)(nil)
