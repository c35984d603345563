package playlist

import (
	"context"
	"log/slog"

	"github.com/ChadFarrow/stablekraft-app-sub010/internal/cache"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/metrics"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/model"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/resolver"
)

// Resolver はポインタ解決のインターフェース。
// テスタビリティのためresolver.Engineを抽象化する。
type Resolver interface {
	ResolveAll(ctx context.Context, refs []model.RemoteItem, opts resolver.Options) (*model.PlaylistPayload, error)
}

// Fetcher はプレイリストソース取得のインターフェース。
type Fetcher interface {
	Fetch(ctx context.Context, sourceURL string) ([]byte, error)
}

// Detector はプレイリストソース検出のインターフェース。
type Detector interface {
	DetectSourceURL(ctx context.Context, inputURL string) (string, error)
}

// ResolveOptions は1回のプレイリスト解決の挙動を制御する。
type ResolveOptions struct {
	// ForceRefresh がtrueの場合、キャッシュを無視してストアと
	// メタデータサービスから再解決する。
	ForceRefresh bool
}

// Service はプレイリスト解決のサービス層。
// キャッシュ → 解決エンジンの順に照会し、組み立て済みペイロードを
// プレイリストIDをキーとしてキャッシュする。
type Service struct {
	cache     *cache.PlaylistCache
	engine    Resolver
	fetcher   Fetcher
	detector  Detector
	collector metrics.MetricsCollector
	logger    *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	playlistCache *cache.PlaylistCache,
	engine Resolver,
	fetcher Fetcher,
	detector Detector,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	return &Service{
		cache:     playlistCache,
		engine:    engine,
		fetcher:   fetcher,
		detector:  detector,
		collector: collector,
		logger:    logger,
	}
}

// ResolvePlaylist はポインタ列を解決し、組み立て済みペイロードを返す。
// キャッシュヒット時はストアにもメタデータサービスにも一切アクセスしない。
func (s *Service) ResolvePlaylist(ctx context.Context, playlistID string, refs []model.RemoteItem, opts ResolveOptions) (*model.PlaylistPayload, error) {
	if !opts.ForceRefresh && playlistID != "" {
		if payload, ok := s.cache.Get(playlistID); ok {
			s.collector.RecordCacheHit()
			s.logger.Info("プレイリストキャッシュにヒットしました",
				slog.String("playlist_id", playlistID),
			)
			return payload, nil
		}
		s.collector.RecordCacheMiss()
	}

	payload, err := s.engine.ResolveAll(ctx, refs, resolver.Options{})
	if err != nil {
		return nil, err
	}

	if playlistID != "" {
		s.cache.Set(playlistID, payload)
	}
	return payload, nil
}

// ResolveFromSource はプレイリストソースURLから解決を実行する。
// フロー: ソース検出 → 取得 → remoteItem抽出 → ポインタ解決
func (s *Service) ResolveFromSource(ctx context.Context, playlistID, inputURL string, opts ResolveOptions) (*model.PlaylistPayload, error) {
	if !opts.ForceRefresh && playlistID != "" {
		if payload, ok := s.cache.Get(playlistID); ok {
			s.collector.RecordCacheHit()
			return payload, nil
		}
		s.collector.RecordCacheMiss()
	}

	sourceURL, err := s.detector.DetectSourceURL(ctx, inputURL)
	if err != nil {
		return nil, err
	}

	body, err := s.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		return nil, model.NewFetchFailedError(err.Error())
	}

	parsed, err := ParseRemoteItems(body)
	if err != nil {
		return nil, err
	}
	if len(parsed.RemoteItems) == 0 {
		return nil, model.NewEmptyPlaylistError()
	}

	s.logger.Info("プレイリストソースを解析しました",
		slog.String("playlist_id", playlistID),
		slog.String("source_url", sourceURL),
		slog.String("title", parsed.Title),
		slog.Int("remote_items", len(parsed.RemoteItems)),
	)

	payload, err := s.engine.ResolveAll(ctx, parsed.RemoteItems, resolver.Options{})
	if err != nil {
		return nil, err
	}

	if playlistID != "" {
		s.cache.Set(playlistID, payload)
	}
	return payload, nil
}

// CachedPayload はキャッシュ済みペイロードを返す。解決は行わない。
func (s *Service) CachedPayload(playlistID string) (*model.PlaylistPayload, bool) {
	if playlistID == "" {
		return nil, false
	}
	payload, ok := s.cache.Get(playlistID)
	if ok {
		s.collector.RecordCacheHit()
	}
	return payload, ok
}

// InvalidateCache は指定プレイリストのキャッシュを破棄する。
// playlistIDが空の場合は全エントリを破棄する。
func (s *Service) InvalidateCache(playlistID string) {
	if playlistID == "" {
		s.cache.InvalidateAll()
		return
	}
	s.cache.Invalidate(playlistID)
}

var _ Resolver = (*resolver.Engine)(nil)
