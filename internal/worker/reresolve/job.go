// Package reresolve はプレースホルダトラックの再解決ジョブを提供する。
//
// 定期的にneeds_resolutionのトラックを取得し、永続レコードからポインタを
// 再構築して解決エンジンに渡す。解決に成功したプレースホルダは同じ
// レコードIDのままインプレースで昇格する。
package reresolve

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ChadFarrow/stablekraft-app-sub010/internal/model"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/repository"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/resolver"
)

// Resolver はポインタ解決のインターフェース。
// テスト時にモックに差し替え可能。
type Resolver interface {
	ResolveAll(ctx context.Context, refs []model.RemoteItem, opts resolver.Options) (*model.PlaylistPayload, error)
}

// JobConfig は再解決ジョブの設定パラメータ。
// 環境変数から設定可能。
type JobConfig struct {
	// Interval はジョブの実行間隔（デフォルト: 30分）。
	Interval time.Duration
	// BatchSize は1サイクルで処理するトラック数の上限（デフォルト: 100）。
	BatchSize int
}

// DefaultJobConfig はデフォルトのジョブ設定を返す。
func DefaultJobConfig() JobConfig {
	return JobConfig{
		Interval:  30 * time.Minute,
		BatchSize: 100,
	}
}

// Job はプレースホルダトラックの定期再解決ジョブ。
type Job struct {
	trackRepo         repository.TrackRepository
	engine            Resolver
	logger            *slog.Logger
	config            JobConfig
	consecutiveErrors int
	backoffUntil      time.Time
}

// NewJob はJobの新しいインスタンスを生成する。
func NewJob(
	trackRepo repository.TrackRepository,
	engine Resolver,
	logger *slog.Logger,
	config JobConfig,
) *Job {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &Job{
		trackRepo: trackRepo,
		engine:    engine,
		logger:    logger,
		config:    config,
	}
}

// Start はジョブをティッカーで定期実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context) {
	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	j.logger.Info("再解決ジョブを開始しました",
		slog.Duration("interval", j.config.Interval),
		slog.Int("batch_size", j.config.BatchSize),
	)

	// 起動直後に1回実行
	if err := j.RunOnce(ctx); err != nil {
		j.logger.Error("再解決サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("再解決ジョブを停止しました")
			return
		case <-ticker.C:
			if err := j.RunOnce(ctx); err != nil {
				j.logger.Error("再解決サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は1回の再解決サイクルを実行する。
func (j *Job) RunOnce(ctx context.Context) error {
	start := time.Now()

	// バックオフ中の場合はスキップ
	if !j.backoffUntil.IsZero() && time.Now().Before(j.backoffUntil) {
		j.logger.Info("再解決ジョブはバックオフ中のためスキップします",
			slog.Time("backoff_until", j.backoffUntil),
		)
		return nil
	}

	tracks, err := j.trackRepo.ListNeedingResolution(ctx, j.config.BatchSize)
	if err != nil {
		j.noteCycleError()
		return fmt.Errorf("再解決対象トラックの取得に失敗しました: %w", err)
	}

	if len(tracks) == 0 {
		j.logger.Info("再解決対象のトラックはありません")
		j.resetBackoff()
		return nil
	}

	// 永続レコードからポインタを再構築する。
	// ポインタ経由のトラックはFeedIDにフィードGUIDを保持している。
	refs := make([]model.RemoteItem, 0, len(tracks))
	for i, track := range tracks {
		if track.FeedID == "" || track.GUID == "" {
			continue
		}
		refs = append(refs, model.RemoteItem{
			FeedGUID: track.FeedID,
			ItemGUID: track.GUID,
			Position: i,
		})
	}
	if len(refs) == 0 {
		j.logger.Info("ポインタを再構築できる再解決対象がありません")
		j.resetBackoff()
		return nil
	}

	j.logger.Info("再解決サイクルを開始します",
		slog.Int("target_tracks", len(refs)),
	)

	payload, err := j.engine.ResolveAll(ctx, refs, resolver.Options{RetryPlaceholders: true})
	if err != nil {
		j.noteCycleError()
		return fmt.Errorf("再解決の実行に失敗しました: %w", err)
	}

	j.resetBackoff()
	j.logger.Info("再解決サイクルが完了しました",
		slog.Int("target_tracks", payload.TotalCount),
		slog.Int("resolved", payload.ResolvedCount),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// noteCycleError は連続エラーを記録し、閾値に達したらバックオフを適用する。
func (j *Job) noteCycleError() {
	j.consecutiveErrors++
	backoff := calculateErrorBackoff(j.consecutiveErrors)
	if backoff > 0 {
		j.backoffUntil = time.Now().Add(backoff)
		j.logger.Warn("連続エラーによりバックオフを適用します",
			slog.Int("consecutive_errors", j.consecutiveErrors),
			slog.Duration("backoff_duration", backoff),
		)
	}
}

// resetBackoff は連続エラーカウントとバックオフをリセットする。
func (j *Job) resetBackoff() {
	j.consecutiveErrors = 0
	j.backoffUntil = time.Time{}
}

// calculateErrorBackoff は連続エラー回数に基づくバックオフ時間を計算する。
// 3回連続: 30分、5回連続: 1時間、10回連続: 6時間。
func calculateErrorBackoff(consecutiveErrors int) time.Duration {
	switch {
	case consecutiveErrors >= 10:
		return 6 * time.Hour
	case consecutiveErrors >= 5:
		return 1 * time.Hour
	case consecutiveErrors >= 3:
		return 30 * time.Minute
	default:
		return 0
	}
}
