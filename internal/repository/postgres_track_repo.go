package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ChadFarrow/stablekraft-app-sub010/internal/model"
)

// PostgresTrackRepo はPostgreSQLを使用したトラックリポジトリ。
type PostgresTrackRepo struct {
	db *sql.DB
}

// NewPostgresTrackRepo はPostgresTrackRepoを生成する。
func NewPostgresTrackRepo(db *sql.DB) *PostgresTrackRepo {
	return &PostgresTrackRepo{db: db}
}

const trackColumns = `id, feed_id, guid, title, artist, audio_url, image_url,
	        duration, needs_resolution, resolution_failed, created_at, updated_at`

// scanTrack は1行分のトラックレコードを読み取る。
func scanTrack(row interface{ Scan(...any) error }) (*model.Track, error) {
	track := &model.Track{}
	err := row.Scan(
		&track.ID, &track.FeedID, &track.GUID, &track.Title, &track.Artist,
		&track.AudioURL, &track.ImageURL, &track.Duration,
		&track.NeedsResolution, &track.ResolutionFailed,
		&track.CreatedAt, &track.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return track, nil
}

// FindByID は指定IDのトラックを取得する。見つからない場合はnilを返す。
func (r *PostgresTrackRepo) FindByID(ctx context.Context, id string) (*model.Track, error) {
	track, err := scanTrack(r.db.QueryRowContext(ctx,
		`SELECT `+trackColumns+` FROM tracks WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("トラックの取得に失敗しました: %w", err)
	}
	return track, nil
}

// FindByPointer は (feedGUID, itemGUID) ポインタでトラックを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresTrackRepo) FindByPointer(ctx context.Context, feedGUID, itemGUID string) (*model.Track, error) {
	if feedGUID == "" || itemGUID == "" {
		return nil, nil
	}
	track, err := scanTrack(r.db.QueryRowContext(ctx,
		`SELECT `+trackColumns+` FROM tracks WHERE feed_id = $1 AND guid = $2`,
		feedGUID, itemGUID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ポインタによるトラックの検索に失敗しました: %w", err)
	}
	return track, nil
}

// FindByAnyID は候補識別子集合のいずれかに一致するトラックを検索する。
// 内部ID、GUID、音声URLの順で照合し、最初に見つかったレコードを返す。
// 空文字列の候補は呼び出し側（identityパッケージ）で除外されている前提だが、
// 二重の防御としてここでも除外する。
func (r *PostgresTrackRepo) FindByAnyID(ctx context.Context, candidates []string) (*model.Track, error) {
	filtered := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c != "" {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		return nil, nil
	}

	track, err := scanTrack(r.db.QueryRowContext(ctx,
		`SELECT `+trackColumns+` FROM tracks
		 WHERE id = ANY($1) OR guid = ANY($1) OR audio_url = ANY($1)
		 ORDER BY created_at ASC
		 LIMIT 1`,
		pq.Array(filtered),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("候補識別子によるトラックの検索に失敗しました: %w", err)
	}
	return track, nil
}

// Upsert はトラックを冪等にUPSERTする。
// 既存レコード（同一 (feed_id, guid)）がある場合はメタデータを上書き更新し、
// 既存のIDを保持したレコードを返す。プレースホルダの昇格はこの経路で
// インプレースに行われる（IDが変わらない）。
// 挿入時の一意制約違反は「並行する解決が先に作成した」として扱う。
func (r *PostgresTrackRepo) Upsert(ctx context.Context, track *model.Track) (*model.Track, error) {
	existing, err := r.FindByPointer(ctx, track.FeedID, track.GUID)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		track.ID = existing.ID
		track.CreatedAt = existing.CreatedAt
		if err := r.update(ctx, track); err != nil {
			return nil, err
		}
		return track, nil
	}

	if err := r.insert(ctx, track); err != nil {
		if isUniqueViolation(err) {
			// 並行する解決が同じポインタを先に書き込んだ。
			// 既存レコードを取得し直し、last-write-winsで上書きする。
			existing, findErr := r.FindByPointer(ctx, track.FeedID, track.GUID)
			if findErr != nil {
				return nil, findErr
			}
			if existing == nil {
				return nil, fmt.Errorf("一意制約違反後にトラックを特定できませんでした: (%s, %s)", track.FeedID, track.GUID)
			}
			track.ID = existing.ID
			track.CreatedAt = existing.CreatedAt
			if err := r.update(ctx, track); err != nil {
				return nil, err
			}
			return track, nil
		}
		return nil, err
	}
	return track, nil
}

// insert はトラックを新規作成する。
func (r *PostgresTrackRepo) insert(ctx context.Context, track *model.Track) error {
	now := time.Now()
	if track.CreatedAt.IsZero() {
		track.CreatedAt = now
	}
	track.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tracks (id, feed_id, guid, title, artist, audio_url, image_url,
		                     duration, needs_resolution, resolution_failed, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		track.ID, track.FeedID, track.GUID, track.Title, track.Artist,
		track.AudioURL, track.ImageURL, track.Duration,
		track.NeedsResolution, track.ResolutionFailed,
		track.CreatedAt, track.UpdatedAt,
	)
	if err != nil && !isUniqueViolation(err) {
		return fmt.Errorf("トラックの作成に失敗しました: %w", err)
	}
	return err
}

// update は既存トラックを上書き更新する。
func (r *PostgresTrackRepo) update(ctx context.Context, track *model.Track) error {
	track.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx,
		`UPDATE tracks SET
		    title = $2, artist = $3, audio_url = $4, image_url = $5,
		    duration = $6, needs_resolution = $7, resolution_failed = $8, updated_at = $9
		 WHERE id = $1`,
		track.ID, track.Title, track.Artist, track.AudioURL, track.ImageURL,
		track.Duration, track.NeedsResolution, track.ResolutionFailed,
		track.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("トラックの更新に失敗しました: %w", err)
	}
	return nil
}

// ListNeedingResolution は再解決が必要なトラックを更新日時の古い順に取得する。
func (r *PostgresTrackRepo) ListNeedingResolution(ctx context.Context, limit int) ([]*model.Track, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+trackColumns+` FROM tracks
		 WHERE needs_resolution = TRUE
		 ORDER BY updated_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("再解決対象トラックの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var tracks []*model.Track
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("再解決対象トラックの読み取りに失敗しました: %w", err)
		}
		tracks = append(tracks, track)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("再解決対象トラックの走査に失敗しました: %w", err)
	}

	return tracks, nil
}

// compile-time interface check
var _ TrackRepository = (*PostgresTrackRepo)(nil)
