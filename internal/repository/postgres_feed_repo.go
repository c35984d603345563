package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ChadFarrow/stablekraft-app-sub010/internal/model"
)

// uniqueViolationCode はPostgreSQLの一意制約違反のSQLSTATEコード。
const uniqueViolationCode = "23505"

// isUniqueViolation はエラーが一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolationCode
	}
	return false
}

// PostgresFeedRepo はPostgreSQLを使用したフィードリポジトリ。
type PostgresFeedRepo struct {
	db *sql.DB
}

// NewPostgresFeedRepo はPostgresFeedRepoを生成する。
func NewPostgresFeedRepo(db *sql.DB) *PostgresFeedRepo {
	return &PostgresFeedRepo{db: db}
}

const feedColumns = `id, original_url, title, artist, image_url,
	        fetch_status, last_error, last_fetched_at, created_at, updated_at`

// scanFeed は1行分のフィードレコードを読み取る。
func scanFeed(row interface{ Scan(...any) error }) (*model.Feed, error) {
	feed := &model.Feed{}
	var originalURL, lastError sql.NullString
	var lastFetchedAt sql.NullTime

	err := row.Scan(
		&feed.ID, &originalURL, &feed.Title, &feed.Artist, &feed.ImageURL,
		&feed.FetchStatus, &lastError, &lastFetchedAt,
		&feed.CreatedAt, &feed.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	feed.OriginalURL = nullStringValue(originalURL)
	feed.LastError = nullStringValue(lastError)
	if lastFetchedAt.Valid {
		t := lastFetchedAt.Time
		feed.LastFetchedAt = &t
	}

	return feed, nil
}

// FindByID は指定IDのフィードを取得する。見つからない場合はnilを返す。
func (r *PostgresFeedRepo) FindByID(ctx context.Context, id string) (*model.Feed, error) {
	feed, err := scanFeed(r.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	return feed, nil
}

// FindByOriginalURL は元URLでフィードを検索する。見つからない場合はnilを返す。
// 空URLでの照合は行わない（空URL同士が誤って一致するのを防ぐ）。
func (r *PostgresFeedRepo) FindByOriginalURL(ctx context.Context, originalURL string) (*model.Feed, error) {
	if originalURL == "" {
		return nil, nil
	}
	feed, err := scanFeed(r.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE original_url = $1`, originalURL,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("元URLによるフィードの検索に失敗しました: %w", err)
	}
	return feed, nil
}

// Upsert はフィードを冪等にUPSERTする。
// 既存レコードがある場合はメタデータを上書き更新し（last-write-wins）、
// 既存IDを保持したレコードを返す。挿入時の一意制約違反は並行作成として扱う。
func (r *PostgresFeedRepo) Upsert(ctx context.Context, feed *model.Feed) (*model.Feed, error) {
	existing, err := r.FindByID(ctx, feed.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil && feed.OriginalURL != "" {
		existing, err = r.FindByOriginalURL(ctx, feed.OriginalURL)
		if err != nil {
			return nil, err
		}
	}

	if existing != nil {
		feed.ID = existing.ID
		feed.CreatedAt = existing.CreatedAt
		if err := r.update(ctx, feed); err != nil {
			return nil, err
		}
		return feed, nil
	}

	if err := r.insert(ctx, feed); err != nil {
		// 並行する解決が同じフィードを先に作成した場合はエラーにせず、
		// 既存レコードを取得し直して上書き更新する。
		if isUniqueViolation(err) {
			return r.resolveConflict(ctx, feed)
		}
		return nil, err
	}
	return feed, nil
}

// resolveConflict は挿入時の一意制約違反後に既存レコードを特定して更新する。
func (r *PostgresFeedRepo) resolveConflict(ctx context.Context, feed *model.Feed) (*model.Feed, error) {
	existing, err := r.FindByID(ctx, feed.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil && feed.OriginalURL != "" {
		existing, err = r.FindByOriginalURL(ctx, feed.OriginalURL)
		if err != nil {
			return nil, err
		}
	}
	if existing == nil {
		return nil, fmt.Errorf("一意制約違反後にフィードを特定できませんでした: %s", feed.ID)
	}

	feed.ID = existing.ID
	feed.CreatedAt = existing.CreatedAt
	if err := r.update(ctx, feed); err != nil {
		return nil, err
	}
	return feed, nil
}

// insert はフィードを新規作成する。
func (r *PostgresFeedRepo) insert(ctx context.Context, feed *model.Feed) error {
	now := time.Now()
	if feed.CreatedAt.IsZero() {
		feed.CreatedAt = now
	}
	feed.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO feeds (id, original_url, title, artist, image_url,
		                    fetch_status, last_error, last_fetched_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		feed.ID, nullString(feed.OriginalURL), feed.Title, feed.Artist, feed.ImageURL,
		feed.FetchStatus, nullString(feed.LastError), nullTime(feed.LastFetchedAt),
		feed.CreatedAt, feed.UpdatedAt,
	)
	if err != nil && !isUniqueViolation(err) {
		return fmt.Errorf("フィードの作成に失敗しました: %w", err)
	}
	return err
}

// update はフィードのメタデータを上書き更新する。
func (r *PostgresFeedRepo) update(ctx context.Context, feed *model.Feed) error {
	feed.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx,
		`UPDATE feeds SET
		    original_url = $2, title = $3, artist = $4, image_url = $5,
		    fetch_status = $6, last_error = $7, last_fetched_at = $8, updated_at = $9
		 WHERE id = $1`,
		feed.ID, nullString(feed.OriginalURL), feed.Title, feed.Artist, feed.ImageURL,
		feed.FetchStatus, nullString(feed.LastError), nullTime(feed.LastFetchedAt),
		feed.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("フィードの更新に失敗しました: %w", err)
	}
	return nil
}

// ListAll は全フィードを作成日時の古い順に取得する。管理・レポート用。
func (r *PostgresFeedRepo) ListAll(ctx context.Context) ([]*model.Feed, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+feedColumns+` FROM feeds ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("フィード一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var feeds []*model.Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("フィードの読み取りに失敗しました: %w", err)
		}
		feeds = append(feeds, feed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フィード一覧の走査に失敗しました: %w", err)
	}
	return feeds, nil
}

// UpdateFetchState はフィードの取得状態を更新する。
func (r *PostgresFeedRepo) UpdateFetchState(ctx context.Context, feed *model.Feed) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE feeds SET
		    fetch_status = $2,
		    last_error = $3,
		    last_fetched_at = $4,
		    updated_at = now()
		 WHERE id = $1`,
		feed.ID,
		feed.FetchStatus,
		nullString(feed.LastError),
		nullTime(feed.LastFetchedAt),
	)
	if err != nil {
		return fmt.Errorf("フィード取得状態の更新に失敗しました: %w", err)
	}
	return nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullTime は*time.Timeをsql.NullTimeに変換する。
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// compile-time interface check
var _ FeedRepository = (*PostgresFeedRepo)(nil)
