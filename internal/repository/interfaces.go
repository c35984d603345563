// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/ChadFarrow/stablekraft-app-sub010/internal/model"
)

// FeedRepository はソースフィードデータの永続化インターフェース。
// 解決パイプラインの長期キャッシュ（システムオブレコード）の一部。
type FeedRepository interface {
	// FindByID は指定IDのフィードを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Feed, error)

	// FindByOriginalURL は元URLでフィードを検索する。見つからない場合はnilを返す。
	FindByOriginalURL(ctx context.Context, originalURL string) (*model.Feed, error)

	// Upsert はフィードを冪等にUPSERTする。
	// 既存レコード（同一ID、または同一original_url）がある場合はメタデータを
	// 上書き更新し、既存のIDを保持したレコードを返す。
	// 挿入時のユニーク制約違反は「並行する解決が先に作成した」として扱い、
	// エラーにせず既存レコードを取得し直して更新する。
	Upsert(ctx context.Context, feed *model.Feed) (*model.Feed, error)

	// UpdateFetchState はフィードの取得状態（fetch_status、last_error、
	// last_fetched_at）を更新する。
	UpdateFetchState(ctx context.Context, feed *model.Feed) error

	// ListAll は全フィードを作成日時の古い順に取得する。管理・レポート用。
	ListAll(ctx context.Context) ([]*model.Feed, error)
}

// TrackRepository はトラックデータの永続化インターフェース。
// (feed_id, guid) のユニーク制約が並行解決の仲裁点になる。
type TrackRepository interface {
	// FindByID は指定IDのトラックを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Track, error)

	// FindByPointer は (feedGUID, itemGUID) ポインタでトラックを検索する。
	// ポインタ経由で解決されたフィードはIDにフィードGUIDを使用するため、
	// feed_idとguidの等価検索になる。見つからない場合はnilを返す。
	FindByPointer(ctx context.Context, feedGUID, itemGUID string) (*model.Track, error)

	// FindByAnyID は候補識別子集合（内部ID、GUID、音声URL）のいずれかに
	// 一致するトラックを検索する。見つからない場合はnilを返す。
	// 空文字列の候補は照合に使用してはならない。
	FindByAnyID(ctx context.Context, candidates []string) (*model.Track, error)

	// Upsert はトラックを冪等にUPSERTする。
	// 既存レコード（同一 (feed_id, guid)）がある場合はメタデータを上書き更新し、
	// 既存のIDを保持したレコードを返す（プレースホルダのインプレース昇格）。
	// 挿入時のユニーク制約違反は「並行する解決が先に作成した」として扱い、
	// エラーにせず既存レコードを取得し直して更新する。
	Upsert(ctx context.Context, track *model.Track) (*model.Track, error)

	// ListNeedingResolution は再解決が必要なトラック（needs_resolution = TRUE）を
	// 更新日時の古い順に最大limit件取得する。
	ListNeedingResolution(ctx context.Context, limit int) ([]*model.Track, error)
}
