// Package model はドメインモデルを定義する。
package model

import "time"

// Feed はリモートアイテムの参照元となるソースフィードの永続レコードを表す。
// ポインタ経由で解決されたフィードはIDにフィードGUIDをそのまま使用し、
// ディスカバリ経由で登録されたフィードは合成UUIDを使用する。
type Feed struct {
	ID            string
	OriginalURL   string
	Title         string
	Artist        string
	ImageURL      string
	FetchStatus   FetchStatus
	LastError     string
	LastFetchedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FetchStatus はフィードの取得状態を表す。
type FetchStatus string

const (
	// FetchStatusActive はアクティブな状態。
	FetchStatusActive FetchStatus = "active"
	// FetchStatusError は直近の解決でエラーが発生した状態。
	FetchStatusError FetchStatus = "error"
)
