// Package model はドメインモデルを定義する。
package model

import "time"

// PlaceholderDuration はプレースホルダトラックに設定する長さのセンチネル値（秒）。
// UIはこの値を「長さ不明」として描画する（0秒との区別のため）。
const PlaceholderDuration = 5999

// Track は再生可能なメディアアイテムの永続レコードを表す。
// 完全に解決されたレコードとして、またはプレースホルダ
// （NeedsResolution=true、AudioURL空、Durationセンチネル）として作成される。
// 1つのFeedに属する（多対1）。このパイプラインがTrackを削除することはない。
type Track struct {
	ID               string
	FeedID           string
	GUID             string
	Title            string
	Artist           string
	AudioURL         string
	ImageURL         string
	Duration         int // 秒
	NeedsResolution  bool
	ResolutionFailed bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RemoteItem はプレイリスト内のクロスフィードポインタを表す。
// 同一性は (FeedGUID, ItemGUID) の組で決まり、Positionは順序のみを規定する。
// プレイリストのソースマークアップのパース時に生成され、解決パスの間だけ
// 一時的に存在する（単独では永続化されない）。
type RemoteItem struct {
	FeedGUID string
	ItemGUID string
	Position int // 0始まり
}

// Key はポインタの同一性キーを返す。
func (r RemoteItem) Key() string {
	return r.FeedGUID + "|" + r.ItemGUID
}

// ResolvedTrack は解決済みプレイリストエントリを表す。
// プレイリスト内の位置とトラックのスナップショットを保持する。
type ResolvedTrack struct {
	Position    int    `json:"position"`
	TrackID     string `json:"track_id"`
	FeedGUID    string `json:"feed_guid"`
	ItemGUID    string `json:"item_guid"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	AudioURL    string `json:"audio_url"`
	ImageURL    string `json:"image_url"`
	Duration    int    `json:"duration"`
	Placeholder bool   `json:"placeholder"`
}

// PlaylistPayload はプレイリスト解決結果の集約ペイロード。
// エフェメラルキャッシュにはこの非正規化スナップショットが保存される。
type PlaylistPayload struct {
	Tracks        []ResolvedTrack `json:"tracks"`
	ResolvedCount int             `json:"resolved_count"`
	TotalCount    int             `json:"total_count"`
}
