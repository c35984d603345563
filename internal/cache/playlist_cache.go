// Package cache はプレイリストペイロードのインプロセスキャッシュを提供する。
//
// 個々のポインタではなく、組み立て済みプレイリストペイロード全体を
// プレイリストIDをキーとして短時間保持する。永続ストアに対する
// 読み取りアクセラレータであり、真実のソースではない。
// いつクリアしても正しさには影響せず、レイテンシにのみ影響する。
package cache

import (
	"sync"
	"time"

	"github.com/ChadFarrow/stablekraft-app-sub010/internal/model"
)

// entry はキャッシュエントリ。書き込み時刻とTTLで鮮度を判定する。
type entry struct {
	payload   *model.PlaylistPayload
	writtenAt time.Time
	ttl       time.Duration
}

// PlaylistCache はプレイリストペイロードのTTL付きキャッシュ。
// バックグラウンドの掃除は行わず、読み取り時に遅延的に期限切れを検出する。
type PlaylistCache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	defaultTTL time.Duration
	now        func() time.Time // テスト用に差し替え可能
}

// NewPlaylistCache はPlaylistCacheを生成する。
// defaultTTLが0以下の場合は10分を使用する。
func NewPlaylistCache(defaultTTL time.Duration) *PlaylistCache {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	return &PlaylistCache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get はキーに対応するペイロードを返す。
// エントリが存在しないか期限切れの場合はミス（nil, false）を返す。
// 期限切れエントリは読み取り時に削除する。
func (c *PlaylistCache) Get(key string) (*model.PlaylistPayload, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if c.now().Sub(e.writtenAt) >= e.ttl {
		c.mu.Lock()
		// 再確認: 別のgoroutineが先に書き換えている可能性がある
		if cur, still := c.entries[key]; still && cur.writtenAt.Equal(e.writtenAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return e.payload, true
}

// Set はペイロードをデフォルトTTLで書き込む。既存エントリは丸ごと置き換える。
func (c *PlaylistCache) Set(key string, payload *model.PlaylistPayload) {
	c.SetWithTTL(key, payload, c.defaultTTL)
}

// SetWithTTL はペイロードを指定TTLで書き込む。
func (c *PlaylistCache) SetWithTTL(key string, payload *model.PlaylistPayload, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	c.entries[key] = entry{
		payload:   payload,
		writtenAt: c.now(),
		ttl:       ttl,
	}
	c.mu.Unlock()
}

// Invalidate は指定キーのエントリを削除する。
func (c *PlaylistCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll は全エントリを削除する。
func (c *PlaylistCache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Len は現在のエントリ数を返す（期限切れ未掃除のエントリを含む）。
func (c *PlaylistCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
