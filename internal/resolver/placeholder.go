package resolver

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ChadFarrow/stablekraft-app-sub010/internal/model"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/podcastindex"
)

// NewPlaceholderTrack は解決失敗ポインタのプレースホルダトラックを生成する。
// AudioURLは空、Durationはセンチネル値、NeedsResolutionはtrueになる。
// フィード照会が成功していた場合（部分解決）はfeedからartist/imageを引き継ぐ。
// feedはnil可。failedは「照会を試みて恒久的に失敗した」ことを示す
// （レート制限や一時障害による未解決と区別するため）。
func NewPlaceholderTrack(ref model.RemoteItem, feed *podcastindex.FeedInfo, failed bool) *model.Track {
	track := &model.Track{
		ID:               uuid.NewString(),
		FeedID:           ref.FeedGUID,
		GUID:             ref.ItemGUID,
		Title:            placeholderTitle(ref),
		Duration:         model.PlaceholderDuration,
		NeedsResolution:  true,
		ResolutionFailed: failed,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	if feed != nil {
		track.Artist = feed.Author
		track.ImageURL = feed.ImageURL
	}
	return track
}

// placeholderTitle はプレースホルダの表示名を生成する。
// 実トラックのタイトルと識別でき、かつ同一ポインタに対して安定である必要がある。
func placeholderTitle(ref model.RemoteItem) string {
	return fmt.Sprintf("[未解決] %s", shortGUID(ref.ItemGUID))
}

// shortGUID はGUIDの先頭部分を返す。表示用。
func shortGUID(guid string) string {
	const max = 12
	if len(guid) <= max {
		return guid
	}
	return guid[:max]
}
