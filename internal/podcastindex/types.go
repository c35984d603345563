package podcastindex

// FeedInfo はフィード照会の結果メタデータ。
// 内部コンポーネントが型なしデータで分岐しないよう、
// アップストリームの動的フィールドはこの境界で明示的な構造体に検証・変換する。
type FeedInfo struct {
	// FeedID はメタデータサービス内部のフィード識別子。
	// エピソード照会（LookupEpisodeByGUID）に必要。
	FeedID      int64
	PodcastGUID string
	Title       string
	Author      string
	ImageURL    string
	OriginalURL string
}

// EpisodeInfo はエピソード照会の結果メタデータ。
type EpisodeInfo struct {
	GUID         string
	Title        string
	EnclosureURL string
	ImageURL     string
	Duration     int // 秒。アップストリームが0または欠落を返すことがある。
}

// feedResponse はフィード照会エンドポイントのレスポンス。
type feedResponse struct {
	Status string   `json:"status"`
	Feed   *feedDTO `json:"feed"`
}

// feedDTO はアップストリームのフィードレコード。
// 欠落しうるフィールドはゼロ値として扱う。
type feedDTO struct {
	ID          int64  `json:"id"`
	PodcastGUID string `json:"podcastGuid"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Image       string `json:"image"`
	Artwork     string `json:"artwork"`
	URL         string `json:"url"`
}

// episodeResponse はエピソード照会エンドポイントのレスポンス。
// エンドポイントによってepisode単体またはitems配列で返る。
type episodeResponse struct {
	Status  string        `json:"status"`
	Episode *episodeDTO   `json:"episode"`
	Items   []*episodeDTO `json:"items"`
}

// episodeDTO はアップストリームのエピソードレコード。
type episodeDTO struct {
	GUID         string `json:"guid"`
	Title        string `json:"title"`
	EnclosureURL string `json:"enclosureUrl"`
	Image        string `json:"image"`
	FeedImage    string `json:"feedImage"`
	Duration     int    `json:"duration"`
}

// toFeedInfo はDTOを検証済みのFeedInfoに変換する。
func (d *feedDTO) toFeedInfo() *FeedInfo {
	image := d.Artwork
	if image == "" {
		image = d.Image
	}
	return &FeedInfo{
		FeedID:      d.ID,
		PodcastGUID: d.PodcastGUID,
		Title:       d.Title,
		Author:      d.Author,
		ImageURL:    image,
		OriginalURL: d.URL,
	}
}

// toEpisodeInfo はDTOを検証済みのEpisodeInfoに変換する。
func (d *episodeDTO) toEpisodeInfo() *EpisodeInfo {
	image := d.Image
	if image == "" {
		image = d.FeedImage
	}
	return &EpisodeInfo{
		GUID:         d.GUID,
		Title:        d.Title,
		EnclosureURL: d.EnclosureURL,
		ImageURL:     image,
		Duration:     d.Duration,
	}
}
