package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ChadFarrow/stablekraft-app-sub010/internal/identity"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/model"
)

// FeedReader はライブラリハンドラーが必要とするフィード読み取りインターフェース。
type FeedReader interface {
	FindByID(ctx context.Context, id string) (*model.Feed, error)
	ListAll(ctx context.Context) ([]*model.Feed, error)
}

// TrackFinder はトラック検索のインターフェース。
// 候補識別子集合（内部ID、GUID、音声URL）のいずれかで照合する。
type TrackFinder interface {
	FindByAnyID(ctx context.Context, candidates []string) (*model.Track, error)
}

// LibraryHandler は解決済みフィード・トラックの参照用HTTPハンドラー。
type LibraryHandler struct {
	feeds  FeedReader
	tracks TrackFinder
}

// NewLibraryHandler はLibraryHandlerを生成する。
func NewLibraryHandler(feeds FeedReader, tracks TrackFinder) *LibraryHandler {
	return &LibraryHandler{feeds: feeds, tracks: tracks}
}

// feedResponse はフィード情報のAPIレスポンス。
type feedResponse struct {
	ID            string     `json:"id"`
	OriginalURL   string     `json:"original_url"`
	Title         string     `json:"title"`
	Artist        string     `json:"artist"`
	ImageURL      string     `json:"image_url"`
	FetchStatus   string     `json:"fetch_status"`
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
}

// trackResponse はトラック情報のAPIレスポンス。
type trackResponse struct {
	ID               string `json:"id"`
	FeedID           string `json:"feed_id"`
	GUID             string `json:"guid"`
	Title            string `json:"title"`
	Artist           string `json:"artist"`
	AudioURL         string `json:"audio_url"`
	ImageURL         string `json:"image_url"`
	Duration         int    `json:"duration"`
	NeedsResolution  bool   `json:"needs_resolution"`
	ResolutionFailed bool   `json:"resolution_failed"`
}

// ListFeeds は解決済みフィードの一覧を取得する。
// GET /api/feeds
func (h *LibraryHandler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := h.feeds.ListAll(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	out := make([]feedResponse, 0, len(feeds))
	for _, feed := range feeds {
		out = append(out, toFeedResponse(feed))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(out)
}

// GetFeed はフィード詳細を取得する。
// GET /api/feeds/{id}
func (h *LibraryHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "id")

	feed, err := h.feeds.FindByID(r.Context(), feedID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if feed == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "FEED_NOT_FOUND",
			Message:  "指定されたフィードが見つかりません。",
			Category: "playlist",
			Action:   "フィードIDを確認してください。",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(toFeedResponse(feed))
}

// GetTrack はトラックを任意の識別子（内部ID、GUID、音声URL）で検索する。
// GET /api/tracks/{key}
// 空のキーは何にも一致しない。
func (h *LibraryHandler) GetTrack(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	candidates := identity.NewCandidateSet(key)
	if candidates.Len() == 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "トラックの識別子が空です。",
			Category: "validation",
			Action:   "内部ID、GUID、音声URLのいずれかを指定してください。",
		})
		return
	}

	track, err := h.tracks.FindByAnyID(r.Context(), candidates.Values())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if track == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewTrackNotFoundError(key))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(toTrackResponse(track))
}

func toFeedResponse(feed *model.Feed) feedResponse {
	return feedResponse{
		ID:            feed.ID,
		OriginalURL:   feed.OriginalURL,
		Title:         feed.Title,
		Artist:        feed.Artist,
		ImageURL:      feed.ImageURL,
		FetchStatus:   string(feed.FetchStatus),
		LastFetchedAt: feed.LastFetchedAt,
	}
}

func toTrackResponse(track *model.Track) trackResponse {
	return trackResponse{
		ID:               track.ID,
		FeedID:           track.FeedID,
		GUID:             track.GUID,
		Title:            track.Title,
		Artist:           track.Artist,
		AudioURL:         track.AudioURL,
		ImageURL:         track.ImageURL,
		Duration:         track.Duration,
		NeedsResolution:  track.NeedsResolution,
		ResolutionFailed: track.ResolutionFailed,
	}
}
