// Package handler はHTTP APIのハンドラー層を提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ChadFarrow/stablekraft-app-sub010/internal/model"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/playlist"
)

// PlaylistServiceInterface はプレイリストハンドラーが必要とするサービスインターフェース。
type PlaylistServiceInterface interface {
	// ResolvePlaylist はポインタ列を解決し、組み立て済みペイロードを返す。
	ResolvePlaylist(ctx context.Context, playlistID string, refs []model.RemoteItem, opts playlist.ResolveOptions) (*model.PlaylistPayload, error)
	// ResolveFromSource はプレイリストソースURLから解決を実行する。
	ResolveFromSource(ctx context.Context, playlistID, inputURL string, opts playlist.ResolveOptions) (*model.PlaylistPayload, error)
	// CachedPayload はキャッシュ済みペイロードを返す。解決は行わない。
	CachedPayload(playlistID string) (*model.PlaylistPayload, bool)
	// InvalidateCache は指定プレイリスト（空IDの場合は全体）のキャッシュを破棄する。
	InvalidateCache(playlistID string)
}

// PlaylistHandler はプレイリスト解決のHTTPハンドラー。
type PlaylistHandler struct {
	service PlaylistServiceInterface
}

// NewPlaylistHandler はPlaylistHandlerを生成する。
func NewPlaylistHandler(service PlaylistServiceInterface) *PlaylistHandler {
	return &PlaylistHandler{service: service}
}

// remoteItemRequest はリクエストボディ内のポインタ表現。
type remoteItemRequest struct {
	FeedGUID string `json:"feed_guid"`
	ItemGUID string `json:"item_guid"`
}

// resolveRequest はプレイリスト解決リクエストのボディ。
// SourceURLとRemoteItemsは排他で、SourceURLが優先される。
type resolveRequest struct {
	PlaylistID   string              `json:"playlist_id"`
	SourceURL    string              `json:"source_url"`
	RemoteItems  []remoteItemRequest `json:"remote_items"`
	ForceRefresh bool                `json:"force_refresh"`
}

// invalidateRequest はキャッシュ破棄リクエストのボディ。
type invalidateRequest struct {
	PlaylistID string `json:"playlist_id"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// Resolve はプレイリスト解決を処理する。
// POST /api/playlists/resolve
func (h *PlaylistHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	opts := playlist.ResolveOptions{ForceRefresh: req.ForceRefresh}

	var payload *model.PlaylistPayload
	var err error
	switch {
	case req.SourceURL != "":
		payload, err = h.service.ResolveFromSource(r.Context(), req.PlaylistID, req.SourceURL, opts)
	case len(req.RemoteItems) > 0:
		refs := make([]model.RemoteItem, 0, len(req.RemoteItems))
		for i, item := range req.RemoteItems {
			refs = append(refs, model.RemoteItem{
				FeedGUID: item.FeedGUID,
				ItemGUID: item.ItemGUID,
				Position: i,
			})
		}
		payload, err = h.service.ResolvePlaylist(r.Context(), req.PlaylistID, refs, opts)
	default:
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "source_urlまたはremote_itemsのいずれかが必要です。",
			Category: "validation",
			Action:   "解決対象のソースURLかポインタ列を指定してください。",
		})
		return
	}

	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(payload)
}

// GetTracks はキャッシュ済みプレイリストのトラック一覧を取得する。
// GET /api/playlists/{playlistID}/tracks
// refresh=trueの場合はキャッシュを破棄し、クライアントに再解決を促す。
func (h *PlaylistHandler) GetTracks(w http.ResponseWriter, r *http.Request) {
	playlistID := chi.URLParam(r, "playlistID")

	if r.URL.Query().Get("refresh") == "true" {
		h.service.InvalidateCache(playlistID)
	}

	payload, ok := h.service.CachedPayload(playlistID)
	if !ok {
		writeAPIErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "PLAYLIST_NOT_CACHED",
			Message:  "プレイリストのキャッシュが見つかりません。",
			Category: "playlist",
			Action:   "POST /api/playlists/resolve で再解決してください。",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(payload)
}

// InvalidateCache はキャッシュ破棄を処理する。
// POST /api/cache/invalidate
func (h *PlaylistHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
				Code:     "INVALID_REQUEST",
				Message:  "リクエストボディの解析に失敗しました。",
				Category: "validation",
				Action:   "正しいJSON形式でリクエストしてください。",
			})
			return
		}
	}

	h.service.InvalidateCache(req.PlaylistID)
	w.WriteHeader(http.StatusNoContent)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidURL:
		return http.StatusBadRequest
	case model.ErrCodeSSRFBlocked:
		return http.StatusForbidden
	case model.ErrCodeFetchFailed:
		return http.StatusBadGateway
	case model.ErrCodeParseFailed, model.ErrCodePlaylistNotDetected:
		return http.StatusUnprocessableEntity
	case model.ErrCodeEmptyPlaylist:
		return http.StatusUnprocessableEntity
	case model.ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case model.ErrCodeTrackNotFound, "PLAYLIST_NOT_CACHED", "FEED_NOT_FOUND":
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

var _ PlaylistServiceInterface = (*playlist.Service)(nil)
