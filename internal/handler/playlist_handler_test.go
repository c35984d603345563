package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ChadFarrow/stablekraft-app-sub010/internal/model"
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/playlist"
)

// --- モック定義 ---

// mockPlaylistService はPlaylistServiceInterfaceのモック実装。
type mockPlaylistService struct {
	resolvePlaylistFn   func(ctx context.Context, playlistID string, refs []model.RemoteItem, opts playlist.ResolveOptions) (*model.PlaylistPayload, error)
	resolveFromSourceFn func(ctx context.Context, playlistID, inputURL string, opts playlist.ResolveOptions) (*model.PlaylistPayload, error)
	cachedPayloadFn     func(playlistID string) (*model.PlaylistPayload, bool)

	invalidatedIDs []string
}

func (m *mockPlaylistService) ResolvePlaylist(ctx context.Context, playlistID string, refs []model.RemoteItem, opts playlist.ResolveOptions) (*model.PlaylistPayload, error) {
	if m.resolvePlaylistFn != nil {
		return m.resolvePlaylistFn(ctx, playlistID, refs, opts)
	}
	return &model.PlaylistPayload{}, nil
}

func (m *mockPlaylistService) ResolveFromSource(ctx context.Context, playlistID, inputURL string, opts playlist.ResolveOptions) (*model.PlaylistPayload, error) {
	if m.resolveFromSourceFn != nil {
		return m.resolveFromSourceFn(ctx, playlistID, inputURL, opts)
	}
	return &model.PlaylistPayload{}, nil
}

func (m *mockPlaylistService) CachedPayload(playlistID string) (*model.PlaylistPayload, bool) {
	if m.cachedPayloadFn != nil {
		return m.cachedPayloadFn(playlistID)
	}
	return nil, false
}

func (m *mockPlaylistService) InvalidateCache(playlistID string) {
	m.invalidatedIDs = append(m.invalidatedIDs, playlistID)
}

// --- テストヘルパー ---

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// samplePayload はテスト用の解決済みペイロードを返す。
func samplePayload() *model.PlaylistPayload {
	return &model.PlaylistPayload{
		Tracks: []model.ResolvedTrack{
			{
				Position: 0,
				TrackID:  "track-1",
				FeedGUID: "feed-guid-1",
				ItemGUID: "item-guid-1",
				Title:    "Episode One",
				AudioURL: "https://cdn.example.com/ep1.mp3",
				Duration: 1800,
			},
		},
		ResolvedCount: 1,
		TotalCount:    1,
	}
}

// --- POST /api/playlists/resolve テスト ---

func TestPlaylistHandler_Resolve_WithRemoteItems(t *testing.T) {
	svc := &mockPlaylistService{
		resolvePlaylistFn: func(ctx context.Context, playlistID string, refs []model.RemoteItem, opts playlist.ResolveOptions) (*model.PlaylistPayload, error) {
			if playlistID != "pl-1" {
				t.Errorf("playlistID = %q, want %q", playlistID, "pl-1")
			}
			if len(refs) != 2 {
				t.Fatalf("refs = %d件, want 2件", len(refs))
			}
			// Positionはボディ内の出現順で採番される
			if refs[0].Position != 0 || refs[1].Position != 1 {
				t.Errorf("positions = %d, %d, want 0, 1", refs[0].Position, refs[1].Position)
			}
			if refs[1].FeedGUID != "feed-b" || refs[1].ItemGUID != "item-b" {
				t.Errorf("refs[1] = %+v, want feed-b/item-b", refs[1])
			}
			if opts.ForceRefresh {
				t.Error("ForceRefresh = true, want false")
			}
			return samplePayload(), nil
		},
	}
	h := NewPlaylistHandler(svc)

	body := `{"playlist_id": "pl-1", "remote_items": [
		{"feed_guid": "feed-a", "item_guid": "item-a"},
		{"feed_guid": "feed-b", "item_guid": "item-b"}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/api/playlists/resolve", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.Resolve(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var payload model.PlaylistPayload
	if err := json.NewDecoder(w.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.TotalCount != 1 {
		t.Errorf("TotalCount = %d, want 1", payload.TotalCount)
	}
	if payload.Tracks[0].TrackID != "track-1" {
		t.Errorf("TrackID = %q, want %q", payload.Tracks[0].TrackID, "track-1")
	}
}

func TestPlaylistHandler_Resolve_WithSourceURL(t *testing.T) {
	resolveFromSourceCalled := false
	svc := &mockPlaylistService{
		resolveFromSourceFn: func(ctx context.Context, playlistID, inputURL string, opts playlist.ResolveOptions) (*model.PlaylistPayload, error) {
			resolveFromSourceCalled = true
			if inputURL != "https://example.com/playlist" {
				t.Errorf("inputURL = %q, want %q", inputURL, "https://example.com/playlist")
			}
			if !opts.ForceRefresh {
				t.Error("ForceRefresh = false, want true")
			}
			return samplePayload(), nil
		},
		resolvePlaylistFn: func(ctx context.Context, playlistID string, refs []model.RemoteItem, opts playlist.ResolveOptions) (*model.PlaylistPayload, error) {
			t.Error("ResolvePlaylistが呼ばれた（source_url優先のはず）")
			return nil, nil
		},
	}
	h := NewPlaylistHandler(svc)

	// source_urlとremote_itemsの両方があればsource_urlが優先される
	body := `{"playlist_id": "pl-1", "source_url": "https://example.com/playlist", "force_refresh": true,
		"remote_items": [{"feed_guid": "feed-a", "item_guid": "item-a"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/playlists/resolve", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.Resolve(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !resolveFromSourceCalled {
		t.Error("ResolveFromSourceが呼ばれていない")
	}
}

func TestPlaylistHandler_Resolve_EmptyBody(t *testing.T) {
	h := NewPlaylistHandler(&mockPlaylistService{})

	body := `{"playlist_id": "pl-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/playlists/resolve", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.Resolve(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	resp := parseAPIErrorResponse(t, w)
	if resp["code"] != "INVALID_REQUEST" {
		t.Errorf("code = %q, want %q", resp["code"], "INVALID_REQUEST")
	}
}

func TestPlaylistHandler_Resolve_InvalidJSON(t *testing.T) {
	h := NewPlaylistHandler(&mockPlaylistService{})

	req := httptest.NewRequest(http.MethodPost, "/api/playlists/resolve", bytes.NewBufferString("{invalid"))
	w := httptest.NewRecorder()

	h.Resolve(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestPlaylistHandler_Resolve_APIErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        *model.APIError
		wantStatus int
	}{
		{"ssrf blocked", model.NewSSRFBlockedError(), http.StatusForbidden},
		{"invalid url", model.NewInvalidURLError("bad scheme"), http.StatusBadRequest},
		{"fetch failed", model.NewFetchFailedError("connection refused"), http.StatusBadGateway},
		{"parse failed", model.NewParseFailedError(), http.StatusUnprocessableEntity},
		{"empty playlist", model.NewEmptyPlaylistError(), http.StatusUnprocessableEntity},
		{"store unavailable", model.NewStoreUnavailableError("db down"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockPlaylistService{
				resolveFromSourceFn: func(ctx context.Context, playlistID, inputURL string, opts playlist.ResolveOptions) (*model.PlaylistPayload, error) {
					return nil, tt.err
				},
			}
			h := NewPlaylistHandler(svc)

			body := `{"playlist_id": "pl-1", "source_url": "https://example.com/playlist"}`
			req := httptest.NewRequest(http.MethodPost, "/api/playlists/resolve", bytes.NewBufferString(body))
			w := httptest.NewRecorder()

			h.Resolve(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			resp := parseAPIErrorResponse(t, w)
			if resp["code"] != tt.err.Code {
				t.Errorf("code = %q, want %q", resp["code"], tt.err.Code)
			}
		})
	}
}

func TestPlaylistHandler_Resolve_UnknownErrorReturns500(t *testing.T) {
	svc := &mockPlaylistService{
		resolveFromSourceFn: func(ctx context.Context, playlistID, inputURL string, opts playlist.ResolveOptions) (*model.PlaylistPayload, error) {
			return nil, errors.New("unexpected failure")
		},
	}
	h := NewPlaylistHandler(svc)

	body := `{"source_url": "https://example.com/playlist"}`
	req := httptest.NewRequest(http.MethodPost, "/api/playlists/resolve", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.Resolve(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	resp := parseAPIErrorResponse(t, w)
	if resp["code"] != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want %q", resp["code"], "INTERNAL_ERROR")
	}
}

// --- GET /api/playlists/{playlistID}/tracks テスト ---

func TestPlaylistHandler_GetTracks_CacheHit(t *testing.T) {
	svc := &mockPlaylistService{
		cachedPayloadFn: func(playlistID string) (*model.PlaylistPayload, bool) {
			if playlistID != "pl-1" {
				t.Errorf("playlistID = %q, want %q", playlistID, "pl-1")
			}
			return samplePayload(), true
		},
	}
	h := NewPlaylistHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/playlists/pl-1/tracks", nil)
	req = withChiURLParam(req, "playlistID", "pl-1")
	w := httptest.NewRecorder()

	h.GetTracks(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var payload model.PlaylistPayload
	if err := json.NewDecoder(w.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.ResolvedCount != 1 {
		t.Errorf("ResolvedCount = %d, want 1", payload.ResolvedCount)
	}
	if len(svc.invalidatedIDs) != 0 {
		t.Errorf("invalidated = %v, want 空", svc.invalidatedIDs)
	}
}

func TestPlaylistHandler_GetTracks_NotCached(t *testing.T) {
	h := NewPlaylistHandler(&mockPlaylistService{})

	req := httptest.NewRequest(http.MethodGet, "/api/playlists/pl-unknown/tracks", nil)
	req = withChiURLParam(req, "playlistID", "pl-unknown")
	w := httptest.NewRecorder()

	h.GetTracks(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	resp := parseAPIErrorResponse(t, w)
	if resp["code"] != "PLAYLIST_NOT_CACHED" {
		t.Errorf("code = %q, want %q", resp["code"], "PLAYLIST_NOT_CACHED")
	}
}

func TestPlaylistHandler_GetTracks_RefreshInvalidatesFirst(t *testing.T) {
	svc := &mockPlaylistService{}
	h := NewPlaylistHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/playlists/pl-1/tracks?refresh=true", nil)
	req = withChiURLParam(req, "playlistID", "pl-1")
	w := httptest.NewRecorder()

	h.GetTracks(w, req)

	// refresh=trueでキャッシュ破棄後、再解決を促す404が返る
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if len(svc.invalidatedIDs) != 1 || svc.invalidatedIDs[0] != "pl-1" {
		t.Errorf("invalidated = %v, want [pl-1]", svc.invalidatedIDs)
	}
}

// --- POST /api/cache/invalidate テスト ---

func TestPlaylistHandler_InvalidateCache_WithPlaylistID(t *testing.T) {
	svc := &mockPlaylistService{}
	h := NewPlaylistHandler(svc)

	body := `{"playlist_id": "pl-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/cache/invalidate", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.InvalidateCache(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if len(svc.invalidatedIDs) != 1 || svc.invalidatedIDs[0] != "pl-1" {
		t.Errorf("invalidated = %v, want [pl-1]", svc.invalidatedIDs)
	}
}

func TestPlaylistHandler_InvalidateCache_NoBodyClearsAll(t *testing.T) {
	svc := &mockPlaylistService{}
	h := NewPlaylistHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/cache/invalidate", nil)
	w := httptest.NewRecorder()

	h.InvalidateCache(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	// 空IDは全破棄を意味する
	if len(svc.invalidatedIDs) != 1 || svc.invalidatedIDs[0] != "" {
		t.Errorf("invalidated = %v, want [\"\"]", svc.invalidatedIDs)
	}
}

func TestPlaylistHandler_InvalidateCache_InvalidJSON(t *testing.T) {
	svc := &mockPlaylistService{}
	h := NewPlaylistHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/cache/invalidate", bytes.NewBufferString("{broken"))
	w := httptest.NewRecorder()

	h.InvalidateCache(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if len(svc.invalidatedIDs) != 0 {
		t.Errorf("invalidated = %v, want 空", svc.invalidatedIDs)
	}
}
