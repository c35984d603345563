// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, playlist, resolve, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidURL          = "INVALID_URL"
	ErrCodeSSRFBlocked         = "SSRF_BLOCKED"
	ErrCodeFetchFailed         = "FETCH_FAILED"
	ErrCodeParseFailed         = "PARSE_FAILED"
	ErrCodePlaylistNotDetected = "PLAYLIST_NOT_DETECTED"
	ErrCodeEmptyPlaylist       = "EMPTY_PLAYLIST"
	ErrCodeStoreUnavailable    = "STORE_UNAVAILABLE"
	ErrCodeTrackNotFound       = "TRACK_NOT_FOUND"
)

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewFetchFailedError はプレイリストソースの取得失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("プレイリストソースの取得に失敗しました: %s", reason),
		Category: "playlist",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewParseFailedError はプレイリストソースのパース失敗エラーを生成する。
func NewParseFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeParseFailed,
		Message:  "プレイリストソースの解析に失敗しました。",
		Category: "playlist",
		Action:   "有効なRSSプレイリストかどうか確認してください。",
	}
}

// NewPlaylistNotDetectedError はプレイリスト未検出エラーを生成する。
func NewPlaylistNotDetectedError(url string) *APIError {
	return &APIError{
		Code:     ErrCodePlaylistNotDetected,
		Message:  fmt.Sprintf("指定されたURLからRSSプレイリストを検出できませんでした: %s", url),
		Category: "playlist",
		Action:   "プレイリストRSSのURLを直接入力するか、プレイリストが公開されているページのURLを確認してください。",
	}
}

// NewEmptyPlaylistError はリモートアイテムを含まないプレイリストのエラーを生成する。
func NewEmptyPlaylistError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyPlaylist,
		Message:  "プレイリストにリモートアイテムが含まれていません。",
		Category: "playlist",
		Action:   "remoteItem要素を含むプレイリストRSSを指定してください。",
	}
}

// NewStoreUnavailableError は永続ストア利用不能エラーを生成する。
// 解決パイプラインで唯一のフェイタルエラー。個別ポインタの失敗はここには含めない。
func NewStoreUnavailableError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  fmt.Sprintf("永続ストアにアクセスできません: %s", reason),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewTrackNotFoundError はトラック未検出エラーを生成する。
func NewTrackNotFoundError(key string) *APIError {
	return &APIError{
		Code:     ErrCodeTrackNotFound,
		Message:  fmt.Sprintf("指定されたトラックが見つかりません: %s", key),
		Category: "resolve",
		Action:   "トラックの識別子を確認してください。",
	}
}
