// Package security はアプリケーションのセキュリティ機能を提供する。
//
// MetadataSanitizerService はアップストリームのメタデータサービスや
// プレイリストソースから取得したタイトル・アーティスト名・説明文を
// サニタイズし、埋め込まれたマークアップやスクリプトを除去する。
// bluemondayのStrictPolicyを使用し、タグを一切許可しない。
package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// MetadataSanitizerService はメタデータ文字列のサニタイズ機能のインターフェースを定義する。
// 解決結果の永続化前に使用される。
type MetadataSanitizerService interface {
	// Sanitize は入力文字列から全てのHTMLタグを除去したプレーンテキストを返す。
	// HTMLエンティティはデコードし、前後の空白を除去する。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string

	// SanitizeURL はアップストリーム由来のURL（音声・画像）を検証する。
	// http/httpsの絶対URLのみ許可し、それ以外（javascript:、data:、相対URL等）は
	// 空文字列に落とす。前後の空白は除去する。
	SanitizeURL(raw string) string
}

// metadataSanitizer はMetadataSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type metadataSanitizer struct {
	policy *bluemonday.Policy
}

// NewMetadataSanitizer はMetadataSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicy（全タグ除去）を使用する。トラックタイトルやアーティスト名は
// プレーンテキストとして扱う。UI側でリッチ表示する要件はない。
func NewMetadataSanitizer() *metadataSanitizer {
	return &metadataSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力文字列から全てのHTMLタグを除去したプレーンテキストを返す。
func (s *metadataSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.policy.Sanitize(raw)
	// bluemondayはエンティティをエスケープ済みで返すため、表示用にデコードする
	return strings.TrimSpace(html.UnescapeString(stripped))
}

// SanitizeURL はアップストリーム由来のURLを検証し、http/https以外を空文字列に落とす。
// メタデータサービスのレスポンスはそのまま永続化・配信されるため、
// javascript:やdata:スキームのURLがトラックレコードに入ることを防ぐ。
func (s *metadataSanitizer) SanitizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return ""
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}
	if parsed.Host == "" {
		return ""
	}
	return trimmed
}
