package podcastindex

import (
	"errors"
	"fmt"
)

// LookupKind はアップストリーム照会失敗の分類を表す。
type LookupKind int

const (
	// KindNotFound はフィードまたはエピソードがメタデータサービスに存在しないことを示す。
	// 自動リトライの対象外。呼び出し側でプレースホルダに縮退する。
	KindNotFound LookupKind = iota
	// KindRateLimited はレート制限（429）を示す。呼び出し側のバックオフ対象。
	KindRateLimited
	// KindTimeout はネットワークタイムアウトを示す。呼び出し側の限定リトライ対象。
	KindTimeout
	// KindMalformed は予期しないレスポンス形状を示す。NotFoundと同様に扱う。
	KindMalformed
	// KindUpstream はその他の非2xxレスポンスを示す。
	KindUpstream
)

// String はLookupKindの文字列表現を返す。ログとメトリクスのラベルに使用する。
func (k LookupKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindMalformed:
		return "malformed"
	case KindUpstream:
		return "upstream"
	default:
		return "unknown"
	}
}

// LookupError はアップストリーム照会の失敗を表す。
// このクライアント内ではリトライしない。リトライポリシーは呼び出し側の責務。
type LookupError struct {
	Kind   LookupKind
	Status int // KindUpstream / KindRateLimited のときのHTTPステータス
	Err    error
}

// Error はerrorインターフェースを実装する。
func (e *LookupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("アップストリーム照会に失敗しました（%s）: %v", e.Kind, e.Err)
	}
	if e.Status != 0 {
		return fmt.Sprintf("アップストリーム照会に失敗しました（%s, status=%d）", e.Kind, e.Status)
	}
	return fmt.Sprintf("アップストリーム照会に失敗しました（%s）", e.Kind)
}

// Unwrap はラップされたエラーを返す。
func (e *LookupError) Unwrap() error {
	return e.Err
}

// IsRateLimited はエラーがレート制限によるものかを判定する。
func IsRateLimited(err error) bool {
	return kindOf(err) == KindRateLimited
}

// IsNotFound はエラーが未検出によるものかを判定する。
// Malformedはログに記録した上で未検出と同様に扱う。
func IsNotFound(err error) bool {
	k := kindOf(err)
	return k == KindNotFound || k == KindMalformed
}

// IsTransient はエラーが一時的（タイムアウト/ネットワーク）かを判定する。
func IsTransient(err error) bool {
	return kindOf(err) == KindTimeout
}

func kindOf(err error) LookupKind {
	var le *LookupError
	if errors.As(err, &le) {
		return le.Kind
	}
	return LookupKind(-1)
}
