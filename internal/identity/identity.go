// Package identity はトラック識別子の正規化と照合を提供する。
//
// 同じ論理トラックが内部ID、コンテンツGUID、音声URLという異なる識別子形式で
// 参照されるため、呼び出し側ごとの場当たり的な等価判定の代わりに、
// トラックが取りうる識別子の候補集合を構築して照合する。
// 純粋関数のみで構成され、I/Oを行わない。
package identity

import (
	"github.com/ChadFarrow/stablekraft-app-sub010/internal/model"
)

// CandidateSet はトラックを正当に参照しうる識別子の集合。
type CandidateSet struct {
	ids map[string]struct{}
}

// NewCandidateSet は識別子群から候補集合を構築する。
// 空文字列は集合に追加しない（空の音声URL同士が誤って一致するのを防ぐ）。
func NewCandidateSet(ids ...string) CandidateSet {
	set := CandidateSet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if id == "" {
			continue
		}
		set.ids[id] = struct{}{}
	}
	return set
}

// ForTrack はトラックの全識別子形式（内部ID、GUID、音声URL）から候補集合を構築する。
func ForTrack(track *model.Track) CandidateSet {
	if track == nil {
		return NewCandidateSet()
	}
	return NewCandidateSet(track.ID, track.GUID, track.AudioURL)
}

// Contains は照合キーが候補集合に含まれるかを判定する。
// 空文字列のキーはいかなる集合にも一致しない。
func (s CandidateSet) Contains(key string) bool {
	if key == "" {
		return false
	}
	_, ok := s.ids[key]
	return ok
}

// Values は候補集合の識別子をスライスとして返す。
// 順序は保証されない。FindByAnyIDへの入力として使用する。
func (s CandidateSet) Values() []string {
	values := make([]string, 0, len(s.ids))
	for id := range s.ids {
		values = append(values, id)
	}
	return values
}

// Len は候補集合の要素数を返す。
func (s CandidateSet) Len() int {
	return len(s.ids)
}

// Matches は2つのトラックが同一の論理トラックを指しうるかを判定する。
// 一方の候補集合に他方の識別子のいずれかが含まれる場合にtrueを返す。
func Matches(a, b *model.Track) bool {
	if a == nil || b == nil {
		return false
	}
	setA := ForTrack(a)
	return setA.Contains(b.ID) || setA.Contains(b.GUID) || setA.Contains(b.AudioURL)
}
