package playlist

import (
	"strings"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"github.com/ChadFarrow/stablekraft-app-sub010/internal/model"
)

// ParsedPlaylist はプレイリストソースのパース結果。
type ParsedPlaylist struct {
	Title       string
	Author      string
	ImageURL    string
	RemoteItems []model.RemoteItem
}

// ParseRemoteItems はプレイリストRSSドキュメントをパースし、
// remoteItem要素をドキュメント内の出現順（0始まりの位置付き）で抽出する。
//
// remoteItemはチャンネル直下に現れるのが通常だが、アイテム配下にのみ
// 現れるソースも存在するため、チャンネルに1件もない場合はアイテムを走査する。
// feedGuid/itemGuidを欠く要素も位置を保持したまま返す（後段で
// プレースホルダとして扱われる）。
func ParseRemoteItems(body []byte) (*ParsedPlaylist, error) {
	parser := gofeed.NewParser()
	parsed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, model.NewParseFailedError()
	}

	result := &ParsedPlaylist{
		Title:  parsed.Title,
		Author: feedAuthor(parsed),
	}
	if parsed.Image != nil {
		result.ImageURL = parsed.Image.URL
	}

	position := 0
	for _, e := range podcastExtensions(parsed.Extensions, "remoteItem") {
		result.RemoteItems = append(result.RemoteItems, toRemoteItem(e, position))
		position++
	}

	if len(result.RemoteItems) == 0 {
		for _, item := range parsed.Items {
			for _, e := range podcastExtensions(item.Extensions, "remoteItem") {
				result.RemoteItems = append(result.RemoteItems, toRemoteItem(e, position))
				position++
			}
		}
	}

	return result, nil
}

// podcastExtensions はpodcast名前空間の指定要素を取り出す。
// gofeedは要素名の大文字小文字をドキュメントのまま保持するため両方を引く。
func podcastExtensions(extensions ext.Extensions, name string) []ext.Extension {
	ns, ok := extensions["podcast"]
	if !ok {
		return nil
	}
	if out, ok := ns[name]; ok {
		return out
	}
	return ns[strings.ToLower(name)]
}

// toRemoteItem はremoteItem要素の属性をRemoteItemに変換する。
func toRemoteItem(e ext.Extension, position int) model.RemoteItem {
	return model.RemoteItem{
		FeedGUID: strings.TrimSpace(attr(e, "feedGuid")),
		ItemGUID: strings.TrimSpace(attr(e, "itemGuid")),
		Position: position,
	}
}

// attr は属性値を大文字小文字を無視して取り出す。
func attr(e ext.Extension, name string) string {
	if v, ok := e.Attrs[name]; ok {
		return v
	}
	return e.Attrs[strings.ToLower(name)]
}

// feedAuthor はパース済みフィードから作者名を取り出す。
func feedAuthor(parsed *gofeed.Feed) string {
	if len(parsed.Authors) > 0 && parsed.Authors[0] != nil {
		return parsed.Authors[0].Name
	}
	if parsed.ITunesExt != nil {
		return parsed.ITunesExt.Author
	}
	return ""
}
