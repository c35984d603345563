package playlist

import (
	"testing"
)

// samplePlaylistRSS はpodcast:remoteItemをチャンネル直下に持つプレイリストRSS。
const samplePlaylistRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:podcast="https://podcastindex.org/namespace/1.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
  <channel>
    <title>サンプルプレイリスト</title>
    <itunes:author>DJ Example</itunes:author>
    <podcast:medium>musicL</podcast:medium>
    <podcast:remoteItem feedGuid="feed-guid-1" itemGuid="item-guid-1"/>
    <podcast:remoteItem feedGuid="feed-guid-2" itemGuid="item-guid-2"/>
    <podcast:remoteItem feedGuid="feed-guid-1" itemGuid="item-guid-1"/>
  </channel>
</rss>`

// TestParseRemoteItems_ChannelLevel はチャンネル直下のremoteItemを出現順に抽出することをテストする。
func TestParseRemoteItems_ChannelLevel(t *testing.T) {
	parsed, err := ParseRemoteItems([]byte(samplePlaylistRSS))
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	if parsed.Title != "サンプルプレイリスト" {
		t.Errorf("タイトルが想定と異なる: %s", parsed.Title)
	}
	if parsed.Author != "DJ Example" {
		t.Errorf("作者が想定と異なる: %s", parsed.Author)
	}
	if len(parsed.RemoteItems) != 3 {
		t.Fatalf("remoteItem数が想定と異なる: %d", len(parsed.RemoteItems))
	}

	first := parsed.RemoteItems[0]
	if first.FeedGUID != "feed-guid-1" || first.ItemGUID != "item-guid-1" {
		t.Errorf("先頭のremoteItemが想定と異なる: %+v", first)
	}
	for i, item := range parsed.RemoteItems {
		if item.Position != i {
			t.Errorf("位置%dのremoteItemのPositionが%d", i, item.Position)
		}
	}

	// 重複はパース段階では除去しない（位置保持のため）。重複除去は解決エンジンの責務。
	if parsed.RemoteItems[2].Key() != parsed.RemoteItems[0].Key() {
		t.Error("重複remoteItemが位置つきで保持されるべき")
	}
}

// TestParseRemoteItems_ItemLevel はチャンネルに1件もない場合にアイテム配下を走査することをテストする。
func TestParseRemoteItems_ItemLevel(t *testing.T) {
	body := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:podcast="https://podcastindex.org/namespace/1.0">
  <channel>
    <title>アイテム配下のプレイリスト</title>
    <item>
      <title>entry</title>
      <podcast:remoteItem feedGuid="feed-a" itemGuid="item-a"/>
    </item>
    <item>
      <title>entry2</title>
      <podcast:remoteItem feedGuid="feed-b" itemGuid="item-b"/>
    </item>
  </channel>
</rss>`

	parsed, err := ParseRemoteItems([]byte(body))
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if len(parsed.RemoteItems) != 2 {
		t.Fatalf("remoteItem数が想定と異なる: %d", len(parsed.RemoteItems))
	}
	if parsed.RemoteItems[1].FeedGUID != "feed-b" || parsed.RemoteItems[1].Position != 1 {
		t.Errorf("アイテム配下のremoteItemが想定と異なる: %+v", parsed.RemoteItems[1])
	}
}

// TestParseRemoteItems_MissingAttributes は属性を欠くremoteItemも位置を保持して返すことをテストする。
func TestParseRemoteItems_MissingAttributes(t *testing.T) {
	body := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:podcast="https://podcastindex.org/namespace/1.0">
  <channel>
    <title>壊れたプレイリスト</title>
    <podcast:remoteItem feedGuid="feed-a" itemGuid="item-a"/>
    <podcast:remoteItem feedGuid="feed-b"/>
    <podcast:remoteItem feedGuid="feed-c" itemGuid="item-c"/>
  </channel>
</rss>`

	parsed, err := ParseRemoteItems([]byte(body))
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if len(parsed.RemoteItems) != 3 {
		t.Fatalf("属性を欠くremoteItemも保持されるべき: %d", len(parsed.RemoteItems))
	}
	if parsed.RemoteItems[1].ItemGUID != "" {
		t.Errorf("itemGuidなしの要素は空文字列になるべき: %q", parsed.RemoteItems[1].ItemGUID)
	}
	if parsed.RemoteItems[2].Position != 2 {
		t.Errorf("後続要素の位置がずれている: %d", parsed.RemoteItems[2].Position)
	}
}

// TestParseRemoteItems_NoRemoteItems はremoteItemを含まないRSSで空の結果を返すことをテストする。
func TestParseRemoteItems_NoRemoteItems(t *testing.T) {
	body := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>ただのフィード</title><item><title>x</title></item></channel></rss>`

	parsed, err := ParseRemoteItems([]byte(body))
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if len(parsed.RemoteItems) != 0 {
		t.Errorf("remoteItemなしでは空の結果を返すべき: %d", len(parsed.RemoteItems))
	}
}

// TestParseRemoteItems_InvalidXML は壊れたドキュメントでパースエラーを返すことをテストする。
func TestParseRemoteItems_InvalidXML(t *testing.T) {
	if _, err := ParseRemoteItems([]byte("これはXMLではない")); err == nil {
		t.Error("壊れたドキュメントはエラーを返すべき")
	}
}
