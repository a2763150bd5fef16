package model

import "time"

// PostRecord は公開済みコンテンツの履歴レコードを表す。
// URLには一意制約があり、重複排除の唯一の根拠となる。
type PostRecord struct {
	ID        string
	Title     string
	URL       string
	PostedAt  time.Time
	UpdatedAt time.Time
}

// 設定ストアで使用するキー。管理APIとスケジューラが参照する。
const (
	// SettingKeyChannel は投稿先チャンネルの識別子（@name または数値ID）。
	SettingKeyChannel = "channel"
	// SettingKeyTimer は自動投稿間隔（分、1以上）。
	SettingKeyTimer = "timer"
	// SettingKeyAutoPost は自動投稿の有効フラグ（"true"/それ以外）。
	SettingKeyAutoPost = "auto_post_enabled"
)

// DefaultTimerMinutes はtimer設定が未設定の場合の自動投稿間隔（分）。
const DefaultTimerMinutes = 5

// LinkUpdate は既存コンテンツのダウンロードリンク変化を表す。
// リンクの追加と削除のどちらも変化として報告される。
// 削除のみの変化の場合、NewLinksは空になる。
type LinkUpdate struct {
	URL      string
	NewLinks []DownloadLink
}
