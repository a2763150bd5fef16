// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/telecast/internal/model"
)

// PostRepository は投稿履歴の永続化インターフェース。
// 重複排除はストレージ層のurl一意制約で強制される。
// 統計カウンターはすべてクエリで導出し、別個のカウンターは保持しない。
type PostRepository interface {
	// IsPosted は指定URLが投稿済みかどうかを返す。
	IsPosted(ctx context.Context, url string) (bool, error)

	// Add は投稿履歴を追加する。
	// urlが既に存在する場合はfalseを返す。重複はエラーではなく
	// スキップ指示として扱う（事前の存在チェックではなく一意制約で判定する）。
	Add(ctx context.Context, title, url string) (bool, error)

	// ListRecent は直近の投稿をposted_at降順で最大limit件返す。
	ListRecent(ctx context.Context, limit int) ([]model.PostRecord, error)

	// CountAll は全投稿数を返す。
	CountAll(ctx context.Context) (int, error)

	// CountToday は当日（DBサーバーの暦日基準）の投稿数を返す。
	CountToday(ctx context.Context) (int, error)

	// LastPostedAt は最後の投稿日時を返す。投稿がない場合はnilを返す。
	LastPostedAt(ctx context.Context) (*time.Time, error)

	// DeleteOlderThan は指定日数より古い投稿を削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, days int) (int, error)

	// TouchUpdated は指定URLの投稿のupdated_atを現在時刻に更新する。
	// ダウンロードリンクの更新を検知した際に使用する。
	TouchUpdated(ctx context.Context, url string) error
}

// SettingRepository は設定キーバリューの永続化インターフェース。
type SettingRepository interface {
	// Get は指定キーの設定値を返す。未設定の場合は空文字列とfalseを返す。
	Get(ctx context.Context, key string) (string, bool, error)

	// Set は設定値を保存する。既存キーは上書きする。
	Set(ctx context.Context, key, value string) error
}
