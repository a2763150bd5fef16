// Package model はドメインモデルを定義する。
package model

import "time"

// ContentItem はスクレイプした1件のコンテンツを表す。
// 同一性はURLで判定する。タイトルは品質タグを除去した表示用テキストであり、
// 同一性判定には使用しない。
type ContentItem struct {
	Title         string
	URL           string
	PosterURL     string
	Quality       string
	Year          string
	Rating        string
	Genre         []string
	Plot          string
	DownloadLinks []DownloadLink
	ScrapedAt     time.Time
}

// DownloadLink は詳細ページから抽出したダウンロードリンクを表す。
type DownloadLink struct {
	URL     string
	Quality string // 固定ラベルセットのいずれか。判定不能時は "Download"
	Server  string // リンクURLのホストから導出したサーバー名
	Text    string // 元のアンカーテキスト
}

// qualityRanks はダウンロードリンクの品質ラベルのソート順。
// 値が小さいほど高品質。未知のラベルは rankUnknown として末尾に並ぶ。
var qualityRanks = map[string]int{
	"4K":       0,
	"2160p":    0,
	"1080p":    1,
	"720p":     2,
	"480p":     3,
	"Download": 4,
}

// rankUnknown はqualityRanksに存在しないラベルのランク。
const rankUnknown = 5

// QualityRank は品質ラベルのソートランクを返す（昇順＝高品質が先頭）。
func QualityRank(quality string) int {
	if rank, ok := qualityRanks[quality]; ok {
		return rank
	}
	return rankUnknown
}
