package publisher

import (
	"fmt"
	"strings"

	"github.com/hitoshi/telecast/internal/model"
)

const (
	// maxPlotRunes はあらすじの最大表示文字数。
	maxPlotRunes = 200
	// maxLinkButtons はキーボードに並べるダウンロードボタンの上限。
	maxLinkButtons = 8
)

// qualityButtonLabels は品質ラベルから絵文字付きボタンテキストへの対応表。
var qualityButtonLabels = map[string]string{
	"4K":       "🎥 4K UHD",
	"2160p":    "🎥 4K UHD",
	"1080p":    "📺 1080p FHD",
	"720p":     "📱 720p HD",
	"480p":     "📱 480p SD",
	"Download": "📥 Download",
}

// FormatItemMessage はコンテンツアイテムを投稿メッセージ（Markdown）に整形する。
// 空のフィールドの行は省略する。
func FormatItemMessage(item model.ContentItem) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🎬 *%s*", item.Title)

	if item.Quality != "" {
		fmt.Fprintf(&sb, "\n\n📊 Quality: %s", item.Quality)
	}
	if item.Year != "" {
		fmt.Fprintf(&sb, "\n📅 Year: %s", item.Year)
	}
	if item.Rating != "" {
		fmt.Fprintf(&sb, "\n⭐ Rating: %s", item.Rating)
	}
	if len(item.Genre) > 0 {
		fmt.Fprintf(&sb, "\n🎭 Genre: %s", strings.Join(item.Genre, ", "))
	}
	if item.Plot != "" {
		fmt.Fprintf(&sb, "\n\n📝 %s...", truncateRunes(item.Plot, maxPlotRunes))
	}

	if count := len(item.DownloadLinks); count > 0 {
		unit := "Links"
		if count == 1 {
			unit = "Link"
		}
		fmt.Fprintf(&sb, "\n\n💾 %d Download %s Available", count, unit)
		sb.WriteString("\n👇 _Click the buttons below to download_")
	}

	return sb.String()
}

// truncateRunes は文字列を最大n文字（rune単位）に切り詰める。
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// BuildLinkKeyboard はダウンロードリンクのインラインキーボードを組み立てる。
// ボタンは1行1個で最大maxLinkButtons件、末尾に詳細ページへの
// "More Info" ボタンを付ける。ボタンが1つもない場合はnilを返す。
func BuildLinkKeyboard(item model.ContentItem) *inlineKeyboard {
	var rows [][]keyboardButton

	for i, link := range item.DownloadLinks {
		if i >= maxLinkButtons {
			break
		}
		label, ok := qualityButtonLabels[link.Quality]
		if !ok {
			label = "📥 " + link.Quality
		}
		rows = append(rows, []keyboardButton{{Text: label, URL: link.URL}})
	}

	if item.URL != "" {
		rows = append(rows, []keyboardButton{{Text: "ℹ️ More Info", URL: item.URL}})
	}

	if len(rows) == 0 {
		return nil
	}
	return &inlineKeyboard{InlineKeyboard: rows}
}
