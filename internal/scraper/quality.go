package scraper

import (
	"regexp"
	"sort"
	"strings"

	"github.com/hitoshi/telecast/internal/model"
)

// titleNoisePattern はタイトルから除去する品質タグ・コーデック表記。
var titleNoisePattern = regexp.MustCompile(`(?i)\b(480p|720p|1080p|2160p|4K|HEVC|x264|x265|HDRip|WEB-DL|BluRay)\b`)

// whitespacePattern は連続する空白文字。
var whitespacePattern = regexp.MustCompile(`\s+`)

// yearPattern はタイトル中の公開年（4桁の西暦）。
var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// ExtractYear はタイトルから公開年を抽出する。見つからない場合は空文字列を返す。
func ExtractYear(title string) string {
	return yearPattern.FindString(title)
}

// CleanTitle はタイトルから品質タグとコーデック表記を除去し、
// 連続する空白を1つにまとめる。
func CleanTitle(title string) string {
	cleaned := titleNoisePattern.ReplaceAllString(title, "")
	cleaned = whitespacePattern.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

// listingQualityRule はリスティングタイトルからの品質推定ルール。
type listingQualityRule struct {
	pattern *regexp.Regexp
	quality string
}

// listingQualityRules は品質推定の順序付きルールセット。先勝ちで評価する。
var listingQualityRules = []listingQualityRule{
	{regexp.MustCompile(`(?i)\b(4k|uhd|2160p)\b`), "4K UHD"},
	{regexp.MustCompile(`(?i)\b1080p\b`), "1080p FHD"},
	{regexp.MustCompile(`(?i)\b720p\b`), "720p HD"},
	{regexp.MustCompile(`(?i)\b480p\b`), "480p"},
	{regexp.MustCompile(`(?i)\bbluray\b`), "BluRay"},
	{regexp.MustCompile(`(?i)\b(web-?dl|webrip)\b`), "WEB-DL"},
}

// ListingQuality は生のタイトルテキストからコンテンツの品質ラベルを推定する。
// どのパターンにも一致しない場合は "HD" を返す。
func ListingQuality(text string) string {
	for _, rule := range listingQualityRules {
		if rule.pattern.MatchString(text) {
			return rule.quality
		}
	}
	return "HD"
}

// LinkQuality はアンカーテキストからダウンロードリンクの品質ラベルを判定する。
// 具体的な解像度表記を優先する（2160/4K/UHDを1080等より先に評価する）。
// 解像度なしの "HD" は720pとして扱い、判定不能なら "Download" を返す。
func LinkQuality(text string) string {
	upper := strings.ToUpper(text)

	switch {
	case strings.Contains(text, "2160") || strings.Contains(upper, "4K") || strings.Contains(upper, "UHD"):
		return "4K"
	case strings.Contains(text, "1440") || strings.Contains(upper, "QHD"):
		return "1440p"
	case strings.Contains(text, "1080") || strings.Contains(upper, "FHD"):
		return "1080p"
	case strings.Contains(text, "720"):
		return "720p"
	case strings.Contains(text, "480") || strings.Contains(upper, "SD"):
		return "480p"
	case strings.Contains(text, "360"):
		return "360p"
	case strings.Contains(upper, "HD"):
		return "720p"
	default:
		return "Download"
	}
}

// serverRule はリンクURLのホスト部分文字列からサーバー名を導出するルール。
type serverRule struct {
	substr string
	name   string
}

// serverRules はサーバー名導出の順序付きルールセット。
var serverRules = []serverRule{
	{"hubdrive", "HubDrive"},
	{"hubcloud", "HubCloud"},
	{"hubstream", "HubStream"},
	{"hdstream4u", "HDStream4u"},
	{"pixeldrain", "PixelDrain"},
	{"hubcdn", "HubCDN"},
	{"mega.nz", "Mega"},
	{"mediafire", "MediaFire"},
	{"drive.google", "Google Drive"},
}

// ServerName はリンクURLからサーバー名ラベルを導出する。
// どのルールにも一致しない場合は "Download" を返す。
func ServerName(linkURL string) string {
	lower := strings.ToLower(linkURL)
	for _, rule := range serverRules {
		if strings.Contains(lower, rule.substr) {
			return rule.name
		}
	}
	return "Download"
}

// allowedLinkDomains はダウンロードリンクとして許可するホストの部分文字列。
var allowedLinkDomains = []string{
	"hdstream4u", "hubstream", "hubdrive", "hubcloud",
	"hubcdn", "pixeldrain", "hblinks", "buzzserver",
	"mega.nz", "mediafire", "drive.google",
}

// isAllowedLinkURL はリンクURLが既知のファイルホストを指しているかを判定する。
func isAllowedLinkURL(linkURL string) bool {
	lower := strings.ToLower(linkURL)
	for _, domain := range allowedLinkDomains {
		if strings.Contains(lower, domain) {
			return true
		}
	}
	return false
}

// SortLinksByQuality はダウンロードリンクを品質ランク昇順（高品質が先頭）に
// 安定ソートする。同ランク内ではページ上の出現順を維持する。
func SortLinksByQuality(links []model.DownloadLink) {
	sort.SliceStable(links, func(i, j int) bool {
		return model.QualityRank(links[i].Quality) < model.QualityRank(links[j].Quality)
	})
}
