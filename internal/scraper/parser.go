// Package scraper はソースサイトのスクレイプとコンテンツ抽出を提供する。
// リスティング/詳細ページのフェッチ、パース、品質メタデータの正規化、
// キャッシュを含む。
package scraper

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// maxListingItems はリスティングページから抽出する最大アイテム数。
const maxListingItems = 10

// RawItem はリスティングページから抽出した未正規化のアイテム断片。
type RawItem struct {
	Title     string
	URL       string
	PosterURL string
}

// Anchor は詳細ページから抽出したリンク要素。
type Anchor struct {
	URL  string
	Text string
}

// PageParser は生マークアップから構造化された断片を抽出するインターフェース。
// DOM解析の実装を差し替え可能にする。
type PageParser interface {
	// ParseListing はリスティングページのマークアップから
	// アイテム断片を最大maxListingItems件抽出する。
	ParseListing(r io.Reader) ([]RawItem, error)

	// ParseDetail は詳細ページのマークアップから、所定の構造位置にある
	// アンカー要素（URL・テキストの組）を抽出する。
	ParseDetail(r io.Reader) ([]Anchor, error)
}

// listingItemSelector はリスティングページのアイテム要素セレクタ。
const listingItemSelector = ".recent-movies > li.thumb"

// detailAnchorSelector は詳細ページでダウンロードリンクを探す構造位置。
const detailAnchorSelector = "h3 a, h4 a, h5 a, .page-body > div a, .entry-content a"

// GoqueryParser はgoqueryを使用したPageParserの実装。
type GoqueryParser struct{}

var _ PageParser = (*GoqueryParser)(nil)

// NewGoqueryParser はGoqueryParserを生成する。
func NewGoqueryParser() *GoqueryParser {
	return &GoqueryParser{}
}

// ParseListing はリスティングページからアイテム断片を抽出する。
// タイトルまたはURLが取れないアイテムは黙ってスキップする
// （1件の不正が残りの抽出を妨げない）。
func (p *GoqueryParser) ParseListing(r io.Reader) ([]RawItem, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("リスティングページの解析に失敗しました: %w", err)
	}

	var items []RawItem
	doc.Find(listingItemSelector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if len(items) >= maxListingItems {
			return false
		}

		title := sel.Find("figcaption a p").First().Text()
		href, _ := sel.Find("figure a").Last().Attr("href")
		poster, _ := sel.Find("figure img").First().Attr("src")

		if title == "" || href == "" {
			return true
		}

		items = append(items, RawItem{
			Title:     title,
			URL:       href,
			PosterURL: poster,
		})
		return true
	})

	return items, nil
}

// ParseDetail は詳細ページから所定の構造位置にあるアンカー要素を抽出する。
// href属性のないアンカーはスキップする。
func (p *GoqueryParser) ParseDetail(r io.Reader) ([]Anchor, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("詳細ページの解析に失敗しました: %w", err)
	}

	var anchors []Anchor
	doc.Find(detailAnchorSelector).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		anchors = append(anchors, Anchor{
			URL:  href,
			Text: strings.TrimSpace(sel.Text()),
		})
	})

	return anchors, nil
}
