package scraper

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"

	"github.com/hitoshi/telecast/internal/cache"
	"github.com/hitoshi/telecast/internal/model"
	"github.com/hitoshi/telecast/internal/security"
)

// feedContentTypes はフィードとして認識するlink要素のtype属性値。
var feedContentTypes = map[string]struct{}{
	"application/rss+xml":  {},
	"application/atom+xml": {},
}

// FeedSource はRSS/Atomフィード経由でリスティングを取得するContentSource。
// フィードの自動検出に失敗した場合はHTMLスクレイプにフォールバックする。
// ダウンロードリンク系の操作は常にHTML側へ委譲する（フィードには
// 詳細ページの情報が含まれないため）。
type FeedSource struct {
	htmlSource *Service
	fetcher    Fetcher
	feedParser *gofeed.Parser
	cache      *cache.Cache
	sanitizer  security.TextSanitizerService
	logger     *slog.Logger
	config     ServiceConfig
	now        func() time.Time
}

var _ ContentSource = (*FeedSource)(nil)

// NewFeedSource はFeedSourceを生成する。
func NewFeedSource(
	htmlSource *Service,
	fetcher Fetcher,
	c *cache.Cache,
	sanitizer security.TextSanitizerService,
	logger *slog.Logger,
	config ServiceConfig,
) *FeedSource {
	return &FeedSource{
		htmlSource: htmlSource,
		fetcher:    fetcher,
		feedParser: gofeed.NewParser(),
		cache:      c,
		sanitizer:  sanitizer,
		logger:     logger,
		config:     config,
		now:        time.Now,
	}
}

// LatestContent はフィード経由で最新のコンテンツ一覧を返す。
// フィードURLの検出またはフィードの解析に失敗した場合は
// HTMLスクレイプにフォールバックする。
func (s *FeedSource) LatestContent(ctx context.Context) ([]model.ContentItem, error) {
	if cached, ok := s.cache.Get(listingCacheKey); ok {
		if items, ok := cached.([]model.ContentItem); ok {
			return items, nil
		}
	}

	feedURL, err := s.discoverFeedURL(ctx)
	if err != nil {
		s.logger.Warn("フィード検出に失敗したためHTMLスクレイプにフォールバックします",
			slog.String("error", err.Error()),
		)
		return s.htmlSource.LatestContent(ctx)
	}

	body, err := s.fetcher.Fetch(ctx, feedURL)
	if err != nil {
		s.logger.Warn("フィード取得に失敗したためHTMLスクレイプにフォールバックします",
			slog.String("feed_url", feedURL),
			slog.String("error", err.Error()),
		)
		return s.htmlSource.LatestContent(ctx)
	}

	feed, err := s.feedParser.Parse(body)
	if err != nil {
		s.logger.Warn("フィード解析に失敗したためHTMLスクレイプにフォールバックします",
			slog.String("feed_url", feedURL),
			slog.String("error", err.Error()),
		)
		return s.htmlSource.LatestContent(ctx)
	}

	items := s.mapFeedItems(feed)
	s.cache.Set(listingCacheKey, items, s.config.ListingTTL)
	s.logger.Info("フィードから最新コンテンツを取得しました",
		slog.String("feed_url", feedURL),
		slog.Int("item_count", len(items)),
	)
	return items, nil
}

// mapFeedItems はフィードアイテムを正規化済みのContentItemに変換する。
// リスティングと同じ上限件数まで取り込む。
func (s *FeedSource) mapFeedItems(feed *gofeed.Feed) []model.ContentItem {
	items := make([]model.ContentItem, 0, maxListingItems)
	for _, fi := range feed.Items {
		if len(items) >= maxListingItems {
			break
		}
		if fi.Title == "" || fi.Link == "" {
			continue
		}

		rawTitle := s.sanitizer.SanitizeText(fi.Title)
		if rawTitle == "" {
			continue
		}

		posterURL := ""
		if fi.Image != nil {
			posterURL = fi.Image.URL
		}

		items = append(items, model.ContentItem{
			Title:     CleanTitle(rawTitle),
			URL:       fi.Link,
			PosterURL: posterURL,
			Quality:   ListingQuality(rawTitle),
			Year:      ExtractYear(rawTitle),
			ScrapedAt: s.now(),
		})
	}
	return items
}

// DownloadLinks はHTML側のContentSourceに委譲する。
func (s *FeedSource) DownloadLinks(ctx context.Context, itemURL string) ([]model.DownloadLink, error) {
	return s.htmlSource.DownloadLinks(ctx, itemURL)
}

// CheckUpdates はHTML側のContentSourceに委譲する。
func (s *FeedSource) CheckUpdates(ctx context.Context, urls []string) ([]model.LinkUpdate, error) {
	return s.htmlSource.CheckUpdates(ctx, urls)
}

// discoverFeedURL はベースURLのHTMLを取得し、headタグの
// rel="alternate" リンクからフィードURLを自動検出する。
// リンクが見つからない場合はWordPressの慣習パス /feed/ を候補として返す。
func (s *FeedSource) discoverFeedURL(ctx context.Context) (string, error) {
	body, err := s.fetcher.Fetch(ctx, s.config.BaseURL)
	if err != nil {
		return "", err
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return "", model.NewFetchFailedError(err.Error())
	}

	if feedURL := findFeedLink(data, s.config.BaseURL); feedURL != "" {
		return feedURL, nil
	}

	// WordPressサイトはhead内にリンクがなくても /feed/ を提供することが多い
	return strings.TrimRight(s.config.BaseURL, "/") + "/feed/", nil
}

// findFeedLink はHTMLのheadタグから最初のRSS/Atomフィードリンクを検出する。
// 相対URLはbaseURLを基準に絶対URLへ解決する。見つからない場合は空文字列を返す。
func findFeedLink(htmlBody []byte, baseURL string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}

	tokenizer := html.NewTokenizer(bytes.NewReader(htmlBody))
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return ""

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)

			// bodyに入ったらheadの解析を終了
			if tagName == "body" {
				return ""
			}
			if tagName != "link" || !hasAttr {
				continue
			}

			var rel, linkType, href string
			for {
				key, val, more := tokenizer.TagAttr()
				switch strings.ToLower(string(key)) {
				case "rel":
					rel = strings.ToLower(string(val))
				case "type":
					linkType = strings.ToLower(string(val))
				case "href":
					href = string(val)
				}
				if !more {
					break
				}
			}

			if rel != "alternate" || href == "" {
				continue
			}
			if _, ok := feedContentTypes[linkType]; !ok {
				continue
			}

			ref, err := url.Parse(href)
			if err != nil {
				continue
			}
			return base.ResolveReference(ref).String()
		}
	}
}
