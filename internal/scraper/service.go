package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/telecast/internal/cache"
	"github.com/hitoshi/telecast/internal/model"
	"github.com/hitoshi/telecast/internal/security"
)

// キャッシュキー。リスティングは固定キー、リンク系はURLごとにキーを分ける。
const (
	listingCacheKey   = "latest_content"
	linksKeyPrefix    = "links_"
	snapshotKeyPrefix = "links_prev_"
)

// Fetcher はページ取得のインターフェース。SiteClientを抽象化する。
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (io.Reader, error)
}

// ContentSource はコンテンツ取得機能のインターフェースを定義する。
type ContentSource interface {
	// LatestContent は最新のコンテンツ一覧を返す。
	// 結果はキャッシュされ、有効期間内の再呼び出しはフェッチを行わない。
	LatestContent(ctx context.Context) ([]model.ContentItem, error)

	// DownloadLinks は詳細ページからダウンロードリンク一覧を取得する。
	// 既知のファイルホストのみを対象とし、品質ランク順に整列して返す。
	DownloadLinks(ctx context.Context, itemURL string) ([]model.DownloadLink, error)

	// CheckUpdates は各URLの現在のリンクを前回スナップショットと比較し、
	// 新規リンクが見つかったURLの一覧を返す。
	CheckUpdates(ctx context.Context, urls []string) ([]model.LinkUpdate, error)
}

// ServiceConfig はServiceの動作パラメータ。
type ServiceConfig struct {
	BaseURL          string
	ListingTTL       time.Duration
	LinksTTL         time.Duration
	SnapshotTTL      time.Duration
	UpdateCheckDelay time.Duration
}

// Service はContentSourceの実装。
// フェッチ、パース、正規化、キャッシュを束ねる。
type Service struct {
	fetcher   Fetcher
	parser    PageParser
	cache     *cache.Cache
	sanitizer security.TextSanitizerService
	logger    *slog.Logger
	config    ServiceConfig
	now       func() time.Time
}

var _ ContentSource = (*Service)(nil)

// NewService はServiceを生成する。
func NewService(
	fetcher Fetcher,
	parser PageParser,
	c *cache.Cache,
	sanitizer security.TextSanitizerService,
	logger *slog.Logger,
	config ServiceConfig,
) *Service {
	return &Service{
		fetcher:   fetcher,
		parser:    parser,
		cache:     c,
		sanitizer: sanitizer,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
}

// LatestContent は最新のコンテンツ一覧を返す。
// キャッシュ有効期間内の呼び出しはフェッチを省略する。
func (s *Service) LatestContent(ctx context.Context) ([]model.ContentItem, error) {
	if cached, ok := s.cache.Get(listingCacheKey); ok {
		if items, ok := cached.([]model.ContentItem); ok {
			s.logger.Debug("リスティングをキャッシュから返します",
				slog.Int("item_count", len(items)),
			)
			return items, nil
		}
	}

	listingURL := strings.TrimRight(s.config.BaseURL, "/") + "/page/1/"
	body, err := s.fetcher.Fetch(ctx, listingURL)
	if err != nil {
		return nil, err
	}

	raw, err := s.parser.ParseListing(body)
	if err != nil {
		s.logger.Error("リスティングの解析に失敗しました",
			slog.String("url", listingURL),
			slog.String("error", err.Error()),
		)
		return nil, model.NewParseFailedError(err.Error())
	}

	items := make([]model.ContentItem, 0, len(raw))
	for _, r := range raw {
		item, err := s.normalizeItem(r)
		if err != nil {
			s.logger.Warn("アイテムの正規化をスキップします",
				slog.String("title", r.Title),
				slog.String("error", err.Error()),
			)
			continue
		}
		items = append(items, item)
	}

	s.cache.Set(listingCacheKey, items, s.config.ListingTTL)
	s.logger.Info("最新コンテンツを取得しました",
		slog.Int("item_count", len(items)),
	)
	return items, nil
}

// normalizeItem はリスティング断片を正規化済みのContentItemに変換する。
// 相対URLはベースURL基準で絶対化する。
func (s *Service) normalizeItem(r RawItem) (model.ContentItem, error) {
	rawTitle := s.sanitizer.SanitizeText(r.Title)
	if rawTitle == "" {
		return model.ContentItem{}, fmt.Errorf("タイトルが空です")
	}

	absURL, err := s.resolveURL(r.URL)
	if err != nil {
		return model.ContentItem{}, err
	}

	posterURL := ""
	if r.PosterURL != "" {
		if resolved, err := s.resolveURL(r.PosterURL); err == nil {
			posterURL = resolved
		}
	}

	return model.ContentItem{
		Title:     CleanTitle(rawTitle),
		URL:       absURL,
		PosterURL: posterURL,
		Quality:   ListingQuality(rawTitle),
		Year:      ExtractYear(rawTitle),
		ScrapedAt: s.now(),
	}, nil
}

// resolveURL は相対URLをベースURL基準の絶対URLに解決する。
func (s *Service) resolveURL(ref string) (string, error) {
	base, err := url.Parse(s.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("ベースURLの解析に失敗: %w", err)
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("URLの解析に失敗: %w", err)
	}
	return base.ResolveReference(parsed).String(), nil
}

// DownloadLinks は詳細ページからダウンロードリンク一覧を取得する。
// 許可ホスト以外のリンクは除外し、同一URLの重複は先勝ちで除去する。
func (s *Service) DownloadLinks(ctx context.Context, itemURL string) ([]model.DownloadLink, error) {
	key := linksKeyPrefix + itemURL
	if cached, ok := s.cache.Get(key); ok {
		if links, ok := cached.([]model.DownloadLink); ok {
			return links, nil
		}
	}

	body, err := s.fetcher.Fetch(ctx, itemURL)
	if err != nil {
		return nil, err
	}

	anchors, err := s.parser.ParseDetail(body)
	if err != nil {
		s.logger.Error("詳細ページの解析に失敗しました",
			slog.String("url", itemURL),
			slog.String("error", err.Error()),
		)
		return nil, model.NewParseFailedError(err.Error())
	}

	seen := make(map[string]struct{})
	links := make([]model.DownloadLink, 0, len(anchors))
	for _, a := range anchors {
		if !isAllowedLinkURL(a.URL) {
			continue
		}
		if _, dup := seen[a.URL]; dup {
			continue
		}
		seen[a.URL] = struct{}{}

		text := s.sanitizer.SanitizeText(a.Text)
		links = append(links, model.DownloadLink{
			URL:     a.URL,
			Quality: LinkQuality(text),
			Server:  ServerName(a.URL),
			Text:    text,
		})
	}

	SortLinksByQuality(links)
	s.cache.Set(key, links, s.config.LinksTTL)
	s.logger.Info("ダウンロードリンクを取得しました",
		slog.String("url", itemURL),
		slog.Int("link_count", len(links)),
	)
	return links, nil
}

// CheckUpdates は各URLの現在のリンクを前回スナップショットと比較する。
// スナップショットは比較結果にかかわらず常に更新する。
// 個別URLのエラーは記録してスキップし、残りの確認を続行する。
func (s *Service) CheckUpdates(ctx context.Context, urls []string) ([]model.LinkUpdate, error) {
	var updates []model.LinkUpdate

	for i, u := range urls {
		if i > 0 {
			if err := sleepContext(ctx, s.config.UpdateCheckDelay); err != nil {
				return updates, err
			}
		}

		current, err := s.DownloadLinks(ctx, u)
		if err != nil {
			s.logger.Warn("リンク更新確認をスキップします",
				slog.String("url", u),
				slog.String("error", err.Error()),
			)
			continue
		}

		snapshotKey := snapshotKeyPrefix + u
		prev, hasPrev := s.previousLinks(snapshotKey)
		s.cache.Set(snapshotKey, current, s.config.SnapshotTTL)

		// 初回観測はベースラインの記録のみで、更新としては扱わない
		if !hasPrev {
			continue
		}

		// 追加だけでなく削除もスナップショットの差分として扱う
		if linksDiffer(current, prev) {
			newLinks := diffLinks(current, prev)
			updates = append(updates, model.LinkUpdate{
				URL:      u,
				NewLinks: newLinks,
			})
			s.logger.Info("リンク更新を検出しました",
				slog.String("url", u),
				slog.Int("new_link_count", len(newLinks)),
				slog.Int("current_count", len(current)),
				slog.Int("previous_count", len(prev)),
			)
		}
	}

	return updates, nil
}

// previousLinks はスナップショットキャッシュから前回のリンク一覧を取り出す。
func (s *Service) previousLinks(key string) ([]model.DownloadLink, bool) {
	cached, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	links, ok := cached.([]model.DownloadLink)
	return links, ok
}

// linksDiffer は2つのリンク一覧のURL集合が異なるかどうかを返す。
// 追加と削除のどちらも差分として扱う。
func linksDiffer(current, prev []model.DownloadLink) bool {
	if len(current) != len(prev) {
		return true
	}
	known := make(map[string]struct{}, len(prev))
	for _, l := range prev {
		known[l.URL] = struct{}{}
	}
	for _, l := range current {
		if _, ok := known[l.URL]; !ok {
			return true
		}
	}
	return false
}

// diffLinks はcurrentのうちprevに存在しないURLのリンクを返す。
func diffLinks(current, prev []model.DownloadLink) []model.DownloadLink {
	known := make(map[string]struct{}, len(prev))
	for _, l := range prev {
		known[l.URL] = struct{}{}
	}

	var fresh []model.DownloadLink
	for _, l := range current {
		if _, ok := known[l.URL]; !ok {
			fresh = append(fresh, l)
		}
	}
	return fresh
}

// sleepContext はコンテキストのキャンセルを尊重しつつ指定時間待機する。
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
