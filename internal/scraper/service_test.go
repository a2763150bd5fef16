package scraper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/telecast/internal/cache"
	"github.com/hitoshi/telecast/internal/model"
	"github.com/hitoshi/telecast/internal/security"
)

func TestService_ImplementsInterface(t *testing.T) {
	// コンパイル時チェック：ServiceがContentSourceを満たすことを検証
	var _ ContentSource = (*Service)(nil)
}

// mockFetcher はFetcherのモック実装。
type mockFetcher struct {
	fetchFunc func(ctx context.Context, pageURL string) (io.Reader, error)
	calls     []string
}

func (m *mockFetcher) Fetch(ctx context.Context, pageURL string) (io.Reader, error) {
	m.calls = append(m.calls, pageURL)
	return m.fetchFunc(ctx, pageURL)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testServiceConfig() ServiceConfig {
	return ServiceConfig{
		BaseURL:          "https://site.example",
		ListingTTL:       5 * time.Minute,
		LinksTTL:         time.Hour,
		SnapshotTTL:      24 * time.Hour,
		UpdateCheckDelay: 0,
	}
}

func newTestService(fetcher Fetcher, c *cache.Cache) *Service {
	return NewService(
		fetcher,
		NewGoqueryParser(),
		c,
		security.NewTextSanitizer(),
		discardLogger(),
		testServiceConfig(),
	)
}

func TestLatestContent_NormalizesItems(t *testing.T) {
	html := listingHTML(
		listingItem("/posters/p1.jpg", "/movie-one-2024/", "Movie One 2024 1080p WEB-DL") +
			listingItem("https://cdn.example/p2.jpg", "https://site.example/movie-two/", "Movie Two"),
	)
	fetcher := &mockFetcher{
		fetchFunc: func(_ context.Context, _ string) (io.Reader, error) {
			return strings.NewReader(html), nil
		},
	}
	svc := newTestService(fetcher, cache.New())

	items, err := svc.LatestContent(context.Background())
	if err != nil {
		t.Fatalf("LatestContent() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}

	if len(fetcher.calls) != 1 || fetcher.calls[0] != "https://site.example/page/1/" {
		t.Errorf("フェッチ先 = %v, want [https://site.example/page/1/]", fetcher.calls)
	}

	first := items[0]
	if first.Title != "Movie One 2024" {
		t.Errorf("Title = %q, want %q", first.Title, "Movie One 2024")
	}
	if first.Quality != "1080p FHD" {
		t.Errorf("Quality = %q, want %q", first.Quality, "1080p FHD")
	}
	if first.Year != "2024" {
		t.Errorf("Year = %q, want %q", first.Year, "2024")
	}
	if first.URL != "https://site.example/movie-one-2024/" {
		t.Errorf("相対URLは絶対化される: URL = %q", first.URL)
	}
	if first.PosterURL != "https://site.example/posters/p1.jpg" {
		t.Errorf("PosterURL = %q", first.PosterURL)
	}
	if first.ScrapedAt.IsZero() {
		t.Error("ScrapedAtが設定されていない")
	}

	if items[1].Quality != "HD" {
		t.Errorf("品質表記のないタイトルはHD: Quality = %q", items[1].Quality)
	}
}

func TestLatestContent_UsesCache(t *testing.T) {
	html := listingHTML(listingItem("https://cdn.example/p.jpg", "/m/", "Movie"))
	fetcher := &mockFetcher{
		fetchFunc: func(_ context.Context, _ string) (io.Reader, error) {
			return strings.NewReader(html), nil
		},
	}
	svc := newTestService(fetcher, cache.New())

	if _, err := svc.LatestContent(context.Background()); err != nil {
		t.Fatalf("1回目 error = %v", err)
	}
	if _, err := svc.LatestContent(context.Background()); err != nil {
		t.Fatalf("2回目 error = %v", err)
	}

	if len(fetcher.calls) != 1 {
		t.Errorf("フェッチ回数 = %d, want 1（2回目はキャッシュ）", len(fetcher.calls))
	}
}

func TestLatestContent_FetchFailurePropagates(t *testing.T) {
	fetcher := &mockFetcher{
		fetchFunc: func(_ context.Context, _ string) (io.Reader, error) {
			return nil, model.NewFetchFailedError("connection refused")
		},
	}
	svc := newTestService(fetcher, cache.New())

	_, err := svc.LatestContent(context.Background())
	if err == nil {
		t.Fatal("エラーを返すべき")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeFetchFailed {
		t.Errorf("err = %v, want FETCH_FAILED", err)
	}
}

func TestDownloadLinks_FiltersAndSorts(t *testing.T) {
	html := `<html><body>
		<h3><a href="https://hubcloud.example/f/1">480p</a></h3>
		<h3><a href="https://pixeldrain.example/u/2">4K UHD</a></h3>
		<h3><a href="https://pixeldrain.example/u/2">4K UHD 重複</a></h3>
		<h4><a href="https://unrelated.example/x">1080p</a></h4>
		<h4><a href="https://mega.nz/file/3">1080p</a></h4>
	</body></html>`
	fetcher := &mockFetcher{
		fetchFunc: func(_ context.Context, _ string) (io.Reader, error) {
			return strings.NewReader(html), nil
		},
	}
	svc := newTestService(fetcher, cache.New())

	links, err := svc.DownloadLinks(context.Background(), "https://site.example/movie/")
	if err != nil {
		t.Fatalf("DownloadLinks() error = %v", err)
	}

	// 許可外ホストの除外と重複除去で3件、品質ランク昇順
	if len(links) != 3 {
		t.Fatalf("len(links) = %d, want 3", len(links))
	}
	if links[0].Quality != "4K" || links[0].Server != "PixelDrain" {
		t.Errorf("先頭リンク = %+v, want 4K/PixelDrain", links[0])
	}
	if links[1].Quality != "1080p" || links[1].Server != "Mega" {
		t.Errorf("2番目 = %+v, want 1080p/Mega", links[1])
	}
	if links[2].Quality != "480p" || links[2].Server != "HubCloud" {
		t.Errorf("3番目 = %+v, want 480p/HubCloud", links[2])
	}
}

func TestDownloadLinks_UsesCache(t *testing.T) {
	html := `<html><body><h3><a href="https://mega.nz/file/1">1080p</a></h3></body></html>`
	fetcher := &mockFetcher{
		fetchFunc: func(_ context.Context, _ string) (io.Reader, error) {
			return strings.NewReader(html), nil
		},
	}
	svc := newTestService(fetcher, cache.New())

	itemURL := "https://site.example/movie/"
	if _, err := svc.DownloadLinks(context.Background(), itemURL); err != nil {
		t.Fatalf("1回目 error = %v", err)
	}
	if _, err := svc.DownloadLinks(context.Background(), itemURL); err != nil {
		t.Fatalf("2回目 error = %v", err)
	}

	if len(fetcher.calls) != 1 {
		t.Errorf("フェッチ回数 = %d, want 1", len(fetcher.calls))
	}
}

func TestCheckUpdates_ReportsNewLinks(t *testing.T) {
	c := cache.New()
	fetcher := &mockFetcher{
		fetchFunc: func(_ context.Context, _ string) (io.Reader, error) {
			return nil, errors.New("フェッチ不要のはず")
		},
	}
	svc := newTestService(fetcher, c)

	itemURL := "https://site.example/movie/"
	prev := []model.DownloadLink{
		{URL: "https://mega.nz/file/1", Quality: "1080p", Server: "Mega"},
	}
	current := []model.DownloadLink{
		{URL: "https://mega.nz/file/1", Quality: "1080p", Server: "Mega"},
		{URL: "https://pixeldrain.example/u/2", Quality: "4K", Server: "PixelDrain"},
	}
	c.Set(snapshotKeyPrefix+itemURL, prev, 24*time.Hour)
	c.Set(linksKeyPrefix+itemURL, current, time.Hour)

	updates, err := svc.CheckUpdates(context.Background(), []string{itemURL})
	if err != nil {
		t.Fatalf("CheckUpdates() error = %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("len(updates) = %d, want 1", len(updates))
	}
	if updates[0].URL != itemURL {
		t.Errorf("URL = %q", updates[0].URL)
	}
	if len(updates[0].NewLinks) != 1 || updates[0].NewLinks[0].URL != "https://pixeldrain.example/u/2" {
		t.Errorf("NewLinks = %+v", updates[0].NewLinks)
	}
}

func TestCheckUpdates_ReportsRemovedLinks(t *testing.T) {
	c := cache.New()
	fetcher := &mockFetcher{
		fetchFunc: func(_ context.Context, _ string) (io.Reader, error) {
			return nil, errors.New("フェッチ不要のはず")
		},
	}
	svc := newTestService(fetcher, c)

	itemURL := "https://site.example/movie/"
	prev := []model.DownloadLink{
		{URL: "https://mega.nz/file/1", Quality: "1080p", Server: "Mega"},
		{URL: "https://pixeldrain.example/u/2", Quality: "4K", Server: "PixelDrain"},
	}
	// 削除のみの変化: 前回2件のうち1件が消えている
	current := []model.DownloadLink{
		{URL: "https://mega.nz/file/1", Quality: "1080p", Server: "Mega"},
	}
	c.Set(snapshotKeyPrefix+itemURL, prev, 24*time.Hour)
	c.Set(linksKeyPrefix+itemURL, current, time.Hour)

	updates, err := svc.CheckUpdates(context.Background(), []string{itemURL})
	if err != nil {
		t.Fatalf("CheckUpdates() error = %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("削除のみの差分も更新として報告する: len(updates) = %d, want 1", len(updates))
	}
	if updates[0].URL != itemURL {
		t.Errorf("URL = %q", updates[0].URL)
	}
	if len(updates[0].NewLinks) != 0 {
		t.Errorf("削除のみの場合NewLinksは空: %+v", updates[0].NewLinks)
	}

	// スナップショットは現在の状態に更新される
	snap, ok := c.Get(snapshotKeyPrefix + itemURL)
	if !ok {
		t.Fatal("スナップショットが記録されていない")
	}
	if links, ok := snap.([]model.DownloadLink); !ok || len(links) != 1 {
		t.Errorf("スナップショット = %+v, want 1件", snap)
	}
}

func TestCheckUpdates_UnchangedLinksReportNothing(t *testing.T) {
	c := cache.New()
	fetcher := &mockFetcher{
		fetchFunc: func(_ context.Context, _ string) (io.Reader, error) {
			return nil, errors.New("フェッチ不要のはず")
		},
	}
	svc := newTestService(fetcher, c)

	itemURL := "https://site.example/movie/"
	links := []model.DownloadLink{
		{URL: "https://mega.nz/file/1", Quality: "1080p", Server: "Mega"},
	}
	c.Set(snapshotKeyPrefix+itemURL, links, 24*time.Hour)
	c.Set(linksKeyPrefix+itemURL, links, time.Hour)

	updates, err := svc.CheckUpdates(context.Background(), []string{itemURL})
	if err != nil {
		t.Fatalf("CheckUpdates() error = %v", err)
	}
	if len(updates) != 0 {
		t.Errorf("変化がない場合は報告しない: updates = %+v", updates)
	}
}

func TestCheckUpdates_FirstObservationIsBaseline(t *testing.T) {
	c := cache.New()
	fetcher := &mockFetcher{
		fetchFunc: func(_ context.Context, _ string) (io.Reader, error) {
			return nil, errors.New("フェッチ不要のはず")
		},
	}
	svc := newTestService(fetcher, c)

	itemURL := "https://site.example/movie/"
	current := []model.DownloadLink{
		{URL: "https://mega.nz/file/1", Quality: "1080p", Server: "Mega"},
	}
	c.Set(linksKeyPrefix+itemURL, current, time.Hour)

	updates, err := svc.CheckUpdates(context.Background(), []string{itemURL})
	if err != nil {
		t.Fatalf("CheckUpdates() error = %v", err)
	}
	if len(updates) != 0 {
		t.Errorf("初回観測は更新として報告しない: updates = %+v", updates)
	}

	// スナップショットは記録される
	if _, ok := c.Get(snapshotKeyPrefix + itemURL); !ok {
		t.Error("スナップショットが記録されていない")
	}
}

func TestCheckUpdates_SkipsFailedURLs(t *testing.T) {
	c := cache.New()
	fetcher := &mockFetcher{
		fetchFunc: func(_ context.Context, _ string) (io.Reader, error) {
			return nil, model.NewFetchFailedError("timeout")
		},
	}
	svc := newTestService(fetcher, c)

	okURL := "https://site.example/ok/"
	failURL := "https://site.example/fail/"
	prev := []model.DownloadLink{}
	current := []model.DownloadLink{
		{URL: "https://mega.nz/file/new", Quality: "1080p", Server: "Mega"},
	}
	c.Set(snapshotKeyPrefix+okURL, prev, 24*time.Hour)
	c.Set(linksKeyPrefix+okURL, current, time.Hour)

	// failURLはキャッシュになくフェッチが失敗するが、okURLの確認は続行される
	updates, err := svc.CheckUpdates(context.Background(), []string{failURL, okURL})
	if err != nil {
		t.Fatalf("CheckUpdates() error = %v", err)
	}
	if len(updates) != 1 || updates[0].URL != okURL {
		t.Errorf("updates = %+v, want okURLのみ", updates)
	}
}

func TestCheckUpdates_CancelledContext(t *testing.T) {
	c := cache.New()
	fetcher := &mockFetcher{
		fetchFunc: func(ctx context.Context, _ string) (io.Reader, error) {
			return nil, ctx.Err()
		},
	}
	svc := NewService(
		fetcher,
		NewGoqueryParser(),
		c,
		security.NewTextSanitizer(),
		discardLogger(),
		ServiceConfig{
			BaseURL:          "https://site.example",
			ListingTTL:       time.Minute,
			LinksTTL:         time.Minute,
			SnapshotTTL:      time.Minute,
			UpdateCheckDelay: 50 * time.Millisecond,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.CheckUpdates(ctx, []string{"https://site.example/a/", "https://site.example/b/"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
