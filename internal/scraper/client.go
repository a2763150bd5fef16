package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/telecast/internal/model"
)

// defaultUserAgent はソースサイトが要求するブラウザ相当のUser-Agent。
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// siteCookie はソースサイトのアクセスゲートを通過するためのCookie。
const siteCookie = "xla=s4t"

// SSRFValidator はSSRF検証のインターフェース。
// security.SSRFGuardServiceを抽象化してテスタビリティを向上させる。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// SiteClient はソースサイトへのHTTPフェッチを行うクライアント。
// SSRF検証、タイムアウト、レスポンスサイズ制限を適用する。
type SiteClient struct {
	httpClient  *http.Client
	ssrfGuard   SSRFValidator
	logger      *slog.Logger
	maxBodySize int64
}

// NewSiteClient はSiteClientを生成する。
func NewSiteClient(ssrfGuard SSRFValidator, logger *slog.Logger, timeout time.Duration, maxBodySize int64) *SiteClient {
	return &SiteClient{
		httpClient:  ssrfGuard.NewSafeClient(timeout),
		ssrfGuard:   ssrfGuard,
		logger:      logger,
		maxBodySize: maxBodySize,
	}
}

// Fetch は指定URLのページを取得し、ボディを返す。
// URLの形式不備はINVALID_URL、内部ネットワーク向けURLはSSRF_BLOCKED、
// 非200ステータス、タイムアウト、ネットワークエラーは
// FETCH_FAILEDの分類付きエラーとして返す。
func (c *SiteClient) Fetch(ctx context.Context, pageURL string) (io.Reader, error) {
	if err := validateURLShape(pageURL); err != nil {
		c.logger.Error("URLの検証に失敗しました",
			slog.String("url", pageURL),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInvalidURLError(err.Error())
	}

	if err := c.ssrfGuard.ValidateURL(pageURL); err != nil {
		c.logger.Error("SSRF検証に失敗しました",
			slog.String("url", pageURL),
			slog.String("error", err.Error()),
		)
		return nil, model.NewSSRFBlockedError()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}

	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Cookie", siteCookie)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("HTTPリクエストに失敗しました",
			slog.String("url", pageURL),
			slog.String("error", err.Error()),
		)
		return nil, model.NewFetchFailedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("ページ取得が非成功ステータスを返しました",
			slog.String("url", pageURL),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, model.NewFetchFailedError(fmt.Sprintf("HTTPステータス %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize))
	if err != nil {
		c.logger.Error("レスポンスボディの読み取りに失敗しました",
			slog.String("url", pageURL),
			slog.String("error", err.Error()),
		)
		return nil, model.NewFetchFailedError(err.Error())
	}

	c.logger.Info("ページを取得しました",
		slog.String("url", pageURL),
		slog.Int("body_bytes", len(body)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return bytes.NewReader(body), nil
}

// validateURLShape はURLの形式を検証する。
// スキームとホストの有無のみを確認し、到達先の安全性はSSRF検証に委ねる。
func validateURLShape(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("URLが空です")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("URLの解析に失敗しました: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("サポート外のスキームです: %q", parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return fmt.Errorf("ホストがありません")
	}
	return nil
}
