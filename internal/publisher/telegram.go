// Package publisher はTelegram Bot APIによるチャンネル投稿機能を提供する。
// メッセージの整形とインラインキーボードの組み立てを含む。
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/telecast/internal/model"
)

const (
	// defaultAPIBaseURL はTelegram Bot APIのベースURL。
	defaultAPIBaseURL = "https://api.telegram.org"
	// defaultTimeout はAPI呼び出しのタイムアウト。
	defaultTimeout = 30 * time.Second
)

// Publisher はチャンネル投稿機能のインターフェースを定義する。
type Publisher interface {
	// PublishItem はコンテンツアイテムを整形してチャンネルに投稿する。
	// ポスターURLがある場合は画像付き、ない場合はテキストのみで送信する。
	PublishItem(ctx context.Context, channelID string, item model.ContentItem) error

	// SendText はテキストメッセージをチャンネルに送信する。
	// リンク更新通知などの定型外メッセージに使用する。
	SendText(ctx context.Context, channelID, text string) error
}

// TelegramClient はTelegram Bot APIのクライアント。
type TelegramClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string // テスト用にエンドポイントを差し替え可能
	token      string
}

var _ Publisher = (*TelegramClient)(nil)

// NewTelegramClient はTelegramClientの新しいインスタンスを生成する。
func NewTelegramClient(token string, logger *slog.Logger) *TelegramClient {
	return &TelegramClient{
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
		baseURL:    defaultAPIBaseURL,
		token:      token,
	}
}

// apiResponse はTelegram Bot APIの共通レスポンス構造。
type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// sendMessageRequest はsendMessageエンドポイントのリクエストボディ。
type sendMessageRequest struct {
	ChatID                string          `json:"chat_id"`
	Text                  string          `json:"text"`
	ParseMode             string          `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool            `json:"disable_web_page_preview,omitempty"`
	ReplyMarkup           *inlineKeyboard `json:"reply_markup,omitempty"`
}

// sendPhotoRequest はsendPhotoエンドポイントのリクエストボディ。
type sendPhotoRequest struct {
	ChatID      string          `json:"chat_id"`
	Photo       string          `json:"photo"`
	Caption     string          `json:"caption,omitempty"`
	ParseMode   string          `json:"parse_mode,omitempty"`
	ReplyMarkup *inlineKeyboard `json:"reply_markup,omitempty"`
}

// inlineKeyboard はインラインキーボードのマークアップ。
type inlineKeyboard struct {
	InlineKeyboard [][]keyboardButton `json:"inline_keyboard"`
}

// keyboardButton はURL付きのインラインボタン。
type keyboardButton struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// PublishItem はコンテンツアイテムを整形してチャンネルに投稿する。
func (c *TelegramClient) PublishItem(ctx context.Context, channelID string, item model.ContentItem) error {
	text := FormatItemMessage(item)
	keyboard := BuildLinkKeyboard(item)

	var err error
	if item.PosterURL != "" {
		err = c.callMethod(ctx, "sendPhoto", sendPhotoRequest{
			ChatID:      channelID,
			Photo:       item.PosterURL,
			Caption:     text,
			ParseMode:   "Markdown",
			ReplyMarkup: keyboard,
		})
	} else {
		err = c.callMethod(ctx, "sendMessage", sendMessageRequest{
			ChatID:                channelID,
			Text:                  text,
			ParseMode:             "Markdown",
			DisableWebPagePreview: true,
			ReplyMarkup:           keyboard,
		})
	}
	if err != nil {
		return err
	}

	c.logger.Info("チャンネルに投稿しました",
		slog.String("channel_id", channelID),
		slog.String("title", item.Title),
		slog.Int("link_count", len(item.DownloadLinks)),
	)
	return nil
}

// SendText はテキストメッセージをチャンネルに送信する。
func (c *TelegramClient) SendText(ctx context.Context, channelID, text string) error {
	return c.callMethod(ctx, "sendMessage", sendMessageRequest{
		ChatID:                channelID,
		Text:                  text,
		ParseMode:             "Markdown",
		DisableWebPagePreview: true,
	})
}

// callMethod はBot APIメソッドをJSONボディで呼び出す。
// 非成功ステータスまたはok=falseのレスポンスはPUBLISH_FAILEDとして返す。
func (c *TelegramClient) callMethod(ctx context.Context, method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("リクエストボディの生成に失敗しました: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Bot APIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
		return model.NewPublishFailedError(err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.NewPublishFailedError(fmt.Sprintf("レスポンスの読み取りに失敗: %v", err))
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		c.logger.Error("Bot APIのレスポンスのパースに失敗しました",
			slog.String("method", method),
			slog.Int("http_status", resp.StatusCode),
			slog.String("error", err.Error()),
		)
		return model.NewPublishFailedError(fmt.Sprintf("ステータス %d のレスポンスを解析できません", resp.StatusCode))
	}

	if resp.StatusCode != http.StatusOK || !result.OK {
		c.logger.Error("Bot APIがエラーを返しました",
			slog.String("method", method),
			slog.Int("http_status", resp.StatusCode),
			slog.String("description", result.Description),
		)
		return model.NewPublishFailedError(result.Description)
	}

	return nil
}
