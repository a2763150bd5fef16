package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/telecast/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestClient はhttptestサーバーに向けたTelegramClientを生成する。
func newTestClient(server *httptest.Server) *TelegramClient {
	c := NewTelegramClient("test-token", discardLogger())
	c.baseURL = server.URL
	c.httpClient = server.Client()
	return c
}

func TestPublishItem_SendsPhotoWhenPosterPresent(t *testing.T) {
	var gotPath string
	var gotBody sendPhotoRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("リクエストボディの解析に失敗: %v", err)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := newTestClient(server)
	item := model.ContentItem{
		Title:     "Photo Movie",
		URL:       "https://site.example/movie/",
		PosterURL: "https://cdn.example/poster.jpg",
		DownloadLinks: []model.DownloadLink{
			{URL: "https://mega.nz/file/1", Quality: "1080p"},
		},
	}

	if err := client.PublishItem(context.Background(), "@channel", item); err != nil {
		t.Fatalf("PublishItem() error = %v", err)
	}

	if gotPath != "/bottest-token/sendPhoto" {
		t.Errorf("path = %q, want /bottest-token/sendPhoto", gotPath)
	}
	if gotBody.ChatID != "@channel" {
		t.Errorf("ChatID = %q", gotBody.ChatID)
	}
	if gotBody.Photo != "https://cdn.example/poster.jpg" {
		t.Errorf("Photo = %q", gotBody.Photo)
	}
	if gotBody.ParseMode != "Markdown" {
		t.Errorf("ParseMode = %q", gotBody.ParseMode)
	}
	if gotBody.ReplyMarkup == nil || len(gotBody.ReplyMarkup.InlineKeyboard) != 2 {
		t.Errorf("キーボードが付いていない: %+v", gotBody.ReplyMarkup)
	}
}

func TestPublishItem_SendsMessageWithoutPoster(t *testing.T) {
	var gotPath string
	var gotBody sendMessageRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("リクエストボディの解析に失敗: %v", err)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := newTestClient(server)
	item := model.ContentItem{Title: "Text Movie", URL: "https://site.example/movie/"}

	if err := client.PublishItem(context.Background(), "@channel", item); err != nil {
		t.Fatalf("PublishItem() error = %v", err)
	}

	if gotPath != "/bottest-token/sendMessage" {
		t.Errorf("path = %q, want /bottest-token/sendMessage", gotPath)
	}
	if gotBody.Text == "" {
		t.Error("本文が空")
	}
	if !gotBody.DisableWebPagePreview {
		t.Error("リンクプレビューは無効化されるべき")
	}
}

func TestPublishItem_APIErrorBecomesPublishFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer server.Close()

	client := newTestClient(server)

	err := client.PublishItem(context.Background(), "@missing", model.ContentItem{Title: "Movie"})
	if err == nil {
		t.Fatal("エラーを返すべき")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodePublishFailed {
		t.Errorf("err = %v, want PUBLISH_FAILED", err)
	}
}

func TestPublishItem_OkFalseWith200(t *testing.T) {
	// HTTP 200でもok=falseなら失敗として扱う
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"ok":false,"description":"Forbidden: bot is not a member"}`))
	}))
	defer server.Close()

	client := newTestClient(server)

	err := client.PublishItem(context.Background(), "@channel", model.ContentItem{Title: "Movie"})
	if err == nil {
		t.Fatal("エラーを返すべき")
	}
}

func TestSendText(t *testing.T) {
	var gotBody sendMessageRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("リクエストボディの解析に失敗: %v", err)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := newTestClient(server)

	if err := client.SendText(context.Background(), "@channel", "🔄 *Updated Links*"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if gotBody.Text != "🔄 *Updated Links*" {
		t.Errorf("Text = %q", gotBody.Text)
	}
	if gotBody.ReplyMarkup != nil {
		t.Error("SendTextはキーボードを付けない")
	}
}
