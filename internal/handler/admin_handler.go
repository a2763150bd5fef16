package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/telecast/internal/cache"
	"github.com/hitoshi/telecast/internal/model"
	"github.com/hitoshi/telecast/internal/pipeline"
	"github.com/hitoshi/telecast/internal/repository"
)

// SchedulerInterface は自動投稿ジョブの操作インターフェース。
type SchedulerInterface interface {
	Start(interval time.Duration) error
	Restart(interval time.Duration) error
	Stop()
	TriggerNow(ctx context.Context) (*pipeline.Report, error)
	IsRunning() bool
	Interval() time.Duration
}

// UpdateChecker はリンク更新確認の実行インターフェース。
type UpdateChecker interface {
	CheckLinkUpdates(ctx context.Context) (int, error)
}

// AdminHandler は管理APIのHTTPハンドラー。
// 状態参照、設定変更、自動投稿ジョブの操作を提供する。
type AdminHandler struct {
	scheduler     SchedulerInterface
	updateChecker UpdateChecker
	posts         repository.PostRepository
	settings      repository.SettingRepository
	cache         *cache.Cache
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(
	scheduler SchedulerInterface,
	updateChecker UpdateChecker,
	posts repository.PostRepository,
	settings repository.SettingRepository,
	c *cache.Cache,
) *AdminHandler {
	return &AdminHandler{
		scheduler:     scheduler,
		updateChecker: updateChecker,
		posts:         posts,
		settings:      settings,
		cache:         c,
	}
}

// statusResponse はサービス状態のAPIレスポンス。
type statusResponse struct {
	AutopostRunning bool       `json:"autopost_running"`
	IntervalMinutes int        `json:"interval_minutes"`
	ChannelSet      bool       `json:"channel_set"`
	Channel         string     `json:"channel,omitempty"`
	LastPostedAt    *time.Time `json:"last_posted_at,omitempty"`
}

// Status はサービスの現在状態を返す。
// GET /api/status
func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	channel, channelSet, err := h.settings.Get(r.Context(), model.SettingKeyChannel)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	lastPostedAt, err := h.posts.LastPostedAt(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		AutopostRunning: h.scheduler.IsRunning(),
		IntervalMinutes: int(h.scheduler.Interval().Minutes()),
		ChannelSet:      channelSet && channel != "",
		Channel:         channel,
		LastPostedAt:    lastPostedAt,
	})
}

// cacheStatsResponse はキャッシュ統計のAPIレスポンス。
type cacheStatsResponse struct {
	Size    int     `json:"size"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// statsResponse は投稿統計のAPIレスポンス。
type statsResponse struct {
	TotalPosts   int                `json:"total_posts"`
	PostsToday   int                `json:"posts_today"`
	LastPostedAt *time.Time         `json:"last_posted_at,omitempty"`
	Cache        cacheStatsResponse `json:"cache"`
}

// Stats は投稿とキャッシュの統計を返す。
// GET /api/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	total, err := h.posts.CountAll(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	today, err := h.posts.CountToday(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	lastPostedAt, err := h.posts.LastPostedAt(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	cs := h.cache.GetStats()
	writeJSON(w, http.StatusOK, statsResponse{
		TotalPosts:   total,
		PostsToday:   today,
		LastPostedAt: lastPostedAt,
		Cache: cacheStatsResponse{
			Size:    cs.Size,
			Hits:    cs.Hits,
			Misses:  cs.Misses,
			HitRate: cs.HitRate,
		},
	})
}

// postResponse は投稿記録のAPIレスポンス。
type postResponse struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	URL       string     `json:"url"`
	PostedAt  time.Time  `json:"posted_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// defaultRecentLimit は直近投稿一覧のデフォルト件数。
const defaultRecentLimit = 10

// RecentPosts は直近の投稿一覧を返す。
// GET /api/posts/recent?limit=N
func (h *AdminHandler) RecentPosts(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
				Code:     "INVALID_REQUEST",
				Message:  "limitは1〜100の整数で指定してください。",
				Category: "validation",
				Action:   "クエリパラメータを修正してください。",
			})
			return
		}
		limit = parsed
	}

	records, err := h.posts.ListRecent(r.Context(), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	posts := make([]postResponse, 0, len(records))
	for _, rec := range records {
		resp := postResponse{
			ID:       rec.ID,
			Title:    rec.Title,
			URL:      rec.URL,
			PostedAt: rec.PostedAt,
		}
		if !rec.UpdatedAt.IsZero() {
			updatedAt := rec.UpdatedAt
			resp.UpdatedAt = &updatedAt
		}
		posts = append(posts, resp)
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

// setChannelRequest はチャンネル設定リクエストのボディ。
type setChannelRequest struct {
	Channel string `json:"channel"`
}

// SetChannel は投稿先チャンネルを設定する。
// PUT /api/settings/channel
func (h *AdminHandler) SetChannel(w http.ResponseWriter, r *http.Request) {
	var req setChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}
	if req.Channel == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "チャンネルIDが空です。",
			Category: "validation",
			Action:   "@チャンネル名 または数値のチャットIDを指定してください。",
		})
		return
	}

	if err := h.settings.Set(r.Context(), model.SettingKeyChannel, req.Channel); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"channel": req.Channel})
}

// setTimerRequest は自動投稿間隔設定リクエストのボディ。
type setTimerRequest struct {
	Minutes int `json:"minutes"`
}

// SetTimer は自動投稿間隔を設定する。
// ジョブが起動中の場合は新しい間隔で再起動する。
// PUT /api/settings/timer
func (h *AdminHandler) SetTimer(w http.ResponseWriter, r *http.Request) {
	var req setTimerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}
	if req.Minutes < 1 {
		handleServiceError(w, model.NewInvalidIntervalError(req.Minutes))
		return
	}

	if err := h.settings.Set(r.Context(), model.SettingKeyTimer, strconv.Itoa(req.Minutes)); err != nil {
		handleServiceError(w, err)
		return
	}

	if h.scheduler.IsRunning() {
		if err := h.scheduler.Restart(time.Duration(req.Minutes) * time.Minute); err != nil {
			handleServiceError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"minutes": req.Minutes})
}

// StartAutopost は自動投稿ジョブを起動する。
// チャンネル設定が事前条件で、未設定の場合は起動しない。
// 間隔は保存済みのタイマー設定（未設定の場合はデフォルト）を使用する。
// POST /api/autopost/start
func (h *AdminHandler) StartAutopost(w http.ResponseWriter, r *http.Request) {
	channel, ok, err := h.settings.Get(r.Context(), model.SettingKeyChannel)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if !ok || channel == "" {
		handleServiceError(w, model.NewChannelNotSetError())
		return
	}

	minutes, err := h.timerMinutes(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.scheduler.Restart(time.Duration(minutes) * time.Minute); err != nil {
		handleServiceError(w, err)
		return
	}
	if err := h.settings.Set(r.Context(), model.SettingKeyAutoPost, "true"); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"autopost_running": true,
		"interval_minutes": minutes,
	})
}

// StopAutopost は自動投稿ジョブを停止する。
// POST /api/autopost/stop
func (h *AdminHandler) StopAutopost(w http.ResponseWriter, r *http.Request) {
	h.scheduler.Stop()
	if err := h.settings.Set(r.Context(), model.SettingKeyAutoPost, "false"); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"autopost_running": false})
}

// reportResponse は投稿サイクル実行結果のAPIレスポンス。
type reportResponse struct {
	RunID      string  `json:"run_id"`
	Scanned    int     `json:"scanned"`
	Published  int     `json:"published"`
	Duplicates int     `json:"duplicates"`
	Failures   int     `json:"failures"`
	DurationMs float64 `json:"duration_ms"`
}

// TriggerRun は投稿サイクルを即時に1回実行する。
// 実行中のサイクルがある場合は409、チャンネル未設定の場合は412を返す。
// POST /api/autopost/trigger
func (h *AdminHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	report, err := h.scheduler.TriggerNow(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reportResponse{
		RunID:      report.RunID.String(),
		Scanned:    report.Scanned,
		Published:  report.Published,
		Duplicates: report.Duplicates,
		Failures:   report.Failures,
		DurationMs: float64(report.Duration.Milliseconds()),
	})
}

// CheckUpdates は直近投稿のリンク更新確認を実行する。
// POST /api/updates/check
func (h *AdminHandler) CheckUpdates(w http.ResponseWriter, r *http.Request) {
	notified, err := h.updateChecker.CheckLinkUpdates(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"notified": notified})
}

// ClearCache はスクレイプキャッシュを全消去する。
// POST /api/cache/clear
func (h *AdminHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	h.cache.Clear()
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

// timerMinutes は保存済みのタイマー設定値を分単位で返す。
// 未設定または不正な値の場合はデフォルト値を返す。
func (h *AdminHandler) timerMinutes(ctx context.Context) (int, error) {
	raw, ok, err := h.settings.Get(ctx, model.SettingKeyTimer)
	if err != nil {
		return 0, err
	}
	if !ok {
		return model.DefaultTimerMinutes, nil
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes < 1 {
		return model.DefaultTimerMinutes, nil
	}
	return minutes, nil
}

// writeInvalidRequestBody はリクエストボディ解析失敗の統一レスポンスを書き込む。
func writeInvalidRequestBody(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}
