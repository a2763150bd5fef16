package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/telecast/internal/cache"
	"github.com/hitoshi/telecast/internal/model"
	"github.com/hitoshi/telecast/internal/pipeline"
)

type mockScheduler struct {
	startFunc   func(interval time.Duration) error
	restartFunc func(interval time.Duration) error
	stopFunc    func()
	triggerFunc func(ctx context.Context) (*pipeline.Report, error)
	running     bool
	interval    time.Duration
}

func (m *mockScheduler) Start(interval time.Duration) error {
	if m.startFunc != nil {
		return m.startFunc(interval)
	}
	return nil
}

func (m *mockScheduler) Restart(interval time.Duration) error {
	if m.restartFunc != nil {
		return m.restartFunc(interval)
	}
	return nil
}

func (m *mockScheduler) Stop() {
	if m.stopFunc != nil {
		m.stopFunc()
	}
}

func (m *mockScheduler) TriggerNow(ctx context.Context) (*pipeline.Report, error) {
	if m.triggerFunc != nil {
		return m.triggerFunc(ctx)
	}
	return &pipeline.Report{RunID: uuid.New()}, nil
}

func (m *mockScheduler) IsRunning() bool { return m.running }

func (m *mockScheduler) Interval() time.Duration { return m.interval }

type mockUpdateChecker struct {
	checkFunc func(ctx context.Context) (int, error)
}

func (m *mockUpdateChecker) CheckLinkUpdates(ctx context.Context) (int, error) {
	if m.checkFunc != nil {
		return m.checkFunc(ctx)
	}
	return 0, nil
}

type mockPostRepo struct {
	isPostedFunc     func(ctx context.Context, url string) (bool, error)
	addFunc          func(ctx context.Context, title, url string) (bool, error)
	listRecentFunc   func(ctx context.Context, limit int) ([]model.PostRecord, error)
	countAllFunc     func(ctx context.Context) (int, error)
	countTodayFunc   func(ctx context.Context) (int, error)
	lastPostedFunc   func(ctx context.Context) (*time.Time, error)
	deleteOlderFunc  func(ctx context.Context, days int) (int, error)
	touchUpdatedFunc func(ctx context.Context, url string) error
}

func (m *mockPostRepo) IsPosted(ctx context.Context, url string) (bool, error) {
	if m.isPostedFunc != nil {
		return m.isPostedFunc(ctx, url)
	}
	return false, nil
}

func (m *mockPostRepo) Add(ctx context.Context, title, url string) (bool, error) {
	if m.addFunc != nil {
		return m.addFunc(ctx, title, url)
	}
	return true, nil
}

func (m *mockPostRepo) ListRecent(ctx context.Context, limit int) ([]model.PostRecord, error) {
	if m.listRecentFunc != nil {
		return m.listRecentFunc(ctx, limit)
	}
	return nil, nil
}

func (m *mockPostRepo) CountAll(ctx context.Context) (int, error) {
	if m.countAllFunc != nil {
		return m.countAllFunc(ctx)
	}
	return 0, nil
}

func (m *mockPostRepo) CountToday(ctx context.Context) (int, error) {
	if m.countTodayFunc != nil {
		return m.countTodayFunc(ctx)
	}
	return 0, nil
}

func (m *mockPostRepo) LastPostedAt(ctx context.Context) (*time.Time, error) {
	if m.lastPostedFunc != nil {
		return m.lastPostedFunc(ctx)
	}
	return nil, nil
}

func (m *mockPostRepo) DeleteOlderThan(ctx context.Context, days int) (int, error) {
	if m.deleteOlderFunc != nil {
		return m.deleteOlderFunc(ctx, days)
	}
	return 0, nil
}

func (m *mockPostRepo) TouchUpdated(ctx context.Context, url string) error {
	if m.touchUpdatedFunc != nil {
		return m.touchUpdatedFunc(ctx, url)
	}
	return nil
}

type mockSettingRepo struct {
	values map[string]string
}

func newMockSettingRepo() *mockSettingRepo {
	return &mockSettingRepo{values: make(map[string]string)}
}

func (m *mockSettingRepo) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *mockSettingRepo) Set(_ context.Context, key, value string) error {
	m.values[key] = value
	return nil
}

type testFixture struct {
	handler   *AdminHandler
	scheduler *mockScheduler
	checker   *mockUpdateChecker
	posts     *mockPostRepo
	settings  *mockSettingRepo
	cache     *cache.Cache
}

func newTestFixture() *testFixture {
	f := &testFixture{
		scheduler: &mockScheduler{},
		checker:   &mockUpdateChecker{},
		posts:     &mockPostRepo{},
		settings:  newMockSettingRepo(),
		cache:     cache.New(),
	}
	f.handler = NewAdminHandler(f.scheduler, f.checker, f.posts, f.settings, f.cache)
	return f
}

func decodeJSONBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("レスポンスの解析に失敗: %v", err)
	}
	return body
}

func TestStatus_ReturnsCurrentState(t *testing.T) {
	f := newTestFixture()
	f.scheduler.running = true
	f.scheduler.interval = 30 * time.Minute
	f.settings.values[model.SettingKeyChannel] = "@movies"
	lastPosted := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f.posts.lastPostedFunc = func(_ context.Context) (*time.Time, error) {
		return &lastPosted, nil
	}

	rec := httptest.NewRecorder()
	f.handler.Status(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeJSONBody(t, rec)
	if body["autopost_running"] != true {
		t.Errorf("autopost_running = %v, want true", body["autopost_running"])
	}
	if body["interval_minutes"] != float64(30) {
		t.Errorf("interval_minutes = %v, want 30", body["interval_minutes"])
	}
	if body["channel_set"] != true {
		t.Errorf("channel_set = %v, want true", body["channel_set"])
	}
	if body["channel"] != "@movies" {
		t.Errorf("channel = %v", body["channel"])
	}
}

func TestStatus_ChannelNotConfigured(t *testing.T) {
	f := newTestFixture()

	rec := httptest.NewRecorder()
	f.handler.Status(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	body := decodeJSONBody(t, rec)
	if body["channel_set"] != false {
		t.Errorf("channel_set = %v, want false", body["channel_set"])
	}
	if _, ok := body["last_posted_at"]; ok {
		t.Error("投稿がない場合はlast_posted_atを含めない")
	}
}

func TestStats_IncludesCacheStats(t *testing.T) {
	f := newTestFixture()
	f.posts.countAllFunc = func(_ context.Context) (int, error) { return 42, nil }
	f.posts.countTodayFunc = func(_ context.Context) (int, error) { return 3, nil }
	f.cache.Set("k", "v", time.Minute)
	f.cache.Get("k")
	f.cache.Get("missing")

	rec := httptest.NewRecorder()
	f.handler.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeJSONBody(t, rec)
	if body["total_posts"] != float64(42) {
		t.Errorf("total_posts = %v, want 42", body["total_posts"])
	}
	if body["posts_today"] != float64(3) {
		t.Errorf("posts_today = %v, want 3", body["posts_today"])
	}
	cacheBody, ok := body["cache"].(map[string]any)
	if !ok {
		t.Fatalf("cacheフィールドがない: %v", body)
	}
	if cacheBody["hits"] != float64(1) || cacheBody["misses"] != float64(1) {
		t.Errorf("cache = %v", cacheBody)
	}
	if cacheBody["hit_rate"] != float64(50) {
		t.Errorf("hit_rate = %v, want 50", cacheBody["hit_rate"])
	}
}

func TestRecentPosts_DefaultLimit(t *testing.T) {
	f := newTestFixture()
	var gotLimit int
	f.posts.listRecentFunc = func(_ context.Context, limit int) ([]model.PostRecord, error) {
		gotLimit = limit
		return []model.PostRecord{
			{ID: "id-1", Title: "Movie A", URL: "https://example.com/a", PostedAt: time.Now()},
		}, nil
	}

	rec := httptest.NewRecorder()
	f.handler.RecentPosts(rec, httptest.NewRequest(http.MethodGet, "/api/posts/recent", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotLimit != defaultRecentLimit {
		t.Errorf("limit = %d, want %d", gotLimit, defaultRecentLimit)
	}
	body := decodeJSONBody(t, rec)
	posts, ok := body["posts"].([]any)
	if !ok || len(posts) != 1 {
		t.Errorf("posts = %v", body["posts"])
	}
}

func TestRecentPosts_InvalidLimit(t *testing.T) {
	tests := []struct {
		name  string
		limit string
	}{
		{"数値でない", "abc"},
		{"ゼロ", "0"},
		{"負数", "-1"},
		{"上限超過", "101"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFixture()
			rec := httptest.NewRecorder()
			f.handler.RecentPosts(rec, httptest.NewRequest(http.MethodGet, "/api/posts/recent?limit="+tt.limit, nil))

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestSetChannel_PersistsValue(t *testing.T) {
	f := newTestFixture()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/settings/channel", bytes.NewBufferString(`{"channel":"@movies"}`))
	f.handler.SetChannel(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if f.settings.values[model.SettingKeyChannel] != "@movies" {
		t.Errorf("保存されたチャンネル = %q", f.settings.values[model.SettingKeyChannel])
	}
}

func TestSetChannel_RejectsEmpty(t *testing.T) {
	f := newTestFixture()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/settings/channel", bytes.NewBufferString(`{"channel":""}`))
	f.handler.SetChannel(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSetTimer_InvalidInterval(t *testing.T) {
	f := newTestFixture()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/settings/timer", bytes.NewBufferString(`{"minutes":0}`))
	f.handler.SetTimer(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decodeJSONBody(t, rec)
	if body["code"] != model.ErrCodeInvalidInterval {
		t.Errorf("code = %v, want INVALID_INTERVAL", body["code"])
	}
}

func TestSetTimer_RestartsWhenRunning(t *testing.T) {
	f := newTestFixture()
	f.scheduler.running = true
	var restartedWith time.Duration
	f.scheduler.restartFunc = func(interval time.Duration) error {
		restartedWith = interval
		return nil
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/settings/timer", bytes.NewBufferString(`{"minutes":15}`))
	f.handler.SetTimer(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if restartedWith != 15*time.Minute {
		t.Errorf("再起動間隔 = %v, want 15m", restartedWith)
	}
	if f.settings.values[model.SettingKeyTimer] != "15" {
		t.Errorf("保存されたタイマー = %q", f.settings.values[model.SettingKeyTimer])
	}
}

func TestSetTimer_DoesNotRestartWhenStopped(t *testing.T) {
	f := newTestFixture()
	restarted := false
	f.scheduler.restartFunc = func(time.Duration) error {
		restarted = true
		return nil
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/settings/timer", bytes.NewBufferString(`{"minutes":15}`))
	f.handler.SetTimer(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if restarted {
		t.Error("停止中のジョブを再起動してはならない")
	}
}

func TestStartAutopost_RequiresChannel(t *testing.T) {
	f := newTestFixture()

	rec := httptest.NewRecorder()
	f.handler.StartAutopost(rec, httptest.NewRequest(http.MethodPost, "/api/autopost/start", nil))

	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("status = %d, want 412", rec.Code)
	}
	body := decodeJSONBody(t, rec)
	if body["code"] != model.ErrCodeChannelNotSet {
		t.Errorf("code = %v, want CHANNEL_NOT_SET", body["code"])
	}
}

func TestStartAutopost_UsesStoredTimer(t *testing.T) {
	f := newTestFixture()
	f.settings.values[model.SettingKeyChannel] = "@movies"
	f.settings.values[model.SettingKeyTimer] = "45"
	var startedWith time.Duration
	f.scheduler.restartFunc = func(interval time.Duration) error {
		startedWith = interval
		return nil
	}

	rec := httptest.NewRecorder()
	f.handler.StartAutopost(rec, httptest.NewRequest(http.MethodPost, "/api/autopost/start", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if startedWith != 45*time.Minute {
		t.Errorf("起動間隔 = %v, want 45m", startedWith)
	}
	if f.settings.values[model.SettingKeyAutoPost] != "true" {
		t.Errorf("auto_post_enabled = %q, want true", f.settings.values[model.SettingKeyAutoPost])
	}
}

func TestStartAutopost_DefaultTimerWhenUnset(t *testing.T) {
	f := newTestFixture()
	f.settings.values[model.SettingKeyChannel] = "@movies"
	var startedWith time.Duration
	f.scheduler.restartFunc = func(interval time.Duration) error {
		startedWith = interval
		return nil
	}

	rec := httptest.NewRecorder()
	f.handler.StartAutopost(rec, httptest.NewRequest(http.MethodPost, "/api/autopost/start", nil))

	want := time.Duration(model.DefaultTimerMinutes) * time.Minute
	if startedWith != want {
		t.Errorf("起動間隔 = %v, want %v", startedWith, want)
	}
}

func TestStopAutopost_PersistsDisabledFlag(t *testing.T) {
	f := newTestFixture()
	stopped := false
	f.scheduler.stopFunc = func() { stopped = true }

	rec := httptest.NewRecorder()
	f.handler.StopAutopost(rec, httptest.NewRequest(http.MethodPost, "/api/autopost/stop", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !stopped {
		t.Error("スケジューラが停止されていない")
	}
	if f.settings.values[model.SettingKeyAutoPost] != "false" {
		t.Errorf("auto_post_enabled = %q, want false", f.settings.values[model.SettingKeyAutoPost])
	}
}

func TestTriggerRun_ReturnsReport(t *testing.T) {
	f := newTestFixture()
	runID := uuid.New()
	f.scheduler.triggerFunc = func(_ context.Context) (*pipeline.Report, error) {
		return &pipeline.Report{
			RunID:      runID,
			Scanned:    10,
			Published:  3,
			Duplicates: 7,
			Duration:   2 * time.Second,
		}, nil
	}

	rec := httptest.NewRecorder()
	f.handler.TriggerRun(rec, httptest.NewRequest(http.MethodPost, "/api/autopost/trigger", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeJSONBody(t, rec)
	if body["run_id"] != runID.String() {
		t.Errorf("run_id = %v", body["run_id"])
	}
	if body["published"] != float64(3) || body["duplicates"] != float64(7) {
		t.Errorf("集計 = %v", body)
	}
}

func TestTriggerRun_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"実行中は409", model.NewRunInProgressError(), http.StatusConflict},
		{"チャンネル未設定は412", model.NewChannelNotSetError(), http.StatusPreconditionFailed},
		{"取得失敗は502", model.NewFetchFailedError("タイムアウト"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFixture()
			f.scheduler.triggerFunc = func(_ context.Context) (*pipeline.Report, error) {
				return nil, tt.err
			}

			rec := httptest.NewRecorder()
			f.handler.TriggerRun(rec, httptest.NewRequest(http.MethodPost, "/api/autopost/trigger", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			body := decodeJSONBody(t, rec)
			if body["code"] == "" || body["message"] == "" {
				t.Errorf("統一エラーフォーマットでない: %v", body)
			}
		})
	}
}

func TestCheckUpdates_ReturnsNotifiedCount(t *testing.T) {
	f := newTestFixture()
	f.checker.checkFunc = func(_ context.Context) (int, error) { return 2, nil }

	rec := httptest.NewRecorder()
	f.handler.CheckUpdates(rec, httptest.NewRequest(http.MethodPost, "/api/updates/check", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeJSONBody(t, rec)
	if body["notified"] != float64(2) {
		t.Errorf("notified = %v, want 2", body["notified"])
	}
}

func TestClearCache_RemovesAllEntries(t *testing.T) {
	f := newTestFixture()
	f.cache.Set("a", 1, time.Minute)
	f.cache.Set("b", 2, time.Minute)

	rec := httptest.NewRecorder()
	f.handler.ClearCache(rec, httptest.NewRequest(http.MethodPost, "/api/cache/clear", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if f.cache.Size() != 0 {
		t.Errorf("キャッシュサイズ = %d, want 0", f.cache.Size())
	}
}
