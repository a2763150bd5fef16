package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/telecast/internal/metrics"
	"github.com/hitoshi/telecast/internal/middleware"
)

// RouterDeps はルーター構築に必要な依存をまとめる。
type RouterDeps struct {
	Admin       *AdminHandler
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter
	AdminToken  string
	Gatherer    prometheus.Gatherer
}

// NewRouter は管理APIのルーターを構築する。
// /healthz と /metrics は認証不要、/api/* はBearerトークン認証を要求する。
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.Middleware())
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.NewAuthMiddleware(deps.AdminToken))

		api.Get("/status", deps.Admin.Status)
		api.Get("/stats", deps.Admin.Stats)
		api.Get("/posts/recent", deps.Admin.RecentPosts)

		api.Put("/settings/channel", deps.Admin.SetChannel)
		api.Put("/settings/timer", deps.Admin.SetTimer)

		api.Post("/autopost/start", deps.Admin.StartAutopost)
		api.Post("/autopost/stop", deps.Admin.StopAutopost)
		api.Post("/autopost/trigger", deps.Admin.TriggerRun)

		api.Post("/updates/check", deps.Admin.CheckUpdates)
		api.Post("/cache/clear", deps.Admin.ClearCache)
	})

	return r
}
