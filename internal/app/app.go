package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/telecast/internal/cache"
	"github.com/hitoshi/telecast/internal/config"
	"github.com/hitoshi/telecast/internal/database"
	"github.com/hitoshi/telecast/internal/handler"
	"github.com/hitoshi/telecast/internal/logger"
	"github.com/hitoshi/telecast/internal/metrics"
	"github.com/hitoshi/telecast/internal/middleware"
	"github.com/hitoshi/telecast/internal/model"
	"github.com/hitoshi/telecast/internal/pipeline"
	"github.com/hitoshi/telecast/internal/publisher"
	"github.com/hitoshi/telecast/internal/repository"
	"github.com/hitoshi/telecast/internal/scraper"
	"github.com/hitoshi/telecast/internal/security"
	"github.com/hitoshi/telecast/internal/worker/autopost"
	"github.com/hitoshi/telecast/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("source_base_url", cfg.SourceBaseURL),
		slog.String("source_mode", string(cfg.SourceMode)),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はサービスのメインモードで起動する。
// DB接続、スクレイパー、投稿パイプライン、自動投稿スケジューラ、
// 管理APIサーバーをすべて1プロセスで動かす。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリとキャッシュの初期化
	postRepo := repository.NewPostgresPostRepo(db)
	settingRepo := repository.NewPostgresSettingRepo(db)
	scrapeCache := cache.New()

	// 3. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewTextSanitizer()

	// 4. コンテンツソースの初期化
	siteClient := scraper.NewSiteClient(ssrfGuard, slog.Default(), cfg.FetchTimeout, cfg.FetchMaxSize)
	sourceConfig := scraper.ServiceConfig{
		BaseURL:          cfg.SourceBaseURL,
		ListingTTL:       cfg.ListingCacheTTL,
		LinksTTL:         cfg.LinksCacheTTL,
		SnapshotTTL:      cfg.SnapshotTTL,
		UpdateCheckDelay: cfg.UpdateCheckDelay,
	}
	htmlSource := scraper.NewService(
		siteClient, scraper.NewGoqueryParser(), scrapeCache,
		sanitizer, slog.Default(), sourceConfig,
	)

	var source scraper.ContentSource = htmlSource
	if cfg.SourceMode == config.SourceModeFeed {
		source = scraper.NewFeedSource(
			htmlSource, siteClient, scrapeCache,
			sanitizer, slog.Default(), sourceConfig,
		)
	}

	// 5. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 6. 投稿パイプラインとスケジューラの初期化
	telegramClient := publisher.NewTelegramClient(cfg.BotToken, slog.Default())
	pipelineService := pipeline.NewService(
		source, telegramClient, postRepo, settingRepo,
		collector, slog.Default(),
		pipeline.Config{
			PublishLimit:    cfg.PublishLimit,
			PublishInterval: cfg.PublishInterval,
		},
	)
	scheduler := autopost.NewScheduler(pipelineService, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// 7. 保存済み設定から自動投稿ジョブを復元
	if err := bootstrapScheduler(ctx, scheduler, settingRepo); err != nil {
		slog.Warn("自動投稿ジョブの復元に失敗しました", slog.String("error", err.Error()))
	}

	// 8. クリーンアップジョブを日次でバックグラウンド実行
	cleanupJob := cleanup.NewCleanupJob(postRepo, scrapeCache, slog.Default(), cfg.PostRetentionDays)
	go cleanupJob.Start(ctx, 24*time.Hour)

	// 9. キャッシュ統計を定期的にメトリクスへ反映
	go reportCacheStats(ctx, scrapeCache, collector)

	// 10. ルーターとHTTPサーバーの起動
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	router := handler.NewRouter(handler.RouterDeps{
		Admin: handler.NewAdminHandler(
			scheduler, pipelineService, postRepo, settingRepo, scrapeCache,
		),
		Logger:      slog.Default(),
		RateLimiter: rateLimiter,
		AdminToken:  cfg.AdminToken,
		Gatherer:    registry,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("admin API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down...")

	scheduler.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("stopped gracefully")
	return nil
}

// bootstrapScheduler は保存済み設定に基づいて自動投稿ジョブを復元する。
// チャンネルが設定済みかつauto_post_enabledがtrueの場合のみ起動する。
func bootstrapScheduler(ctx context.Context, scheduler *autopost.Scheduler, settings repository.SettingRepository) error {
	channel, ok, err := settings.Get(ctx, model.SettingKeyChannel)
	if err != nil {
		return err
	}
	if !ok || channel == "" {
		return nil
	}

	enabled, ok, err := settings.Get(ctx, model.SettingKeyAutoPost)
	if err != nil {
		return err
	}
	if !ok || enabled != "true" {
		return nil
	}

	minutes := model.DefaultTimerMinutes
	if raw, ok, err := settings.Get(ctx, model.SettingKeyTimer); err == nil && ok {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 1 {
			minutes = parsed
		}
	}

	if err := scheduler.Start(time.Duration(minutes) * time.Minute); err != nil {
		return err
	}

	slog.Info("自動投稿ジョブを復元しました", slog.Int("interval_minutes", minutes))
	return nil
}

// reportCacheStats はキャッシュ統計を定期的にメトリクスへ反映する。
func reportCacheStats(ctx context.Context, c *cache.Cache, collector *metrics.Collector) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := c.GetStats()
			collector.SetCacheStats(stats.HitRate, stats.Size)
		}
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
