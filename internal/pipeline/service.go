// Package pipeline はコンテンツの取得から投稿までの一連の処理を提供する。
// 取得→重複排除→リンク付与→整形→投稿→記録のサイクルを実行する。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hitoshi/telecast/internal/model"
	"github.com/hitoshi/telecast/internal/publisher"
	"github.com/hitoshi/telecast/internal/repository"
	"github.com/hitoshi/telecast/internal/scraper"
)

// recentPostsForUpdateCheck はリンク更新確認の対象とする直近投稿の件数。
const recentPostsForUpdateCheck = 10

// MetricsRecorder はパイプラインの観測値を記録するインターフェース。
type MetricsRecorder interface {
	RecordRunSuccess()
	RecordRunFailure(code string)
	RecordPublished(count int)
	RecordDuplicates(count int)
	RecordPublishFailures(count int)
	RecordRunDuration(duration time.Duration)
}

// noopMetrics はメトリクス未設定時の何もしない実装。
type noopMetrics struct{}

func (noopMetrics) RecordRunSuccess()               {}
func (noopMetrics) RecordRunFailure(string)         {}
func (noopMetrics) RecordPublished(int)             {}
func (noopMetrics) RecordDuplicates(int)            {}
func (noopMetrics) RecordPublishFailures(int)       {}
func (noopMetrics) RecordRunDuration(time.Duration) {}

// Report は1回の投稿サイクルの実行結果。
type Report struct {
	RunID      uuid.UUID
	Scanned    int // リスティングから取得したアイテム数
	Published  int // 投稿に成功したアイテム数
	Duplicates int // 投稿済みとしてスキップしたアイテム数
	Failures   int // 投稿または記録に失敗したアイテム数
	Duration   time.Duration
}

// Config はパイプラインの動作パラメータ。
type Config struct {
	PublishLimit    int           // 1サイクルあたりの最大投稿数
	PublishInterval time.Duration // 投稿間の最小間隔
}

// Service は投稿パイプラインの実装。
// 同時に実行できるサイクルは1つのみで、実行中の多重起動は
// RUN_IN_PROGRESSとして拒否される。
type Service struct {
	source    scraper.ContentSource
	publisher publisher.Publisher
	posts     repository.PostRepository
	settings  repository.SettingRepository
	limiter   *rate.Limiter
	metrics   MetricsRecorder
	logger    *slog.Logger
	config    Config

	runMu sync.Mutex // 実行中サイクルの排他
}

// NewService はServiceを生成する。
func NewService(
	source scraper.ContentSource,
	pub publisher.Publisher,
	posts repository.PostRepository,
	settings repository.SettingRepository,
	metrics MetricsRecorder,
	logger *slog.Logger,
	config Config,
) *Service {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Service{
		source:    source,
		publisher: pub,
		posts:     posts,
		settings:  settings,
		limiter:   rate.NewLimiter(rate.Every(config.PublishInterval), 1),
		metrics:   metrics,
		logger:    logger,
		config:    config,
	}
}

// Run は投稿サイクルを1回実行する。
// 投稿先チャンネルの設定は事前条件で、未設定の場合はフェッチを行わず
// CHANNEL_NOT_SETを返す。リスティング取得の失敗は呼び出し元に伝播する。
// 個別アイテムの失敗はサイクルを止めず、集計に記録して続行する。
func (s *Service) Run(ctx context.Context) (*Report, error) {
	if !s.runMu.TryLock() {
		s.metrics.RecordRunFailure(model.ErrCodeRunInProgress)
		return nil, model.NewRunInProgressError()
	}
	defer s.runMu.Unlock()

	channelID, err := s.channelID(ctx)
	if err != nil {
		s.metrics.RecordRunFailure(errorCode(err))
		return nil, err
	}

	start := time.Now()
	report := &Report{RunID: uuid.New()}

	items, err := s.source.LatestContent(ctx)
	if err != nil {
		s.metrics.RecordRunFailure(errorCode(err))
		return nil, err
	}
	report.Scanned = len(items)

	for _, item := range items {
		if report.Published >= s.config.PublishLimit {
			break
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		posted, err := s.posts.IsPosted(ctx, item.URL)
		if err != nil {
			s.logger.Error("投稿済み判定に失敗しました",
				slog.String("url", item.URL),
				slog.String("error", err.Error()),
			)
			report.Failures++
			continue
		}
		if posted {
			report.Duplicates++
			continue
		}

		// リンク付与の失敗は投稿自体を妨げない（リンクなしで投稿する）
		links, err := s.source.DownloadLinks(ctx, item.URL)
		if err != nil {
			s.logger.Warn("ダウンロードリンクの取得に失敗しました",
				slog.String("url", item.URL),
				slog.String("error", err.Error()),
			)
			links = nil
		}
		item.DownloadLinks = links

		// 投稿間隔のペーシング
		if err := s.limiter.Wait(ctx); err != nil {
			return report, err
		}

		if err := s.publisher.PublishItem(ctx, channelID, item); err != nil {
			s.logger.Error("アイテムの投稿に失敗しました",
				slog.String("title", item.Title),
				slog.String("url", item.URL),
				slog.String("error", err.Error()),
			)
			report.Failures++
			continue
		}

		added, err := s.posts.Add(ctx, item.Title, item.URL)
		if err != nil {
			s.logger.Error("投稿記録の保存に失敗しました",
				slog.String("url", item.URL),
				slog.String("error", err.Error()),
			)
			report.Failures++
			continue
		}
		if !added {
			// 並行する別プロセスが先に記録した場合は重複として扱う
			report.Duplicates++
			continue
		}

		report.Published++
	}

	report.Duration = time.Since(start)
	s.metrics.RecordRunSuccess()
	s.metrics.RecordPublished(report.Published)
	s.metrics.RecordDuplicates(report.Duplicates)
	s.metrics.RecordPublishFailures(report.Failures)
	s.metrics.RecordRunDuration(report.Duration)
	s.logger.Info("投稿サイクルが完了しました",
		slog.String("run_id", report.RunID.String()),
		slog.Int("scanned", report.Scanned),
		slog.Int("published", report.Published),
		slog.Int("duplicates", report.Duplicates),
		slog.Int("failures", report.Failures),
		slog.Float64("duration_ms", float64(report.Duration.Milliseconds())),
	)

	return report, nil
}

// CheckLinkUpdates は直近の投稿についてダウンロードリンクの更新を確認し、
// 新規リンクが見つかった投稿ごとに更新通知をチャンネルへ送信する。
// 通知した投稿は更新日時を記録する。通知件数を返す。
func (s *Service) CheckLinkUpdates(ctx context.Context) (int, error) {
	channelID, err := s.channelID(ctx)
	if err != nil {
		return 0, err
	}

	records, err := s.posts.ListRecent(ctx, recentPostsForUpdateCheck)
	if err != nil {
		return 0, fmt.Errorf("直近投稿の取得に失敗しました: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	titles := make(map[string]string, len(records))
	urls := make([]string, 0, len(records))
	for _, r := range records {
		titles[r.URL] = r.Title
		urls = append(urls, r.URL)
	}

	updates, err := s.source.CheckUpdates(ctx, urls)
	if err != nil {
		return 0, err
	}

	notified := 0
	for _, u := range updates {
		text := formatUpdateNotice(titles[u.URL], u)
		if err := s.publisher.SendText(ctx, channelID, text); err != nil {
			s.logger.Error("更新通知の送信に失敗しました",
				slog.String("url", u.URL),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := s.posts.TouchUpdated(ctx, u.URL); err != nil {
			s.logger.Warn("更新日時の記録に失敗しました",
				slog.String("url", u.URL),
				slog.String("error", err.Error()),
			)
		}
		notified++
	}

	if notified > 0 {
		s.logger.Info("リンク更新を通知しました",
			slog.Int("notified", notified),
			slog.Int("checked", len(urls)),
		)
	}
	return notified, nil
}

// channelID は投稿先チャンネル設定を取得する。未設定は事前条件違反。
func (s *Service) channelID(ctx context.Context) (string, error) {
	channelID, ok, err := s.settings.Get(ctx, model.SettingKeyChannel)
	if err != nil {
		return "", fmt.Errorf("チャンネル設定の取得に失敗しました: %w", err)
	}
	if !ok || channelID == "" {
		return "", model.NewChannelNotSetError()
	}
	return channelID, nil
}

// errorCode はエラーからメトリクスラベル用のコードを取り出す。
func errorCode(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return "INTERNAL"
}

// formatUpdateNotice はリンク更新通知メッセージを整形する。
// 新規リンクがない更新（削除のみの差分）は汎用の更新文言で通知する。
func formatUpdateNotice(title string, update model.LinkUpdate) string {
	if title == "" {
		title = update.URL
	}
	if len(update.NewLinks) == 0 {
		return fmt.Sprintf("🔄 *%s*\n\n💾 Download links have been updated!", title)
	}
	unit := "links"
	if len(update.NewLinks) == 1 {
		unit = "link"
	}
	return fmt.Sprintf("🔄 *%s*\n\n💾 %d new download %s available!", title, len(update.NewLinks), unit)
}
