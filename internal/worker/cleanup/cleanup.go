// Package cleanup は投稿履歴の自動削除ジョブを提供する。
// 保持期間（デフォルト90日）を超過した投稿記録の削除と、
// 期限切れキャッシュエントリの回収を日次バッチで行う。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/telecast/internal/cache"
	"github.com/hitoshi/telecast/internal/repository"
)

// DefaultRetentionDays は投稿記録のデフォルト保持日数。
const DefaultRetentionDays = 90

// CleanupJob は保持期間を超過した投稿記録の自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	posts         repository.PostRepository
	cache         *cache.Cache
	logger        *slog.Logger
	RetentionDays int // 投稿記録の保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionDaysが0以下の場合はデフォルトの保持日数を使用する。
func NewCleanupJob(posts repository.PostRepository, c *cache.Cache, logger *slog.Logger, retentionDays int) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &CleanupJob{
		posts:         posts,
		cache:         c,
		logger:        logger,
		RetentionDays: retentionDays,
	}
}

// Run は保持期間を超過した投稿記録と期限切れキャッシュを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedPosts, err := j.posts.DeleteOlderThan(ctx, j.RetentionDays)
	if err != nil {
		j.logger.Error("投稿記録クリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("投稿記録クリーンアップの実行に失敗: %w", err)
	}

	expiredEntries := j.cache.CleanupExpired()

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int("deleted_posts", deletedPosts),
		slog.Int("expired_cache_entries", expiredEntries),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は指定間隔のティッカーでクリーンアップジョブを定期実行する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Int("retention_days", j.RetentionDays),
	)

	if err := j.Run(ctx); err != nil {
		j.logger.Error("クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("クリーンアップジョブの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
