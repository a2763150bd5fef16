// Package autopost は自動投稿のスケジューリングを提供する。
// 設定された間隔で投稿パイプラインを起動する単一のジョブを管理する。
package autopost

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/telecast/internal/model"
	"github.com/hitoshi/telecast/internal/pipeline"
)

// minInterval は自動投稿間隔の下限。
const minInterval = time.Minute

// Runner は投稿サイクルの実行インターフェース。
type Runner interface {
	// Run は投稿サイクルを1回実行する。
	Run(ctx context.Context) (*pipeline.Report, error)
}

// Scheduler は自動投稿ジョブのライフサイクルを管理する。
// ジョブは常に1つで、起動中の再始動は既存ジョブの置き換えとなる。
// 最初の実行は起動から1間隔後で、起動直後には実行しない。
type Scheduler struct {
	runner Runner
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(runner Runner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner: runner,
		logger: logger,
	}
}

// Start は指定間隔の自動投稿ジョブを起動する。
// 既に起動している場合は既存ジョブを停止して置き換える。
// 1分未満の間隔はINVALID_INTERVALを返す。
func (s *Scheduler) Start(interval time.Duration) error {
	if interval < minInterval {
		return model.NewInvalidIntervalError(int(interval.Minutes()))
	}

	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.interval = interval
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, interval, s.done)

	s.logger.Info("自動投稿ジョブを起動しました",
		slog.Duration("interval", interval),
	)
	return nil
}

// Restart は既存ジョブを新しい間隔で起動し直す。Startと同じ置き換え動作。
func (s *Scheduler) Restart(interval time.Duration) error {
	return s.Start(interval)
}

// Stop は自動投稿ジョブを停止する。停止中の場合は何もしない。
// ジョブのループが終了するまでブロックする。
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	<-done

	s.logger.Info("自動投稿ジョブを停止しました")
}

// TriggerNow は投稿サイクルを即時に1回実行する。
// スケジュールとは独立しており、ジョブの起動状態に関わらず実行できる。
// 実行中サイクルとの多重起動はRUN_IN_PROGRESSとして呼び出し元に返る。
func (s *Scheduler) TriggerNow(ctx context.Context) (*pipeline.Report, error) {
	return s.runner.Run(ctx)
}

// IsRunning はジョブが起動中かどうかを返す。
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Interval は現在のジョブ間隔を返す。停止中は0を返す。
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	return s.interval
}

// loop はティッカーでサイクルを定期実行する。
// サイクルの失敗はログに記録して次のティックまで待つ。
func (s *Scheduler) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := s.runner.Run(ctx)
			if err != nil {
				s.logger.Error("自動投稿サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
				continue
			}
			s.logger.Info("自動投稿サイクルを実行しました",
				slog.String("run_id", report.RunID.String()),
				slog.Int("published", report.Published),
				slog.Int("duplicates", report.Duplicates),
			)
		}
	}
}
