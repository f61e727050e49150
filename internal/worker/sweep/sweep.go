// Package sweep は期限切れリフレッシュトークンの自動削除ジョブを提供する。
// expires_atを超過したトークンレコードを日次バッチで削除する。
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// TokenSweeper は期限切れトークンの削除処理を抽象化するインターフェース。
// auth.Serviceがこれを満たす。
type TokenSweeper interface {
	DeleteExpiredRefreshTokens(ctx context.Context) (int64, error)
}

// SweepMetrics は掃除件数のメトリクス記録インターフェース。
type SweepMetrics interface {
	RecordTokensSwept(count int)
}

// SweepJob は期限切れリフレッシュトークンの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
// 削除対象がない場合でもエラーにならない。
type SweepJob struct {
	sweeper TokenSweeper
	metrics SweepMetrics
	logger  *slog.Logger
}

// NewSweepJob は新しいSweepJobを生成する。metricsはnilでもよい。
func NewSweepJob(sweeper TokenSweeper, metrics SweepMetrics, logger *slog.Logger) *SweepJob {
	return &SweepJob{
		sweeper: sweeper,
		metrics: metrics,
		logger:  logger,
	}
}

// Run は期限切れリフレッシュトークンを削除する。
func (j *SweepJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.sweeper.DeleteExpiredRefreshTokens(ctx)
	if err != nil {
		j.logger.Error("期限切れトークン掃除ジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("期限切れトークン掃除の実行に失敗: %w", err)
	}

	if j.metrics != nil {
		j.metrics.RecordTokensSwept(int(deletedCount))
	}

	duration := time.Since(start)
	j.logger.Info("期限切れトークン掃除ジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は指定間隔のティッカーでジョブを繰り返し実行する。
// 起動直後に1回実行し、以降はコンテキストがキャンセルされるまで継続する。
func (j *SweepJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("トークン掃除スケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if err := j.Run(ctx); err != nil {
		j.logger.Error("掃除サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("トークン掃除スケジューラを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("掃除サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
