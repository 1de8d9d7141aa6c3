// Package cleanup は期限切れデータの定期削除ジョブを提供する。
//
// 1回の実行で次の2つを削除する。
//   - 有効期限を過ぎたセッション
//   - 保持期間を過ぎ、どこからも参照されていない画像
//
// 画像は出品の画像一覧、ユーザー・プロフィールのアバター、メッセージの添付から
// 公開URL（.../storage/<bucket>/<name>）で参照される。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/landmarket/internal/metrics"
)

// DefaultImageRetention は未参照画像を残しておく期間のデフォルト。
// アップロード直後でまだ出品やメッセージに紐づいていない画像を消さないための猶予。
const DefaultImageRetention = 24 * time.Hour

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const deleteExpiredSessionsQuery = `DELETE FROM sessions WHERE expires_at < now()`

// 参照元のURLは末尾が "/storage/<bucket>/<name>" になる。
const deleteOrphanImagesQuery = `
DELETE FROM images i
WHERE i.created_at < now() - $1::interval
  AND NOT EXISTS (
    SELECT 1 FROM listings l, unnest(l.images) AS u(url)
    WHERE u.url LIKE '%/storage/' || i.bucket || '/' || i.name
  )
  AND NOT EXISTS (
    SELECT 1 FROM users us
    WHERE us.avatar_url LIKE '%/storage/' || i.bucket || '/' || i.name
  )
  AND NOT EXISTS (
    SELECT 1 FROM profiles p
    WHERE p.avatar_url LIKE '%/storage/' || i.bucket || '/' || i.name
  )
  AND NOT EXISTS (
    SELECT 1 FROM messages m
    WHERE m.image_url LIKE '%/storage/' || i.bucket || '/' || i.name
  )`

// CleanupJob は期限切れセッションと未参照画像の削除ジョブ。
// 冪等で、削除対象が無くてもエラーにならない。
type CleanupJob struct {
	db             Executor
	logger         *slog.Logger
	recorder       metrics.Recorder
	ImageRetention time.Duration // 未参照画像の保持期間（デフォルト: 24時間）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger, recorder metrics.Recorder) *CleanupJob {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &CleanupJob{
		db:             db,
		logger:         logger,
		recorder:       recorder,
		ImageRetention: DefaultImageRetention,
	}
}

// Run は期限切れセッションと未参照画像を削除する。
// セッション削除に失敗した場合は画像削除を行わずにエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	sessions, err := j.exec(ctx, "sessions", deleteExpiredSessionsQuery)
	if err != nil {
		return err
	}

	images, err := j.exec(ctx, "images", deleteOrphanImagesQuery, retentionInterval(j.ImageRetention))
	if err != nil {
		return err
	}

	j.recorder.RecordCleanup(sessions, images)

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", sessions),
		slog.Int64("deleted_images", images),
		slog.String("image_retention", j.ImageRetention.String()),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

func (j *CleanupJob) exec(ctx context.Context, target, query string, args ...interface{}) (int64, error) {
	result, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		j.logger.Error("クリーンアップジョブの実行に失敗しました",
			slog.String("target", target),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("%sの削除に失敗: %w", target, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("target", target),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return deleted, nil
}

// Start は起動直後に1回実行し、以降intervalごとに実行する。ctxが終了するまでブロックする。
// 1回の失敗はログに残して次の周期で再試行する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}

// retentionInterval はPostgreSQLのinterval文字列に変換する。1秒未満は切り捨てる。
func retentionInterval(d time.Duration) string {
	return fmt.Sprintf("%d seconds", int64(d/time.Second))
}
