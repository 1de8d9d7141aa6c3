package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/landmarket/internal/model"
)

// healthCheckTimeout はヘルスチェックでDBへのpingを待つ時間。
const healthCheckTimeout = 2 * time.Second

// HealthChecker はヘルスチェック対象の依存。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// NewHealthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func NewHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeAPIErrorResponse(w, http.StatusServiceUnavailable, &model.APIError{
					Code:     "UNAVAILABLE",
					Message:  "データベースに接続できません。",
					Category: "system",
					Action:   "しばらく待ってから再度お試しください。",
				})
				return
			}
		}
		writeSuccess(w, http.StatusOK, envelope{"status": "ok"})
	}
}
