package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/landmarket/internal/middleware"
	"github.com/hitoshi/landmarket/internal/model"
)

// maxJSONBodyBytes はJSONリクエストボディの上限。
const maxJSONBodyBytes = 1 << 20

// envelope は成功レスポンスのボディ。writeSuccessがsuccess=trueを付与する。
type envelope map[string]any

// writeSuccess は{"success":true, ...}形式でレスポンスを書き込む。
func writeSuccess(w http.ResponseWriter, statusCode int, body envelope) {
	if body == nil {
		body = envelope{}
	}
	body["success"] = true
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// writeUnauthorized は401の統一エラーレスポンスを書き込む。
func writeUnauthorized(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
}

// decodeJSON はリクエストボディをdstにデコードする。
// 失敗時はエラーレスポンスを書き込んでfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return false
	}
	return true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error",
		slog.String("error", err.Error()),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation, model.ErrCodeInvalidRequest, model.ErrCodeEmptyMessage,
		model.ErrCodeSelfConversation, model.ErrCodeInvalidImage, model.ErrCodeWrongPassword:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized, model.ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden, model.ErrCodeCSRF:
		return http.StatusForbidden
	case model.ErrCodeUserNotFound, model.ErrCodeListingNotFound, model.ErrCodeConversationNotFound,
		model.ErrCodeMessageNotFound, model.ErrCodeImageNotFound:
		return http.StatusNotFound
	case model.ErrCodeEmailTaken:
		return http.StatusConflict
	case model.ErrCodeImageTooLarge:
		return http.StatusRequestEntityTooLarge
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		if strings.HasSuffix(apiErr.Code, "_NOT_FOUND") {
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	}
}

// requireUserID はセッションのユーザーIDを返す。
// 未認証の場合は401を書き込んでfalseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return "", false
	}
	return userID, true
}
