package handler

import (
	"context"
	"net/http"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Withdraw はユーザーの退会処理を実行する。
	// お気に入り・会話・土地情報・画像・セッション・プロフィール・ユーザーを順に削除する。
	Withdraw(ctx context.Context, userID string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	cookies AuthHandlerConfig
}

// NewUserHandler はUserHandlerを生成する。
// cookiesは退会時にセッションCookieを消すために使う。
func NewUserHandler(service UserServiceInterface, cookies AuthHandlerConfig) *UserHandler {
	return &UserHandler{
		service: service,
		cookies: cookies,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	setSessionCookie(w, h.cookies, "", -1)
	w.WriteHeader(http.StatusNoContent)
}
