// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/landmarket/internal/model"
)

// SessionCookieName はセッショントークンを保持するCookieの名前。
const SessionCookieName = "session_token"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
	// sessionIDContextKey はリクエストコンテキストにセッションIDを格納するためのキー。
	sessionIDContextKey = contextKey("session_id")
)

// SessionResolver はCookieのトークンからセッションを解決するインターフェース。
// 無効なトークンの場合はnil, nilを返す。
type SessionResolver interface {
	ResolveSession(ctx context.Context, token string) (*model.Session, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 有効性を検証するミドルウェアを返す。
// 認証済みユーザーIDとセッションIDをリクエストコンテキストに注入する。
// 未認証リクエストには401 Unauthorizedを返す。
func NewSessionMiddleware(resolver SessionResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := resolveSession(r, resolver)
			if session == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r.WithContext(withSession(r.Context(), session)))
		})
	}
}

// NewOptionalSessionMiddleware はセッションがあればコンテキストに注入し、
// 無ければそのまま匿名リクエストとして通すミドルウェアを返す。
func NewOptionalSessionMiddleware(resolver SessionResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if session := resolveSession(r, resolver); session != nil {
				r = r.WithContext(withSession(r.Context(), session))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func resolveSession(r *http.Request, resolver SessionResolver) *model.Session {
	// 1. Cookieからトークンを取得
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	// 2. 署名とDB上のセッションを検証
	session, err := resolver.ResolveSession(r.Context(), cookie.Value)
	if err != nil {
		slog.Error("failed to resolve session",
			slog.String("error", err.Error()),
		)
		return nil
	}
	return session
}

func withSession(ctx context.Context, session *model.Session) context.Context {
	ctx = context.WithValue(ctx, userIDContextKey, session.UserID)
	ctx = context.WithValue(ctx, sessionIDContextKey, session.ID)
	// ロギングミドルウェアにユーザーIDを伝える
	if info := requestInfoFromContext(ctx); info != nil {
		info.userID = session.UserID
	}
	return ctx
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// OptionalUserID はユーザーIDを返す。匿名リクエストの場合は空文字。
func OptionalUserID(ctx context.Context) string {
	userID, _ := UserIDFromContext(ctx)
	return userID
}

// SessionIDFromContext はリクエストコンテキストからセッションIDを取得する。
func SessionIDFromContext(ctx context.Context) (string, error) {
	sessionID, ok := ctx.Value(sessionIDContextKey).(string)
	if !ok || sessionID == "" {
		return "", fmt.Errorf("session ID not found in context")
	}
	return sessionID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
