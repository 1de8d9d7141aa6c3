package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/landmarket/internal/model"
)

// --- モック定義 ---

type mockSessionResolver struct {
	resolveFn func(ctx context.Context, token string) (*model.Session, error)
}

func (m *mockSessionResolver) ResolveSession(ctx context.Context, token string) (*model.Session, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, token)
	}
	return nil, nil
}

func validTokenResolver() *mockSessionResolver {
	return &mockSessionResolver{
		resolveFn: func(ctx context.Context, token string) (*model.Session, error) {
			if token == "valid-token" {
				return &model.Session{
					ID:        "session-1",
					UserID:    "user-123",
					ExpiresAt: time.Now().Add(1 * time.Hour),
				}, nil
			}
			return nil, nil
		},
	}
}

// --- テスト ---

func TestSessionMiddleware_ValidSession_InjectsUserAndSession(t *testing.T) {
	mw := NewSessionMiddleware(validTokenResolver())

	var userID, sessionID string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		if userID, err = UserIDFromContext(r.Context()); err != nil {
			t.Errorf("expected user ID, got %v", err)
		}
		if sessionID, err = SessionIDFromContext(r.Context()); err != nil {
			t.Errorf("expected session ID, got %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/favorites", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-token"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if userID != "user-123" {
		t.Errorf("userID = %q, want %q", userID, "user-123")
	}
	if sessionID != "session-1" {
		t.Errorf("sessionID = %q, want %q", sessionID, "session-1")
	}
}

func TestSessionMiddleware_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		cookie   *http.Cookie
		resolver *mockSessionResolver
	}{
		{"no cookie", nil, validTokenResolver()},
		{"empty cookie", &http.Cookie{Name: SessionCookieName, Value: ""}, validTokenResolver()},
		{"unknown token", &http.Cookie{Name: SessionCookieName, Value: "forged"}, validTokenResolver()},
		{"resolver error", &http.Cookie{Name: SessionCookieName, Value: "valid-token"}, &mockSessionResolver{
			resolveFn: func(ctx context.Context, token string) (*model.Session, error) {
				return nil, errors.New("db down")
			},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewSessionMiddleware(tt.resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/listings", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			var body ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Success || body.Code != model.ErrCodeUnauthorized {
				t.Errorf("body = %+v, want success=false code=UNAUTHORIZED", body)
			}
		})
	}
}

func TestOptionalSessionMiddleware(t *testing.T) {
	mw := NewOptionalSessionMiddleware(validTokenResolver())

	var got string
	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		got = OptionalUserID(r.Context())
	}))

	// 匿名
	req := httptest.NewRequest(http.MethodGet, "/api/listings", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if !called || got != "" {
		t.Errorf("anonymous: called=%v userID=%q, want called with empty user", called, got)
	}

	// 無効なトークンも匿名扱い
	called = false
	req = httptest.NewRequest(http.MethodGet, "/api/listings", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "forged"})
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if !called || got != "" {
		t.Errorf("invalid token: called=%v userID=%q", called, got)
	}

	// 有効なトークン
	req = httptest.NewRequest(http.MethodGet, "/api/listings", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-token"})
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got != "user-123" {
		t.Errorf("userID = %q, want user-123", got)
	}
}

func TestUserIDFromContext(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for empty context")
	}

	ctx := ContextWithUserID(context.Background(), "user-xyz")
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if userID != "user-xyz" {
		t.Errorf("userID = %q, want %q", userID, "user-xyz")
	}
}
