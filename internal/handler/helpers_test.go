package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/landmarket/internal/auth"
	"github.com/hitoshi/landmarket/internal/chat"
	"github.com/hitoshi/landmarket/internal/listing"
	"github.com/hitoshi/landmarket/internal/middleware"
	"github.com/hitoshi/landmarket/internal/model"
	"github.com/hitoshi/landmarket/internal/profile"
)

// --- テストヘルパー ---

// withUserID はリクエストコンテキストに認証済みユーザーIDを設定する。
func withUserID(req *http.Request, userID string) *http.Request {
	return req.WithContext(middleware.ContextWithUserID(req.Context(), userID))
}

// withURLParams はchiのURLパラメータを設定する。kvはキーと値を交互に並べる。
func withURLParams(req *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// multipartRequest はfieldに内容contentのファイルを持つmultipartリクエストを作る。
func multipartRequest(t *testing.T, target, field, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// decodeBody はレスポンスボディをmapにデコードする。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v\nraw: %s", err, w.Body.String())
	}
	return body
}

// assertErrorResponse はステータスコードと統一エラーフォーマットのcodeを検証する。
func assertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Errorf("status = %d, want %d (body=%s)", w.Code, status, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["success"] != false {
		t.Errorf("success = %v, want false", body["success"])
	}
	if body["code"] != code {
		t.Errorf("code = %v, want %q", body["code"], code)
	}
	if msg, _ := body["error"].(string); msg == "" {
		t.Error("expected non-empty error message")
	}
}

func strPtr(s string) *string { return &s }

// --- モック定義 ---

type mockAuthService struct {
	signUpFn         func(ctx context.Context, input auth.SignUpInput) (*auth.Result, error)
	loginFn          func(ctx context.Context, email, password string) (*auth.Result, error)
	logoutFn         func(ctx context.Context, sessionID string) error
	getCurrentUserFn func(ctx context.Context, userID string) (*model.User, error)
	changePasswordFn func(ctx context.Context, input auth.ChangePasswordInput) error
}

func (m *mockAuthService) SignUp(ctx context.Context, input auth.SignUpInput) (*auth.Result, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, input)
	}
	return nil, nil
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*auth.Result, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, userID string) (*model.User, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockAuthService) ChangePassword(ctx context.Context, input auth.ChangePasswordInput) error {
	if m.changePasswordFn != nil {
		return m.changePasswordFn(ctx, input)
	}
	return nil
}

// mockUserService はUserServiceInterfaceのモック実装。
type mockUserService struct {
	withdrawFn func(ctx context.Context, userID string) error
}

func (m *mockUserService) Withdraw(ctx context.Context, userID string) error {
	if m.withdrawFn != nil {
		return m.withdrawFn(ctx, userID)
	}
	return nil
}

type mockListingService struct {
	searchFn      func(ctx context.Context, viewerID string, filter model.ListingFilter) ([]listingResponse, error)
	getFn         func(ctx context.Context, viewerID, id string) (*listingDetailResponse, error)
	similarFn     func(ctx context.Context, id string) ([]listingResponse, error)
	createFn      func(ctx context.Context, ownerID string, input listing.Input) (*listingResponse, error)
	updateFn      func(ctx context.Context, actorID, id string, input listing.Input) (*listingResponse, error)
	deleteFn      func(ctx context.Context, actorID, id string) error
	uploadImageFn func(ctx context.Context, ownerID, filename string, r io.Reader) (string, error)
}

func (m *mockListingService) Search(ctx context.Context, viewerID string, filter model.ListingFilter) ([]listingResponse, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, viewerID, filter)
	}
	return []listingResponse{}, nil
}

func (m *mockListingService) Get(ctx context.Context, viewerID, id string) (*listingDetailResponse, error) {
	if m.getFn != nil {
		return m.getFn(ctx, viewerID, id)
	}
	return nil, model.NewListingNotFoundError(id)
}

func (m *mockListingService) Similar(ctx context.Context, id string) ([]listingResponse, error) {
	if m.similarFn != nil {
		return m.similarFn(ctx, id)
	}
	return []listingResponse{}, nil
}

func (m *mockListingService) Create(ctx context.Context, ownerID string, input listing.Input) (*listingResponse, error) {
	if m.createFn != nil {
		return m.createFn(ctx, ownerID, input)
	}
	return &listingResponse{}, nil
}

func (m *mockListingService) Update(ctx context.Context, actorID, id string, input listing.Input) (*listingResponse, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, actorID, id, input)
	}
	return &listingResponse{}, nil
}

func (m *mockListingService) Delete(ctx context.Context, actorID, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, actorID, id)
	}
	return nil
}

func (m *mockListingService) UploadImage(ctx context.Context, ownerID, filename string, r io.Reader) (string, error) {
	if m.uploadImageFn != nil {
		return m.uploadImageFn(ctx, ownerID, filename, r)
	}
	return "", nil
}

type mockFavoriteService struct {
	toggleFn func(ctx context.Context, userID, listingID string) (bool, error)
	setFn    func(ctx context.Context, userID, listingID string, favorited bool) (bool, error)
	statusFn func(ctx context.Context, userID, listingID string) (bool, error)
	listFn   func(ctx context.Context, userID string) ([]favoriteResponse, error)
}

func (m *mockFavoriteService) Toggle(ctx context.Context, userID, listingID string) (bool, error) {
	if m.toggleFn != nil {
		return m.toggleFn(ctx, userID, listingID)
	}
	return false, nil
}

func (m *mockFavoriteService) Set(ctx context.Context, userID, listingID string, favorited bool) (bool, error) {
	if m.setFn != nil {
		return m.setFn(ctx, userID, listingID, favorited)
	}
	return favorited, nil
}

func (m *mockFavoriteService) Status(ctx context.Context, userID, listingID string) (bool, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx, userID, listingID)
	}
	return false, nil
}

func (m *mockFavoriteService) ListFavorites(ctx context.Context, userID string) ([]favoriteResponse, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return []favoriteResponse{}, nil
}

type mockProfileService struct {
	getFn          func(ctx context.Context, id string) (*profilePageResponse, error)
	getMeFn        func(ctx context.Context, userID string) (*profileResponse, error)
	updateMeFn     func(ctx context.Context, userID string, input profile.UpdateInput) (*profileResponse, error)
	uploadAvatarFn func(ctx context.Context, userID, filename string, r io.Reader) (string, error)
}

func (m *mockProfileService) Get(ctx context.Context, id string) (*profilePageResponse, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, model.NewUserNotFoundError()
}

func (m *mockProfileService) GetMe(ctx context.Context, userID string) (*profileResponse, error) {
	if m.getMeFn != nil {
		return m.getMeFn(ctx, userID)
	}
	return &profileResponse{ID: userID}, nil
}

func (m *mockProfileService) UpdateMe(ctx context.Context, userID string, input profile.UpdateInput) (*profileResponse, error) {
	if m.updateMeFn != nil {
		return m.updateMeFn(ctx, userID, input)
	}
	return &profileResponse{ID: userID}, nil
}

func (m *mockProfileService) UploadAvatar(ctx context.Context, userID, filename string, r io.Reader) (string, error) {
	if m.uploadAvatarFn != nil {
		return m.uploadAvatarFn(ctx, userID, filename, r)
	}
	return "", nil
}

type mockChatService struct {
	resolveFn            func(ctx context.Context, actorID, otherUserID string, listingID *string) (*conversationResponse, bool, error)
	listFn               func(ctx context.Context, actorID string) ([]conversationResponse, error)
	openFn               func(ctx context.Context, actorID, conversationID string) (*threadResponse, error)
	sendFn               func(ctx context.Context, actorID, conversationID, content string, imageURL *string) (*chat.MessageRecord, error)
	markReadFn           func(ctx context.Context, actorID, conversationID string) (int, error)
	deleteMessageFn      func(ctx context.Context, actorID, messageID string) error
	deleteConversationFn func(ctx context.Context, actorID, conversationID string) error
	uploadImageFn        func(ctx context.Context, actorID, filename string, r io.Reader) (string, error)
}

func (m *mockChatService) Resolve(ctx context.Context, actorID, otherUserID string, listingID *string) (*conversationResponse, bool, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, actorID, otherUserID, listingID)
	}
	return &conversationResponse{}, false, nil
}

func (m *mockChatService) List(ctx context.Context, actorID string) ([]conversationResponse, error) {
	if m.listFn != nil {
		return m.listFn(ctx, actorID)
	}
	return []conversationResponse{}, nil
}

func (m *mockChatService) Open(ctx context.Context, actorID, conversationID string) (*threadResponse, error) {
	if m.openFn != nil {
		return m.openFn(ctx, actorID, conversationID)
	}
	return nil, model.NewConversationNotFoundError(conversationID)
}

func (m *mockChatService) Send(ctx context.Context, actorID, conversationID, content string, imageURL *string) (*chat.MessageRecord, error) {
	if m.sendFn != nil {
		return m.sendFn(ctx, actorID, conversationID, content, imageURL)
	}
	return &chat.MessageRecord{}, nil
}

func (m *mockChatService) MarkRead(ctx context.Context, actorID, conversationID string) (int, error) {
	if m.markReadFn != nil {
		return m.markReadFn(ctx, actorID, conversationID)
	}
	return 0, nil
}

func (m *mockChatService) DeleteMessage(ctx context.Context, actorID, messageID string) error {
	if m.deleteMessageFn != nil {
		return m.deleteMessageFn(ctx, actorID, messageID)
	}
	return nil
}

func (m *mockChatService) DeleteConversation(ctx context.Context, actorID, conversationID string) error {
	if m.deleteConversationFn != nil {
		return m.deleteConversationFn(ctx, actorID, conversationID)
	}
	return nil
}

func (m *mockChatService) UploadImage(ctx context.Context, actorID, filename string, r io.Reader) (string, error) {
	if m.uploadImageFn != nil {
		return m.uploadImageFn(ctx, actorID, filename, r)
	}
	return "", nil
}

type mockRealtimeAuthorizer struct {
	authorizeFn     func(ctx context.Context, actorID, conversationID string) error
	markDeliveredFn func(ctx context.Context, actorID, messageID string) error
}

func (m *mockRealtimeAuthorizer) AuthorizeConversation(ctx context.Context, actorID, conversationID string) error {
	if m.authorizeFn != nil {
		return m.authorizeFn(ctx, actorID, conversationID)
	}
	return nil
}

func (m *mockRealtimeAuthorizer) MarkDelivered(ctx context.Context, actorID, messageID string) error {
	if m.markDeliveredFn != nil {
		return m.markDeliveredFn(ctx, actorID, messageID)
	}
	return nil
}

type mockStorageService struct {
	getFn func(ctx context.Context, bucket model.Bucket, name string) (*model.Image, error)
}

func (m *mockStorageService) Get(ctx context.Context, bucket model.Bucket, name string) (*model.Image, error) {
	if m.getFn != nil {
		return m.getFn(ctx, bucket, name)
	}
	return nil, model.NewImageNotFoundError(name)
}
