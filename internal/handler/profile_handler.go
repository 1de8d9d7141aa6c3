package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/landmarket/internal/profile"
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	Get(ctx context.Context, id string) (*profilePageResponse, error)
	GetMe(ctx context.Context, userID string) (*profileResponse, error)
	UpdateMe(ctx context.Context, userID string, input profile.UpdateInput) (*profileResponse, error)
	UploadAvatar(ctx context.Context, userID, filename string, r io.Reader) (string, error)
}

// ProfileHandler はプロフィールのHTTPハンドラー。
type ProfileHandler struct {
	service       ProfileServiceInterface
	uploadMaxSize int64
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface, uploadMaxSize int64) *ProfileHandler {
	return &ProfileHandler{
		service:       service,
		uploadMaxSize: uploadMaxSize,
	}
}

type updateProfileRequest struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	LineID   string `json:"line_id"`
}

// Get は公開プロフィールと出品一覧を返す。
// GET /api/profiles/{id}
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, envelope{
		"profile":       page.Profile,
		"listing_count": page.ListingCount,
		"listings":      page.Listings,
	})
}

// GetMe はセッションユーザーのプロフィールを返す。
// GET /api/profiles/me
func (h *ProfileHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	p, err := h.service.GetMe(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, envelope{"profile": p})
}

// UpdateMe はセッションユーザーのプロフィールを更新する。
// PUT /api/profiles/me
func (h *ProfileHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.service.UpdateMe(r.Context(), userID, profile.UpdateInput{
		FullName: req.FullName,
		Phone:    req.Phone,
		LineID:   req.LineID,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, envelope{"profile": p})
}

// UploadAvatar はアバター画像をアップロードする。
// POST /api/profiles/me/avatar (multipart, field "file")
func (h *ProfileHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	handleUpload(w, r, h.uploadMaxSize, func(userID, filename string, body io.Reader) (string, error) {
		return h.service.UploadAvatar(r.Context(), userID, filename, body)
	})
}
