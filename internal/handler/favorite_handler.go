package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// FavoriteServiceInterface はお気に入りハンドラーが必要とするサービスインターフェース。
type FavoriteServiceInterface interface {
	Toggle(ctx context.Context, userID, listingID string) (bool, error)
	Set(ctx context.Context, userID, listingID string, favorited bool) (bool, error)
	Status(ctx context.Context, userID, listingID string) (bool, error)
	ListFavorites(ctx context.Context, userID string) ([]favoriteResponse, error)
}

// FavoriteHandler はお気に入りのHTTPハンドラー。
type FavoriteHandler struct {
	service FavoriteServiceInterface
}

// NewFavoriteHandler はFavoriteHandlerを生成する。
func NewFavoriteHandler(service FavoriteServiceInterface) *FavoriteHandler {
	return &FavoriteHandler{service: service}
}

// Toggle はお気に入り状態を反転し、反転後の状態を返す。
// POST /api/listings/{id}/favorite
func (h *FavoriteHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	favorited, err := h.service.Toggle(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, envelope{"is_favorite": favorited})
}

// Add はお気に入りに追加する。既に追加済みでも成功する。
// PUT /api/listings/{id}/favorite
func (h *FavoriteHandler) Add(w http.ResponseWriter, r *http.Request) {
	h.set(w, r, true)
}

// Remove はお気に入りから外す。未追加でも成功する。
// DELETE /api/listings/{id}/favorite
func (h *FavoriteHandler) Remove(w http.ResponseWriter, r *http.Request) {
	h.set(w, r, false)
}

func (h *FavoriteHandler) set(w http.ResponseWriter, r *http.Request, favorited bool) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	state, err := h.service.Set(r.Context(), userID, chi.URLParam(r, "id"), favorited)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, envelope{"is_favorite": state})
}

// Status はお気に入り状態を返す。
// GET /api/listings/{id}/favorite
func (h *FavoriteHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	favorited, err := h.service.Status(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, envelope{"is_favorite": favorited})
}

// List はお気に入り一覧を返す。
// GET /api/favorites
func (h *FavoriteHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	favorites, err := h.service.ListFavorites(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, envelope{"favorites": favorites})
}
