package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/landmarket/internal/model"
)

// imageCacheControl は画像レスポンスのキャッシュ指定。
// オブジェクト名はUUIDで上書きされないため長期キャッシュしてよい。
const imageCacheControl = "public, max-age=31536000, immutable"

// StorageServiceInterface は画像配信ハンドラーが必要とするサービスインターフェース。
type StorageServiceInterface interface {
	Get(ctx context.Context, bucket model.Bucket, name string) (*model.Image, error)
}

// StorageHandler は保存済み画像を配信するHTTPハンドラー。
type StorageHandler struct {
	service StorageServiceInterface
}

// NewStorageHandler はStorageHandlerを生成する。
func NewStorageHandler(service StorageServiceInterface) *StorageHandler {
	return &StorageHandler{service: service}
}

// Serve は画像のバイト列を返す。
// GET /storage/{bucket}/{name}
func (h *StorageHandler) Serve(w http.ResponseWriter, r *http.Request) {
	bucket := model.Bucket(chi.URLParam(r, "bucket"))
	name := chi.URLParam(r, "name")

	img, err := h.service.Get(r.Context(), bucket, name)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	etag := `"` + img.Name + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", imageCacheControl)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(img.Data)
	}
}
