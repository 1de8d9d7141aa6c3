package handler

import (
	"context"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/landmarket/internal/listing"
	"github.com/hitoshi/landmarket/internal/middleware"
	"github.com/hitoshi/landmarket/internal/model"
)

// ListingServiceInterface は土地情報ハンドラーが必要とするサービスインターフェース。
type ListingServiceInterface interface {
	Search(ctx context.Context, viewerID string, filter model.ListingFilter) ([]listingResponse, error)
	Get(ctx context.Context, viewerID, id string) (*listingDetailResponse, error)
	Similar(ctx context.Context, id string) ([]listingResponse, error)
	Create(ctx context.Context, ownerID string, input listing.Input) (*listingResponse, error)
	Update(ctx context.Context, actorID, id string, input listing.Input) (*listingResponse, error)
	Delete(ctx context.Context, actorID, id string) error
	UploadImage(ctx context.Context, ownerID, filename string, r io.Reader) (string, error)
}

// ListingHandler は土地情報のHTTPハンドラー。
type ListingHandler struct {
	service       ListingServiceInterface
	uploadMaxSize int64
}

// NewListingHandler はListingHandlerを生成する。
func NewListingHandler(service ListingServiceInterface, uploadMaxSize int64) *ListingHandler {
	return &ListingHandler{
		service:       service,
		uploadMaxSize: uploadMaxSize,
	}
}

// listingRequest は土地情報の作成・編集リクエストのボディ。
type listingRequest struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Price        *float64 `json:"price"`
	Size         *float64 `json:"size"`
	SizeUnit     string   `json:"size_unit"`
	Province     string   `json:"province"`
	District     string   `json:"district"`
	Subdistrict  string   `json:"subdistrict"`
	Address      string   `json:"address"`
	ZipCode      string   `json:"zip_code"`
	Zoning       string   `json:"zoning"`
	PropertyType string   `json:"property_type"`
	Status       string   `json:"status"`
	Images       []string `json:"images"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
}

func (req listingRequest) toInput() listing.Input {
	return listing.Input{
		Title:        req.Title,
		Description:  req.Description,
		Price:        req.Price,
		Size:         req.Size,
		SizeUnit:     req.SizeUnit,
		Province:     req.Province,
		District:     req.District,
		Subdistrict:  req.Subdistrict,
		Address:      req.Address,
		ZipCode:      req.ZipCode,
		Zoning:       req.Zoning,
		PropertyType: req.PropertyType,
		Status:       req.Status,
		Images:       req.Images,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
	}
}

// Search は条件に一致する土地情報の一覧を返す。
// GET /api/listings?q=&location=&type=&min_price=&max_price=&min_size=&max_size=&sort=&limit=&offset=
func (h *ListingHandler) Search(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListingFilter(r.URL.Query())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	listings, err := h.service.Search(r.Context(), middleware.OptionalUserID(r.Context()), filter)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, envelope{"listings": listings})
}

// Get は土地情報の詳細を返す。
// GET /api/listings/{id}
func (h *ListingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	detail, err := h.service.Get(r.Context(), middleware.OptionalUserID(r.Context()), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, envelope{"listing": detail})
}

// Similar は類似物件を返す。
// GET /api/listings/{id}/similar
func (h *ListingHandler) Similar(w http.ResponseWriter, r *http.Request) {
	listings, err := h.service.Similar(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, envelope{"listings": listings})
}

// Create は土地情報を作成する。所有者はセッションユーザー。
// POST /api/listings
func (h *ListingHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req listingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	l, err := h.service.Create(r.Context(), userID, req.toInput())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusCreated, envelope{"listing": l})
}

// Update は土地情報を更新する。所有者以外は403。
// PUT /api/listings/{id}
func (h *ListingHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req listingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	l, err := h.service.Update(r.Context(), userID, chi.URLParam(r, "id"), req.toInput())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, envelope{"listing": l})
}

// Delete は土地情報を削除する。所有者以外は403。
// DELETE /api/listings/{id}
func (h *ListingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, nil)
}

// UploadImage は土地画像をアップロードしURLを返す。
// POST /api/listings/images (multipart, field "file")
func (h *ListingHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	handleUpload(w, r, h.uploadMaxSize, func(userID, filename string, body io.Reader) (string, error) {
		return h.service.UploadImage(r.Context(), userID, filename, body)
	})
}

// parseListingFilter はクエリパラメータから検索条件を組み立てる。
// 数値として解釈できない値はValidationエラー。
func parseListingFilter(q url.Values) (model.ListingFilter, error) {
	filter := model.ListingFilter{
		Search:       strings.TrimSpace(q.Get("q")),
		Location:     strings.TrimSpace(q.Get("location")),
		PropertyType: model.PropertyType(strings.TrimSpace(q.Get("type"))),
		Sort:         model.ListingSort(strings.TrimSpace(q.Get("sort"))),
	}
	if filter.Search == "" {
		filter.Search = strings.TrimSpace(q.Get("search"))
	}

	var err error
	if filter.MinPrice, err = parseOptionalInt64(q, "min_price"); err != nil {
		return filter, err
	}
	if filter.MaxPrice, err = parseOptionalInt64(q, "max_price"); err != nil {
		return filter, err
	}
	if filter.MinSize, err = parseOptionalFloat(q, "min_size"); err != nil {
		return filter, err
	}
	if filter.MaxSize, err = parseOptionalFloat(q, "max_size"); err != nil {
		return filter, err
	}
	if filter.Limit, err = parseInt(q, "limit"); err != nil {
		return filter, err
	}
	if filter.Offset, err = parseInt(q, "offset"); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseOptionalInt64(q url.Values, key string) (*int64, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return nil, nil
	}
	// 価格は小数で送られてくることがあるため四捨五入して扱う
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, model.NewValidationError(key + "は数値で指定してください。")
	}
	v := int64(math.Round(f))
	return &v, nil
}

func parseOptionalFloat(q url.Values, key string) (*float64, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, model.NewValidationError(key + "は数値で指定してください。")
	}
	return &f, nil
}

func parseInt(q url.Values, key string) (int, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, model.NewValidationError(key + "は0以上の整数で指定してください。")
	}
	return v, nil
}
