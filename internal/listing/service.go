// Package listing は土地情報の作成・取得・編集・削除・検索を提供する。
// 編集と削除は所有者のみが行える。
package listing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/landmarket/internal/database"
	"github.com/hitoshi/landmarket/internal/metrics"
	"github.com/hitoshi/landmarket/internal/model"
	"github.com/hitoshi/landmarket/internal/repository"
	"github.com/hitoshi/landmarket/internal/security"
	"github.com/hitoshi/landmarket/internal/storage"
)

const (
	// DefaultSizeUnit は面積単位の既定値。
	DefaultSizeUnit = "ไร่"
	// SimilarLimit は類似物件の表示件数。
	SimilarLimit = 3
	// DefaultSearchLimit は検索結果の既定件数。
	DefaultSearchLimit = 24
	// MaxSearchLimit は検索結果の最大件数。
	MaxSearchLimit = 100

	maxTitleLength       = 200
	maxDescriptionLength = 10000
	maxImages            = 20
)

// ProfileResolver は表示用プロフィールを一括取得するインターフェース。
type ProfileResolver interface {
	Views(ctx context.Context, ids []string) (map[string]model.ProfileView, error)
}

// ImageUploader は画像アップロードのインターフェース。
type ImageUploader interface {
	Upload(ctx context.Context, bucket model.Bucket, ownerID, filename string, r io.Reader) (*storage.Uploaded, error)
}

// Input は作成・編集の入力。数値は未指定を区別するためポインタで受け取る。
type Input struct {
	Title        string
	Description  string
	Price        *float64
	Size         *float64
	SizeUnit     string
	Province     string
	District     string
	Subdistrict  string
	Address      string
	ZipCode      string
	Zoning       string
	PropertyType string
	Status       string
	Images       []string
	Latitude     *float64
	Longitude    *float64
}

// Summary は一覧表示用の土地情報。
type Summary struct {
	Listing    *model.Listing
	IsFavorite bool
}

// Detail は詳細表示用の土地情報。Sellerは出品者が退会済みの場合nil。
type Detail struct {
	Listing            *model.Listing
	Seller             *model.ProfileView
	SellerListingCount int
	IsFavorite         bool
}

// Service は土地情報に関するビジネスロジックを提供する。
type Service struct {
	repo          repository.ListingRepository
	favoriteRepo  repository.FavoriteRepository
	profiles      ProfileResolver
	uploader      ImageUploader
	sanitizer     security.ContentSanitizerService
	recorder      metrics.Recorder
	retryAttempts int
}

// NewService はServiceを生成する。
func NewService(
	repo repository.ListingRepository,
	favoriteRepo repository.FavoriteRepository,
	profiles ProfileResolver,
	uploader ImageUploader,
	sanitizer security.ContentSanitizerService,
	recorder metrics.Recorder,
	retryAttempts int,
) *Service {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Service{
		repo:          repo,
		favoriteRepo:  favoriteRepo,
		profiles:      profiles,
		uploader:      uploader,
		sanitizer:     sanitizer,
		recorder:      recorder,
		retryAttempts: retryAttempts,
	}
}

// Create はセッションユーザーを所有者として土地情報を作成する。
func (s *Service) Create(ctx context.Context, ownerID string, input Input) (*model.Listing, error) {
	l := &model.Listing{
		ID:        uuid.New().String(),
		UserID:    ownerID,
		Status:    model.ListingStatusActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.apply(l, input); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, l); err != nil {
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}

	s.recorder.RecordListingCreated()
	slog.Info("listing created",
		slog.String("user_id", ownerID),
		slog.String("listing_id", l.ID),
	)
	return l, nil
}

// Get は土地情報と出品者情報・出品者の出品数・お気に入り状態を返す。
// viewerIDが空の場合、お気に入り状態は常にfalse。
func (s *Service) Get(ctx context.Context, viewerID, id string) (*Detail, error) {
	l, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &Detail{Listing: l}

	// 出品者情報・出品数・お気に入り状態は互いに独立しているため並行に取得する
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		views, err := s.profiles.Views(gctx, []string{l.UserID})
		if err != nil {
			return err
		}
		if v, ok := views[l.UserID]; ok {
			detail.Seller = &v
		}
		return nil
	})
	g.Go(func() error {
		count, err := database.Do(gctx, s.retryAttempts, func(ctx context.Context) (int, error) {
			return s.repo.CountByUserID(ctx, l.UserID)
		})
		if err != nil {
			return fmt.Errorf("failed to count seller listings: %w", err)
		}
		detail.SellerListingCount = count
		return nil
	})
	if viewerID != "" {
		g.Go(func() error {
			fav, err := s.favoriteRepo.Exists(gctx, viewerID, l.ID)
			if err != nil {
				return fmt.Errorf("failed to check favorite: %w", err)
			}
			detail.IsFavorite = fav
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return detail, nil
}

// Update は所有者のみ土地情報を更新できる。所有者以外の場合は何も変更せずForbiddenを返す。
func (s *Service) Update(ctx context.Context, actorID, id string, input Input) (*model.Listing, error) {
	l, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.UserID != actorID {
		slog.Warn("listing update rejected: not owner",
			slog.String("user_id", actorID),
			slog.String("listing_id", id),
		)
		return nil, model.NewForbiddenError("この土地情報を編集する権限がありません。")
	}

	if err := s.apply(l, input); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	l.UpdatedAt = &now

	if err := s.repo.Update(ctx, l); err != nil {
		return nil, fmt.Errorf("failed to update listing: %w", err)
	}

	slog.Info("listing updated",
		slog.String("user_id", actorID),
		slog.String("listing_id", id),
	)
	return l, nil
}

// Delete は所有者のみ土地情報を削除できる。
// 関連する会話は削除せず、会話側の土地参照のみが外れる。
func (s *Service) Delete(ctx context.Context, actorID, id string) error {
	l, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if l.UserID != actorID {
		slog.Warn("listing delete rejected: not owner",
			slog.String("user_id", actorID),
			slog.String("listing_id", id),
		)
		return model.NewForbiddenError("この土地情報を削除する権限がありません。")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete listing: %w", err)
	}

	slog.Info("listing deleted",
		slog.String("user_id", actorID),
		slog.String("listing_id", id),
	)
	return nil
}

// Search は条件に一致する土地情報を返す。viewerIDが空でなければお気に入り状態を付与する。
func (s *Service) Search(ctx context.Context, viewerID string, filter model.ListingFilter) ([]Summary, error) {
	filter = normalizeFilter(filter)

	listings, err := database.Do(ctx, s.retryAttempts, func(ctx context.Context) ([]*model.Listing, error) {
		return s.repo.Search(ctx, filter)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search listings: %w", err)
	}
	return s.summarize(ctx, viewerID, listings)
}

// ListByOwner はユーザーの出品一覧を返す。
func (s *Service) ListByOwner(ctx context.Context, viewerID, ownerID string) ([]Summary, error) {
	listings, err := s.repo.ListByUserID(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	return s.summarize(ctx, viewerID, listings)
}

// Similar は同じ県または同じ種別の土地情報を最大SimilarLimit件返す。
func (s *Service) Similar(ctx context.Context, id string) ([]*model.Listing, error) {
	l, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	similar, err := s.repo.Similar(ctx, l, SimilarLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to find similar listings: %w", err)
	}
	if similar == nil {
		similar = []*model.Listing{}
	}
	return similar, nil
}

// UploadImage は土地情報用の画像を保存して公開URLを返す。
func (s *Service) UploadImage(ctx context.Context, ownerID, filename string, r io.Reader) (string, error) {
	up, err := s.uploader.Upload(ctx, model.BucketListings, ownerID, filename, r)
	if err != nil {
		return "", err
	}
	return up.URL, nil
}

func (s *Service) find(ctx context.Context, id string) (*model.Listing, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewListingNotFoundError(id)
	}
	l, err := database.Do(ctx, s.retryAttempts, func(ctx context.Context) (*model.Listing, error) {
		return s.repo.FindByID(ctx, id)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find listing: %w", err)
	}
	if l == nil {
		return nil, model.NewListingNotFoundError(id)
	}
	return l, nil
}

func (s *Service) summarize(ctx context.Context, viewerID string, listings []*model.Listing) ([]Summary, error) {
	summaries := make([]Summary, len(listings))
	for i, l := range listings {
		summaries[i] = Summary{Listing: l}
	}
	if viewerID == "" || len(listings) == 0 {
		return summaries, nil
	}

	ids := make([]string, len(listings))
	for i, l := range listings {
		ids[i] = l.ID
	}
	favorited, err := s.favoriteRepo.FavoritedAmong(ctx, viewerID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load favorites: %w", err)
	}
	for i := range summaries {
		summaries[i].IsFavorite = favorited[summaries[i].Listing.ID]
	}
	return summaries, nil
}

// apply は入力を検証し、正規化した値をlに反映する。
// 検証に失敗した場合lは変更しない。
func (s *Service) apply(l *model.Listing, input Input) error {
	title := s.sanitizer.NormalizeText(input.Title)
	province := s.sanitizer.NormalizeText(input.Province)
	district := s.sanitizer.NormalizeText(input.District)
	subdistrict := s.sanitizer.NormalizeText(input.Subdistrict)
	address := s.sanitizer.NormalizeText(input.Address)

	var missing []string
	if title == "" {
		missing = append(missing, "title")
	}
	if input.Price == nil {
		missing = append(missing, "price")
	}
	if input.Size == nil {
		missing = append(missing, "size")
	}
	if province == "" {
		missing = append(missing, "province")
	}
	if district == "" {
		missing = append(missing, "district")
	}
	if subdistrict == "" {
		missing = append(missing, "subdistrict")
	}
	if address == "" {
		missing = append(missing, "address")
	}
	if len(missing) > 0 {
		return model.NewValidationError("必須項目が入力されていません: " + strings.Join(missing, ", "))
	}

	if utf8.RuneCountInString(title) > maxTitleLength {
		return model.NewValidationError(fmt.Sprintf("タイトルは%d文字以内で入力してください。", maxTitleLength))
	}

	price, err := clampPrice(*input.Price)
	if err != nil {
		return err
	}
	size, err := clampSize(*input.Size)
	if err != nil {
		return err
	}

	propertyType := model.PropertyTypeVacant
	if input.PropertyType != "" {
		propertyType = model.PropertyType(input.PropertyType)
		if !propertyType.Valid() {
			return model.NewValidationError("土地の種別が正しくありません。")
		}
	}

	status := l.Status
	if input.Status != "" {
		status = model.ListingStatus(input.Status)
		if !status.Valid() {
			return model.NewValidationError("掲載状態が正しくありません。")
		}
	}
	if status == "" {
		status = model.ListingStatusActive
	}

	description := s.sanitizer.Sanitize(input.Description)
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return model.NewValidationError(fmt.Sprintf("説明は%d文字以内で入力してください。", maxDescriptionLength))
	}

	images, err := normalizeImages(input.Images)
	if err != nil {
		return err
	}

	if err := validateCoordinates(input.Latitude, input.Longitude); err != nil {
		return err
	}

	sizeUnit := s.sanitizer.NormalizeText(input.SizeUnit)
	if sizeUnit == "" {
		sizeUnit = DefaultSizeUnit
	}

	l.Title = title
	l.Description = description
	l.Price = price
	l.Size = size
	l.SizeUnit = sizeUnit
	l.Province = province
	l.District = district
	l.Subdistrict = subdistrict
	l.Address = address
	l.ZipCode = s.sanitizer.NormalizeText(input.ZipCode)
	l.Zoning = s.sanitizer.NormalizeText(input.Zoning)
	l.PropertyType = propertyType
	l.Status = status
	l.Images = images
	l.Latitude = input.Latitude
	l.Longitude = input.Longitude
	return nil
}

// clampPrice は価格を整数に丸め、保存可能な上限で頭打ちにする。負数は拒否する。
func clampPrice(v float64) (int64, error) {
	if math.IsNaN(v) || v < 0 {
		return 0, model.NewValidationError("価格は0以上の数値で入力してください。")
	}
	if v > model.MaxStorableInt {
		return model.MaxStorableInt, nil
	}
	return int64(math.Round(v)), nil
}

// clampSize は面積を保存可能な上限で頭打ちにする。負数は拒否する。
func clampSize(v float64) (float64, error) {
	if math.IsNaN(v) || v < 0 {
		return 0, model.NewValidationError("面積は0以上の数値で入力してください。")
	}
	if v > model.MaxStorableInt {
		return model.MaxStorableInt, nil
	}
	return v, nil
}

func normalizeImages(images []string) ([]string, error) {
	out := make([]string, 0, len(images))
	for _, raw := range images {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, model.NewValidationError("画像URLが正しくありません。")
		}
		out = append(out, raw)
	}
	if len(out) > maxImages {
		return nil, model.NewValidationError(fmt.Sprintf("画像は%d枚までです。", maxImages))
	}
	return out, nil
}

func validateCoordinates(lat, lon *float64) error {
	if lat != nil && (math.IsNaN(*lat) || *lat < -90 || *lat > 90) {
		return model.NewValidationError("緯度が正しくありません。")
	}
	if lon != nil && (math.IsNaN(*lon) || *lon < -180 || *lon > 180) {
		return model.NewValidationError("経度が正しくありません。")
	}
	return nil
}

func normalizeFilter(f model.ListingFilter) model.ListingFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultSearchLimit
	}
	if f.Limit > MaxSearchLimit {
		f.Limit = MaxSearchLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.PropertyType != "" && !f.PropertyType.Valid() {
		f.PropertyType = ""
	}
	return f
}
