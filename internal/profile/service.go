// Package profile は公開プロフィールの取得・編集と、表示名・アバターの解決を提供する。
package profile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/landmarket/internal/model"
	"github.com/hitoshi/landmarket/internal/repository"
	"github.com/hitoshi/landmarket/internal/security"
	"github.com/hitoshi/landmarket/internal/storage"
)

// FallbackDisplayName は名前もメールアドレスも無い場合の表示名。
const FallbackDisplayName = "ผู้ใช้"

const (
	maxFullNameLength = 100
	maxContactLength  = 50
)

// ImageUploader は画像アップロードのインターフェース。
type ImageUploader interface {
	Upload(ctx context.Context, bucket model.Bucket, ownerID, filename string, r io.Reader) (*storage.Uploaded, error)
}

// Page はプロフィールページの表示内容。
type Page struct {
	Profile      model.ProfileView
	ListingCount int
	Listings     []*model.Listing
}

// UpdateInput はプロフィール編集の入力。空文字は未設定として保存する。
type UpdateInput struct {
	FullName string
	Phone    string
	LineID   string
}

// Service はプロフィールに関するビジネスロジックを提供する。
type Service struct {
	profileRepo repository.ProfileRepository
	userRepo    repository.UserRepository
	listingRepo repository.ListingRepository
	uploader    ImageUploader
	sanitizer   security.ContentSanitizerService
}

// NewService はServiceを生成する。
func NewService(
	profileRepo repository.ProfileRepository,
	userRepo repository.UserRepository,
	listingRepo repository.ListingRepository,
	uploader ImageUploader,
	sanitizer security.ContentSanitizerService,
) *Service {
	return &Service{
		profileRepo: profileRepo,
		userRepo:    userRepo,
		listingRepo: listingRepo,
		uploader:    uploader,
		sanitizer:   sanitizer,
	}
}

// Resolve はユーザーとプロフィール行から表示用プロフィールを組み立てる。
//
// 表示名: profiles.full_name → users.full_name → メールアドレスのローカル部 → "ผู้ใช้"
// アバター: profiles.avatar_url → users.avatar_url → 空文字（表示側でプレースホルダー）
func Resolve(pw repository.ProfileWithUser) model.ProfileView {
	view := model.ProfileView{
		ID:     pw.User.ID,
		Email:  pw.User.Email,
		Exists: pw.Profile != nil,
	}

	var profileName, profileAvatar string
	if p := pw.Profile; p != nil {
		profileName = deref(p.FullName)
		profileAvatar = deref(p.AvatarURL)
		view.Phone = deref(p.Phone)
		view.LineID = deref(p.LineID)
		if email := deref(p.Email); email != "" {
			view.Email = email
		}
	}

	view.DisplayName = firstNonEmpty(profileName, pw.User.FullName, emailLocalPart(pw.User.Email), FallbackDisplayName)
	view.AvatarURL = firstNonEmpty(profileAvatar, pw.User.AvatarURL)
	return view
}

// Views は複数ユーザーの表示用プロフィールを1クエリで取得する。
// 存在しないユーザーは結果に含まれない。
func (s *Service) Views(ctx context.Context, ids []string) (map[string]model.ProfileView, error) {
	ids = uniqueNonEmpty(ids)
	views := make(map[string]model.ProfileView, len(ids))
	if len(ids) == 0 {
		return views, nil
	}

	rows, err := s.profileRepo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to find profiles: %w", err)
	}
	for _, row := range rows {
		views[row.User.ID] = Resolve(row)
	}
	return views, nil
}

// View は1ユーザーの表示用プロフィールを返す。存在しない場合はUserNotFound。
func (s *Service) View(ctx context.Context, id string) (*model.ProfileView, error) {
	views, err := s.Views(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	view, ok := views[id]
	if !ok {
		return nil, model.NewUserNotFoundError()
	}
	return &view, nil
}

// Get はプロフィール・出品数・出品一覧を並行に取得する。
func (s *Service) Get(ctx context.Context, id string) (*Page, error) {
	page := &Page{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		view, err := s.View(gctx, id)
		if err != nil {
			return err
		}
		page.Profile = *view
		return nil
	})
	g.Go(func() error {
		count, err := s.listingRepo.CountByUserID(gctx, id)
		if err != nil {
			return fmt.Errorf("failed to count listings: %w", err)
		}
		page.ListingCount = count
		return nil
	})
	g.Go(func() error {
		listings, err := s.listingRepo.ListByUserID(gctx, id)
		if err != nil {
			return fmt.Errorf("failed to list listings: %w", err)
		}
		page.Listings = listings
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if page.Listings == nil {
		page.Listings = []*model.Listing{}
	}
	return page, nil
}

// UpdateMe は自分のプロフィールの編集可能項目を保存する。
func (s *Service) UpdateMe(ctx context.Context, userID string, input UpdateInput) (*model.ProfileView, error) {
	fullName := s.sanitizer.NormalizeText(input.FullName)
	phone := s.sanitizer.NormalizeText(input.Phone)
	lineID := s.sanitizer.NormalizeText(input.LineID)

	if utf8.RuneCountInString(fullName) > maxFullNameLength {
		return nil, model.NewValidationError(fmt.Sprintf("名前は%d文字以内で入力してください。", maxFullNameLength))
	}
	if utf8.RuneCountInString(phone) > maxContactLength || utf8.RuneCountInString(lineID) > maxContactLength {
		return nil, model.NewValidationError(fmt.Sprintf("連絡先は%d文字以内で入力してください。", maxContactLength))
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	profile := &model.Profile{
		ID:       userID,
		FullName: optional(fullName),
		Phone:    optional(phone),
		LineID:   optional(lineID),
		Email:    &user.Email,
	}
	if err := s.profileRepo.Upsert(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}

	slog.Info("profile updated", slog.String("user_id", userID))

	return s.View(ctx, userID)
}

// UploadAvatar はアバター画像を保存し、ユーザーとプロフィールの両方にURLを記録する。
func (s *Service) UploadAvatar(ctx context.Context, userID, filename string, r io.Reader) (string, error) {
	up, err := s.uploader.Upload(ctx, model.BucketProfiles, userID, filename, r)
	if err != nil {
		return "", err
	}

	if err := s.userRepo.UpdateAvatarURL(ctx, userID, up.URL); err != nil {
		return "", fmt.Errorf("failed to update user avatar: %w", err)
	}
	if err := s.profileRepo.UpdateAvatarURL(ctx, userID, up.URL); err != nil {
		return "", fmt.Errorf("failed to update profile avatar: %w", err)
	}

	slog.Info("avatar updated", slog.String("user_id", userID))
	return up.URL, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func emailLocalPart(email string) string {
	local, _, found := strings.Cut(email, "@")
	if !found {
		return ""
	}
	return local
}

func uniqueNonEmpty(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
