// Package favorite はお気に入り（ブックマーク）の操作を提供する。
package favorite

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hitoshi/landmarket/internal/metrics"
	"github.com/hitoshi/landmarket/internal/model"
	"github.com/hitoshi/landmarket/internal/repository"
)

// ProfileResolver は表示用プロフィールを一括取得するインターフェース。
type ProfileResolver interface {
	Views(ctx context.Context, ids []string) (map[string]model.ProfileView, error)
}

// Entry はお気に入り一覧の1件。
type Entry struct {
	Listing *model.Listing
	Seller  *model.ProfileView
}

// Service はお気に入りに関するビジネスロジックを提供する。
type Service struct {
	repo        repository.FavoriteRepository
	listingRepo repository.ListingRepository
	profiles    ProfileResolver
	recorder    metrics.Recorder
}

// NewService はServiceを生成する。
func NewService(
	repo repository.FavoriteRepository,
	listingRepo repository.ListingRepository,
	profiles ProfileResolver,
	recorder metrics.Recorder,
) *Service {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Service{
		repo:        repo,
		listingRepo: listingRepo,
		profiles:    profiles,
		recorder:    recorder,
	}
}

// Toggle はお気に入り状態を反転し、反転後の状態を返す。
// 同時に押された場合もDB上の1文で処理されるため、重複行は作られない。
func (s *Service) Toggle(ctx context.Context, userID, listingID string) (bool, error) {
	if err := s.ensureListing(ctx, listingID); err != nil {
		return false, err
	}

	favorited, err := s.repo.Toggle(ctx, userID, listingID)
	if err != nil {
		return false, fmt.Errorf("failed to toggle favorite: %w", err)
	}

	s.recorder.RecordFavoriteToggled(favorited)
	slog.Info("favorite toggled",
		slog.String("user_id", userID),
		slog.String("listing_id", listingID),
		slog.Bool("favorited", favorited),
	)
	return favorited, nil
}

// Set はお気に入り状態を指定した値にする。既にその状態なら何もしない。
func (s *Service) Set(ctx context.Context, userID, listingID string, favorited bool) (bool, error) {
	if err := s.ensureListing(ctx, listingID); err != nil {
		return false, err
	}

	if favorited {
		if err := s.repo.Add(ctx, userID, listingID); err != nil {
			return false, fmt.Errorf("failed to add favorite: %w", err)
		}
	} else {
		if err := s.repo.Remove(ctx, userID, listingID); err != nil {
			return false, fmt.Errorf("failed to remove favorite: %w", err)
		}
	}
	s.recorder.RecordFavoriteToggled(favorited)
	return favorited, nil
}

// Status はお気に入り登録済みかどうかを返す。
func (s *Service) Status(ctx context.Context, userID, listingID string) (bool, error) {
	if _, err := uuid.Parse(listingID); err != nil {
		return false, nil
	}
	favorited, err := s.repo.Exists(ctx, userID, listingID)
	if err != nil {
		return false, fmt.Errorf("failed to check favorite: %w", err)
	}
	return favorited, nil
}

// ListFavorites はお気に入り登録した土地情報を登録が新しい順に返す。
// 出品者プロフィールは1クエリでまとめて取得する。
func (s *Service) ListFavorites(ctx context.Context, userID string) ([]Entry, error) {
	ids, err := s.repo.ListingIDsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list favorites: %w", err)
	}
	if len(ids) == 0 {
		return []Entry{}, nil
	}

	listings, err := s.listingRepo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load favorite listings: %w", err)
	}
	byID := make(map[string]*model.Listing, len(listings))
	sellerIDs := make([]string, 0, len(listings))
	for _, l := range listings {
		byID[l.ID] = l
		sellerIDs = append(sellerIDs, l.UserID)
	}

	sellers, err := s.profiles.Views(ctx, sellerIDs)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		l, ok := byID[id]
		if !ok {
			continue
		}
		entry := Entry{Listing: l}
		if v, ok := sellers[l.UserID]; ok {
			entry.Seller = &v
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *Service) ensureListing(ctx context.Context, listingID string) error {
	if _, err := uuid.Parse(listingID); err != nil {
		return model.NewListingNotFoundError(listingID)
	}
	l, err := s.listingRepo.FindByID(ctx, listingID)
	if err != nil {
		return fmt.Errorf("failed to find listing: %w", err)
	}
	if l == nil {
		return model.NewListingNotFoundError(listingID)
	}
	return nil
}
