// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/landmarket/internal/model"
	"github.com/hitoshi/landmarket/internal/repository"
)

// UserDataDeleter はユーザーに紐づくデータの一括削除インターフェース。
type UserDataDeleter interface {
	DeleteByUserID(ctx context.Context, userID string) error
}

// ParticipantDeleter はユーザーが参加する会話の一括削除インターフェース。
type ParticipantDeleter interface {
	DeleteByParticipant(ctx context.Context, userID string) error
}

// ImageDeleter はユーザーがアップロードした画像の一括削除インターフェース。
type ImageDeleter interface {
	DeleteByOwnerID(ctx context.Context, ownerID string) error
}

// ProfileDeleter はプロフィールの削除インターフェース。
type ProfileDeleter interface {
	DeleteByID(ctx context.Context, id string) error
}

// Service はユーザー管理のサービス層。
// 退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo        repository.UserRepository
	sessionRepo     repository.SessionRepository
	favoriteDeleter UserDataDeleter
	convDeleter     ParticipantDeleter
	listingDeleter  UserDataDeleter
	imageDeleter    ImageDeleter
	profileDeleter  ProfileDeleter
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	favoriteDeleter UserDataDeleter,
	convDeleter ParticipantDeleter,
	listingDeleter UserDataDeleter,
	imageDeleter ImageDeleter,
	profileDeleter ProfileDeleter,
) *Service {
	return &Service{
		userRepo:        userRepo,
		sessionRepo:     sessionRepo,
		favoriteDeleter: favoriteDeleter,
		convDeleter:     convDeleter,
		listingDeleter:  listingDeleter,
		imageDeleter:    imageDeleter,
		profileDeleter:  profileDeleter,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: favorites → conversations(+messages) → listings → images → sessions → profile → user
// 相手側から見た会話も削除される。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	// ユーザー存在確認
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	// 1. お気に入りを削除
	if s.favoriteDeleter != nil {
		if err := s.favoriteDeleter.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("お気に入りの削除に失敗しました: %w", err)
		}
	}

	// 2. 会話とメッセージを削除
	if s.convDeleter != nil {
		if err := s.convDeleter.DeleteByParticipant(ctx, userID); err != nil {
			return fmt.Errorf("会話の削除に失敗しました: %w", err)
		}
	}

	// 3. 土地情報を削除（他ユーザーのお気に入りはCASCADE削除）
	if s.listingDeleter != nil {
		if err := s.listingDeleter.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("土地情報の削除に失敗しました: %w", err)
		}
	}

	// 4. 画像を削除
	if s.imageDeleter != nil {
		if err := s.imageDeleter.DeleteByOwnerID(ctx, userID); err != nil {
			return fmt.Errorf("画像の削除に失敗しました: %w", err)
		}
	}

	// 5. セッションを削除
	if s.sessionRepo != nil {
		if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	// 6. プロフィールを削除
	if s.profileDeleter != nil {
		if err := s.profileDeleter.DeleteByID(ctx, userID); err != nil {
			return fmt.Errorf("プロフィールの削除に失敗しました: %w", err)
		}
	}

	// 7. ユーザーを削除
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)

	return nil
}
