// Package auth はメールアドレス・パスワード認証とセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/landmarket/internal/model"
	"github.com/hitoshi/landmarket/internal/repository"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 8

// maxPasswordBytes はbcryptが扱える入力の上限バイト数。
const maxPasswordBytes = 72

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
	BcryptCost    int // 0の場合はbcrypt.DefaultCost
}

// SignUpInput は新規登録の入力。
type SignUpInput struct {
	Email    string
	Password string
	FullName string
}

// Result はログイン・新規登録の結果。TokenはセッションCookieに格納する値。
type Result struct {
	User    *model.User
	Session *model.Session
	Token   string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	profileRepo repository.ProfileRepository
	signer      *TokenSigner
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	profileRepo repository.ProfileRepository,
	signer *TokenSigner,
	config ServiceConfig,
) *Service {
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		profileRepo: profileRepo,
		signer:      signer,
		config:      config,
	}
}

// SignUp はユーザーを登録し、そのままログインさせる。
// メールアドレスは小文字に正規化して保存する。
func (s *Service) SignUp(ctx context.Context, input SignUpInput) (*Result, error) {
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, err
	}
	fullName := strings.TrimSpace(input.FullName)

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		FullName:     fullName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	// プロフィール行は後から作成されてもよいため、失敗しても登録は成功とする
	profile := &model.Profile{ID: user.ID, Email: &email}
	if fullName != "" {
		profile.FullName = &fullName
	}
	if err := s.profileRepo.Upsert(ctx, profile); err != nil {
		slog.Warn("failed to create profile on sign up",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	slog.Info("new user signed up", slog.String("user_id", user.ID))

	return s.issue(ctx, user)
}

// Login はメールアドレスとパスワードでログインする。
// ユーザーが存在しない場合とパスワード不一致の場合は同じエラーを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*Result, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" || password == "" {
		return nil, model.NewInvalidCredentialsError()
	}

	user, err := s.userRepo.FindByEmail(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidCredentialsError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, model.NewInvalidCredentialsError()
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))

	return s.issue(ctx, user)
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// ChangePasswordInput はパスワード変更の入力。
type ChangePasswordInput struct {
	UserID          string
	SessionID       string // 変更後も有効なまま残すセッション
	CurrentPassword string
	NewPassword     string
}

// ChangePassword は現在のパスワードを確認してから新しいパスワードに変更する。
// 変更を行ったセッション以外のセッションはすべて無効にする。
func (s *Service) ChangePassword(ctx context.Context, input ChangePasswordInput) error {
	if err := validatePassword(input.NewPassword); err != nil {
		return err
	}
	if input.NewPassword == input.CurrentPassword {
		return model.NewValidationError("新しいパスワードは現在のパスワードと異なるものを入力してください。")
	}

	user, err := s.userRepo.FindByID(ctx, input.UserID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.CurrentPassword)); err != nil {
		return model.NewWrongPasswordError()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.NewPassword), s.config.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.userRepo.UpdatePasswordHash(ctx, user.ID, string(hash)); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	revoked, err := s.sessionRepo.DeleteOthersByUserID(ctx, user.ID, input.SessionID)
	if err != nil {
		return fmt.Errorf("failed to revoke other sessions: %w", err)
	}

	slog.Info("password changed",
		slog.String("user_id", user.ID),
		slog.Int64("revoked_sessions", revoked),
	)
	return nil
}

// GetCurrentUser はセッションのユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// ResolveSession はCookieのトークンを検証し、有効なセッションを返す。
// 署名不正・期限切れ・DB上に存在しない・subject不一致の場合はnilを返す。
func (s *Service) ResolveSession(ctx context.Context, token string) (*model.Session, error) {
	sessionID, userID, err := s.signer.Verify(token)
	if err != nil {
		return nil, nil
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.UserID != userID {
		return nil, nil
	}
	return session, nil
}

// issue はセッションを作成し、署名済みトークンと共に返す。
func (s *Service) issue(ctx context.Context, user *model.User) (*Result, error) {
	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	token, err := s.signer.Sign(session.ID, user.ID, session.ExpiresAt)
	if err != nil {
		return nil, err
	}

	return &Result{User: user, Session: session, Token: token}, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func normalizeEmail(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Address != normalized {
		return "", model.NewValidationError("メールアドレスの形式が正しくありません。")
	}
	return normalized, nil
}

func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return model.NewValidationError(fmt.Sprintf("パスワードは%d文字以上で入力してください。", MinPasswordLength))
	}
	if len(password) > maxPasswordBytes {
		return model.NewValidationError(fmt.Sprintf("パスワードは%dバイト以下で入力してください。", maxPasswordBytes))
	}
	return nil
}
