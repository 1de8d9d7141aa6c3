package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken はセッショントークンの署名・形式・期限が不正な場合のエラー。
var ErrInvalidToken = errors.New("invalid session token")

// sessionClaims はセッションCookieに格納するJWTのクレーム。
// subはユーザーID、sidはsessionsテーブルの主キー。
type sessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenSigner はセッションIDとユーザーIDをHS256で署名したトークンに変換する。
type TokenSigner struct {
	secret []byte
}

// NewTokenSigner はTokenSignerを生成する。
func NewTokenSigner(secret string) *TokenSigner {
	return &TokenSigner{secret: []byte(secret)}
}

// Sign はセッションをトークン文字列に署名する。
func (s *TokenSigner) Sign(sessionID, userID string, expiresAt time.Time) (string, error) {
	claims := sessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Verify はトークンを検証し、セッションIDとユーザーIDを返す。
// HS256以外のアルゴリズムは拒否する。
func (s *TokenSigner) Verify(tokenString string) (sessionID, userID string, err error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", "", ErrInvalidToken
	}
	if claims.SessionID == "" || claims.Subject == "" {
		return "", "", ErrInvalidToken
	}
	return claims.SessionID, claims.Subject, nil
}
