package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenSigner_RoundTrip(t *testing.T) {
	signer := NewTokenSigner("secret")
	token, err := signer.Sign("sid", "uid", time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	sid, uid, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if sid != "sid" || uid != "uid" {
		t.Errorf("got (%q, %q), want (sid, uid)", sid, uid)
	}
}

func TestTokenSigner_RejectsExpired(t *testing.T) {
	signer := NewTokenSigner("secret")
	token, _ := signer.Sign("sid", "uid", time.Now().Add(-time.Minute))

	if _, _, err := signer.Verify(token); err != ErrInvalidToken {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestTokenSigner_RejectsOtherAlgorithm(t *testing.T) {
	claims := jwt.MapClaims{
		"sid": "sid",
		"sub": "uid",
		"exp": time.Now().Add(time.Minute).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	if _, _, err := NewTokenSigner("secret").Verify(token); err != ErrInvalidToken {
		t.Errorf("HS512のトークンを受け入れた: err = %v", err)
	}
}

func TestTokenSigner_RejectsGarbage(t *testing.T) {
	for _, token := range []string{"", "abc", "a.b.c"} {
		if _, _, err := NewTokenSigner("secret").Verify(token); err == nil {
			t.Errorf("Verify(%q) はエラーになるべき", token)
		}
	}
}
