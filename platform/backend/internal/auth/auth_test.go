package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func mintTestToken(t *testing.T, secret string, userID int64, email string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"email":   email,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func TestValidateTokenReturnsIdentity(t *testing.T) {
	svc := NewService("test-secret")
	tokenStr := mintTestToken(t, "test-secret", 42, "a@example.com")

	identity, err := svc.ValidateToken(tokenStr)
	if err != nil {
		t.Fatal(err)
	}
	if identity.UserID != 42 {
		t.Errorf("expected userID 42, got %d", identity.UserID)
	}
	if identity.Email != "a@example.com" {
		t.Errorf("expected email a@example.com, got %q", identity.Email)
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	svc := NewService("test-secret")
	tokenStr := mintTestToken(t, "other-secret", 42, "a@example.com")

	if _, err := svc.ValidateToken(tokenStr); err == nil {
		t.Error("expected validation to fail for a token signed with a different secret")
	}
}

func TestValidateTokenRejectsMalformed(t *testing.T) {
	svc := NewService("test-secret")
	if _, err := svc.ValidateToken("not-a-jwt"); err == nil {
		t.Error("expected malformed token to be rejected")
	}
}
