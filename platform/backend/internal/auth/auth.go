package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is what the external Auth collaborator returns for a validated
// bearer token (§6: "a bearer token understood by the external Auth
// collaborator, which returns {userId, email}").
type Identity struct {
	UserID int64
	Email  string
}

// Service validates bearer tokens minted by the external Auth collaborator.
// Token minting, password hashing, 2FA and OAuth are explicitly out of
// scope (§1) — this core only ever consumes tokens, never issues them, so
// HashPassword/GenerateToken from the teacher's auth.Service are dropped;
// see DESIGN.md.
type Service struct {
	jwtSecret []byte
}

func NewService(secret string) *Service {
	return &Service{jwtSecret: []byte(secret)}
}

// ValidateToken parses and verifies a bearer token, returning the carried
// identity. Invalid or missing tokens are the caller's signal to close the
// connection with code 1008 (§6).
func (s *Service) ValidateToken(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	})
	if err != nil {
		return Identity{}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, errors.New("invalid token")
	}

	userIDFloat, ok := claims["user_id"].(float64)
	if !ok {
		return Identity{}, errors.New("invalid token claims: missing user_id")
	}
	email, _ := claims["email"].(string)

	return Identity{UserID: int64(userIDFloat), Email: email}, nil
}
