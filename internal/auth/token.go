package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Connection-time authentication failures. Each maps to a machine-readable
// refusal reason sent to the client before the socket is closed.
var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrForbidden         = errors.New("forbidden")
)

// Claims carried by the bearer token.
type Claims struct {
	UserID string `json:"sub"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// SignToken issues an HS256 token for the given user.
func SignToken(secret []byte, userID, name string, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID: userID,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// ParseToken verifies an HS256 token and returns its claims. A bad signature,
// a wrong signing method or an expired token all yield ErrInvalidCredential.
func ParseToken(secret []byte, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingCredential
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidCredential)
	}

	return claims, nil
}
