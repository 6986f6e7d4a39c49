package auth

import (
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

var errInvalidToken = errors.New("invalid token")

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func issueToken(secret []byte, user *models.User, now time.Time, ttl time.Duration) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := tok.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func parseToken(secret []byte, token string, now time.Time) (*models.User, error) {
	var c claims
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	_, err := parser.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	if c.ExpiresAt == nil || !now.Before(c.ExpiresAt.Time) {
		return nil, fmt.Errorf("%w: expired", errInvalidToken)
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", errInvalidToken)
	}
	return &models.User{ID: c.Subject, Email: c.Email}, nil
}
