// Package auth validates bearer tokens issued by the platform's auth service.
// Accounts are identified by the token subject.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken covers every reason a token is rejected.
var ErrInvalidToken = errors.New("invalid token")

type Service interface {
	ValidateToken(ctx context.Context, token string) (uuid.UUID, string, error)
}

type service struct {
	secret []byte
	now    func() time.Time
}

func NewService(secret string) *service {
	return &service{secret: []byte(secret), now: time.Now}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// IssueToken signs a token for accountID. Production tokens come from the
// auth service; this exists for local tooling and tests.
func (s *service) IssueToken(accountID uuid.UUID, role string, ttl time.Duration) (string, error) {
	now := s.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: role,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

// ValidateToken returns the account id and role carried by an HS256 token.
func (s *service) ValidateToken(_ context.Context, token string) (uuid.UUID, string, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return uuid.Nil, "", ErrInvalidToken
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%w: subject: %v", ErrInvalidToken, err)
	}
	return id, c.Role, nil
}
