package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestIssueAndValidate(t *testing.T) {
	svc := NewService("test-secret")
	id := uuid.New()
	tok, err := svc.IssueToken(id, "tutor", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	got, role, err := svc.ValidateToken(context.Background(), tok)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if got != id || role != "tutor" {
		t.Errorf("got %s/%s, want %s/tutor", got, role, id)
	}
}

func TestValidateToken_Rejects(t *testing.T) {
	svc := NewService("test-secret")
	other := NewService("other-secret")
	id := uuid.New()

	wrongKey, _ := other.IssueToken(id, "student", time.Hour)
	expired, _ := svc.IssueToken(id, "student", -time.Minute)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: id.String()}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	badSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "not-a-uuid",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("test-secret"))

	cases := map[string]string{
		"garbage":     "abc.def.ghi",
		"wrong key":   wrongKey,
		"expired":     expired,
		"alg none":    none,
		"bad subject": badSubject,
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			if _, _, err := svc.ValidateToken(context.Background(), tok); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("err = %v, want ErrInvalidToken", err)
			}
		})
	}
}
