package crypto

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap/zaptest"
)

func TestSigner_TokenRoundTrip(t *testing.T) {
	s := NewSigner("secret", zaptest.NewLogger(t))

	token, err := s.IssueToken(42, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error on IssueToken: %v", err)
	}
	account, err := s.VerifyToken(token)

	if err != nil {
		t.Fatalf("unexpected error on VerifyToken: %v", err)
	}
	if account != 42 {
		t.Errorf("expected account 42, got %d", account)
	}
}

func TestSigner_TokensAreUnique(t *testing.T) {
	s := NewSigner("secret", zaptest.NewLogger(t))

	first, _ := s.IssueToken(42, time.Hour)
	second, _ := s.IssueToken(42, time.Hour)

	if first == second {
		t.Error("expected distinct tokens for repeated issue")
	}
}

func TestSigner_TokenRejections(t *testing.T) {
	s := NewSigner("secret", zaptest.NewLogger(t))
	other := NewSigner("other", zaptest.NewLogger(t))

	expired, _ := s.IssueToken(7, -time.Minute)
	forged, _ := other.IssueToken(7, time.Hour)
	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   "x",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("unexpected error signing fixture: %v", err)
	}
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: tokenIssuer, Subject: "7"},
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("unexpected error signing fixture: %v", err)
	}

	cases := []struct {
		name  string
		token string
		want  error
	}{
		{"expired", expired, ErrExpiredToken},
		{"forged", forged, ErrInvalidSignature},
		{"malformed", "7:abc", ErrMalformedToken},
		{"bad account", badSubject, ErrMalformedToken},
		{"no expiry", noExpiry, ErrMalformedToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.VerifyToken(tc.token)
			if !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
