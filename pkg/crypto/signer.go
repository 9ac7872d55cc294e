package crypto

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const tokenIssuer = "admin_service"

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrMalformedToken   = errors.New("malformed session token")
	ErrExpiredToken     = errors.New("session token expired")
)

// Claims carried by a session token. The subject is the account id.
type Claims struct {
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256 session tokens.
type Signer struct {
	secretKey []byte
	logger    *zap.Logger
	now       func() time.Time
}

func NewSigner(secretKey string, logger *zap.Logger) *Signer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Signer{
		secretKey: []byte(secretKey),
		logger:    logger,
		now:       time.Now,
	}
}

// IssueToken returns a session token for account valid for ttl.
func (s *Signer) IssueToken(account uint32, ttl time.Duration) (string, error) {
	now := s.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatUint(uint64(account), 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        ulid.Make().String(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// VerifyToken checks token and returns the account id it was issued for.
func (s *Signer) VerifyToken(token string) (uint32, error) {
	claims := new(Claims)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secretKey, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return 0, ErrExpiredToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		s.logger.Warn("Session token signature verification failed", zap.String("jti", claims.ID))
		return 0, ErrInvalidSignature
	case err != nil:
		return 0, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	account, err := strconv.ParseUint(claims.Subject, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: subject: %v", ErrMalformedToken, err)
	}
	return uint32(account), nil
}
