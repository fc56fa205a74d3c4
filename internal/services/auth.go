// Package services contains the identity, token and catalog logic behind the
// tunr HTTP API.
package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenIssuer = "tunr"
	clockSkew   = 30 * time.Second
)

var (
	// ErrInvalidToken wraps every token rejection.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is also matched by expired tokens, so clients can be
	// told to refresh instead of re-registering.
	ErrTokenExpired = jwt.ErrTokenExpired
)

// Claims is the identity token payload. The identity id is duplicated in the
// subject so generic JWT tooling can read it.
type Claims struct {
	IdentityID string `json:"iid"`
	jwt.RegisteredClaims
}

// AuthService signs and checks identity tokens with a shared HMAC secret.
type AuthService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

func NewAuthService(secret string, tokenDuration time.Duration) *AuthService {
	s := &AuthService{secret: []byte(secret), ttl: tokenDuration, now: time.Now}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	return s
}

// GenerateToken issues a token for identityID that expires after the
// configured duration.
func (s *AuthService) GenerateToken(identityID string) (string, error) {
	if identityID == "" {
		return "", fmt.Errorf("%w: empty identity", ErrInvalidToken)
	}
	issued := s.now()
	claims := Claims{
		IdentityID: identityID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Subject:   identityID,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ValidateToken returns the claims of a well-formed, unexpired token signed
// with this service's secret.
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := s.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.IdentityID == "" || claims.Subject != claims.IdentityID {
		return nil, fmt.Errorf("%w: identity mismatch", ErrInvalidToken)
	}
	return claims, nil
}
