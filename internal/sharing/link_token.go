package sharing

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/medrex/rx-ledger/pkg/types"
)

const linkIssuer = "rx-ledger"

// LinkSigner signs and validates share link tokens. A token names exactly one
// grant and expires with it.
type LinkSigner struct {
	secret []byte
	now    func() time.Time
}

// NewLinkSigner creates a new link signer
func NewLinkSigner(secret string) *LinkSigner {
	return &LinkSigner{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// Sign issues an HS256 token for the grant
func (s *LinkSigner) Sign(grantID string, expiresAt time.Time) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		ID:        grantID,
		Issuer:    linkIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign share link: %w", err)
	}
	return signed, nil
}

// Validate checks signature and expiry and returns the grant id
func (s *LinkSigner) Validate(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(linkIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", types.NewAuthorizationError(types.ErrCodeInvalidToken, "share link expired")
		}
		return "", types.NewAuthorizationError(types.ErrCodeInvalidToken, "invalid share link")
	}

	if !token.Valid || claims.ID == "" {
		return "", types.NewAuthorizationError(types.ErrCodeInvalidToken, "invalid share link")
	}

	return claims.ID, nil
}
