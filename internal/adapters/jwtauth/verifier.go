// Package jwtauth verifies connection credentials issued as HS256 JWTs.
package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/samirrijal/livetrack/internal/core/domain"
	"github.com/samirrijal/livetrack/internal/core/ports"
)

// Claims carried by a connection token.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"` // driver | customer | operator
	jwt.RegisteredClaims
}

// Verifier implements ports.AuthVerifier.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

var _ ports.AuthVerifier = (*Verifier)(nil)

// NewVerifier checks tokens signed with secret. A non-empty issuer must match
// the token's iss claim.
func NewVerifier(secret, issuer string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Verifier{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// VerifyConnection validates token and returns the identity it names.
func (v *Verifier) VerifyConnection(_ context.Context, token string) (domain.Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return domain.Identity{}, domain.AuthenticationError("invalid token", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return domain.Identity{}, domain.AuthenticationError("invalid token", nil)
	}
	if claims.UserID == "" {
		return domain.Identity{}, domain.AuthenticationError("token has no user_id", nil)
	}

	role := domain.Role(claims.Role)
	switch role {
	case domain.RoleDriver, domain.RoleCustomer, domain.RoleOperator:
	default:
		return domain.Identity{}, domain.AuthenticationError(fmt.Sprintf("unknown role %q", claims.Role), nil)
	}
	return domain.Identity{ID: claims.UserID, Role: role}, nil
}

// Issue signs a token for id, valid for ttl.
func (v *Verifier) Issue(id domain.Identity, ttl time.Duration) (string, error) {
	now := v.now()
	claims := &Claims{
		UserID: id.ID,
		Role:   string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
