// Package identity resolves the acting staff member from an HS256 access
// token.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fulfillment-sync/internal/domain"
)

const issuer = "fulfillment-sync"

type Claims struct {
	jwt.RegisteredClaims
	Name       string      `json:"name"`
	Role       domain.Role `json:"role"`
	Privileged bool        `json:"privileged,omitempty"`
}

type ctxKey struct{}

// WithToken attaches a request's bearer token; it takes precedence over the
// provider's static token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxKey{}, token)
}

type TokenProvider struct {
	secret []byte
	static string
	now    func() time.Time
}

func NewTokenProvider(secret, staticToken string) *TokenProvider {
	return &TokenProvider{secret: []byte(secret), static: staticToken, now: time.Now}
}

// Issue signs a token for the actor.
func (p *TokenProvider) Issue(a domain.Actor, ttl time.Duration) (string, error) {
	now := p.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name:       a.Name,
		Role:       a.Role,
		Privileged: a.Privileged,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

// Parse validates a token and returns the actor it names.
func (p *TokenProvider) Parse(token string) (domain.Actor, error) {
	if token == "" {
		return domain.Actor{}, fmt.Errorf("%w: no access token", domain.ErrUnauthorized)
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return domain.Actor{}, fmt.Errorf("%w: token has no subject", domain.ErrUnauthorized)
	}
	if !claims.Role.IsValid() {
		return domain.Actor{}, fmt.Errorf("%w: unknown role %q", domain.ErrUnauthorized, claims.Role)
	}
	return domain.Actor{
		ID:         claims.Subject,
		Name:       claims.Name,
		Role:       claims.Role,
		Privileged: claims.Privileged || claims.Role.Privileged(),
	}, nil
}

// Actor resolves the actor for ctx.
func (p *TokenProvider) Actor(ctx context.Context) (domain.Actor, error) {
	token, _ := ctx.Value(ctxKey{}).(string)
	if token == "" {
		token = p.static
	}
	return p.Parse(token)
}

// IsExpired reports whether err came from an expired token.
func IsExpired(err error) bool { return errors.Is(err, jwt.ErrTokenExpired) }
