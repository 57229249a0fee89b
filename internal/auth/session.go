// Package auth resolves the member session carried in the session cookie.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"kajabook/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoSession = errors.New("no session")

const defaultName = "Member"

// Principal is the opaque identity of a signed-in member.
type Principal struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type sessionClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// SessionVerifier issues and verifies HS256 session tokens.
type SessionVerifier struct {
	secret     []byte
	cookieName string
	ttl        time.Duration
	now        func() time.Time
}

func NewSessionVerifier(cfg config.SessionConfig) *SessionVerifier {
	return &SessionVerifier{
		secret:     []byte(cfg.Secret),
		cookieName: cfg.CookieName,
		ttl:        cfg.TTL,
		now:        time.Now,
	}
}

// Enabled is false when no signing secret is configured.
func (v *SessionVerifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

func (v *SessionVerifier) IssueToken(p Principal) (string, error) {
	if !v.Enabled() {
		return "", errors.New("session secret is not configured")
	}
	now := v.now().UTC()
	claims := sessionClaims{
		Name: p.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify parses a raw token into a principal.
func (v *SessionVerifier) Verify(raw string) (Principal, error) {
	if !v.Enabled() || strings.TrimSpace(raw) == "" {
		return Principal{}, ErrNoSession
	}

	var claims sessionClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrNoSession, err)
	}

	if claims.Subject == "" {
		return Principal{}, ErrNoSession
	}
	name := strings.TrimSpace(claims.Name)
	if name == "" {
		name = defaultName
	}
	return Principal{ID: claims.Subject, Name: name}, nil
}

// FromRequest reads the session cookie, falling back to a bearer token.
func (v *SessionVerifier) FromRequest(r *http.Request) (Principal, error) {
	if v == nil {
		return Principal{}, ErrNoSession
	}
	if c, err := r.Cookie(v.cookieName); err == nil {
		return v.Verify(c.Value)
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return v.Verify(strings.TrimPrefix(h, "Bearer "))
	}
	return Principal{}, ErrNoSession
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
