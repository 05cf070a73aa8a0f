// Package auth checks the two credentials the API accepts: the shared API
// key used by check-in terminals and the batch uploader, and the HS256
// session token minted by the admin front-end for approved staff.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnauthorized means no usable credential was presented.
	ErrUnauthorized = errors.New("authentication required")
	// ErrExpired means the session token was valid but has expired.
	ErrExpired = errors.New("session expired")
	// ErrNotApproved means the caller authenticated but is not on the allowlist.
	ErrNotApproved = errors.New("user is not approved")
)

// APIKeyHeader carries the shared API key.
const APIKeyHeader = "X-API-Key"

// Claims are the session token claims.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

type contextKey string

const claimsContextKey contextKey = "claims"

// Authenticator validates API keys and session tokens.
type Authenticator struct {
	apiKey   []byte
	secret   []byte
	approved map[string]struct{}
	now      func() time.Time
}

// New builds an Authenticator. An empty apiKey or secret disables the
// corresponding credential: every check against it fails.
func New(apiKey, sessionSecret string, approvedUsers []string) *Authenticator {
	a := &Authenticator{
		apiKey:   []byte(apiKey),
		secret:   []byte(sessionSecret),
		approved: make(map[string]struct{}, len(approvedUsers)),
		now:      time.Now,
	}
	for _, u := range approvedUsers {
		if u = normalizeEmail(u); u != "" {
			a.approved[u] = struct{}{}
		}
	}
	return a
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IsApproved reports whether email is on the staff allowlist. Comparison
// ignores case and surrounding space.
func (a *Authenticator) IsApproved(email string) bool {
	_, ok := a.approved[normalizeEmail(email)]
	return ok
}

// CheckAPIKey compares key against the configured API key in constant time.
func (a *Authenticator) CheckAPIKey(key string) error {
	if len(a.apiKey) == 0 || key == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(key), a.apiKey) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// ValidateSession parses an HS256 session token and checks its email
// against the allowlist.
func (a *Authenticator) ValidateSession(tokenString string) (*Claims, error) {
	if len(a.secret) == 0 || tokenString == "" {
		return nil, ErrUnauthorized
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Email == "" {
		return nil, fmt.Errorf("%w: token has no email claim", ErrUnauthorized)
	}
	if !a.IsApproved(claims.Email) {
		return nil, ErrNotApproved
	}
	return claims, nil
}

// APIKeyFromRequest returns the key from the X-API-Key header, falling back
// to the apiKey query parameter used by EventSource clients.
func APIKeyFromRequest(r *http.Request) string {
	if k := r.Header.Get(APIKeyHeader); k != "" {
		return k
	}
	return r.URL.Query().Get("apiKey")
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// WithClaims returns a context carrying the session claims.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, c)
}

// ClaimsFrom returns the session claims stored by WithClaims, or nil.
func ClaimsFrom(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsContextKey).(*Claims)
	return c
}
