package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// signSession mints a token the way the admin front-end does.
func signSession(t *testing.T, secret, email string, now time.Time, ttl time.Duration) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestCheckAPIKey(t *testing.T) {
	a := New("s3cret", "", nil)
	if err := a.CheckAPIKey("s3cret"); err != nil {
		t.Errorf("valid key: %v", err)
	}
	for _, k := range []string{"", "s3cre", "s3cret!"} {
		if err := a.CheckAPIKey(k); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("CheckAPIKey(%q) = %v", k, err)
		}
	}
	if err := New("", "", nil).CheckAPIKey(""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("unconfigured key accepted: %v", err)
	}
}

func TestIsApproved(t *testing.T) {
	a := New("", "", []string{" Staff@Example.com ", ""})
	if !a.IsApproved("staff@example.com") || !a.IsApproved("STAFF@EXAMPLE.COM") {
		t.Error("approved user rejected")
	}
	if a.IsApproved("other@example.com") || a.IsApproved("") {
		t.Error("unknown user approved")
	}
}

func TestValidateSession(t *testing.T) {
	a := New("", "session-secret", []string{"staff@example.com"})
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return base }

	good := signSession(t, "session-secret", "staff@example.com", base, time.Hour)
	claims, err := a.ValidateSession(good)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if claims.Email != "staff@example.com" {
		t.Errorf("email = %q", claims.Email)
	}

	stranger := signSession(t, "session-secret", "stranger@example.com", base, time.Hour)
	if _, err := a.ValidateSession(stranger); !errors.Is(err, ErrNotApproved) {
		t.Errorf("unapproved err = %v", err)
	}

	forged := signSession(t, "other-secret", "staff@example.com", base, time.Hour)
	if _, err := a.ValidateSession(forged); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("forged err = %v", err)
	}

	noEmail, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(base.Add(time.Hour))},
	}).SignedString([]byte("session-secret"))
	if _, err := a.ValidateSession(noEmail); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("no email err = %v", err)
	}

	a.now = func() time.Time { return base.Add(2 * time.Hour) }
	if _, err := a.ValidateSession(good); !errors.Is(err, ErrExpired) {
		t.Errorf("expired err = %v", err)
	}

	if _, err := a.ValidateSession(""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("empty err = %v", err)
	}
}

func TestValidateSessionRejectsOtherAlgorithms(t *testing.T) {
	a := New("", "session-secret", []string{"staff@example.com"})
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, &Claims{
		Email:            "staff@example.com",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("session-secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.ValidateSession(tok); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("HS512 err = %v", err)
	}
}

func TestRequestHelpers(t *testing.T) {
	r := httptest.NewRequest("GET", "/stream?apiKey=fromquery", nil)
	if got := APIKeyFromRequest(r); got != "fromquery" {
		t.Errorf("query key = %q", got)
	}
	r.Header.Set(APIKeyHeader, "fromheader")
	if got := APIKeyFromRequest(r); got != "fromheader" {
		t.Errorf("header key = %q", got)
	}

	r.Header.Set("Authorization", "bearer abc.def.ghi")
	if got := BearerToken(r); got != "abc.def.ghi" {
		t.Errorf("bearer = %q", got)
	}
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	if got := BearerToken(r); got != "" {
		t.Errorf("basic treated as bearer: %q", got)
	}

	ctx := WithClaims(context.Background(), &Claims{Email: "a@b.c"})
	if c := ClaimsFrom(ctx); c == nil || c.Email != "a@b.c" {
		t.Errorf("claims = %+v", c)
	}
	if ClaimsFrom(context.Background()) != nil {
		t.Error("claims from empty context")
	}
}
