package jwt

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotJWT is returned when a bearer token is not in compact JWT form. Opaque tokens
// are valid bearer credentials; they simply carry no readable claims.
var ErrNotJWT = errors.New("token is not a jwt")

// Claims are the client-visible claims the dashboard cares about.
type Claims struct {
	Email                  string `json:"email,omitempty"`
	Role                   string `json:"role,omitempty"`
	RequiresPasswordChange bool   `json:"requiresPasswordChange,omitempty"`
	jwt.RegisteredClaims
}

// Peek parses token without verifying its signature.
func Peek(token string) (*Claims, error) {
	if strings.Count(token, ".") != 2 {
		return nil, ErrNotJWT
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Expired reports whether token is a JWT whose exp claim lies before now minus leeway.
// Opaque tokens and JWTs without exp are never expired.
func Expired(token string, now time.Time, leeway time.Duration) bool {
	claims, err := Peek(token)
	if err != nil || claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Time.Add(leeway).Before(now)
}

// Mint signs claims with HS256. It exists for fake auth servers in tests, examples
// and the tab simulator; production tokens come from the API.
func Mint(claims Claims, key []byte) (string, error) {
	if len(key) == 0 {
		return "", errors.New("jwt: signing key required")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}
