// Package auth implements the role policy guarding the management
// endpoints: bearer-token authentication plus a per-context manager
// role check. It is a precondition for every registry operation, not
// part of the registry's own contract.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role names carried in token claims, keyed by context id.
const (
	RoleManager   = "manager"
	RoleSiteAdmin = "siteAdmin"
)

// Claims are the JWT claims of an authenticated user. Roles maps a
// context id (decimal string) to the user's role in that context; the
// site admin role may appear under the "*" key.
type Claims struct {
	UserID int64             `json:"userId"`
	Roles  map[string]string `json:"roles"`
	jwt.RegisteredClaims
}

// RoleFor returns the user's role for a context id, honoring the
// site-wide wildcard.
func (c *Claims) RoleFor(contextID string) string {
	if role, ok := c.Roles["*"]; ok && role == RoleSiteAdmin {
		return RoleSiteAdmin
	}
	return c.Roles[contextID]
}

// TokenService issues and validates access tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a token service with the given HMAC secret.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), ttl: ttl}
}

// Issue creates a signed access token for a user with the given
// per-context roles.
func (s *TokenService) Issue(userID int64, roles map[string]string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies an access token.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		if err == nil {
			err = fmt.Errorf("invalid token")
		}
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
