package auth

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// ContextKey represents keys for context values
type ContextKey string

const (
	// Context keys
	ClaimsContextKey ContextKey = "claims"
	UserIDContextKey ContextKey = "user_id"
)

// RequireAuth validates the bearer token and stores the claims in the
// request context.
func RequireAuth(tokenService *TokenService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
			}

			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			claims, err := tokenService.Validate(tokenParts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}

			c.Set(string(ClaimsContextKey), claims)
			c.Set(string(UserIDContextKey), claims.UserID)
			return next(c)
		}
	}
}

// RequireManager checks that the authenticated user holds a
// management-level role for the context already resolved into the
// request (the "context_id" value).
func RequireManager() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := GetClaims(c)
			if claims == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "user not found in context")
			}

			contextID, ok := c.Get("context_id").(int64)
			if !ok {
				return echo.NewHTTPError(http.StatusBadRequest, "Missing publishing context")
			}

			role := claims.RoleFor(strconv.FormatInt(contextID, 10))
			if role != RoleManager && role != RoleSiteAdmin {
				return echo.NewHTTPError(http.StatusForbidden, "Manager role required")
			}
			return next(c)
		}
	}
}

// GetClaims extracts the token claims from the echo context.
func GetClaims(c echo.Context) *Claims {
	claimsInterface := c.Get(string(ClaimsContextKey))
	if claimsInterface == nil {
		return nil
	}
	claims, ok := claimsInterface.(*Claims)
	if !ok {
		return nil
	}
	return claims
}

// GetUserID extracts the authenticated user id from the echo context.
// Returns 0 when no user is bound.
func GetUserID(c echo.Context) int64 {
	userIDInterface := c.Get(string(UserIDContextKey))
	if userIDInterface == nil {
		return 0
	}
	userID, ok := userIDInterface.(int64)
	if !ok {
		return 0
	}
	return userID
}
