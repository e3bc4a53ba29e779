package middlewares

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/scheduled-email-service/pkg/response"
)

const (
	APIKeyHeader = "x-capsule-auth-key"
)

// secureCompare compares two strings in a way that is safer against timing attacks.
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// clientKey reads the API key from the x-capsule-auth-key header, falling back
// to an "Authorization: Bearer" header.
func clientKey(c echo.Context) string {
	header := c.Request().Header

	if key := header.Get(APIKeyHeader); key != "" {
		return key
	}

	if auth := header.Get(echo.HeaderAuthorization); len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}

	return ""
}

func APIKeyAuth(apiKey string) echo.MiddlewareFunc {
	// An empty key is a server-side misconfiguration, never an open endpoint.
	if apiKey == "" {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				return response.InternalServerError(
					c,
					fmt.Errorf("API key is not configured for this endpoint group"),
				)
			}
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := clientKey(c)
			if token == "" || !secureCompare(token, apiKey) {
				return response.Unauthorized(c)
			}

			return next(c)
		}
	}
}
