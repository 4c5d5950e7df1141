package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// IsPublicPath reports whether route is served without a token or a clinic.
func IsPublicPath(route string) bool {
	switch route {
	case "/health", "/health/db", "/metrics":
		return true
	}
	return false
}

// AuthSkipper lets health and metrics reads through unauthenticated. It
// matches the route pattern, so it must run after routing.
func AuthSkipper(c echo.Context) bool {
	switch c.Request().Method {
	case http.MethodGet, http.MethodHead:
		return IsPublicPath(c.Path())
	}
	return false
}
