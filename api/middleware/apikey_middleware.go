package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

const apiKeyHeader = "X-Api-Key"

// APIKeyMiddleware guards the gateway-facing endpoints. The chat gateway
// process is the only expected caller.
type APIKeyMiddleware struct {
	Key string
}

func (m APIKeyMiddleware) Require(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if m.Key == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		provided := c.Request().Header.Get(apiKeyHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(m.Key)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		return next(c)
	}
}
