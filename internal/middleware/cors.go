package middleware

import (
	"github.com/labstack/echo/v4"
)

// CORS returns an Echo middleware that marks every response as readable from
// any origin, errors included. Media players fetch proxied playlists and
// segments cross-origin.
func CORS() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set(echo.HeaderAccessControlAllowOrigin, "*")
			h.Set(echo.HeaderAccessControlAllowMethods, "GET, HEAD, OPTIONS")
			h.Set(echo.HeaderAccessControlAllowHeaders, "*")
			return next(c)
		}
	}
}
