package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

const apiCSP = "default-src 'none'; frame-ancestors 'none'"

// SecurityHeaders hardens JSON responses. Report files served under
// staticPrefix may be cached privately and opened inline, since patients
// view them in the browser.
func SecurityHeaders(staticPrefix string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set(echo.HeaderXContentTypeOptions, "nosniff")
			h.Set("Referrer-Policy", "no-referrer")

			if staticPrefix != "" && strings.HasPrefix(c.Request().URL.Path, staticPrefix) {
				h.Set(echo.HeaderXFrameOptions, "SAMEORIGIN")
				h.Set("Cache-Control", "private, max-age=3600")
				return next(c)
			}
			h.Set(echo.HeaderXFrameOptions, "DENY")
			h.Set(echo.HeaderContentSecurityPolicy, apiCSP)
			h.Set("Cache-Control", "no-store")
			return next(c)
		}
	}
}
