package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// NormalizeRoles lower-cases and trims role names and drops blanks and
// duplicates. Tokens and the dev header both feed through it.
func NormalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	seen := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// RequireRole admits callers holding any of roles. Admins pass every check.
// A request without a verified caller is 401, a caller lacking the role 403.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]struct{}, len(roles)+1)
	for _, r := range NormalizeRoles(roles) {
		allowed[r] = struct{}{}
	}
	allowed[RoleAdmin] = struct{}{}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if UserIDFromContext(ctx) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
			}
			for _, has := range RolesFromContext(ctx) {
				if _, ok := allowed[has]; ok {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, "Forbidden")
		}
	}
}
