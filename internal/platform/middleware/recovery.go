package middleware

import (
	"fmt"
	"runtime"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/labbox/labbox/internal/platform/auth"
	"github.com/labbox/labbox/pkg/apperror"
)

const maxStack = 8 << 10

// Recovery turns a handler panic into an internal error, so the client
// still receives the standard envelope. The panic and its stack are logged
// and sent to Sentry when configured.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				stack := make([]byte, maxStack)
				stack = stack[:runtime.Stack(stack, false)]

				rid, _ := c.Get("request_id").(string)
				req := c.Request()
				logger.Error().
					Str("request_id", rid).
					Str("method", req.Method).
					Str("path", req.URL.Path).
					Str("user_id", auth.UserIDFromContext(req.Context())).
					Interface("panic", r).
					Bytes("stack", stack).
					Msg("panic recovered")

				if hub := sentry.CurrentHub(); hub.Client() != nil {
					hub.WithScope(func(scope *sentry.Scope) {
						scope.SetTag("request_id", rid)
						scope.SetTag("path", req.URL.Path)
						hub.Recover(r)
					})
				}

				err = apperror.Internal("panic", fmt.Errorf("panic: %v", r))
			}()
			return next(c)
		}
	}
}
