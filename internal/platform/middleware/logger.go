package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/labbox/labbox/internal/platform/auth"
	"github.com/labbox/labbox/pkg/apperror"
)

// Logger writes one "request" event per call and puts a request scoped
// logger on the context. 5xx responses log at error, other failures at
// warn, everything else at info.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			rid, _ := c.Get("request_id").(string)

			reqLogger := logger.With().Str("request_id", rid).Logger()
			c.SetRequest(c.Request().WithContext(reqLogger.WithContext(c.Request().Context())))

			err := next(c)

			req := c.Request()
			status := statusFor(c, err)
			var evt *zerolog.Event
			switch {
			case status >= http.StatusInternalServerError:
				evt = reqLogger.Error().Err(err)
			case err != nil:
				evt = reqLogger.Warn().Str("error", err.Error())
			default:
				evt = reqLogger.Info()
			}
			evt.
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("route", c.Path()).
				Str("user_id", auth.UserIDFromContext(req.Context())).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")
			return err
		}
	}
}

// statusFor predicts the code the error handler will write for err.
func statusFor(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	var ae *apperror.Error
	if errors.As(err, &ae) {
		return ae.Kind.HTTPStatus()
	}
	return http.StatusInternalServerError
}
