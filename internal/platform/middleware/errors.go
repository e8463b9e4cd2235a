package middleware

import (
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/labbox/labbox/pkg/apperror"
	"github.com/labbox/labbox/pkg/response"
	"github.com/labbox/labbox/pkg/validate"
)

const internalMessage = "Internal server error"

// ErrorHandler renders every error returned by a handler as a response
// envelope. Classified errors keep their message; everything else becomes a
// 500 and is reported to Sentry. exposeDetail controls whether the cause of
// a 500 is echoed in the "error" field.
func ErrorHandler(logger zerolog.Logger, exposeDetail bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, msg, detail := classify(err)
		if code >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("path", c.Request().URL.Path).
				Msg("unhandled error")
			if hub := sentry.CurrentHub(); hub.Client() != nil {
				hub.WithScope(func(scope *sentry.Scope) {
					scope.SetTag("request_id", rid)
					scope.SetTag("path", c.Request().URL.Path)
					hub.CaptureException(err)
				})
			}
			if !exposeDetail {
				detail = ""
			}
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = response.Fail(c, code, msg, detail)
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("failed to write error response")
		}
	}
}

func classify(err error) (code int, msg, detail string) {
	var ae *apperror.Error
	if errors.As(err, &ae) {
		if ae.Kind == apperror.KindInternal {
			return http.StatusInternalServerError, internalMessage, errString(ae.Err, ae.Message)
		}
		return ae.Kind.HTTPStatus(), ae.Message, ""
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return http.StatusBadRequest, validate.Message(err), ""
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		m, ok := he.Message.(string)
		if !ok {
			m = http.StatusText(he.Code)
		}
		return he.Code, m, ""
	}

	return http.StatusInternalServerError, internalMessage, err.Error()
}

func errString(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	return err.Error()
}
