package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/labbox/labbox/pkg/apperror"
	"github.com/labbox/labbox/pkg/response"
	"github.com/labbox/labbox/pkg/validate"
)

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		rid := c.Get("request_id").(string)
		if rid == "" {
			t.Error("expected request_id to be generated")
		}
		return c.String(http.StatusOK, "ok")
	}

	if err := RequestID()(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "my-custom-id")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		if rid := c.Get("request_id").(string); rid != "my-custom-id" {
			t.Errorf("expected my-custom-id, got %s", rid)
		}
		return c.String(http.StatusOK, "ok")
	}

	if err := RequestID()(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) != "my-custom-id" {
		t.Error("expected request id echoed back")
	}
}

func TestLogger_LogsRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "rid-1")

	handler := func(c echo.Context) error {
		zerolog.Ctx(c.Request().Context()).Info().Msg("inside")
		return c.String(http.StatusOK, "ok")
	}

	if err := Logger(logger)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"path":"/admin/orders"`) || !strings.Contains(out, `"status":200`) {
		t.Errorf("unexpected log output: %s", out)
	}
	if strings.Count(out, `"request_id":"rid-1"`) != 2 {
		t.Errorf("expected request scoped logger to carry request_id: %s", out)
	}
}

func TestLogger_LevelFollowsStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		level  string
		status int
	}{
		{"not found", apperror.NotFound("Order not found"), "warn", 404},
		{"invalid state", apperror.InvalidState("Order is already completed or in an invalid state."), "warn", 400},
		{"internal", apperror.Internal("list orders", errors.New("conn reset")), "error", 500},
		{"rate limited", echo.NewHTTPError(http.StatusTooManyRequests, "Too many requests"), "warn", 429},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			e := echo.New()
			c := e.NewContext(httptest.NewRequest(http.MethodPatch, "/admin/orders/1/confirm", nil), httptest.NewRecorder())
			_ = Logger(zerolog.New(&buf))(func(echo.Context) error { return tc.err })(c)

			var line map[string]interface{}
			if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
				t.Fatalf("decode log line: %v (%s)", err, buf.String())
			}
			if line["level"] != tc.level {
				t.Errorf("level = %v, want %s", line["level"], tc.level)
			}
			if int(line["status"].(float64)) != tc.status {
				t.Errorf("status = %v, want %d", line["status"], tc.status)
			}
		})
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPatch, "/admin/orders/1/confirm", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "req-panic")

	handler := func(c echo.Context) error {
		panic("nil order")
	}

	err := Recovery(logger)(handler)(c)
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
	if apperror.KindOf(err) != apperror.KindInternal {
		t.Errorf("expected internal error, got %v", apperror.KindOf(err))
	}
	if !strings.Contains(err.Error(), "nil order") {
		t.Errorf("expected panic value in error, got %q", err.Error())
	}
	logged := buf.String()
	if !strings.Contains(logged, `"request_id":"req-panic"`) || !strings.Contains(logged, `"path":"/admin/orders/1/confirm"`) {
		t.Errorf("expected request fields in log, got %s", logged)
	}

	rec2, env := renderError(t, err, false)
	if rec2.Code != http.StatusInternalServerError || env.Message != "Internal server error" {
		t.Errorf("unexpected rendering %d %+v", rec2.Code, env)
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	logger := zerolog.New(os.Stderr).With().Logger()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := Recovery(logger)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func renderError(t *testing.T, err error, expose bool) (*httptest.ResponseRecorder, response.Envelope) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPatch, "/admin/orders/1/confirm", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	ErrorHandler(zerolog.Nop(), expose)(err, c)

	var env response.Envelope
	if jerr := json.Unmarshal(rec.Body.Bytes(), &env); jerr != nil {
		t.Fatalf("decode envelope: %v (%s)", jerr, rec.Body.String())
	}
	return rec, env
}

func TestErrorHandler_AppErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{"not found", apperror.NotFound("Order not found"), 404, "Order not found"},
		{"validation", apperror.Validation("Reason is required"), 400, "Reason is required"},
		{"invalid state", apperror.InvalidState("Order is already completed or in an invalid state."), 400, "Order is already completed or in an invalid state."},
		{"forbidden", apperror.Forbidden("Forbidden"), 403, "Forbidden"},
		{"echo", echo.NewHTTPError(http.StatusUnauthorized, "invalid token"), 401, "invalid token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := renderError(t, tt.err, true)
			if rec.Code != tt.code || env.Code != tt.code {
				t.Errorf("expected %d, got %d/%d", tt.code, rec.Code, env.Code)
			}
			if env.Status {
				t.Error("expected status false")
			}
			if env.Message != tt.msg {
				t.Errorf("expected %q, got %q", tt.msg, env.Message)
			}
			if env.Error != "" {
				t.Errorf("expected no error detail, got %q", env.Error)
			}
		})
	}
}

func TestErrorHandler_ValidationErrors(t *testing.T) {
	type body struct {
		Reason string `json:"reason" validate:"required"`
	}
	err := validate.New().Validate(&body{})
	rec, env := renderError(t, err, false)
	if rec.Code != http.StatusBadRequest || env.Message != "reason is required" {
		t.Errorf("unexpected %d %q", rec.Code, env.Message)
	}
}

func TestErrorHandler_Internal(t *testing.T) {
	cause := errors.New("connection refused")

	rec, env := renderError(t, apperror.Internal("update order", cause), true)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if env.Message != "Internal server error" || env.Error != "connection refused" {
		t.Errorf("unexpected envelope %+v", env)
	}

	_, env = renderError(t, cause, false)
	if env.Error != "" {
		t.Errorf("expected hidden detail, got %q", env.Error)
	}
}

func TestRateLimit_DefaultConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 50 || cfg.BurstSize != 100 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestSecurityHeaders(t *testing.T) {
	e := echo.New()
	mw := SecurityHeaders("/uploads")
	h := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	rec := httptest.NewRecorder()
	_ = h(e.NewContext(httptest.NewRequest(http.MethodGet, "/admin/orders", nil), rec))
	if rec.Header().Get("Cache-Control") != "no-store" || rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("unexpected API headers %v", rec.Header())
	}

	rec = httptest.NewRecorder()
	_ = h(e.NewContext(httptest.NewRequest(http.MethodGet, "/uploads/reports/1_a.pdf", nil), rec))
	if rec.Header().Get("Cache-Control") != "private, max-age=3600" {
		t.Errorf("report files should be privately cacheable, got %q", rec.Header().Get("Cache-Control"))
	}
	if rec.Header().Get("Content-Security-Policy") != "" {
		t.Error("report files should not carry the API CSP")
	}
}

func TestRequestTimeout(t *testing.T) {
	e := echo.New()
	mw := RequestTimeout(10*time.Millisecond, "/admin/report/update")

	slow := func(c echo.Context) error {
		<-c.Request().Context().Done()
		return c.Request().Context().Err()
	}

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/admin/orders", nil), httptest.NewRecorder())
	err := mw(slow)(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %v", err)
	}

	skipped := func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); ok {
			t.Error("expected no deadline on skipped path")
		}
		return nil
	}
	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/admin/report/update/1", nil), httptest.NewRecorder())
	if err := mw(skipped)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	upload := httptest.NewRequest(http.MethodPost, "/admin/report/update/2", strings.NewReader(""))
	upload.Header.Set(echo.HeaderContentType, echo.MIMEMultipartForm+"; boundary=x")
	c = e.NewContext(upload, httptest.NewRecorder())
	if err := RequestTimeout(10*time.Millisecond)(skipped)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fast := func(c echo.Context) error { return context.Canceled }
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/admin/orders", nil), httptest.NewRecorder())
	if err := mw(fast)(c); !errors.Is(err, context.Canceled) {
		t.Errorf("expected passthrough error, got %v", err)
	}
}
