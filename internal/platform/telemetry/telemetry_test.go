package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/labbox/labbox/pkg/apperror"
)

func newRecorder() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	rec := tracetest.NewSpanRecorder()
	tp := NewProvider(Config{ServiceName: "test"}, sdktrace.WithSpanProcessor(rec))
	return rec, tp
}

func attr(span sdktrace.ReadOnlySpan, key string) attribute.Value {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value
		}
	}
	return attribute.Value{}
}

func TestMiddleware_RecordsRouteSpan(t *testing.T) {
	rec, tp := newRecorder()
	e := echo.New()
	e.Use(Middleware(tp))
	e.GET("/admin/orders/:id", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/orders/12", nil))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "HTTP GET /admin/orders/:id", spans[0].Name())
	assert.Equal(t, int64(200), attr(spans[0], "http.response.status_code").AsInt64())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestMiddleware_ErrorStatus(t *testing.T) {
	rec, tp := newRecorder()
	e := echo.New()

	c := e.NewContext(httptest.NewRequest(http.MethodPatch, "/admin/orders/1/confirm", nil), httptest.NewRecorder())
	err := Middleware(tp)(func(c echo.Context) error {
		return apperror.Internal("update order", errors.New("conn reset"))
	})(c)
	require.Error(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, int64(500), attr(spans[0], "http.response.status_code").AsInt64())
	assert.Equal(t, codes.Error, spans[0].Status().Code)

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/admin/orders/9", nil), httptest.NewRecorder())
	_ = Middleware(tp)(func(c echo.Context) error { return apperror.NotFound("Order not found") })(c)
	spans = rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, int64(404), attr(spans[1], "http.response.status_code").AsInt64())
	assert.Equal(t, codes.Unset, spans[1].Status().Code)
}

func TestSetup_NoEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestConfigDefaults(t *testing.T) {
	c := Config{SampleRate: 5}
	c.applyDefaults()
	assert.Equal(t, "labbox-server", c.ServiceName)
	assert.Equal(t, 1.0, c.SampleRate)
}
