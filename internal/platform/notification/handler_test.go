package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labbox/labbox/pkg/apperror"
)

func TestHandler_ListAndStats(t *testing.T) {
	m, _ := newTestManager()
	_, _ = m.SendFromTemplate(context.Background(), TplOrderConfirmed, nil, "device-1", nil)
	h := NewHandler(m)
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/admin/notifications?recipient=device-1", nil), rec)
	require.NoError(t, h.HandleList(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []Notification `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, TplOrderConfirmed, body.Data[0].TemplateID)

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/admin/notifications/stats", nil), rec)
	require.NoError(t, h.HandleStats(c))
	assert.Contains(t, rec.Body.String(), `"total":1`)
}

func TestHandler_GetAndRetry(t *testing.T) {
	m, sender := newTestManager()
	sender.Err = errors.New("down")
	n, _ := m.SendFromTemplate(context.Background(), TplOrderConfirmed, nil, "device-1", nil)
	h := NewHandler(m)
	e := echo.New()

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("missing")
	assert.True(t, apperror.Is(h.HandleGet(c), apperror.KindNotFound))

	sender.Err = nil
	rec := httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(n.ID)
	require.NoError(t, h.HandleRetry(c))
	var retried struct {
		Data Notification `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &retried))
	assert.Equal(t, StatusSent, retried.Data.Status)
	assert.Equal(t, n.ID, retried.Data.ID)

	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(n.ID)
	assert.True(t, apperror.Is(h.HandleRetry(c), apperror.KindInvalidState))
}
