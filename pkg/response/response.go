// Package response renders the uniform JSON envelope used by every endpoint:
// {code, status, message, data?, pagination?, error?}.
package response

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/labbox/labbox/pkg/pagination"
)

// Envelope is the body of every API response.
type Envelope struct {
	Code       int              `json:"code"`
	Status     bool             `json:"status"`
	Message    string           `json:"message"`
	Data       interface{}      `json:"data,omitempty"`
	Pagination *pagination.Meta `json:"pagination,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// OK writes a 200 envelope.
func OK(c echo.Context, message string, data interface{}) error {
	return c.JSON(http.StatusOK, Envelope{
		Code:    http.StatusOK,
		Status:  true,
		Message: message,
		Data:    data,
	})
}

// Page writes a 200 envelope with a pagination block.
func Page(c echo.Context, message string, data interface{}, meta *pagination.Meta) error {
	return c.JSON(http.StatusOK, Envelope{
		Code:       http.StatusOK,
		Status:     true,
		Message:    message,
		Data:       data,
		Pagination: meta,
	})
}

// Fail writes an error envelope. detail is only set for unhandled errors.
func Fail(c echo.Context, code int, message, detail string) error {
	return c.JSON(code, Envelope{
		Code:    code,
		Status:  false,
		Message: message,
		Error:   detail,
	})
}
