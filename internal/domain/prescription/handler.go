package prescription

import (
	"github.com/labstack/echo/v4"

	"github.com/labbox/labbox/internal/domain/order"
	"github.com/labbox/labbox/internal/platform/auth"
	"github.com/labbox/labbox/pkg/apperror"
	"github.com/labbox/labbox/pkg/response"
	"github.com/labbox/labbox/pkg/validate"
)

var uploadMessages = map[string]string{
	"avatar":       "avatar (prescription image URL) is required",
	"user_id":      "user_id (patient ID) is required",
	"user_id.uuid": "user_id (patient ID) is invalid",
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	u := api.Group("", auth.RequireRole(auth.RoleUser))
	u.POST("/prescriptions", h.Upload)
}

func (h *Handler) Upload(c echo.Context) error {
	var req UploadRequest
	if err := c.Bind(&req); err != nil {
		return apperror.Validation("Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return apperror.Validation(validate.MessageWith(err, uploadMessages))
	}

	ctx := c.Request().Context()
	caller := order.Caller{
		ID:    auth.UserIDFromContext(ctx),
		Role:  order.RoleUser,
		Roles: auth.RolesFromContext(ctx),
	}
	res, err := h.svc.Upload(ctx, caller, req)
	if err != nil {
		return err
	}
	return response.OK(c, "Your order has been successfully placed", res)
}
