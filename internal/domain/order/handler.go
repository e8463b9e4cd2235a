package order

import (
	"errors"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/labbox/labbox/internal/platform/auth"
	"github.com/labbox/labbox/internal/platform/blobstore"
	"github.com/labbox/labbox/pkg/apperror"
	"github.com/labbox/labbox/pkg/pagination"
	"github.com/labbox/labbox/pkg/response"
)

type Handler struct {
	engine    *Engine
	projector *Projector
	blobs     blobstore.BlobStore
}

// NewHandler builds the order handler. blobs may be nil, in which case
// report uploads only accept a file URL.
func NewHandler(engine *Engine, projector *Projector, blobs blobstore.BlobStore) *Handler {
	return &Handler{engine: engine, projector: projector, blobs: blobs}
}

// RegisterRoutes mounts the admin, phlebotomist and patient routes.
func (h *Handler) RegisterRoutes(admin, flabo, api *echo.Group) {
	a := admin.Group("", auth.RequireRole(auth.RoleAdmin))
	a.GET("/orders", h.ListOrders)
	a.GET("/orders/:id", h.GetOrder)
	a.GET("/orders/:id/history", h.GetHistory)
	a.PATCH("/orders/:id/confirm", h.ConfirmOrder)
	a.PATCH("/orders/:id/reject", h.RejectOrder)
	a.GET("/dashboard/orders", h.TodayOrders)
	a.GET("/reports", h.ListReports)
	a.POST("/report/update/:id", h.UploadReport)
	a.DELETE("/report/delete/:id", h.DeleteReport)

	f := flabo.Group("", auth.RequireRole(auth.RoleFlabo))
	f.GET("/requests", h.FlaboRequests)
	f.GET("/history", h.FlaboHistory)
	f.PATCH("/orders/:id/accept", h.AcceptOrder)
	f.PATCH("/orders/:id/reject", h.FlaboRejectOrder)

	u := api.Group("", auth.RequireRole(auth.RoleUser))
	u.GET("/reports/:id/url", h.ReportURL)
}

func callerFrom(c echo.Context, role Role) Caller {
	ctx := c.Request().Context()
	return Caller{ID: auth.UserIDFromContext(ctx), Role: role, Roles: auth.RolesFromContext(ctx)}
}

// parseID reads the :id path parameter. An id that is not a uuid cannot
// match any row, so it is reported with the same not-found message.
func parseID(c echo.Context, notFound string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperror.NotFound(notFound)
	}
	return id, nil
}

type rejectRequest struct {
	Reason string `json:"reason" form:"reason"`
}

type attachReportRequest struct {
	Avatar string `json:"avatar" form:"avatar"`
}

// -- Admin --

func (h *Handler) ListOrders(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, meta, err := h.projector.FullList(c.Request().Context(), c.QueryParam("user"), c.QueryParam("status"), pg)
	if err != nil {
		return err
	}
	return response.Page(c, "Orders retrieved successfully", items, meta)
}

func (h *Handler) TodayOrders(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, meta, err := h.projector.Today(c.Request().Context(), c.QueryParam("user"), pg)
	if err != nil {
		return err
	}
	return response.Page(c, "Orders retrieved successfully", items, meta)
}

func (h *Handler) GetOrder(c echo.Context) error {
	id, err := parseID(c, msgOrderNotFound)
	if err != nil {
		return err
	}
	d, err := h.projector.Detail(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, "Order retrieved successfully", d)
}

func (h *Handler) GetHistory(c echo.Context) error {
	id, err := parseID(c, msgOrderNotFound)
	if err != nil {
		return err
	}
	items, err := h.engine.History(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, "Order history retrieved successfully", items)
}

func (h *Handler) ConfirmOrder(c echo.Context) error {
	return h.advance(c, RoleAdmin)
}

func (h *Handler) RejectOrder(c echo.Context) error {
	return h.reject(c, RoleAdmin, "Report rejected successfully!")
}

func (h *Handler) ListReports(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, meta, err := h.projector.CompletedReports(c.Request().Context(), c.QueryParam("user"), pg)
	if err != nil {
		return err
	}
	return response.Page(c, "Reports retrieved successfully", items, meta)
}

// UploadReport attaches a report to an order. A multipart "avatar" file is
// stored in the blob store first; otherwise "avatar" is taken as a URL.
func (h *Handler) UploadReport(c echo.Context) error {
	id, err := parseID(c, msgOrderNotFound)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	caller := callerFrom(c, RoleAdmin)

	var avatar string
	var stored *blobstore.BlobMetadata
	if fh, ferr := c.FormFile("avatar"); ferr == nil {
		if h.blobs == nil {
			return apperror.Validation("File uploads are not enabled")
		}
		stored, err = blobstore.PutReport(ctx, h.blobs, fh, caller.ID)
		switch {
		case errors.Is(err, blobstore.ErrInvalidContentType):
			return apperror.Validation("Report file must be a PDF or an image")
		case errors.Is(err, blobstore.ErrFileTooLarge):
			return apperror.Validation("Report file is too large")
		case err != nil:
			return apperror.Internal("store report file", err)
		}
		avatar = stored.URL
	} else {
		var req attachReportRequest
		if err := c.Bind(&req); err != nil {
			return apperror.Validation("Invalid request body")
		}
		avatar = req.Avatar
	}

	o, err := h.engine.AttachReport(ctx, caller, id, avatar)
	if err != nil {
		if stored != nil {
			if derr := h.blobs.Delete(ctx, stored.Key); derr != nil {
				zerolog.Ctx(ctx).Warn().Err(derr).Str("key", stored.Key).Msg("orphaned report file")
			}
		}
		return err
	}
	return response.OK(c, "Report uploaded successfully", o)
}

func (h *Handler) DeleteReport(c echo.Context) error {
	id, err := parseID(c, msgReportNotFound)
	if err != nil {
		return err
	}
	if err := h.engine.SoftDeleteReport(c.Request().Context(), callerFrom(c, RoleAdmin), id); err != nil {
		return err
	}
	return response.OK(c, "Report deleted successfully...!", nil)
}

// -- Phlebotomist --

func (h *Handler) FlaboRequests(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, meta, err := h.projector.FlaboQueue(c.Request().Context(), pg)
	if err != nil {
		return err
	}
	return response.Page(c, "Data retrieved successfully...!", items, meta)
}

func (h *Handler) FlaboHistory(c echo.Context) error {
	items, err := h.projector.FlaboHistory(c.Request().Context(), c.QueryParam("date"))
	if err != nil {
		return err
	}
	return response.OK(c, "Data retrieved successfully...!", items)
}

func (h *Handler) AcceptOrder(c echo.Context) error {
	return h.advance(c, RoleFlabo)
}

func (h *Handler) FlaboRejectOrder(c echo.Context) error {
	return h.reject(c, RoleFlabo, "Report rejected!")
}

// -- Patient --

func (h *Handler) ReportURL(c echo.Context) error {
	id, err := parseID(c, msgReportNotFound)
	if err != nil {
		return err
	}
	url, err := h.engine.ReportURL(c.Request().Context(), callerFrom(c, RoleUser), id)
	if err != nil {
		return err
	}
	return response.OK(c, "Data retrieved successfully...!", map[string]string{"report_url": url})
}

func (h *Handler) advance(c echo.Context, role Role) error {
	id, err := parseID(c, msgOrderNotFound)
	if err != nil {
		return err
	}
	o, err := h.engine.Advance(c.Request().Context(), callerFrom(c, role), id)
	if err != nil {
		return err
	}
	return response.OK(c, "Report moved successfully!", o)
}

func (h *Handler) reject(c echo.Context, role Role, message string) error {
	id, err := parseID(c, msgOrderNotFound)
	if err != nil {
		return err
	}
	var req rejectRequest
	if err := c.Bind(&req); err != nil {
		return apperror.Validation("Invalid request body")
	}
	o, err := h.engine.Reject(c.Request().Context(), callerFrom(c, role), id, req.Reason)
	if err != nil {
		return err
	}
	return response.OK(c, message, o)
}
