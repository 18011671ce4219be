package billing

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sagecare/sagecare/internal/domain/payer"
	"github.com/sagecare/sagecare/internal/platform/auth"
	"github.com/sagecare/sagecare/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – admin, biller
	readGroup := api.Group("", auth.RequireRole("admin", "biller"))
	readGroup.GET("/billing-holds", h.ListHolds)
	readGroup.GET("/billing-holds/count", h.ActiveHoldCount)
	readGroup.GET("/billing-holds/by-reason", h.HoldsByReason)
	readGroup.GET("/billing-holds/:id", h.GetHold)

	// Write endpoints – admin, biller
	writeGroup := api.Group("", auth.RequireRole("admin", "biller"))
	writeGroup.PUT("/billing-holds/:id/resolve", h.ResolveHold)
	writeGroup.POST("/notes/:id/validate-billing", h.ValidateNote)
	writeGroup.POST("/payer-rules/:id/test", h.TestRule)

	// Hard delete is admin only
	adminGroup := api.Group("", auth.RequireRole("admin"))
	adminGroup.DELETE("/billing-holds/:id", h.DeleteHold)
}

func (h *Handler) ListHolds(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := HoldFilter{
		Status: c.QueryParam("status"),
		Reason: HoldReason(c.QueryParam("reason")),
	}
	if noteID := c.QueryParam("note_id"); noteID != "" {
		nid, err := uuid.Parse(noteID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid note_id")
		}
		f.NoteID = nid
	}
	items, total, err := h.svc.ListHolds(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		if f.Reason != "" && !f.Reason.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetHold(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	hold, err := h.svc.GetHold(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "billing hold not found")
	}
	return c.JSON(http.StatusOK, hold)
}

func (h *Handler) ActiveHoldCount(c echo.Context) error {
	count, err := h.svc.ActiveHoldCount(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"count": count})
}

func (h *Handler) HoldsByReason(c echo.Context) error {
	counts, err := h.svc.HoldsByReason(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, counts)
}

func (h *Handler) ResolveHold(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	hold, err := h.svc.ManualResolve(c.Request().Context(), id, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		if err == ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "billing hold not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, hold)
}

func (h *Handler) DeleteHold(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteHold(c.Request().Context(), id); err != nil {
		if err == ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "billing hold not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ValidateNote(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	result, err := h.svc.ValidateNote(c.Request().Context(), id)
	if err != nil {
		if err == ErrNoteNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "note not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

type testRuleRequest struct {
	NoteIDs []uuid.UUID `json:"note_ids"`
}

func (h *Handler) TestRule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req testRuleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	results, err := h.svc.TestRule(c.Request().Context(), id, req.NoteIDs)
	if err != nil {
		if errors.Is(err, payer.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "payer rule not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, results)
}
