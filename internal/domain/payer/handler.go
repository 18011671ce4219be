package payer

import (
	"bytes"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	readGroup.GET("/payer-rules", h.ListRules)
	readGroup.GET("/payer-rules/template", h.DownloadTemplate)
	readGroup.GET("/payer-rules/export", h.ExportRules)
	readGroup.GET("/payer-rules/stats", h.GetStats)
	readGroup.GET("/payer-rules/:id", h.GetRule)

	// Write endpoints – admin, biller
	writeGroup := api.Group("", auth.RequireRole("admin", "biller"))
	writeGroup.POST("/payer-rules", h.CreateRule)
	writeGroup.PUT("/payer-rules/:id", h.UpdateRule)
	writeGroup.DELETE("/payer-rules/:id", h.DeactivateRule)
	writeGroup.POST("/payer-rules/:id/clone", h.CloneRule)
	writeGroup.POST("/payer-rules/import", h.ImportRules)
}

func (h *Handler) CreateRule(c echo.Context) error {
	var rule Rule
	if err := c.Bind(&rule); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if uid, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context())); err == nil {
		rule.CreatedBy = &uid
	}
	if err := h.svc.Create(c.Request().Context(), &rule); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, rule)
}

func (h *Handler) GetRule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rule, err := h.svc.GetByID(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "payer rule not found")
	}
	return c.JSON(http.StatusOK, rule)
}

func (h *Handler) ListRules(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{
		ClinicianCredential: c.QueryParam("clinician_credential"),
		PlaceOfService:      c.QueryParam("place_of_service"),
		ServiceType:         c.QueryParam("service_type"),
		ActiveOnly:          c.QueryParam("active") == "true",
	}
	if payerID := c.QueryParam("payer_id"); payerID != "" {
		pid, err := uuid.Parse(payerID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid payer_id")
		}
		f.PayerID = pid
	}
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateRule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var rule Rule
	if err := c.Bind(&rule); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.Update(c.Request().Context(), id, &rule)
	if err != nil {
		if err == ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "payer rule not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) DeactivateRule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rule, err := h.svc.Deactivate(c.Request().Context(), id)
	if err != nil {
		if err == ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "payer rule not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rule)
}

type cloneRequest struct {
	TargetPayerID uuid.UUID `json:"target_payer_id"`
	EffectiveDate *string   `json:"effective_date,omitempty"`
}

func (h *Handler) CloneRule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req cloneRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var effective *time.Time
	if req.EffectiveDate != nil {
		t, err := time.Parse(csvDateLayout, *req.EffectiveDate)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid effective_date")
		}
		effective = &t
	}
	var createdBy *uuid.UUID
	if uid, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context())); err == nil {
		createdBy = &uid
	}
	clone, err := h.svc.Clone(c.Request().Context(), id, req.TargetPayerID, effective, createdBy)
	if err != nil {
		if err == ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "payer rule not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, clone)
}

func (h *Handler) GetStats(c echo.Context) error {
	payerID, err := uuid.Parse(c.QueryParam("payer_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payer_id")
	}
	stats, err := h.svc.Stats(c.Request().Context(), payerID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

// importFormValue reads a multipart field, accepting both the snake_case
// spelling and the camelCase one the CSV template uses.
func importFormValue(c echo.Context, snake, camel string) string {
	if v := c.FormValue(snake); v != "" {
		return v
	}
	return c.FormValue(camel)
}

// ImportRules accepts a multipart CSV upload. With dry_run=true the file is
// validated and reported on without writing anything.
func (h *Handler) ImportRules(c echo.Context) error {
	payerID, err := uuid.Parse(importFormValue(c, "payer_id", "payerId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payer_id")
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	file, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer file.Close()

	var createdBy *uuid.UUID
	if uid, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context())); err == nil {
		createdBy = &uid
	}

	dryRun := importFormValue(c, "dry_run", "dryRun") == "true"
	var report *ImportReport
	if dryRun {
		report, err = h.svc.ValidateImport(c.Request().Context(), payerID, createdBy, file)
	} else {
		report, err = h.svc.CommitImport(c.Request().Context(), payerID, createdBy, file)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	status := http.StatusOK
	if !dryRun && report.Failed == 0 && report.Imported > 0 {
		status = http.StatusCreated
	}
	return c.JSON(status, report)
}

func (h *Handler) ExportRules(c echo.Context) error {
	payerID, err := uuid.Parse(c.QueryParam("payer_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payer_id")
	}
	var buf bytes.Buffer
	if err := h.svc.ExportCSV(c.Request().Context(), payerID, &buf); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="payer-rules.csv"`)
	return c.Blob(http.StatusOK, "text/csv", buf.Bytes())
}

func (h *Handler) DownloadTemplate(c echo.Context) error {
	var buf bytes.Buffer
	if err := TemplateCSV(&buf); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="payer-rules-template.csv"`)
	return c.Blob(http.StatusOK, "text/csv", buf.Bytes())
}
