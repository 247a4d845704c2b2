package labreport

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/portal/internal/platform/auth"
	"github.com/ehr/portal/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.RoleLabStaff, auth.RoleDoctor))
	readGroup.GET("/lab-reports", h.ListReports)
	readGroup.GET("/lab-reports/:id", h.GetReport)

	writeGroup := api.Group("", auth.RequireRole(auth.RoleLabStaff))
	writeGroup.POST("/lab-reports", h.CreateReport)
	writeGroup.POST("/lab-reports/:id/tests", h.AddTestResult)
	writeGroup.POST("/lab-reports/:id/complete", h.CompleteReport)
}

func (h *Handler) CreateReport(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	rep, err := h.svc.CreateFromRequest(ctx, req, auth.UserIDFromContext(ctx))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, rep)
}

func (h *Handler) GetReport(c echo.Context) error {
	d, err := h.svc.GetDetail(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListReports(c echo.Context) error {
	pg := pagination.FromContext(c)
	reports, total, err := h.svc.ListReports(c.Request().Context(),
		c.QueryParam("patient_id"), c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(reports, total, pg.Limit, pg.Offset))
}

func (h *Handler) AddTestResult(c echo.Context) error {
	var t TestResult
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t.ReportID = c.Param("id")
	if err := h.svc.AddTestResult(c.Request().Context(), &t); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) CompleteReport(c echo.Context) error {
	rep, err := h.svc.CompleteReport(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rep)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadyCompleted):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}
