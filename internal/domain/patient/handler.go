package patient

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
	readGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleLabStaff))
	readGroup.GET("/patients", h.ListPatients)
	readGroup.GET("/patients/search", h.SearchPatients)
	readGroup.GET("/patients/:id", h.GetPatient)

	writeGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	writeGroup.POST("/patients", h.CreatePatient)
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreatePatient(c.Request().Context(), &p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.svc.GetPatient(c.Request().Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	patients, total, err := h.svc.ListPatients(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, pg.Limit, pg.Offset))
}

// SearchPatients serves the patient picker: GET /patients/search?q=jane.
func (h *Handler) SearchPatients(c echo.Context) error {
	found, err := h.svc.SearchPatients(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]Summary, len(found))
	for i, p := range found {
		out[i] = p.Summary()
	}
	return c.JSON(http.StatusOK, out)
}
