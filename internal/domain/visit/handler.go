package visit

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
	g := api.Group("", auth.RequireRole(auth.RoleDoctor))
	g.GET("/visits", h.ListVisits)
	g.GET("/visits/:id", h.GetVisit)
	g.POST("/visits", h.CreateVisit)
	g.POST("/visits/:id/symptoms", h.AddSymptom)
	g.POST("/visits/:id/diagnoses", h.AddDiagnosis)
	g.POST("/visits/:id/prescriptions", h.AddPrescription)
}

func (h *Handler) CreateVisit(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := req.ToVisit()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v.DoctorID = auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.CreateVisit(c.Request().Context(), v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) GetVisit(c echo.Context) error {
	d, err := h.svc.GetDetail(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListVisits(c echo.Context) error {
	pg := pagination.FromContext(c)
	var (
		visits []*Visit
		total  int
		err    error
	)
	if patientID := c.QueryParam("patient_id"); patientID != "" {
		visits, total, err = h.svc.ListVisitsByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	} else {
		visits, total, err = h.svc.ListVisits(c.Request().Context(), pg.Limit, pg.Offset)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(visits, total, pg.Limit, pg.Offset))
}

func (h *Handler) AddSymptom(c echo.Context) error {
	var s Symptom
	if err := c.Bind(&s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.VisitID = c.Param("id")
	if err := h.svc.AddSymptom(c.Request().Context(), &s); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, s)
}

func (h *Handler) AddDiagnosis(c echo.Context) error {
	var d Diagnosis
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d.VisitID = c.Param("id")
	if err := h.svc.AddDiagnosis(c.Request().Context(), &d); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) AddPrescription(c echo.Context) error {
	var p Prescription
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.VisitID = c.Param("id")
	if err := h.svc.AddPrescription(c.Request().Context(), &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func httpError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}
