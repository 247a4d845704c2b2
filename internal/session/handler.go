package session

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/portal/internal/flows"
	"github.com/ehr/portal/internal/platform/attachment"
	"github.com/ehr/portal/internal/platform/auth"
	"github.com/ehr/portal/internal/platform/blobstore"
	"github.com/ehr/portal/internal/platform/recordsapi"
	"github.com/ehr/portal/internal/wizard"
)

type Handler struct {
	mgr *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{mgr: mgr}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/wizards", auth.RequireRole(auth.RoleDoctor, auth.RoleLabStaff))
	g.GET("", h.ListFlows)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Cancel)
	g.GET("/:id/search", h.Search)
	g.POST("/:id/steps/:step/entries", h.AddEntry)
	g.PATCH("/:id/steps/:step/entries/:index", h.UpdateEntry)
	g.DELETE("/:id/steps/:step/entries/:index", h.RemoveEntry)
	g.POST("/:id/steps/:step/submit", h.Submit)
	g.POST("/:id/back", h.Back)
	g.POST("/:id/complete", h.Complete)
	g.POST("/:id/upload", h.Upload)
}

// Unbounded reports whether c is a wizard action that must not be put under a
// request deadline. Step submits run their record creates one after another and
// are never interrupted part way.
func Unbounded(c echo.Context) bool {
	return c.Request().Method != http.MethodGet && strings.Contains(c.Path(), "/wizards/:id")
}

type FlowSummary struct {
	Name  string           `json:"name"`
	Title string           `json:"title"`
	Steps []wizard.StepKey `json:"steps"`
}

type CreateRequest struct {
	Flow         string `json:"flow"`
	PatientID    string `json:"patient_id"`
	PatientLabel string `json:"patient_label"`
}

type EntryRequest struct {
	Values wizard.Entry `json:"values"`
}

type FieldRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type SubmitRequest struct {
	Payload wizard.Entry `json:"payload"`
}

// ListFlows returns the wizards the caller may start.
func (h *Handler) ListFlows(c echo.Context) error {
	roles := auth.RolesFromContext(c.Request().Context())
	out := []FlowSummary{}
	for _, f := range h.mgr.flows.List() {
		if f.Allows(roles) {
			out = append(out, FlowSummary{Name: f.Name(), Title: f.Title(), Steps: f.Engine.Flow().Keys()})
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Flow) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "flow is required")
	}
	pre := wizard.Precondition{ID: strings.TrimSpace(req.PatientID), Label: strings.TrimSpace(req.PatientLabel)}
	s, eng, err := h.mgr.Create(c.Request().Context(), req.Flow, pre)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, NewView(s, eng))
}

func (h *Handler) Get(c echo.Context) error {
	s, eng, err := h.mgr.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, NewView(s, eng))
}

// Search serves the select-patient step: GET /wizards/:id/search?q=jane.
func (h *Handler) Search(c echo.Context) error {
	found, err := h.mgr.Search(c.Request().Context(), c.Param("id"), c.QueryParam("q"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, found)
}

func (h *Handler) AddEntry(c echo.Context) error {
	var req EntryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s, eng, err := h.mgr.AddEntry(c.Request().Context(), c.Param("id"), wizard.StepKey(c.Param("step")), req.Values)
	return h.respond(c, http.StatusOK, s, eng, err)
}

func (h *Handler) UpdateEntry(c echo.Context) error {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "index must be a number")
	}
	var req FieldRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Field) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "field is required")
	}
	s, eng, err := h.mgr.UpdateEntry(c.Request().Context(), c.Param("id"), wizard.StepKey(c.Param("step")), index, req.Field, req.Value)
	return h.respond(c, http.StatusOK, s, eng, err)
}

func (h *Handler) RemoveEntry(c echo.Context) error {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "index must be a number")
	}
	s, eng, err := h.mgr.RemoveEntry(c.Request().Context(), c.Param("id"), wizard.StepKey(c.Param("step")), index)
	return h.respond(c, http.StatusOK, s, eng, err)
}

func (h *Handler) Submit(c echo.Context) error {
	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s, eng, err := h.mgr.Submit(c.Request().Context(), c.Param("id"), wizard.StepKey(c.Param("step")), req.Payload)
	return h.respond(c, http.StatusOK, s, eng, err)
}

func (h *Handler) Back(c echo.Context) error {
	s, eng, err := h.mgr.Back(c.Request().Context(), c.Param("id"))
	return h.respond(c, http.StatusOK, s, eng, err)
}

func (h *Handler) Complete(c echo.Context) error {
	s, eng, err := h.mgr.Complete(c.Request().Context(), c.Param("id"))
	return h.respond(c, http.StatusOK, s, eng, err)
}

func (h *Handler) Cancel(c echo.Context) error {
	path, err := h.mgr.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"navigate_to": path})
}

// Upload takes a multipart "file" plus optional report_type and notes fields.
func (h *Handler) Upload(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	if file.Size > blobstore.MaxFileSize {
		return blobstore.HTTPError(blobstore.ErrFileTooLarge)
	}
	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot open uploaded file")
	}
	defer src.Close()
	data, err := io.ReadAll(io.LimitReader(src, blobstore.MaxFileSize+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded file")
	}
	if len(data) > blobstore.MaxFileSize {
		return blobstore.HTTPError(blobstore.ErrFileTooLarge)
	}

	s, eng, err := h.mgr.Upload(c.Request().Context(), c.Param("id"), Upload{
		FileName:    file.Filename,
		ContentType: file.Header.Get(echo.HeaderContentType),
		Data:        data,
		ReportType:  c.FormValue("report_type"),
		Notes:       c.FormValue("notes"),
	})
	return h.respond(c, http.StatusOK, s, eng, err)
}

// respond writes the view. Failures of a step that reached the record
// service carry the view too so the portal can show last_error.
func (h *Handler) respond(c echo.Context, okStatus int, s *Session, eng *wizard.Engine, err error) error {
	if err == nil {
		return c.JSON(okStatus, NewView(s, eng))
	}
	status := statusFor(err)
	if s != nil && (status == http.StatusUnprocessableEntity || status == http.StatusBadGateway) {
		return c.JSON(status, NewView(s, eng))
	}
	return echo.NewHTTPError(status, message(err))
}

func httpError(err error) error {
	return echo.NewHTTPError(statusFor(err), message(err))
}

func statusFor(err error) int {
	var be *echo.HTTPError
	var stepErr *wizard.StepError
	var svcErr *wizard.ServiceError
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrBusy),
		errors.Is(err, wizard.ErrPreconditionLocked),
		errors.Is(err, wizard.ErrFinalized),
		errors.Is(err, wizard.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, flows.ErrUnknownFlow),
		errors.Is(err, wizard.ErrStepMismatch),
		errors.Is(err, wizard.ErrUnknownStep),
		errors.Is(err, wizard.ErrEntryOutOfRange),
		errors.Is(err, wizard.ErrNotDraftStep):
		return http.StatusBadRequest
	case errors.Is(err, recordsapi.ErrUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, blobstore.ErrFileTooLarge),
		errors.Is(err, blobstore.ErrInvalidContentType),
		errors.Is(err, blobstore.ErrMissingFileName),
		errors.Is(err, blobstore.ErrEmptyFile):
		return blobstore.HTTPError(err).Code
	case errors.Is(err, attachment.ErrInvalidDICOM):
		return http.StatusUnprocessableEntity
	case errors.As(err, &svcErr), errors.As(err, &stepErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &be):
		return be.Code
	}
	return http.StatusInternalServerError
}

func message(err error) string {
	var stepErr *wizard.StepError
	if errors.As(err, &stepErr) {
		return wizard.ServiceMessage(stepErr.Err, stepErr.Err.Error())
	}
	return wizard.ServiceMessage(err, err.Error())
}
