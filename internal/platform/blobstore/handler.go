package blobstore

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/portal/internal/platform/auth"
	"github.com/ehr/portal/pkg/pagination"
)

// Handler serves lab files over HTTP.
type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleLabStaff, auth.RoleDoctor))
	read.GET("/files", h.ListFiles)
	read.GET("/files/:id", h.Download)
	read.GET("/files/:id/metadata", h.GetMetadata)

	write := api.Group("", auth.RequireRole(auth.RoleLabStaff))
	write.POST("/files", h.Upload)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.DELETE("/files/:id", h.Delete)
}

// HTTPError maps store errors to HTTP statuses.
func HTTPError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrBlobNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, ErrInvalidContentType):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, ErrMissingFileName), errors.Is(err, ErrEmptyFile):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) Upload(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot open uploaded file")
	}
	defer src.Close()

	meta := Metadata{
		FileName:    file.Filename,
		ContentType: file.Header.Get(echo.HeaderContentType),
		PatientID:   c.FormValue("patient_id"),
		Category:    c.FormValue("category"),
		CreatedBy:   auth.UserIDFromContext(c.Request().Context()),
	}
	out, err := h.store.Upload(c.Request().Context(), meta, src)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) Download(c echo.Context) error {
	rc, meta, err := h.store.Download(c.Request().Context(), c.Param("id"))
	if err != nil {
		return HTTPError(err)
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename=%q`, meta.FileName))
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}

func (h *Handler) GetMetadata(c echo.Context) error {
	meta, err := h.store.GetMetadata(c.Request().Context(), c.Param("id"))
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, meta)
}

func (h *Handler) Delete(c echo.Context) error {
	if err := h.store.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListFiles(c echo.Context) error {
	patientID := c.QueryParam("patient_id")
	if patientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.store.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return HTTPError(err)
	}
	if items == nil {
		items = []*Metadata{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
