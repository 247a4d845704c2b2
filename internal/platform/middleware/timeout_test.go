package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestRequestTimeout_CompletesWithinDeadline(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	called := false
	err := RequestTimeout(5 * time.Second)(func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); !ok {
			t.Error("expected context to have a deadline")
		}
		called = true
		return nil
	})(c)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected handler to be called")
	}
}

func TestRequestTimeout_ReturnsTimeoutOnExpiry(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	err := RequestTimeout(50 * time.Millisecond)(func(c echo.Context) error {
		select {
		case <-time.After(5 * time.Second):
			return nil
		case <-c.Request().Context().Done():
			return c.Request().Context().Err()
		}
	})(c)

	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusGatewayTimeout {
		t.Errorf("expected 504, got %d", httpErr.Code)
	}
}

func TestRequestTimeout_SkipsUploads(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/wizards/w1/upload", nil)
	req.Header.Set(echo.HeaderContentType, echo.MIMEMultipartForm+"; boundary=x")
	c := e.NewContext(req, httptest.NewRecorder())

	err := RequestTimeout(50 * time.Millisecond)(func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); ok {
			t.Error("expected no deadline for uploads")
		}
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequestTimeout_PropagatesHandlerError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/visits/V0404", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	err := RequestTimeout(5 * time.Second)(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	})(c)

	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestRequestTimeout_Skipper(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/wizards/w1/steps/symptoms/submit", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/api/v1/wizards/:id/steps/:step/submit")

	skip := func(c echo.Context) bool { return c.Path() == "/api/v1/wizards/:id/steps/:step/submit" }
	err := RequestTimeout(20*time.Millisecond, skip)(func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); ok {
			t.Error("expected no deadline for skipped route")
		}
		time.Sleep(60 * time.Millisecond)
		return c.NoContent(http.StatusOK)
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
