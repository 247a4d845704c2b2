package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestParseLimit(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"1M", 1 << 20},
		{"10M", 10 << 20},
		{"20MB", 20 << 20},
		{"512K", 512 << 10},
		{"512kb", 512 << 10},
		{"1G", 1 << 30},
		{"1024", 1024},
		{"", 1 << 20},
		{"invalid", 1 << 20},
		{"-5K", 1 << 20},
	}

	for _, tt := range tests {
		if got := parseLimit(tt.input); got != tt.want {
			t.Errorf("parseLimit(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func runBodyLimit(t *testing.T, def, upload string, req *http.Request, handler echo.HandlerFunc) error {
	t.Helper()
	e := echo.New()
	c := e.NewContext(req, httptest.NewRecorder())
	return BodyLimit(def, upload)(handler)(c)
}

func TestBodyLimit_AllowsSmallBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/wizards", strings.NewReader(`{"flow":"visit"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	called := false
	err := runBodyLimit(t, "1M", "10M", req, func(c echo.Context) error {
		b, err := io.ReadAll(c.Request().Body)
		if err != nil {
			t.Fatalf("failed to read body: %v", err)
		}
		if len(b) == 0 {
			t.Error("expected non-empty body")
		}
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected handler to be called")
	}
}

func TestBodyLimit_RejectsOversizedBody_ContentLength(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/wizards", bytes.NewReader(bytes.Repeat([]byte("x"), 2048)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	err := runBodyLimit(t, "1K", "10M", req, func(c echo.Context) error {
		t.Error("handler should not be called when body exceeds limit")
		return nil
	})
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %v", err)
	}
}

func TestBodyLimit_UsesUploadLimitForMultipart(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/wizards/w1/upload", bytes.NewReader(bytes.Repeat([]byte("x"), 2048)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEMultipartForm+"; boundary=xyz")

	called := false
	err := runBodyLimit(t, "1K", "10M", req, func(c echo.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected upload within its limit to pass")
	}
}

func TestBodyLimit_SkipsNilBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
	called := false
	err := runBodyLimit(t, "1M", "10M", req, func(c echo.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Errorf("expected GET to pass, called=%v err=%v", called, err)
	}
}

func TestBodyLimit_EnforcesLimitDuringRead(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/visits", bytes.NewReader(bytes.Repeat([]byte("a"), 1024)))
	req.ContentLength = -1
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	err := runBodyLimit(t, "512", "10M", req, func(c echo.Context) error {
		_, err := io.ReadAll(c.Request().Body)
		return err
	})
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", httpErr.Code)
	}
}
