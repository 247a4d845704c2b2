package labreport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *echo.Echo) {
	return NewHandler(newTestService()), echo.New()
}

func request(e *echo.Echo, method, body, id string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if id != "" {
		c.SetParamNames("id")
		c.SetParamValues(id)
	}
	return c, rec
}

func createReport(t *testing.T, h *Handler, e *echo.Echo) LabReport {
	t.Helper()
	c, rec := request(e, http.MethodPost, `{"patient_id":"P001","test_type":"CBC"}`, "")
	if err := h.CreateReport(c); err != nil {
		t.Fatalf("create: %v", err)
	}
	var rep LabReport
	json.Unmarshal(rec.Body.Bytes(), &rep)
	return rep
}

func TestHandler_CreateReport(t *testing.T) {
	h, e := newTestHandler()
	rep := createReport(t, h, e)
	if rep.ID == "" || rep.Status != StatusDraft {
		t.Errorf("unexpected report %+v", rep)
	}
}

func TestHandler_CreateReport_BadRequest(t *testing.T) {
	h, e := newTestHandler()
	c, _ := request(e, http.MethodPost, `{"test_type":"CBC"}`, "")
	err := h.CreateReport(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_AddTestAndComplete(t *testing.T) {
	h, e := newTestHandler()
	rep := createReport(t, h, e)

	c, rec := request(e, http.MethodPost, `{"test_name":"Glucose","value":"130","unit":"mg/dL","reference_range":"70-99"}`, rep.ID)
	if err := h.AddTestResult(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res TestResult
	json.Unmarshal(rec.Body.Bytes(), &res)
	if res.Flag != "H" {
		t.Errorf("expected H flag, got %q", res.Flag)
	}

	c, rec = request(e, http.MethodPost, "", rep.ID)
	if err := h.CompleteReport(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c, _ = request(e, http.MethodPost, "", rep.ID)
	err := h.CompleteReport(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Errorf("expected 409, got %v", err)
	}
}

func TestHandler_GetReport_NotFound(t *testing.T) {
	h, e := newTestHandler()
	c, _ := request(e, http.MethodGet, "", "LR0404")
	err := h.GetReport(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_ListReports(t *testing.T) {
	h, e := newTestHandler()
	createReport(t, h, e)
	createReport(t, h, e)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/lab-reports?status=draft", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.ListReports(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 2 {
		t.Errorf("expected 2, got %d", resp.Total)
	}
}
