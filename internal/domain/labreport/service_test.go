package labreport

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestService() *Service {
	svc := NewService(NewMemRepo())
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func mustCreateReport(t *testing.T, svc *Service) *LabReport {
	t.Helper()
	rep := &LabReport{PatientID: "P001", TestType: "CBC"}
	if err := svc.CreateReport(context.Background(), rep); err != nil {
		t.Fatalf("create report: %v", err)
	}
	return rep
}

func TestCreateReport(t *testing.T) {
	svc := newTestService()
	rep := mustCreateReport(t, svc)

	if rep.ID == "" {
		t.Error("expected ID to be set")
	}
	if rep.Status != StatusDraft {
		t.Errorf("expected draft, got %s", rep.Status)
	}
}

func TestCreateReport_Upload(t *testing.T) {
	svc := newTestService()
	rep := &LabReport{PatientID: "P001", FileID: "blob-1", FileName: "scan.dcm", ReportType: "imaging"}
	if err := svc.CreateReport(context.Background(), rep); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateReport_Validation(t *testing.T) {
	svc := newTestService()
	future := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		rep  LabReport
	}{
		{"missing patient", LabReport{TestType: "CBC"}},
		{"missing test type and file", LabReport{PatientID: "P001"}},
		{"bad report type", LabReport{PatientID: "P001", TestType: "CBC", ReportType: "tarot"}},
		{"future collection", LabReport{PatientID: "P001", TestType: "CBC", CollectedAt: &future}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := tt.rep
			if err := svc.CreateReport(context.Background(), &rep); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestCreateFromRequest(t *testing.T) {
	svc := newTestService()

	rep, err := svc.CreateFromRequest(context.Background(),
		CreateRequest{PatientID: "P002", TestType: "Lipid panel", CollectedAt: "2024-05-30T08:15"}, "lab-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.CollectedAt == nil || rep.CollectedAt.Hour() != 8 {
		t.Errorf("unexpected collected_at %v", rep.CollectedAt)
	}
	if rep.CreatedBy != "lab-1" {
		t.Errorf("expected lab-1, got %s", rep.CreatedBy)
	}

	if _, err := svc.CreateFromRequest(context.Background(),
		CreateRequest{PatientID: "P002", TestType: "CBC", CollectedAt: "last week"}, ""); err == nil {
		t.Error("expected error for bad timestamp")
	}
}

func TestAddTestResult(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	rep := mustCreateReport(t, svc)

	res := &TestResult{ReportID: rep.ID, TestName: "Hemoglobin", Value: "11.2", Unit: "g/dL", ReferenceRange: "12-16"}
	if err := svc.AddTestResult(ctx, res); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Flag != "L" {
		t.Errorf("expected L flag, got %q", res.Flag)
	}

	if err := svc.AddTestResult(ctx, &TestResult{ReportID: rep.ID, TestName: "WBC"}); err == nil {
		t.Error("expected error for missing value")
	}
	if err := svc.AddTestResult(ctx, &TestResult{ReportID: "LR9999", TestName: "WBC", Value: "7"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	d, err := svc.GetDetail(ctx, rep.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.Tests) != 1 {
		t.Errorf("expected 1 test, got %d", len(d.Tests))
	}
}

func TestCompleteReport(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	rep := mustCreateReport(t, svc)

	done, err := svc.CompleteReport(ctx, rep.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done.IsCompleted() || done.CompletedAt == nil {
		t.Errorf("expected completed report, got %+v", done)
	}

	if _, err := svc.CompleteReport(ctx, rep.ID); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("expected ErrAlreadyCompleted, got %v", err)
	}
	err = svc.AddTestResult(ctx, &TestResult{ReportID: rep.ID, TestName: "WBC", Value: "7"})
	if !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("expected ErrAlreadyCompleted, got %v", err)
	}
	if _, err := svc.CompleteReport(ctx, "LR9999"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListReports(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	a := mustCreateReport(t, svc)
	mustCreateReport(t, svc)
	svc.CompleteReport(ctx, a.ID)

	_, total, err := svc.ListReports(ctx, "P001", StatusCompleted, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 {
		t.Errorf("expected 1 completed report, got %d", total)
	}
	if _, _, err := svc.ListReports(ctx, "", "archived", 10, 0); err == nil {
		t.Error("expected error for bad status")
	}
}

func TestFlag(t *testing.T) {
	tests := []struct {
		value, rng, want string
	}{
		{"5", "4-10", ""},
		{"3.9", "4-10", "L"},
		{"10.5", "4 - 10", "H"},
		{"positive", "4-10", ""},
		{"5", "", ""},
		{"5", "<10", ""},
	}
	for _, tt := range tests {
		if got := Flag(tt.value, tt.rng); got != tt.want {
			t.Errorf("Flag(%q, %q) = %q, want %q", tt.value, tt.rng, got, tt.want)
		}
	}
}
