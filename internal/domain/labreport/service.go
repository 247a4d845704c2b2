package labreport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PatientLookup returns an error when the patient does not exist.
type PatientLookup func(ctx context.Context, patientID string) error

type Service struct {
	repo     Repository
	patients PatientLookup
	now      func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// SetPatientLookup makes CreateReport reject unknown patients.
func (s *Service) SetPatientLookup(fn PatientLookup) {
	s.patients = fn
}

var validReportTypes = map[string]bool{
	"":             true,
	"blood":        true,
	"urine":        true,
	"imaging":      true,
	"pathology":    true,
	"microbiology": true,
	"other":        true,
}

func (s *Service) CreateReport(ctx context.Context, rep *LabReport) error {
	rep.PatientID = strings.TrimSpace(rep.PatientID)
	rep.TestType = strings.TrimSpace(rep.TestType)
	if rep.PatientID == "" {
		return fmt.Errorf("patient_id is required")
	}
	if rep.TestType == "" && rep.FileID == "" {
		return fmt.Errorf("test_type or file_id is required")
	}
	if !validReportTypes[rep.ReportType] {
		return fmt.Errorf("invalid report_type: %s", rep.ReportType)
	}
	if rep.CollectedAt != nil && rep.CollectedAt.After(s.now()) {
		return fmt.Errorf("collected_at cannot be in the future")
	}
	if s.patients != nil {
		if err := s.patients(ctx, rep.PatientID); err != nil {
			return fmt.Errorf("patient %s: %w", rep.PatientID, err)
		}
	}
	rep.Status = StatusDraft
	rep.CompletedAt = nil
	return s.repo.Create(ctx, rep)
}

// CreateFromRequest parses the REST body and creates the report.
func (s *Service) CreateFromRequest(ctx context.Context, req CreateRequest, createdBy string) (*LabReport, error) {
	rep := &LabReport{
		PatientID:  req.PatientID,
		TestType:   req.TestType,
		Notes:      strings.TrimSpace(req.Notes),
		FileID:     strings.TrimSpace(req.FileID),
		FileName:   strings.TrimSpace(req.FileName),
		ReportType: strings.TrimSpace(req.ReportType),
		CreatedBy:  createdBy,
	}
	if v := strings.TrimSpace(req.CollectedAt); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return nil, err
		}
		rep.CollectedAt = &t
	}
	if err := s.CreateReport(ctx, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

func (s *Service) GetReport(ctx context.Context, id string) (*LabReport, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetDetail(ctx context.Context, id string) (*Detail, error) {
	rep, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	tests, err := s.repo.GetTestResults(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load test results: %w", err)
	}
	return &Detail{LabReport: rep, Tests: tests}, nil
}

func (s *Service) ListReports(ctx context.Context, patientID, status string, limit, offset int) ([]*LabReport, int, error) {
	if status != "" && status != StatusDraft && status != StatusCompleted {
		return nil, 0, fmt.Errorf("invalid status: %s", status)
	}
	return s.repo.List(ctx, patientID, status, limit, offset)
}

// AddTestResult appends a result to a draft report. The flag is derived from
// the reference range when the caller leaves it empty.
func (s *Service) AddTestResult(ctx context.Context, t *TestResult) error {
	t.TestName = strings.TrimSpace(t.TestName)
	t.Value = strings.TrimSpace(t.Value)
	if t.TestName == "" {
		return fmt.Errorf("test_name is required")
	}
	if t.Value == "" {
		return fmt.Errorf("value is required")
	}
	rep, err := s.repo.GetByID(ctx, t.ReportID)
	if err != nil {
		return fmt.Errorf("lab report %s: %w", t.ReportID, err)
	}
	if rep.IsCompleted() {
		return ErrAlreadyCompleted
	}
	if t.Flag == "" {
		t.Flag = Flag(t.Value, t.ReferenceRange)
	}
	return s.repo.AddTestResult(ctx, t)
}

// CompleteReport marks a draft report completed.
func (s *Service) CompleteReport(ctx context.Context, id string) (*LabReport, error) {
	rep, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rep.IsCompleted() {
		return nil, ErrAlreadyCompleted
	}
	now := s.now().UTC()
	rep.Status = StatusCompleted
	rep.CompletedAt = &now
	if err := s.repo.Update(ctx, rep); err != nil {
		return nil, fmt.Errorf("complete lab report: %w", err)
	}
	return rep, nil
}

// Flag returns "L" or "H" when a numeric value falls outside a "low-high"
// reference range, and "" otherwise.
func Flag(value, refRange string) string {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return ""
	}
	lo, hi, ok := strings.Cut(refRange, "-")
	if !ok {
		return ""
	}
	low, err1 := strconv.ParseFloat(strings.TrimSpace(lo), 64)
	high, err2 := strconv.ParseFloat(strings.TrimSpace(hi), 64)
	if err1 != nil || err2 != nil {
		return ""
	}
	switch {
	case v < low:
		return "L"
	case v > high:
		return "H"
	}
	return ""
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid collected_at %q", s)
}
