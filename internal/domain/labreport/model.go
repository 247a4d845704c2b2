package labreport

import (
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("lab report not found")
	ErrAlreadyCompleted = errors.New("lab report is already completed")
)

const (
	StatusDraft     = "draft"
	StatusCompleted = "completed"
)

// LabReport maps to the lab_report table. A report is either entered by hand
// (TestType plus test results) or uploaded as a file (FileID).
type LabReport struct {
	ID          string     `db:"id" json:"id"`
	PatientID   string     `db:"patient_id" json:"patient_id"`
	TestType    string     `db:"test_type" json:"test_type,omitempty"`
	CollectedAt *time.Time `db:"collected_at" json:"collected_at,omitempty"`
	Notes       string     `db:"notes" json:"notes,omitempty"`
	Status      string     `db:"status" json:"status"`
	FileID      string     `db:"file_id" json:"file_id,omitempty"`
	FileName    string     `db:"file_name" json:"file_name,omitempty"`
	ReportType  string     `db:"report_type" json:"report_type,omitempty"`
	CreatedBy   string     `db:"created_by" json:"created_by,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

func (r *LabReport) IsCompleted() bool { return r.Status == StatusCompleted }

// TestResult is one measured value on a report.
type TestResult struct {
	ID             string    `db:"id" json:"id"`
	ReportID       string    `db:"report_id" json:"report_id"`
	TestName       string    `db:"test_name" json:"test_name"`
	Value          string    `db:"value" json:"value"`
	Unit           string    `db:"unit" json:"unit,omitempty"`
	ReferenceRange string    `db:"reference_range" json:"reference_range,omitempty"`
	Flag           string    `db:"flag" json:"flag,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Detail is a report with its test results.
type Detail struct {
	*LabReport
	Tests []*TestResult `json:"tests"`
}

// CreateRequest is the body of POST /lab-reports.
type CreateRequest struct {
	PatientID   string `json:"patient_id"`
	TestType    string `json:"test_type"`
	CollectedAt string `json:"collected_at"`
	Notes       string `json:"notes"`
	FileID      string `json:"file_id"`
	FileName    string `json:"file_name"`
	ReportType  string `json:"report_type"`
}
