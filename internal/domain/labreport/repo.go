package labreport

import "context"

type Repository interface {
	Create(ctx context.Context, r *LabReport) error
	GetByID(ctx context.Context, id string) (*LabReport, error)
	Update(ctx context.Context, r *LabReport) error
	List(ctx context.Context, patientID, status string, limit, offset int) ([]*LabReport, int, error)

	AddTestResult(ctx context.Context, t *TestResult) error
	GetTestResults(ctx context.Context, reportID string) ([]*TestResult, error)
}
