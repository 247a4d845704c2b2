package flows

import (
	"context"
	"fmt"
	"strings"

	"github.com/ehr/portal/internal/domain/labreport"
	"github.com/ehr/portal/internal/domain/visit"
	"github.com/ehr/portal/internal/wizard"
)

// patientSearch serves the select-patient step of every flow.
type patientSearch struct {
	backend Backend
}

func (s patientSearch) Search(ctx context.Context, query string) ([]wizard.Precondition, error) {
	found, err := s.backend.SearchPatients(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]wizard.Precondition, 0, len(found))
	for _, p := range found {
		label := p.Label
		if p.MRN != "" {
			label = fmt.Sprintf("%s (%s)", p.Label, p.MRN)
		}
		out = append(out, wizard.Precondition{ID: p.ID, Label: label})
	}
	return out, nil
}

// visitRecords writes a visit and its symptoms, diagnoses and prescriptions.
type visitRecords struct {
	patientSearch
}

func (r visitRecords) CreateParent(ctx context.Context, pre wizard.Precondition, payload wizard.Entry) (string, error) {
	v, err := r.backend.CreateVisit(ctx, visit.CreateRequest{
		PatientID:      pre.ID,
		VisitDate:      payload["visit_date"],
		VisitType:      payload["visit_type"],
		ChiefComplaint: payload["chief_complaint"],
	})
	if err != nil {
		return "", err
	}
	return v.ID, nil
}

func (r visitRecords) CreateChild(ctx context.Context, parentID string, step wizard.StepKey, payload wizard.Entry) (string, error) {
	switch step {
	case StepSymptoms:
		s, err := r.backend.AddSymptom(ctx, parentID, visit.Symptom{
			Name:     trim(payload["name"]),
			Severity: strings.ToLower(trim(payload["severity"])),
			Duration: trim(payload["duration"]),
			Notes:    trim(payload["notes"]),
		})
		if err != nil {
			return "", err
		}
		return s.ID, nil
	case StepDiagnosis:
		d, err := r.backend.AddDiagnosis(ctx, parentID, visit.Diagnosis{
			Name:  trim(payload["name"]),
			Code:  trim(payload["code"]),
			Notes: trim(payload["notes"]),
		})
		if err != nil {
			return "", err
		}
		return d.ID, nil
	case StepPrescriptions:
		p, err := r.backend.AddPrescription(ctx, parentID, visit.Prescription{
			Medication: trim(payload["medication"]),
			Dosage:     trim(payload["dosage"]),
			Frequency:  trim(payload["frequency"]),
			Duration:   trim(payload["duration"]),
			Notes:      trim(payload["notes"]),
		})
		if err != nil {
			return "", err
		}
		return p.ID, nil
	}
	return "", fmt.Errorf("%w: %s", wizard.ErrUnknownStep, step)
}

// labReportRecords writes a hand-entered lab report and its test results.
type labReportRecords struct {
	patientSearch
}

func (r labReportRecords) CreateParent(ctx context.Context, pre wizard.Precondition, payload wizard.Entry) (string, error) {
	rep, err := r.backend.CreateLabReport(ctx, labreport.CreateRequest{
		PatientID:   pre.ID,
		TestType:    trim(payload["test_type"]),
		CollectedAt: trim(payload["collected_at"]),
		Notes:       trim(payload["notes"]),
	})
	if err != nil {
		return "", err
	}
	return rep.ID, nil
}

func (r labReportRecords) CreateChild(ctx context.Context, parentID string, step wizard.StepKey, payload wizard.Entry) (string, error) {
	if step != StepAddTests {
		return "", fmt.Errorf("%w: %s", wizard.ErrUnknownStep, step)
	}
	t, err := r.backend.AddTestResult(ctx, parentID, labreport.TestResult{
		TestName:       trim(payload["test_name"]),
		Value:          trim(payload["value"]),
		Unit:           trim(payload["unit"]),
		ReferenceRange: trim(payload["reference_range"]),
	})
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

func (r labReportRecords) FinalizeParent(ctx context.Context, parentID string) error {
	_, err := r.backend.CompleteLabReport(ctx, parentID)
	return err
}

// labUploadRecords turns a stored file into a lab report. When the file
// carried a patient reference, it must name the selected patient.
type labUploadRecords struct {
	patientSearch
}

func (r labUploadRecords) CreateParent(ctx context.Context, pre wizard.Precondition, payload wizard.Entry) (string, error) {
	if ref := trim(payload[FieldDICOMPatientID]); ref != "" {
		p, err := r.backend.GetPatient(ctx, pre.ID)
		if err != nil {
			return "", err
		}
		if !patientMatches(p, ref) {
			return "", mismatch(p, ref)
		}
	}
	rep, err := r.backend.CreateLabReport(ctx, labreport.CreateRequest{
		PatientID:  pre.ID,
		Notes:      trim(payload["notes"]),
		FileID:     trim(payload[FieldFileID]),
		FileName:   trim(payload[FieldFileName]),
		ReportType: strings.ToLower(trim(payload[FieldReportType])),
	})
	if err != nil {
		return "", err
	}
	return rep.ID, nil
}

func (r labUploadRecords) CreateChild(_ context.Context, _ string, step wizard.StepKey, _ wizard.Entry) (string, error) {
	return "", fmt.Errorf("%w: %s", wizard.ErrUnknownStep, step)
}

func (r labUploadRecords) FinalizeParent(ctx context.Context, parentID string) error {
	_, err := r.backend.CompleteLabReport(ctx, parentID)
	return err
}

func trim(s string) string { return strings.TrimSpace(s) }
