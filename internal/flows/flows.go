// Package flows defines the portal's wizards and binds them to a record
// backend.
package flows

import (
	"fmt"
	"strings"

	"github.com/ehr/portal/internal/wizard"
)

const (
	NameVisit     = "visit"
	NameLabReport = "lab-report"
	NameLabUpload = "lab-upload"
)

const (
	StepBasic         wizard.StepKey = "basic"
	StepSymptoms      wizard.StepKey = "symptoms"
	StepDiagnosis     wizard.StepKey = "diagnosis"
	StepPrescriptions wizard.StepKey = "prescriptions"

	StepSelectPatient wizard.StepKey = "select-patient"
	StepReportInfo    wizard.StepKey = "report-info"
	StepAddTests      wizard.StepKey = "add-tests"
	StepUpload        wizard.StepKey = "upload"
	StepComplete      wizard.StepKey = "complete"
)

// Upload step payload fields filled in by the upload endpoint.
const (
	FieldFileID         = "file_id"
	FieldFileName       = "file_name"
	FieldReportType     = "report_type"
	FieldDICOMPatientID = "dicom_patient_id"
)

// VisitFlow is the doctor's "Create Visit" wizard. Prescriptions are an
// optional fourth step.
func VisitFlow(includePrescriptions bool) wizard.Flow {
	steps := []wizard.StepDefinition{
		{
			Key:            StepBasic,
			Label:          "Basic Info",
			Kind:           wizard.KindParent,
			Fields:         []string{"visit_date", "visit_type", "chief_complaint"},
			Validate:       required("visit_date", "Visit date"),
			FailureMessage: "Failed to create visit",
		},
		{
			Key:            StepSymptoms,
			Label:          "Symptoms",
			Kind:           wizard.KindChildren,
			Fields:         []string{"name", "severity", "duration", "notes"},
			Submittable:    filled("name"),
			FailureMessage: "Failed to add symptoms",
		},
		{
			Key:            StepDiagnosis,
			Label:          "Diagnosis",
			Kind:           wizard.KindChildren,
			Fields:         []string{"name", "code", "notes"},
			Submittable:    filled("name"),
			FailureMessage: "Failed to add diagnosis",
		},
	}
	if includePrescriptions {
		steps = append(steps, wizard.StepDefinition{
			Key:            StepPrescriptions,
			Label:          "Prescriptions",
			Kind:           wizard.KindChildren,
			Fields:         []string{"medication", "dosage", "frequency", "duration", "notes"},
			Submittable:    filled("medication"),
			FailureMessage: "Failed to add prescriptions",
		})
	}
	return wizard.Flow{
		Name:                 NameVisit,
		Title:                "Create Visit",
		Steps:                steps,
		RequiresPrecondition: true,
		DonePath:             "/doctor/visits/{parent}",
		CancelPath:           "/doctor/patients",
	}
}

// LabReportFlow is the lab's "Create Lab Report" wizard.
func LabReportFlow() wizard.Flow {
	return wizard.Flow{
		Name:  NameLabReport,
		Title: "Create Lab Report",
		Steps: []wizard.StepDefinition{
			selectPatient(),
			{
				Key:            StepReportInfo,
				Label:          "Report Info",
				Kind:           wizard.KindParent,
				Fields:         []string{"test_type", "collected_at", "notes"},
				Validate:       required("test_type", "Test type"),
				FailureMessage: "Failed to create lab report",
			},
			{
				Key:            StepAddTests,
				Label:          "Add Tests",
				Kind:           wizard.KindChildren,
				Fields:         []string{"test_name", "value", "unit", "reference_range"},
				Submittable:    filled("test_name", "value"),
				FailureMessage: "Failed to add test results",
			},
			complete(),
		},
		RequiresPrecondition: true,
		Finalize:             true,
		DonePath:             "/lab/reports/{parent}",
		CancelPath:           "/lab/reports",
	}
}

// LabUploadFlow is the lab's "Upload Lab Report" wizard. The upload step's
// payload comes from a stored file rather than typed fields.
func LabUploadFlow() wizard.Flow {
	return wizard.Flow{
		Name:  NameLabUpload,
		Title: "Upload Lab Report",
		Steps: []wizard.StepDefinition{
			selectPatient(),
			{
				Key:            StepUpload,
				Label:          "Upload File",
				Kind:           wizard.KindParent,
				Fields:         []string{FieldFileID, FieldFileName, FieldReportType, "notes"},
				Validate:       required(FieldFileID, "A file"),
				FailureMessage: "Failed to upload lab report",
			},
			complete(),
		},
		RequiresPrecondition: true,
		Finalize:             true,
		DonePath:             "/lab/reports/{parent}",
		CancelPath:           "/lab/reports",
	}
}

func selectPatient() wizard.StepDefinition {
	return wizard.StepDefinition{
		Key:    StepSelectPatient,
		Label:  "Select Patient",
		Kind:   wizard.KindSelect,
		Fields: []string{"id", "label"},
	}
}

func complete() wizard.StepDefinition {
	return wizard.StepDefinition{
		Key:            StepComplete,
		Label:          "Complete",
		Kind:           wizard.KindReview,
		FailureMessage: "Failed to complete report",
	}
}

func filled(fields ...string) func(wizard.Entry) bool {
	return func(e wizard.Entry) bool { return e.Filled(fields...) }
}

func required(field, name string) func(wizard.Entry) error {
	return func(e wizard.Entry) error {
		if strings.TrimSpace(e[field]) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}
