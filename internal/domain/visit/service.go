package visit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// PatientLookup returns an error when the patient does not exist.
type PatientLookup func(ctx context.Context, patientID string) error

type Service struct {
	repo     Repository
	patients PatientLookup
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// SetPatientLookup makes CreateVisit reject unknown patients.
func (s *Service) SetPatientLookup(fn PatientLookup) {
	s.patients = fn
}

var validVisitTypes = map[string]bool{
	"consultation": true,
	"follow-up":    true,
	"emergency":    true,
	"routine":      true,
	"telehealth":   true,
}

var validSeverities = map[string]bool{
	"":         true,
	"mild":     true,
	"moderate": true,
	"severe":   true,
}

func (s *Service) CreateVisit(ctx context.Context, v *Visit) error {
	if v.PatientID == "" {
		return fmt.Errorf("patient_id is required")
	}
	if v.VisitDate.IsZero() {
		return fmt.Errorf("visit_date is required")
	}
	if v.VisitType == "" {
		v.VisitType = "consultation"
	}
	if !validVisitTypes[v.VisitType] {
		return fmt.Errorf("invalid visit_type: %s", v.VisitType)
	}
	if v.VisitDate.After(time.Now().AddDate(1, 0, 0)) {
		return fmt.Errorf("visit_date is too far in the future")
	}
	if s.patients != nil {
		if err := s.patients(ctx, v.PatientID); err != nil {
			return fmt.Errorf("patient %s: %w", v.PatientID, err)
		}
	}
	v.Status = "open"
	return s.repo.Create(ctx, v)
}

func (s *Service) GetVisit(ctx context.Context, id string) (*Visit, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListVisits(ctx context.Context, limit, offset int) ([]*Visit, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) ListVisitsByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Visit, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// GetDetail loads a visit with its symptoms, diagnoses and prescriptions.
func (s *Service) GetDetail(ctx context.Context, id string) (*Detail, error) {
	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &Detail{Visit: v}
	if d.Symptoms, err = s.repo.GetSymptoms(ctx, id); err != nil {
		return nil, fmt.Errorf("load symptoms: %w", err)
	}
	if d.Diagnoses, err = s.repo.GetDiagnoses(ctx, id); err != nil {
		return nil, fmt.Errorf("load diagnoses: %w", err)
	}
	if d.Prescriptions, err = s.repo.GetPrescriptions(ctx, id); err != nil {
		return nil, fmt.Errorf("load prescriptions: %w", err)
	}
	return d, nil
}

func (s *Service) AddSymptom(ctx context.Context, sym *Symptom) error {
	sym.Name = strings.TrimSpace(sym.Name)
	if sym.Name == "" {
		return fmt.Errorf("symptom name is required")
	}
	sym.Severity = strings.ToLower(strings.TrimSpace(sym.Severity))
	if !validSeverities[sym.Severity] {
		return fmt.Errorf("invalid severity: %s", sym.Severity)
	}
	if err := s.requireVisit(ctx, sym.VisitID); err != nil {
		return err
	}
	return s.repo.AddSymptom(ctx, sym)
}

func (s *Service) AddDiagnosis(ctx context.Context, d *Diagnosis) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return fmt.Errorf("diagnosis name is required")
	}
	if err := s.requireVisit(ctx, d.VisitID); err != nil {
		return err
	}
	return s.repo.AddDiagnosis(ctx, d)
}

func (s *Service) AddPrescription(ctx context.Context, p *Prescription) error {
	p.Medication = strings.TrimSpace(p.Medication)
	if p.Medication == "" {
		return fmt.Errorf("medication is required")
	}
	if err := s.requireVisit(ctx, p.VisitID); err != nil {
		return err
	}
	return s.repo.AddPrescription(ctx, p)
}

func (s *Service) requireVisit(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("visit_id is required")
	}
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return fmt.Errorf("visit %s: %w", id, err)
	}
	return nil
}
