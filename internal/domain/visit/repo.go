package visit

import "context"

type Repository interface {
	Create(ctx context.Context, v *Visit) error
	GetByID(ctx context.Context, id string) (*Visit, error)
	List(ctx context.Context, limit, offset int) ([]*Visit, int, error)
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Visit, int, error)

	// Symptoms
	AddSymptom(ctx context.Context, s *Symptom) error
	GetSymptoms(ctx context.Context, visitID string) ([]*Symptom, error)

	// Diagnoses
	AddDiagnosis(ctx context.Context, d *Diagnosis) error
	GetDiagnoses(ctx context.Context, visitID string) ([]*Diagnosis, error)

	// Prescriptions
	AddPrescription(ctx context.Context, p *Prescription) error
	GetPrescriptions(ctx context.Context, visitID string) ([]*Prescription, error)
}
