package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehr/portal/internal/domain/labreport"
	"github.com/ehr/portal/internal/domain/patient"
	"github.com/ehr/portal/internal/domain/visit"
	"github.com/ehr/portal/internal/platform/auth"
	"github.com/ehr/portal/internal/wizard"
)

// Backend is the record system the wizards write to. LocalBackend calls the
// domain services in-process; recordsapi.Client calls them over HTTP.
type Backend interface {
	SearchPatients(ctx context.Context, query string) ([]patient.Summary, error)
	GetPatient(ctx context.Context, id string) (*patient.Patient, error)

	CreateVisit(ctx context.Context, req visit.CreateRequest) (*visit.Visit, error)
	AddSymptom(ctx context.Context, visitID string, s visit.Symptom) (*visit.Symptom, error)
	AddDiagnosis(ctx context.Context, visitID string, d visit.Diagnosis) (*visit.Diagnosis, error)
	AddPrescription(ctx context.Context, visitID string, p visit.Prescription) (*visit.Prescription, error)

	CreateLabReport(ctx context.Context, req labreport.CreateRequest) (*labreport.LabReport, error)
	AddTestResult(ctx context.Context, reportID string, t labreport.TestResult) (*labreport.TestResult, error)
	CompleteLabReport(ctx context.Context, reportID string) (*labreport.LabReport, error)
}

// LocalBackend runs against the domain services of this process.
type LocalBackend struct {
	Patients *patient.Service
	Visits   *visit.Service
	Labs     *labreport.Service
}

// NewLocalBackend makes the visit and lab services reject unknown patients
// and returns a backend over the three services.
func NewLocalBackend(patients *patient.Service, visits *visit.Service, labs *labreport.Service) *LocalBackend {
	lookup := func(ctx context.Context, id string) error {
		_, err := patients.GetPatient(ctx, id)
		return err
	}
	visits.SetPatientLookup(lookup)
	labs.SetPatientLookup(lookup)
	return &LocalBackend{Patients: patients, Visits: visits, Labs: labs}
}

func (b *LocalBackend) SearchPatients(ctx context.Context, query string) ([]patient.Summary, error) {
	found, err := b.Patients.SearchPatients(ctx, query)
	if err != nil {
		return nil, surface(err)
	}
	out := make([]patient.Summary, 0, len(found))
	for _, p := range found {
		out = append(out, p.Summary())
	}
	return out, nil
}

func (b *LocalBackend) GetPatient(ctx context.Context, id string) (*patient.Patient, error) {
	p, err := b.Patients.GetPatient(ctx, id)
	if err != nil {
		return nil, surface(err)
	}
	return p, nil
}

func (b *LocalBackend) CreateVisit(ctx context.Context, req visit.CreateRequest) (*visit.Visit, error) {
	v, err := req.ToVisit()
	if err != nil {
		return nil, surface(err)
	}
	v.DoctorID = auth.UserIDFromContext(ctx)
	if err := b.Visits.CreateVisit(ctx, v); err != nil {
		return nil, surface(err)
	}
	return v, nil
}

func (b *LocalBackend) AddSymptom(ctx context.Context, visitID string, s visit.Symptom) (*visit.Symptom, error) {
	s.VisitID = visitID
	if err := b.Visits.AddSymptom(ctx, &s); err != nil {
		return nil, surface(err)
	}
	return &s, nil
}

func (b *LocalBackend) AddDiagnosis(ctx context.Context, visitID string, d visit.Diagnosis) (*visit.Diagnosis, error) {
	d.VisitID = visitID
	if err := b.Visits.AddDiagnosis(ctx, &d); err != nil {
		return nil, surface(err)
	}
	return &d, nil
}

func (b *LocalBackend) AddPrescription(ctx context.Context, visitID string, p visit.Prescription) (*visit.Prescription, error) {
	p.VisitID = visitID
	if err := b.Visits.AddPrescription(ctx, &p); err != nil {
		return nil, surface(err)
	}
	return &p, nil
}

func (b *LocalBackend) CreateLabReport(ctx context.Context, req labreport.CreateRequest) (*labreport.LabReport, error) {
	rep, err := b.Labs.CreateFromRequest(ctx, req, auth.UserIDFromContext(ctx))
	if err != nil {
		return nil, surface(err)
	}
	return rep, nil
}

func (b *LocalBackend) AddTestResult(ctx context.Context, reportID string, t labreport.TestResult) (*labreport.TestResult, error) {
	t.ReportID = reportID
	if err := b.Labs.AddTestResult(ctx, &t); err != nil {
		return nil, surface(err)
	}
	return &t, nil
}

func (b *LocalBackend) CompleteLabReport(ctx context.Context, reportID string) (*labreport.LabReport, error) {
	rep, err := b.Labs.CompleteReport(ctx, reportID)
	if err != nil {
		return nil, surface(err)
	}
	return rep, nil
}

// surface turns a domain error into a ServiceError whose message is shown to
// the user. Database and context failures carry no message so the step's
// generic text is shown instead.
func surface(err error) error {
	var se *wizard.ServiceError
	if errors.As(err, &se) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) || pgconn.Timeout(err) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &wizard.ServiceError{Err: err}
	}
	return &wizard.ServiceError{Message: sentence(err.Error()), Err: err}
}

func sentence(msg string) string {
	msg = strings.TrimSpace(msg)
	r, size := utf8.DecodeRuneInString(msg)
	if r == utf8.RuneError {
		return msg
	}
	return string(unicode.ToUpper(r)) + msg[size:]
}

// patientMatches reports whether ref, as found in a file header, names p.
func patientMatches(p *patient.Patient, ref string) bool {
	ref = strings.TrimSpace(ref)
	return strings.EqualFold(ref, p.ID) || strings.EqualFold(ref, p.MRN)
}

func mismatch(p *patient.Patient, ref string) error {
	return &wizard.ServiceError{
		Message: fmt.Sprintf("Uploaded file belongs to patient %s, not %s", ref, p.FullName()),
	}
}
