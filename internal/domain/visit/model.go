package visit

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNotFound = errors.New("visit not found")

// Visit maps to the visit table. It is the parent record of the visit wizard.
type Visit struct {
	ID             string    `db:"id" json:"id"`
	PatientID      string    `db:"patient_id" json:"patient_id"`
	DoctorID       string    `db:"doctor_id" json:"doctor_id,omitempty"`
	VisitDate      time.Time `db:"visit_date" json:"visit_date"`
	VisitType      string    `db:"visit_type" json:"visit_type"`
	ChiefComplaint string    `db:"chief_complaint" json:"chief_complaint,omitempty"`
	Status         string    `db:"status" json:"status"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

type Symptom struct {
	ID        string    `db:"id" json:"id"`
	VisitID   string    `db:"visit_id" json:"visit_id"`
	Name      string    `db:"name" json:"name"`
	Severity  string    `db:"severity" json:"severity,omitempty"`
	Duration  string    `db:"duration" json:"duration,omitempty"`
	Notes     string    `db:"notes" json:"notes,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type Diagnosis struct {
	ID        string    `db:"id" json:"id"`
	VisitID   string    `db:"visit_id" json:"visit_id"`
	Name      string    `db:"name" json:"name"`
	Code      string    `db:"code" json:"code,omitempty"`
	Notes     string    `db:"notes" json:"notes,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type Prescription struct {
	ID         string    `db:"id" json:"id"`
	VisitID    string    `db:"visit_id" json:"visit_id"`
	Medication string    `db:"medication" json:"medication"`
	Dosage     string    `db:"dosage" json:"dosage,omitempty"`
	Frequency  string    `db:"frequency" json:"frequency,omitempty"`
	Duration   string    `db:"duration" json:"duration,omitempty"`
	Notes      string    `db:"notes" json:"notes,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Detail is a visit with every child record.
type Detail struct {
	*Visit
	Symptoms      []*Symptom      `json:"symptoms"`
	Diagnoses     []*Diagnosis    `json:"diagnoses"`
	Prescriptions []*Prescription `json:"prescriptions"`
}

// CreateRequest is the body of POST /visits. Dates are accepted as
// YYYY-MM-DD or RFC 3339.
type CreateRequest struct {
	PatientID      string `json:"patient_id"`
	VisitDate      string `json:"visit_date"`
	VisitType      string `json:"visit_type"`
	ChiefComplaint string `json:"chief_complaint"`
}

func (r CreateRequest) ToVisit() (*Visit, error) {
	v := &Visit{
		PatientID:      strings.TrimSpace(r.PatientID),
		VisitType:      strings.TrimSpace(r.VisitType),
		ChiefComplaint: strings.TrimSpace(r.ChiefComplaint),
	}
	if strings.TrimSpace(r.VisitDate) != "" {
		d, err := ParseDate(r.VisitDate)
		if err != nil {
			return nil, err
		}
		v.VisitDate = d
	}
	return v, nil
}

// ParseDate accepts a calendar date or an RFC 3339 timestamp.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}
