package visit

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/portal/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const visitCols = `id, patient_id, doctor_id, visit_date, visit_type, chief_complaint, status, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, v *Visit) error {
	v.ID = uuid.NewString()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO visit (id, patient_id, doctor_id, visit_date, visit_type, chief_complaint, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		v.ID, v.PatientID, v.DoctorID, v.VisitDate, v.VisitType, v.ChiefComplaint, v.Status,
	).Scan(&v.CreatedAt, &v.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id string) (*Visit, error) {
	v, err := scanVisit(r.conn(ctx).QueryRow(ctx, `SELECT `+visitCols+` FROM visit WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Visit, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM visit`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+visitCols+` FROM visit ORDER BY visit_date DESC, created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectVisits(rows, total)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Visit, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM visit WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+visitCols+` FROM visit WHERE patient_id = $1 ORDER BY visit_date DESC, created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectVisits(rows, total)
}

// Symptoms
func (r *repoPG) AddSymptom(ctx context.Context, s *Symptom) error {
	s.ID = uuid.NewString()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO visit_symptom (id, visit_id, name, severity, duration, notes)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		s.ID, s.VisitID, s.Name, s.Severity, s.Duration, s.Notes,
	).Scan(&s.CreatedAt)
}

func (r *repoPG) GetSymptoms(ctx context.Context, visitID string) ([]*Symptom, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, visit_id, name, severity, duration, notes, created_at
		FROM visit_symptom WHERE visit_id = $1 ORDER BY created_at, id`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Symptom
	for rows.Next() {
		var s Symptom
		if err := rows.Scan(&s.ID, &s.VisitID, &s.Name, &s.Severity, &s.Duration, &s.Notes, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// Diagnoses
func (r *repoPG) AddDiagnosis(ctx context.Context, d *Diagnosis) error {
	d.ID = uuid.NewString()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO visit_diagnosis (id, visit_id, name, code, notes)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		d.ID, d.VisitID, d.Name, d.Code, d.Notes,
	).Scan(&d.CreatedAt)
}

func (r *repoPG) GetDiagnoses(ctx context.Context, visitID string) ([]*Diagnosis, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, visit_id, name, code, notes, created_at
		FROM visit_diagnosis WHERE visit_id = $1 ORDER BY created_at, id`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Diagnosis
	for rows.Next() {
		var d Diagnosis
		if err := rows.Scan(&d.ID, &d.VisitID, &d.Name, &d.Code, &d.Notes, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// Prescriptions
func (r *repoPG) AddPrescription(ctx context.Context, p *Prescription) error {
	p.ID = uuid.NewString()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO visit_prescription (id, visit_id, medication, dosage, frequency, duration, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		p.ID, p.VisitID, p.Medication, p.Dosage, p.Frequency, p.Duration, p.Notes,
	).Scan(&p.CreatedAt)
}

func (r *repoPG) GetPrescriptions(ctx context.Context, visitID string) ([]*Prescription, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, visit_id, medication, dosage, frequency, duration, notes, created_at
		FROM visit_prescription WHERE visit_id = $1 ORDER BY created_at, id`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Prescription
	for rows.Next() {
		var p Prescription
		if err := rows.Scan(&p.ID, &p.VisitID, &p.Medication, &p.Dosage, &p.Frequency, &p.Duration, &p.Notes, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	if err := row.Scan(&v.ID, &v.PatientID, &v.DoctorID, &v.VisitDate, &v.VisitType,
		&v.ChiefComplaint, &v.Status, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func collectVisits(rows pgx.Rows, total int) ([]*Visit, int, error) {
	var out []*Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}
