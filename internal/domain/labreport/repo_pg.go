package labreport

import (
	"context"
	"errors"
	"fmt"
	"strings"

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

const reportCols = `id, patient_id, test_type, collected_at, notes, status,
	file_id, file_name, report_type, created_by, created_at, updated_at, completed_at`

func (r *repoPG) Create(ctx context.Context, rep *LabReport) error {
	rep.ID = uuid.NewString()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO lab_report (
			id, patient_id, test_type, collected_at, notes, status,
			file_id, file_name, report_type, created_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		rep.ID, rep.PatientID, rep.TestType, rep.CollectedAt, rep.Notes, rep.Status,
		rep.FileID, rep.FileName, rep.ReportType, rep.CreatedBy,
	).Scan(&rep.CreatedAt, &rep.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id string) (*LabReport, error) {
	rep, err := scanReport(r.conn(ctx).QueryRow(ctx, `SELECT `+reportCols+` FROM lab_report WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rep, err
}

func (r *repoPG) Update(ctx context.Context, rep *LabReport) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE lab_report SET
			test_type=$2, collected_at=$3, notes=$4, status=$5,
			file_id=$6, file_name=$7, report_type=$8, completed_at=$9, updated_at=NOW()
		WHERE id = $1`,
		rep.ID, rep.TestType, rep.CollectedAt, rep.Notes, rep.Status,
		rep.FileID, rep.FileName, rep.ReportType, rep.CompletedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, patientID, status string, limit, offset int) ([]*LabReport, int, error) {
	var (
		where []string
		args  []interface{}
	)
	if patientID != "" {
		args = append(args, patientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if status != "" {
		args = append(args, status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM lab_report`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT `+reportCols+` FROM lab_report%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
			clause, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*LabReport
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rep)
	}
	return out, total, rows.Err()
}

func (r *repoPG) AddTestResult(ctx context.Context, t *TestResult) error {
	t.ID = uuid.NewString()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO lab_test_result (id, report_id, test_name, value, unit, reference_range, flag)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		t.ID, t.ReportID, t.TestName, t.Value, t.Unit, t.ReferenceRange, t.Flag,
	).Scan(&t.CreatedAt)
}

func (r *repoPG) GetTestResults(ctx context.Context, reportID string) ([]*TestResult, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, report_id, test_name, value, unit, reference_range, flag, created_at
		FROM lab_test_result WHERE report_id = $1 ORDER BY created_at, id`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TestResult
	for rows.Next() {
		var t TestResult
		if err := rows.Scan(&t.ID, &t.ReportID, &t.TestName, &t.Value, &t.Unit,
			&t.ReferenceRange, &t.Flag, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func scanReport(row pgx.Row) (*LabReport, error) {
	var rep LabReport
	err := row.Scan(
		&rep.ID, &rep.PatientID, &rep.TestType, &rep.CollectedAt, &rep.Notes, &rep.Status,
		&rep.FileID, &rep.FileName, &rep.ReportType, &rep.CreatedBy,
		&rep.CreatedAt, &rep.UpdatedAt, &rep.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rep, nil
}
