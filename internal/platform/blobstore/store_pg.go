package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/portal/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// PGStore keeps files in the lab_file table.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

const metaCols = `id, file_name, content_type, size, patient_id, category, hash, created_by, created_at`

func scanMeta(row pgx.Row) (*Metadata, error) {
	var m Metadata
	err := row.Scan(&m.ID, &m.FileName, &m.ContentType, &m.Size, &m.PatientID,
		&m.Category, &m.Hash, &m.CreatedBy, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PGStore) Upload(ctx context.Context, meta Metadata, content io.Reader) (*Metadata, error) {
	data, err := prepare(&meta, content)
	if err != nil {
		return nil, err
	}
	meta.ID = uuid.NewString()
	err = s.conn(ctx).QueryRow(ctx, `
		INSERT INTO lab_file (id, file_name, content_type, size, patient_id, category, hash, created_by, content)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		meta.ID, meta.FileName, meta.ContentType, meta.Size, meta.PatientID,
		meta.Category, meta.Hash, meta.CreatedBy, data,
	).Scan(&meta.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert lab file: %w", err)
	}
	return &meta, nil
}

func (s *PGStore) Download(ctx context.Context, id string) (io.ReadCloser, *Metadata, error) {
	var m Metadata
	var data []byte
	err := s.conn(ctx).QueryRow(ctx, `SELECT `+metaCols+`, content FROM lab_file WHERE id = $1`, id).
		Scan(&m.ID, &m.FileName, &m.ContentType, &m.Size, &m.PatientID,
			&m.Category, &m.Hash, &m.CreatedBy, &m.CreatedAt, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), &m, nil
}

func (s *PGStore) GetMetadata(ctx context.Context, id string) (*Metadata, error) {
	return scanMeta(s.conn(ctx).QueryRow(ctx, `SELECT `+metaCols+` FROM lab_file WHERE id = $1`, id))
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	tag, err := s.conn(ctx).Exec(ctx, `DELETE FROM lab_file WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBlobNotFound
	}
	return nil
}

func (s *PGStore) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Metadata, int, error) {
	var total int
	if err := s.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM lab_file WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.conn(ctx).Query(ctx, `
		SELECT `+metaCols+` FROM lab_file WHERE patient_id = $1
		ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Metadata
	for rows.Next() {
		m, err := scanMeta(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}
