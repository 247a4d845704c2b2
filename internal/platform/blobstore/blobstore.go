// Package blobstore keeps uploaded lab files. Content is addressed by a
// generated ID and carries its SHA-256 hash.
package blobstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"
)

var (
	ErrBlobNotFound       = errors.New("file not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrMissingFileName    = errors.New("file name is required")
	ErrEmptyFile          = errors.New("file is empty")
)

// MaxFileSize is the largest accepted upload (25 MB).
const MaxFileSize = 25 << 20

// AllowedContentTypes lists the accepted lab file types. DICOM files often
// arrive as application/octet-stream.
var AllowedContentTypes = map[string]bool{
	"application/pdf":          true,
	"application/dicom":        true,
	"application/octet-stream": true,
	"image/png":                true,
	"image/jpeg":               true,
	"text/plain":               true,
	"text/csv":                 true,
}

// Metadata describes a stored file.
type Metadata struct {
	ID          string    `json:"id" db:"id"`
	FileName    string    `json:"file_name" db:"file_name"`
	ContentType string    `json:"content_type" db:"content_type"`
	Size        int64     `json:"size" db:"size"`
	PatientID   string    `json:"patient_id,omitempty" db:"patient_id"`
	Category    string    `json:"category" db:"category"`
	Hash        string    `json:"hash" db:"hash"`
	CreatedBy   string    `json:"created_by" db:"created_by"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Store is implemented by the in-memory and postgres backends.
type Store interface {
	Upload(ctx context.Context, meta Metadata, content io.Reader) (*Metadata, error)
	Download(ctx context.Context, id string) (io.ReadCloser, *Metadata, error)
	GetMetadata(ctx context.Context, id string) (*Metadata, error)
	Delete(ctx context.Context, id string) error
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Metadata, int, error)
}

// prepare validates meta and reads content, filling Size and Hash.
func prepare(meta *Metadata, content io.Reader) ([]byte, error) {
	if strings.TrimSpace(meta.FileName) == "" {
		return nil, ErrMissingFileName
	}
	ct, err := normalizeContentType(meta.ContentType)
	if err != nil {
		return nil, err
	}
	meta.ContentType = ct
	if meta.Category == "" {
		meta.Category = "lab-report"
	}

	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if len(data) > MaxFileSize {
		return nil, ErrFileTooLarge
	}

	meta.Size = int64(len(data))
	meta.Hash = fmt.Sprintf("%x", sha256.Sum256(data))
	return data, nil
}

func normalizeContentType(ct string) (string, error) {
	if ct == "" {
		return "application/octet-stream", nil
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidContentType, ct)
	}
	if !AllowedContentTypes[mt] {
		return "", fmt.Errorf("%w: %s", ErrInvalidContentType, mt)
	}
	return mt, nil
}
