package blobstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/portal/pkg/pagination"
)

type storedBlob struct {
	metadata Metadata
	content  []byte
}

// MemStore is a thread-safe in-memory Store for mock mode and tests.
type MemStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

func NewMemStore() *MemStore {
	return &MemStore{blobs: make(map[string]*storedBlob)}
}

func (s *MemStore) Upload(_ context.Context, meta Metadata, content io.Reader) (*Metadata, error) {
	data, err := prepare(&meta, content)
	if err != nil {
		return nil, err
	}
	meta.ID = uuid.NewString()
	meta.CreatedAt = time.Now().UTC()

	s.mu.Lock()
	s.blobs[meta.ID] = &storedBlob{metadata: meta, content: data}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

func (s *MemStore) Download(_ context.Context, id string) (io.ReadCloser, *Metadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	meta := blob.metadata
	return io.NopCloser(bytes.NewReader(blob.content)), &meta, nil
}

func (s *MemStore) GetMetadata(_ context.Context, id string) (*Metadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrBlobNotFound
	}
	meta := blob.metadata
	return &meta, nil
}

func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[id]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, id)
	return nil
}

// ListByPatient returns the patient's files, newest first.
func (s *MemStore) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]*Metadata, int, error) {
	s.mu.RLock()
	var matched []*Metadata
	for _, b := range s.blobs {
		if b.metadata.PatientID != patientID {
			continue
		}
		m := b.metadata
		matched = append(matched, &m)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	start, end := pagination.Params{Limit: limit, Offset: offset}.Window(len(matched))
	return matched[start:end], len(matched), nil
}
