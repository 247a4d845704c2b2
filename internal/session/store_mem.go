package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type memEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore keeps sessions in process. Values are stored encoded so callers
// never share a State with the store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	locks   map[string]bool
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		entries: make(map[string]memEntry),
		locks:   make(map[string]bool),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok && !m.now().Before(e.expiresAt) {
		delete(m.entries, id)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}

	var s Session
	if err := json.Unmarshal(e.data, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

func (m *MemoryStore) Put(_ context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[s.ID] = memEntry{data: data, expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *MemoryStore) Lock(_ context.Context, id string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[id] {
		return nil, ErrBusy
	}
	m.locks[id] = true
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.locks, id)
			m.mu.Unlock()
		})
	}, nil
}

// Sweep drops expired sessions and returns how many it removed.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for id, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, id)
			n++
		}
	}
	return n
}
