package patient

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ehr/portal/pkg/pagination"
)

// memRepo backs the mock data mode. It is seeded with Fixtures and keeps
// every patient in memory.
type memRepo struct {
	mu       sync.RWMutex
	patients map[string]*Patient
	seq      int
}

// NewMemRepo returns an in-memory repository holding a copy of seed.
func NewMemRepo(seed ...*Patient) Repository {
	r := &memRepo{patients: make(map[string]*Patient, len(seed))}
	for _, p := range seed {
		cp := *p
		r.patients[cp.ID] = &cp
		r.seq++
	}
	return r
}

func (r *memRepo) Create(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		r.seq++
		p.ID = fmt.Sprintf("P%03d", r.seq)
		if _, taken := r.patients[p.ID]; !taken {
			break
		}
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	r.patients[p.ID] = &cp
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memRepo) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	all := r.sorted(func(*Patient) bool { return true })
	start, end := pagination.Params{Limit: limit, Offset: offset}.Window(len(all))
	return all[start:end], len(all), nil
}

func (r *memRepo) Search(_ context.Context, query string, limit int) ([]*Patient, error) {
	q := strings.ToLower(query)
	out := r.sorted(func(p *Patient) bool { return p.Matches(q) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) sorted(keep func(*Patient) bool) []*Patient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Patient
	for _, p := range r.patients {
		if keep(p) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Fixtures is the patient list of the mock data mode.
func Fixtures() []*Patient {
	date := func(s string) *time.Time {
		t, _ := time.Parse("2006-01-02", s)
		return &t
	}
	return []*Patient{
		{ID: "P001", MRN: "MRN-1001", FirstName: "Jane", LastName: "Doe", BirthDate: date("1985-03-14"), Gender: "female", Phone: "555-0101", Email: "jane.doe@example.com"},
		{ID: "P002", MRN: "MRN-1002", FirstName: "John", LastName: "Smith", BirthDate: date("1978-11-02"), Gender: "male", Phone: "555-0102", Email: "john.smith@example.com"},
		{ID: "P003", MRN: "MRN-1003", FirstName: "Maria", LastName: "Garcia", BirthDate: date("1992-07-21"), Gender: "female", Phone: "555-0103", Email: "maria.garcia@example.com"},
		{ID: "P004", MRN: "MRN-1004", FirstName: "Wei", LastName: "Chen", BirthDate: date("1969-01-30"), Gender: "male", Phone: "555-0104", Email: "wei.chen@example.com"},
		{ID: "P005", MRN: "MRN-1005", FirstName: "Amara", LastName: "Okafor", BirthDate: date("2001-09-09"), Gender: "female", Phone: "555-0105", Email: "amara.okafor@example.com"},
	}
}
