package labreport

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ehr/portal/pkg/pagination"
)

type memRepo struct {
	mu      sync.RWMutex
	seq     int
	reports map[string]*LabReport
	tests   []*TestResult
}

// NewMemRepo returns an empty in-memory repository for the mock data mode.
func NewMemRepo() Repository {
	return &memRepo{reports: make(map[string]*LabReport)}
}

func (r *memRepo) Create(_ context.Context, rep *LabReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	rep.ID = fmt.Sprintf("LR%04d", r.seq)
	now := time.Now().UTC()
	rep.CreatedAt, rep.UpdatedAt = now, now
	cp := *rep
	r.reports[rep.ID] = &cp
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (*LabReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rep, ok := r.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rep
	return &cp, nil
}

func (r *memRepo) Update(_ context.Context, rep *LabReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reports[rep.ID]; !ok {
		return ErrNotFound
	}
	rep.UpdatedAt = time.Now().UTC()
	cp := *rep
	r.reports[rep.ID] = &cp
	return nil
}

func (r *memRepo) List(_ context.Context, patientID, status string, limit, offset int) ([]*LabReport, int, error) {
	r.mu.RLock()
	var all []*LabReport
	for _, rep := range r.reports {
		if patientID != "" && rep.PatientID != patientID {
			continue
		}
		if status != "" && rep.Status != status {
			continue
		}
		cp := *rep
		all = append(all, &cp)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	start, end := pagination.Params{Limit: limit, Offset: offset}.Window(len(all))
	return all[start:end], len(all), nil
}

func (r *memRepo) AddTestResult(_ context.Context, t *TestResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	t.ID = fmt.Sprintf("T%04d", r.seq)
	t.CreatedAt = time.Now().UTC()
	cp := *t
	r.tests = append(r.tests, &cp)
	return nil
}

func (r *memRepo) GetTestResults(_ context.Context, reportID string) ([]*TestResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*TestResult
	for _, t := range r.tests {
		if t.ReportID == reportID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}
