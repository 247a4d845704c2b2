package visit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ehr/portal/pkg/pagination"
)

type memRepo struct {
	mu            sync.RWMutex
	seq           int
	visits        map[string]*Visit
	symptoms      []*Symptom
	diagnoses     []*Diagnosis
	prescriptions []*Prescription
}

// NewMemRepo returns an empty in-memory repository for the mock data mode.
func NewMemRepo() Repository {
	return &memRepo{visits: make(map[string]*Visit)}
}

func (r *memRepo) nextID(prefix string) string {
	r.seq++
	return fmt.Sprintf("%s%04d", prefix, r.seq)
}

func (r *memRepo) Create(_ context.Context, v *Visit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v.ID = r.nextID("V")
	now := time.Now().UTC()
	v.CreatedAt, v.UpdatedAt = now, now
	cp := *v
	r.visits[v.ID] = &cp
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (*Visit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.visits[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (r *memRepo) List(ctx context.Context, limit, offset int) ([]*Visit, int, error) {
	return r.ListByPatient(ctx, "", limit, offset)
}

// ListByPatient lists every visit when patientID is empty.
func (r *memRepo) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]*Visit, int, error) {
	r.mu.RLock()
	var all []*Visit
	for _, v := range r.visits {
		if patientID == "" || v.PatientID == patientID {
			cp := *v
			all = append(all, &cp)
		}
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].VisitDate.Equal(all[j].VisitDate) {
			return all[i].VisitDate.After(all[j].VisitDate)
		}
		return all[i].ID > all[j].ID
	})
	start, end := pagination.Params{Limit: limit, Offset: offset}.Window(len(all))
	return all[start:end], len(all), nil
}

func (r *memRepo) AddSymptom(_ context.Context, s *Symptom) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.ID = r.nextID("S")
	s.CreatedAt = time.Now().UTC()
	cp := *s
	r.symptoms = append(r.symptoms, &cp)
	return nil
}

func (r *memRepo) GetSymptoms(_ context.Context, visitID string) ([]*Symptom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Symptom
	for _, s := range r.symptoms {
		if s.VisitID == visitID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) AddDiagnosis(_ context.Context, d *Diagnosis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.ID = r.nextID("D")
	d.CreatedAt = time.Now().UTC()
	cp := *d
	r.diagnoses = append(r.diagnoses, &cp)
	return nil
}

func (r *memRepo) GetDiagnoses(_ context.Context, visitID string) ([]*Diagnosis, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Diagnosis
	for _, d := range r.diagnoses {
		if d.VisitID == visitID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) AddPrescription(_ context.Context, p *Prescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = r.nextID("RX")
	p.CreatedAt = time.Now().UTC()
	cp := *p
	r.prescriptions = append(r.prescriptions, &cp)
	return nil
}

func (r *memRepo) GetPrescriptions(_ context.Context, visitID string) ([]*Prescription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Prescription
	for _, p := range r.prescriptions {
		if p.VisitID == visitID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}
