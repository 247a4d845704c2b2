package patient

import (
	"context"
	"fmt"
	"strings"
)

// SearchLimit caps the number of patients a picker search returns.
const SearchLimit = 20

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

var validGenders = map[string]bool{
	"":        true,
	"female":  true,
	"male":    true,
	"other":   true,
	"unknown": true,
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	if p.FirstName == "" {
		return fmt.Errorf("first_name is required")
	}
	if p.LastName == "" {
		return fmt.Errorf("last_name is required")
	}
	if p.MRN == "" {
		return fmt.Errorf("mrn is required")
	}
	if !validGenders[p.Gender] {
		return fmt.Errorf("invalid gender: %s", p.Gender)
	}
	return s.repo.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id string) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// SearchPatients returns the patients matching query. A blank query matches
// nothing and never reaches the repository.
func (s *Service) SearchPatients(ctx context.Context, query string) ([]*Patient, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*Patient{}, nil
	}
	found, err := s.repo.Search(ctx, query, SearchLimit)
	if err != nil {
		return nil, fmt.Errorf("search patients: %w", err)
	}
	if found == nil {
		found = []*Patient{}
	}
	return found, nil
}
