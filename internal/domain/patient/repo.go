package patient

import "context"

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id string) (*Patient, error)
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
	// Search matches query case-insensitively against name, MRN, phone and email.
	Search(ctx context.Context, query string, limit int) ([]*Patient, error)
}
