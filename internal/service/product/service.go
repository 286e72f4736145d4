package product

import (
	"context"

	"storefront/internal/domain"
)

type productRepo interface {
	List(ctx context.Context) ([]domain.Product, error)
	GetByID(ctx context.Context, id string) (*domain.Product, error)
}

type Service struct {
	repo productRepo
}

func New(repo productRepo) *Service {
	return &Service{repo: repo}
}

// List returns the catalog with inactive variants hidden. Products left with
// no purchasable variant are omitted.
func (s *Service) List(ctx context.Context) ([]domain.Product, error) {
	products, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, len(products))
	for _, p := range products {
		visible := activeOnly(p)
		if len(visible.Variants) == 0 {
			continue
		}
		out = append(out, visible)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Product, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	visible := activeOnly(*p)
	return &visible, nil
}

func activeOnly(p domain.Product) domain.Product {
	variants := make([]domain.Variant, 0, len(p.Variants))
	for _, v := range p.Variants {
		if v.Active {
			variants = append(variants, v)
		}
	}
	p.Variants = variants
	return p
}
