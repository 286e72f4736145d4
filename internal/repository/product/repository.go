package product

import (
	"context"

	"storefront/internal/domain"
)

type Repository interface {
	List(ctx context.Context) ([]domain.Product, error)
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	GetByVariantSKU(ctx context.Context, sku string) (*domain.Product, error)
	Upsert(ctx context.Context, product domain.Product) (*domain.Product, error)
	// ReplaceVariants writes the whole variant list if the stored version
	// still equals expectedVersion, and bumps the version. A stale version
	// yields domain.ErrConflict.
	ReplaceVariants(ctx context.Context, id string, expectedVersion int, variants []domain.Variant) (*domain.Product, error)
}
