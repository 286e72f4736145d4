package cart

import (
	"context"

	"storefront/internal/domain"
)

type CreateCartInput struct {
	Owner    domain.CartOwner
	Currency string
}

// AddLineInput adds quantity of one variant. When the cart already holds the
// variant the quantity is merged and the original price snapshot is kept.
type AddLineInput struct {
	ProductID string
	VariantID string
	Quantity  int
	UnitPrice int64
	Snapshot  domain.LineSnapshot
}

type Repository interface {
	Create(ctx context.Context, in CreateCartInput) (*domain.Cart, error)
	GetByID(ctx context.Context, id string) (*domain.Cart, error)
	GetActiveByOwner(ctx context.Context, owner domain.CartOwner) (*domain.Cart, error)
	AddLineItem(ctx context.Context, cartID string, in AddLineInput) error
	ChangeLineItemQuantity(ctx context.Context, cartID, lineItemID string, quantity int) error
	// RemoveLines takes the given lines' quantities out of the cart. A line
	// whose stored quantity has grown since keeps the difference.
	RemoveLines(ctx context.Context, cartID string, lines []domain.CartLine) error
}
