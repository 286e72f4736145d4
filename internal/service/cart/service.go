package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storefront/internal/domain"
	cartrepo "storefront/internal/repository/cart"
)

type Service struct {
	repo        cartRepo
	productRepo productRepo
	currency    string
}

type cartRepo interface {
	Create(ctx context.Context, in cartrepo.CreateCartInput) (*domain.Cart, error)
	GetByID(ctx context.Context, id string) (*domain.Cart, error)
	GetActiveByOwner(ctx context.Context, owner domain.CartOwner) (*domain.Cart, error)
	AddLineItem(ctx context.Context, cartID string, in cartrepo.AddLineInput) error
	ChangeLineItemQuantity(ctx context.Context, cartID, lineItemID string, quantity int) error
	RemoveLines(ctx context.Context, cartID string, lines []domain.CartLine) error
}

type productRepo interface {
	GetByVariantSKU(ctx context.Context, sku string) (*domain.Product, error)
}

func New(repo cartRepo, productRepo productRepo, currency string) *Service {
	return &Service{repo: repo, productRepo: productRepo, currency: currency}
}

type UpdateInput struct {
	Actions []UpdateAction `json:"actions"`
}

type UpdateAction struct {
	Action     string `json:"action"`
	SKU        string `json:"sku,omitempty"`
	LineItemID string `json:"lineItemId,omitempty"`
	Quantity   int    `json:"quantity,omitempty"`
}

// Get returns the owner's active cart, or an empty unsaved cart when there is
// none yet.
func (s *Service) Get(ctx context.Context, owner domain.CartOwner) (*domain.Cart, error) {
	cart, err := s.GetActive(ctx, owner)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.Cart{Currency: s.currency, State: "active"}, nil
	}
	return cart, err
}

// GetActive returns the owner's active cart or domain.ErrNotFound.
func (s *Service) GetActive(ctx context.Context, owner domain.CartOwner) (*domain.Cart, error) {
	if err := owner.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return s.repo.GetActiveByOwner(ctx, owner)
}

// Update applies actions to the owner's cart, creating it on the first add.
func (s *Service) Update(ctx context.Context, owner domain.CartOwner, in UpdateInput) (*domain.Cart, error) {
	if len(in.Actions) == 0 {
		return nil, fmt.Errorf("%w: actions required", domain.ErrValidation)
	}
	if err := owner.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	cart, err := s.repo.GetActiveByOwner(ctx, owner)
	if errors.Is(err, domain.ErrNotFound) {
		cart, err = s.repo.Create(ctx, cartrepo.CreateCartInput{Owner: owner, Currency: s.currency})
	}
	if err != nil {
		return nil, err
	}
	if !cart.OwnedBy(owner) {
		return nil, domain.ErrNotFound
	}

	for _, action := range in.Actions {
		switch strings.ToLower(strings.TrimSpace(action.Action)) {
		case "addlineitem":
			if err := s.addLineItem(ctx, cart.ID, action); err != nil {
				return nil, err
			}
		case "changelineitemquantity":
			lineID := strings.TrimSpace(action.LineItemID)
			if lineID == "" {
				return nil, fmt.Errorf("%w: lineItemId required", domain.ErrValidation)
			}
			if action.Quantity < 0 {
				return nil, fmt.Errorf("%w: quantity must not be negative", domain.ErrValidation)
			}
			if err := s.repo.ChangeLineItemQuantity(ctx, cart.ID, lineID, action.Quantity); err != nil {
				return nil, err
			}
		case "removelineitem":
			lineID := strings.TrimSpace(action.LineItemID)
			if lineID == "" {
				return nil, fmt.Errorf("%w: lineItemId required", domain.ErrValidation)
			}
			if err := s.repo.ChangeLineItemQuantity(ctx, cart.ID, lineID, 0); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: unsupported action %q", domain.ErrValidation, action.Action)
		}
	}

	return s.repo.GetByID(ctx, cart.ID)
}

// RemoveOrdered takes lines that became an order out of the cart.
func (s *Service) RemoveOrdered(ctx context.Context, cartID string, lines []domain.CartLine) error {
	if len(lines) == 0 {
		return nil
	}
	return s.repo.RemoveLines(ctx, cartID, lines)
}

func (s *Service) addLineItem(ctx context.Context, cartID string, action UpdateAction) error {
	sku := strings.TrimSpace(action.SKU)
	if sku == "" {
		return fmt.Errorf("%w: sku required", domain.ErrValidation)
	}
	if action.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", domain.ErrValidation)
	}
	if s.productRepo == nil {
		return errors.New("product repository unavailable")
	}
	product, err := s.productRepo.GetByVariantSKU(ctx, sku)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: product not found", domain.ErrValidation)
		}
		return err
	}
	variant, ok := product.VariantBySKU(sku)
	if !ok {
		return fmt.Errorf("%w: product not found", domain.ErrValidation)
	}
	if !variant.Active {
		return fmt.Errorf("%w: variant %s is not available", domain.ErrValidation, sku)
	}
	return s.repo.AddLineItem(ctx, cartID, cartrepo.AddLineInput{
		ProductID: product.ID,
		VariantID: variant.ID,
		Quantity:  action.Quantity,
		UnitPrice: variant.Price,
		Snapshot:  snapshotFromProduct(*product, variant),
	})
}

func snapshotFromProduct(p domain.Product, v domain.Variant) domain.LineSnapshot {
	return domain.LineSnapshot{
		ProductKey:  p.Key,
		ProductName: p.Name,
		VariantName: v.Name,
		SKU:         v.SKU,
		Images:      p.Images(),
	}
}
