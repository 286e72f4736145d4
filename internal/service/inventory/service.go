// Package inventory decrements stock on embedded product variants.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/logging"
	"storefront/internal/metrics"
)

const defaultMaxAttempts = 5

type productRepo interface {
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	ReplaceVariants(ctx context.Context, id string, expectedVersion int, variants []domain.Variant) (*domain.Product, error)
}

type Service struct {
	products    productRepo
	logger      *zap.Logger
	metrics     *metrics.Metrics
	maxAttempts int
}

func New(products productRepo, logger *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{
		products:    products,
		logger:      logging.OrNop(logger).Named("inventory"),
		metrics:     m,
		maxAttempts: defaultMaxAttempts,
	}
}

// DecreaseStock subtracts quantity from one variant and writes the variant
// list back under the product version it was read at. A missing product or
// variant is a logged no-op. Stock is allowed to go below zero.
func (s *Service) DecreaseStock(ctx context.Context, productID, variantID string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", domain.ErrValidation)
	}
	log := s.logger.With(zap.String("product_id", productID), zap.String("variant_id", variantID), zap.Int("quantity", quantity))

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		product, err := s.products.GetByID(ctx, productID)
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn("stock decrement skipped: product not found")
			s.metrics.RecordInventoryAdjustment("missing")
			return nil
		}
		if err != nil {
			s.metrics.RecordInventoryAdjustment("error")
			return fmt.Errorf("load product %s: %w", productID, err)
		}

		idx := product.VariantIndex(variantID)
		if idx < 0 {
			log.Warn("stock decrement skipped: variant not found", zap.Int("variants", len(product.Variants)))
			s.metrics.RecordInventoryAdjustment("missing")
			return nil
		}

		variants := append([]domain.Variant(nil), product.Variants...)
		variants[idx].StockQuantity -= quantity
		remaining := variants[idx].StockQuantity

		_, err = s.products.ReplaceVariants(ctx, productID, product.Version, variants)
		if errors.Is(err, domain.ErrConflict) {
			log.Debug("stock decrement lost version race", zap.Int("attempt", attempt), zap.Int("version", product.Version))
			continue
		}
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn("stock decrement skipped: product deleted during update")
			s.metrics.RecordInventoryAdjustment("missing")
			return nil
		}
		if err != nil {
			s.metrics.RecordInventoryAdjustment("error")
			return fmt.Errorf("write variants of %s: %w", productID, err)
		}

		s.metrics.RecordInventoryAdjustment("applied")
		if remaining < 0 {
			log.Warn("variant stock below zero", zap.Int("stock_quantity", remaining))
			s.metrics.RecordOversell()
		} else if remaining <= variants[idx].LowStockThreshold {
			log.Info("variant stock at or below threshold", zap.Int("stock_quantity", remaining), zap.Int("threshold", variants[idx].LowStockThreshold))
		}
		return nil
	}

	s.metrics.RecordInventoryAdjustment("conflict")
	return fmt.Errorf("decrease stock of %s/%s: %w after %d attempts", productID, variantID, domain.ErrConflict, s.maxAttempts)
}
