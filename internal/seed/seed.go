package seed

import (
	"context"
	"fmt"

	"storefront/internal/domain"
)

type productUpserter interface {
	Upsert(ctx context.Context, product domain.Product) (*domain.Product, error)
}

// Products returns the demo catalog.
func Products() []domain.Product {
	return []domain.Product{
		{
			Key:         "demo-shirt",
			Name:        "Demo T-Shirt",
			Description: "Soft cotton tee for demo purposes",
			Currency:    "IDR",
			Attributes:  map[string]interface{}{"images": []string{"https://picsum.photos/seed/shirt/600"}},
			Variants: []domain.Variant{
				{ID: "m-black", Name: "M / Black", SKU: "SKU-DEMO-TSHIRT-M-BLK", Price: 129000, Cost: 60000, StockQuantity: 25, LowStockThreshold: 5, WeightGrams: 200, Active: true},
				{ID: "l-black", Name: "L / Black", SKU: "SKU-DEMO-TSHIRT-L-BLK", Price: 129000, Cost: 60000, StockQuantity: 15, LowStockThreshold: 5, WeightGrams: 220, Active: true},
				{ID: "l-white", Name: "L / White", SKU: "SKU-DEMO-TSHIRT-L-WHT", Price: 119000, Cost: 55000, StockQuantity: 0, LowStockThreshold: 5, WeightGrams: 220, Active: false},
			},
		},
		{
			Key:         "demo-mug",
			Name:        "Demo Mug",
			Description: "Ceramic mug with demo logo",
			Currency:    "IDR",
			Variants: []domain.Variant{
				{
					ID: "default", Name: "350ml", SKU: "SKU-DEMO-MUG", Price: 75000, Cost: 30000,
					StockQuantity: 40, LowStockThreshold: 10, WeightGrams: 400,
					Dimensions: &domain.Dimensions{LengthCm: 12, WidthCm: 9, HeightCm: 10},
					Active:     true,
				},
			},
		},
	}
}

// Apply upserts the demo catalog for manual testing. It is idempotent: running
// it again resets the demo products to these values.
func Apply(ctx context.Context, products productUpserter) error {
	for _, p := range Products() {
		if _, err := products.Upsert(ctx, p); err != nil {
			return fmt.Errorf("upsert product %s: %w", p.Key, err)
		}
	}
	return nil
}
