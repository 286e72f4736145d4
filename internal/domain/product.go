package domain

import "time"

// Product owns an ordered list of variants. Variants are value objects
// addressed by a stable sub-identifier and are persisted with the product.
type Product struct {
	ID          string                 `json:"id"`
	Key         string                 `json:"key"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Currency    string                 `json:"currency"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
	Variants    []Variant              `json:"variants"`
	Version     int                    `json:"version"`
	CreatedAt   time.Time              `json:"createdAt"`
}

// Variant is a purchasable configuration of a product. Prices are integer
// minor currency units.
type Variant struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	SKU               string      `json:"sku"`
	Price             int64       `json:"price"`
	Cost              int64       `json:"cost"`
	StockQuantity     int         `json:"stockQuantity"`
	LowStockThreshold int         `json:"lowStockThreshold"`
	WeightGrams       int         `json:"weightGrams,omitempty"`
	Dimensions        *Dimensions `json:"dimensions,omitempty"`
	Active            bool        `json:"active"`
}

type Dimensions struct {
	LengthCm float64 `json:"lengthCm"`
	WidthCm  float64 `json:"widthCm"`
	HeightCm float64 `json:"heightCm"`
}

// VariantIndex returns the position of the variant with id, or -1.
func (p Product) VariantIndex(id string) int {
	for i, v := range p.Variants {
		if v.ID == id {
			return i
		}
	}
	return -1
}

// VariantBySKU returns the variant carrying sku.
func (p Product) VariantBySKU(sku string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.SKU == sku {
			return v, true
		}
	}
	return Variant{}, false
}

// Images returns image URLs stored in the attributes map.
func (p Product) Images() []string {
	raw, ok := p.Attributes["images"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
