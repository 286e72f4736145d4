package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"storefront/internal/domain"
)

type ProductWriter interface {
	Upsert(ctx context.Context, product domain.Product) (*domain.Product, error)
}

// CSVImporter reads a catalog CSV with one row per variant and upserts
// products. Rows sharing a product key, or with an empty key, add variants
// to the product started by the row above.
type CSVImporter struct {
	reader      *csv.Reader
	productRepo ProductWriter
}

func NewCSVImporter(r io.Reader, repo ProductWriter) *CSVImporter {
	csvr := csv.NewReader(r)
	csvr.FieldsPerRecord = -1 // rows may have trailing commas
	return &CSVImporter{
		reader:      csvr,
		productRepo: repo,
	}
}

var requiredHeaders = []string{"key", "variant.sku", "variant.price"}

// Run parses CSV rows and upserts products grouped by product key. It
// returns the number of products written.
func (i *CSVImporter) Run(ctx context.Context) (int, error) {
	headers, err := i.reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read headers: %w", err)
	}
	index := headerIndex(headers)
	for _, h := range requiredHeaders {
		if _, ok := index[h]; !ok {
			return 0, fmt.Errorf("missing required column %q", h)
		}
	}

	var (
		current  *domain.Product
		imported int
		line     = 1
	)

	for {
		record, err := i.reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return imported, fmt.Errorf("read row %d: %w", line, err)
		}
		if blank(record) {
			continue
		}

		key := pick(record, index, "key")
		if key != "" && (current == nil || key != current.Key) {
			if current != nil {
				if err := i.save(ctx, current); err != nil {
					return imported, err
				}
				imported++
			}
			current = productFromRow(record, index)
		}
		if current == nil {
			return imported, fmt.Errorf("row %d: variant row before any product key", line)
		}

		variant, err := variantFromRow(record, index)
		if err != nil {
			return imported, fmt.Errorf("row %d: %w", line, err)
		}
		if variant.ID == "" {
			variant.ID = strconv.Itoa(len(current.Variants) + 1)
		}
		current.Variants = append(current.Variants, variant)
		if img := pick(record, index, "image.url"); img != "" {
			addImage(current, img)
		}
	}

	if current != nil {
		if err := i.save(ctx, current); err != nil {
			return imported, err
		}
		imported++
	}

	return imported, nil
}

func (i *CSVImporter) save(ctx context.Context, p *domain.Product) error {
	if p.Name == "" || p.Currency == "" {
		return fmt.Errorf("invalid product row (missing name or currency) for key %q", p.Key)
	}
	seen := make(map[string]bool, len(p.Variants))
	for _, v := range p.Variants {
		if seen[v.ID] {
			return fmt.Errorf("duplicate variant id %q for key %q", v.ID, p.Key)
		}
		seen[v.ID] = true
	}

	if _, err := i.productRepo.Upsert(ctx, *p); err != nil {
		return fmt.Errorf("upsert product %q: %w", p.Key, err)
	}
	return nil
}

func productFromRow(record []string, index map[string]int) *domain.Product {
	currency := strings.ToUpper(pick(record, index, "currency"))
	return &domain.Product{
		Key:         pick(record, index, "key"),
		Name:        pick(record, index, "name"),
		Description: pick(record, index, "description"),
		Currency:    currency,
		Attributes:  map[string]interface{}{},
	}
}

func variantFromRow(record []string, index map[string]int) (domain.Variant, error) {
	v := domain.Variant{
		ID:     pick(record, index, "variant.id"),
		Name:   pick(record, index, "variant.name"),
		SKU:    pick(record, index, "variant.sku"),
		Active: true,
	}
	if v.SKU == "" {
		return v, errors.New("variant.sku is required")
	}

	var err error
	if v.Price, err = parseInt64(record, index, "variant.price"); err != nil {
		return v, err
	}
	if v.Price <= 0 {
		return v, fmt.Errorf("variant.price must be positive for %s", v.SKU)
	}
	if v.Cost, err = parseInt64(record, index, "variant.cost"); err != nil {
		return v, err
	}
	stock, err := parseInt64(record, index, "variant.stock")
	if err != nil {
		return v, err
	}
	if stock < 0 {
		return v, fmt.Errorf("variant.stock must not be negative for %s", v.SKU)
	}
	v.StockQuantity = int(stock)
	low, err := parseInt64(record, index, "variant.lowStock")
	if err != nil {
		return v, err
	}
	v.LowStockThreshold = int(low)
	weight, err := parseInt64(record, index, "variant.weightGrams")
	if err != nil {
		return v, err
	}
	v.WeightGrams = int(weight)

	if raw := pick(record, index, "variant.active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return v, fmt.Errorf("variant.active: %w", err)
		}
		v.Active = active
	}
	return v, nil
}

func parseInt64(record []string, index map[string]int, key string) (int64, error) {
	raw := pick(record, index, key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func addImage(p *domain.Product, url string) {
	images, _ := p.Attributes["images"].([]string)
	for _, existing := range images {
		if existing == url {
			return
		}
	}
	p.Attributes["images"] = append(images, url)
}

func headerIndex(headers []string) map[string]int {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		idx[strings.TrimSpace(h)] = i
	}
	return idx
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func pick(record []string, index map[string]int, key string) string {
	pos, ok := index[key]
	if !ok || pos >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[pos])
}
