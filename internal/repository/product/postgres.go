package product

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/logging"
)

const productColumns = `id::text, key, name, COALESCE(description, ''), currency, attributes, variants, version, created_at`

type postgresRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) Repository {
	return &postgresRepo{pool: pool, logger: logging.OrNop(logger).Named("product_repo")}
}

func (r *postgresRepo) List(ctx context.Context) ([]domain.Product, error) {
	q := `SELECT ` + productColumns + ` FROM products ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		r.logger.Error("list products", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var result []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("list products rows", zap.Error(err))
		return nil, err
	}
	r.logger.Debug("listed products", zap.Int("count", len(result)))
	return result, nil
}

func (r *postgresRepo) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	q := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	p, err := scanProduct(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.Error("get product", zap.String("product_id", id), zap.Error(err))
		return nil, err
	}
	return p, nil
}

func (r *postgresRepo) GetByVariantSKU(ctx context.Context, sku string) (*domain.Product, error) {
	q := `SELECT ` + productColumns + `
FROM products
WHERE variants @> jsonb_build_array(jsonb_build_object('sku', $1::text))
LIMIT 1`
	p, err := scanProduct(r.pool.QueryRow(ctx, q, sku))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.Error("get product by sku", zap.String("sku", sku), zap.Error(err))
		return nil, err
	}
	return p, nil
}

func (r *postgresRepo) Upsert(ctx context.Context, product domain.Product) (*domain.Product, error) {
	variants, err := encodeVariants(product.Variants)
	if err != nil {
		return nil, err
	}
	attributes := product.Attributes
	if attributes == nil {
		attributes = map[string]interface{}{}
	}

	q := `
INSERT INTO products (id, key, name, description, currency, attributes, variants)
VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, NULLIF($4, ''), $5, $6, $7::jsonb)
ON CONFLICT (key) DO UPDATE SET
    name = EXCLUDED.name,
    description = EXCLUDED.description,
    currency = EXCLUDED.currency,
    attributes = EXCLUDED.attributes,
    variants = EXCLUDED.variants,
    version = products.version + 1,
    updated_at = now()
RETURNING ` + productColumns

	res, err := scanProduct(r.pool.QueryRow(ctx, q,
		product.ID,
		product.Key,
		product.Name,
		product.Description,
		product.Currency,
		attributes,
		variants,
	))
	if err != nil {
		r.logger.Error("upsert product", zap.String("key", product.Key), zap.Error(err))
		return nil, err
	}
	if product.ID != "" && res.ID != product.ID {
		return nil, fmt.Errorf("product repo: id mismatch for key=%s existing_id=%s import_id=%s", product.Key, res.ID, product.ID)
	}
	r.logger.Info("upserted product", zap.String("key", res.Key), zap.String("product_id", res.ID), zap.Int("version", res.Version))
	return res, nil
}

func (r *postgresRepo) ReplaceVariants(ctx context.Context, id string, expectedVersion int, variants []domain.Variant) (*domain.Product, error) {
	encoded, err := encodeVariants(variants)
	if err != nil {
		return nil, err
	}
	q := `
UPDATE products
SET variants = $3::jsonb, version = version + 1, updated_at = now()
WHERE id = $1 AND version = $2
RETURNING ` + productColumns

	p, err := scanProduct(r.pool.QueryRow(ctx, q, id, expectedVersion, encoded))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.logger.Error("replace variants", zap.String("product_id", id), zap.Error(err))
		return nil, err
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrNotFound
	}
	return nil, domain.ErrConflict
}

func encodeVariants(variants []domain.Variant) ([]byte, error) {
	if variants == nil {
		variants = []domain.Variant{}
	}
	b, err := json.Marshal(variants)
	if err != nil {
		return nil, fmt.Errorf("encode variants: %w", err)
	}
	return b, nil
}

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var p domain.Product
	var variants []byte
	if err := row.Scan(&p.ID, &p.Key, &p.Name, &p.Description, &p.Currency, &p.Attributes, &variants, &p.Version, &p.CreatedAt); err != nil {
		return nil, err
	}
	if len(variants) > 0 {
		if err := json.Unmarshal(variants, &p.Variants); err != nil {
			return nil, fmt.Errorf("decode variants of %s: %w", p.ID, err)
		}
	}
	return &p, nil
}
