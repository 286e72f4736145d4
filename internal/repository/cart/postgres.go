package cart

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storefront/internal/domain"
)

const cartColumns = `id::text, customer_id, session_id, currency, total_price, state, created_at`

type postgresRepo struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) Repository {
	return &postgresRepo{pool: pool}
}

func (r *postgresRepo) Create(ctx context.Context, in CreateCartInput) (*domain.Cart, error) {
	if err := in.Owner.Validate(); err != nil {
		return nil, err
	}
	q := `
INSERT INTO carts (customer_id, session_id, currency, total_price, state)
VALUES (NULLIF($1, ''), NULLIF($2, ''), $3, 0, 'active')
RETURNING ` + cartColumns

	var cart domain.Cart
	if err := r.pool.QueryRow(ctx, q, in.Owner.CustomerID, in.Owner.SessionID, in.Currency).Scan(
		&cart.ID,
		&cart.CustomerID,
		&cart.SessionID,
		&cart.Currency,
		&cart.TotalPrice,
		&cart.State,
		&cart.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *postgresRepo) GetByID(ctx context.Context, id string) (*domain.Cart, error) {
	return r.fetchCart(ctx, `SELECT `+cartColumns+` FROM carts WHERE id = $1`, id)
}

func (r *postgresRepo) GetActiveByOwner(ctx context.Context, owner domain.CartOwner) (*domain.Cart, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if owner.CustomerID != "" {
		return r.fetchCart(ctx, `
SELECT `+cartColumns+`
FROM carts
WHERE customer_id = $1 AND state = 'active'
ORDER BY created_at DESC
LIMIT 1
`, owner.CustomerID)
	}
	return r.fetchCart(ctx, `
SELECT `+cartColumns+`
FROM carts
WHERE session_id = $1 AND state = 'active'
ORDER BY created_at DESC
LIMIT 1
`, owner.SessionID)
}

func (r *postgresRepo) AddLineItem(ctx context.Context, cartID string, in AddLineInput) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
INSERT INTO cart_lines (cart_id, product_id, variant_id, quantity, unit_price, subtotal, snapshot)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (cart_id, product_id, variant_id) DO UPDATE SET
    quantity = cart_lines.quantity + EXCLUDED.quantity,
    subtotal = (cart_lines.quantity + EXCLUDED.quantity) * cart_lines.unit_price
`, cartID, in.ProductID, in.VariantID, in.Quantity, in.UnitPrice, in.UnitPrice*int64(in.Quantity), in.Snapshot); err != nil {
		return err
	}

	if err := updateCartTotal(ctx, tx, cartID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *postgresRepo) ChangeLineItemQuantity(ctx context.Context, cartID, lineItemID string, quantity int) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if quantity <= 0 {
		cmd, err := tx.Exec(ctx, `
DELETE FROM cart_lines
WHERE id = $1 AND cart_id = $2
`, lineItemID, cartID)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
	} else {
		cmd, err := tx.Exec(ctx, `
UPDATE cart_lines
SET quantity = $1, subtotal = $1 * unit_price
WHERE id = $2 AND cart_id = $3
`, quantity, lineItemID, cartID)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
	}

	if err := updateCartTotal(ctx, tx, cartID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RemoveLines keeps the cart row, so the owner keeps the same cart id on the
// next add. Lines added after the snapshot are left alone.
func (r *postgresRepo) RemoveLines(ctx context.Context, cartID string, lines []domain.CartLine) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, line := range lines {
		if _, err := tx.Exec(ctx, `
UPDATE cart_lines
SET quantity = quantity - $3, subtotal = (quantity - $3) * unit_price
WHERE id = $1 AND cart_id = $2 AND quantity > $3
`, line.ID, cartID, line.Quantity); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
DELETE FROM cart_lines
WHERE id = $1 AND cart_id = $2 AND quantity <= $3
`, line.ID, cartID, line.Quantity); err != nil {
			return err
		}
	}
	if err := updateCartTotal(ctx, tx, cartID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *postgresRepo) fetchCart(ctx context.Context, cartQuery string, args ...interface{}) (*domain.Cart, error) {
	var cart domain.Cart
	err := r.pool.QueryRow(ctx, cartQuery, args...).Scan(
		&cart.ID,
		&cart.CustomerID,
		&cart.SessionID,
		&cart.Currency,
		&cart.TotalPrice,
		&cart.State,
		&cart.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	const linesQuery = `
SELECT id::text, cart_id::text, product_id::text, variant_id, quantity, unit_price, subtotal, snapshot, created_at
FROM cart_lines
WHERE cart_id = $1
ORDER BY created_at ASC
`
	rows, err := r.pool.Query(ctx, linesQuery, cart.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.CartLine
		if err := rows.Scan(
			&line.ID,
			&line.CartID,
			&line.ProductID,
			&line.VariantID,
			&line.Quantity,
			&line.UnitPrice,
			&line.Subtotal,
			&line.Snapshot,
			&line.CreatedAt,
		); err != nil {
			return nil, err
		}
		cart.Lines = append(cart.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &cart, nil
}

func updateCartTotal(ctx context.Context, tx pgx.Tx, cartID string) error {
	_, err := tx.Exec(ctx, `
UPDATE carts
SET total_price = COALESCE((
	SELECT SUM(subtotal)
	FROM cart_lines
	WHERE cart_id = $1
), 0)
WHERE id = $1
`, cartID)
	return err
}
