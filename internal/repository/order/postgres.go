package order

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"storefront/internal/domain"
)

const orderColumns = `id::text, order_number, customer_id, session_id, currency, subtotal, shipping_fee, tax, total_amount,
order_status, payment_status, payment_method, payment_reference, payment_url, va_number, qr_string,
shipping_address, billing_address, email, COALESCE(phone, ''), COALESCE(note, ''), paid_at, created_at, updated_at`

const uniqueViolation = "23505"

type postgresRepo struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) Repository {
	return &postgresRepo{pool: pool}
}

func (r *postgresRepo) Create(ctx context.Context, o domain.Order) (*domain.Order, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	q := `
INSERT INTO orders (
    order_number, customer_id, session_id, currency, subtotal, shipping_fee, tax, total_amount,
    order_status, payment_status, payment_method, shipping_address, billing_address, email, phone, note
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NULLIF($15, ''), NULLIF($16, ''))
RETURNING ` + orderColumns

	created, err := scanOrder(tx.QueryRow(ctx, q,
		o.OrderNumber,
		o.CustomerID,
		o.SessionID,
		o.Currency,
		o.Subtotal,
		o.ShippingFee,
		o.Tax,
		o.TotalAmount,
		string(o.OrderStatus),
		string(o.PaymentStatus),
		o.PaymentMethod,
		o.ShippingAddress,
		o.BillingAddress,
		o.Email,
		o.Phone,
		o.Note,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, domain.ErrAlreadyExists
		}
		return nil, err
	}

	const itemQuery = `
INSERT INTO order_items (order_id, product_id, variant_id, sku, product_name, variant_name, quantity, unit_price, subtotal)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)
RETURNING id::text, created_at
`
	for _, item := range o.Items {
		item.OrderID = created.ID
		if err := tx.QueryRow(ctx, itemQuery,
			created.ID,
			item.ProductID,
			item.VariantID,
			item.SKU,
			item.ProductName,
			item.VariantName,
			item.Quantity,
			item.UnitPrice,
			item.Subtotal,
		).Scan(&item.ID, &item.CreatedAt); err != nil {
			return nil, err
		}
		created.Items = append(created.Items, item)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

func (r *postgresRepo) FindByOrderNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number = $1`, orderNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := r.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *postgresRepo) TransitionStatus(ctx context.Context, orderID string, t StatusTransition) (*domain.Order, bool, error) {
	allowed := make([]string, 0, len(t.AllowedFrom))
	for _, s := range t.AllowedFrom {
		allowed = append(allowed, string(s))
	}

	q := `
UPDATE orders
SET payment_status = $2::text,
    order_status = COALESCE(NULLIF($3::text, ''), order_status),
    payment_reference = COALESCE(NULLIF($4::text, ''), payment_reference),
    paid_at = CASE WHEN $2::text = 'paid' THEN now() ELSE paid_at END,
    updated_at = now()
WHERE id = $1 AND payment_status = ANY($5::text[])
RETURNING ` + orderColumns

	o, err := scanOrder(r.pool.QueryRow(ctx, q, orderID, string(t.PaymentStatus), string(t.OrderStatus), t.PaymentReference, allowed))
	changed := true
	if errors.Is(err, pgx.ErrNoRows) {
		changed = false
		o, err = scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, domain.ErrNotFound
		}
	}
	if err != nil {
		return nil, false, err
	}
	if err := r.loadItems(ctx, o); err != nil {
		return nil, false, err
	}
	return o, changed, nil
}

func (r *postgresRepo) SetPaymentDetails(ctx context.Context, orderID string, d PaymentDetails) (*domain.Order, error) {
	q := `
UPDATE orders
SET payment_reference = NULLIF($2, ''),
    payment_url = NULLIF($3, ''),
    va_number = NULLIF($4, ''),
    qr_string = NULLIF($5, ''),
    updated_at = now()
WHERE id = $1
RETURNING ` + orderColumns

	o, err := scanOrder(r.pool.QueryRow(ctx, q, orderID, d.Reference, d.PaymentURL, d.VANumber, d.QRString))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := r.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *postgresRepo) loadItems(ctx context.Context, o *domain.Order) error {
	rows, err := r.pool.Query(ctx, `
SELECT id::text, order_id::text, product_id::text, variant_id, sku, product_name, COALESCE(variant_name, ''),
       quantity, unit_price, subtotal, created_at
FROM order_items
WHERE order_id = $1
ORDER BY created_at ASC, id ASC
`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	o.Items = nil
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.VariantID,
			&item.SKU,
			&item.ProductName,
			&item.VariantName,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
			&item.CreatedAt,
		); err != nil {
			return err
		}
		o.Items = append(o.Items, item)
	}
	return rows.Err()
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	var orderStatus, paymentStatus string
	if err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.CustomerID,
		&o.SessionID,
		&o.Currency,
		&o.Subtotal,
		&o.ShippingFee,
		&o.Tax,
		&o.TotalAmount,
		&orderStatus,
		&paymentStatus,
		&o.PaymentMethod,
		&o.PaymentReference,
		&o.PaymentURL,
		&o.VANumber,
		&o.QRString,
		&o.ShippingAddress,
		&o.BillingAddress,
		&o.Email,
		&o.Phone,
		&o.Note,
		&o.PaidAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	o.OrderStatus = domain.OrderStatus(orderStatus)
	o.PaymentStatus = domain.PaymentStatus(paymentStatus)
	return &o, nil
}
