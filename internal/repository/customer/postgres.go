package customer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/logging"
)

const customerColumns = `id::text, email, password_hash, first_name, last_name, phone, addresses, created_at`

type postgresRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres returns a Repository backed by Postgres.
func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) Repository {
	return &postgresRepo{pool: pool, logger: logging.OrNop(logger).Named("customer_repo")}
}

func (r *postgresRepo) Create(ctx context.Context, c domain.Customer) (*domain.Customer, error) {
	addrJSON, err := encodeAddresses(c.Addresses)
	if err != nil {
		return nil, err
	}
	q := `
INSERT INTO customers (email, password_hash, first_name, last_name, phone, addresses)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + customerColumns
	created, err := scanCustomer(r.pool.QueryRow(ctx, q,
		strings.ToLower(c.Email), c.PasswordHash, c.FirstName, c.LastName, c.Phone, addrJSON))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrAlreadyExists
		}
		r.logger.Error("create customer", zap.Error(err))
		return nil, err
	}
	return created, nil
}

func (r *postgresRepo) GetByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	q := `SELECT ` + customerColumns + ` FROM customers WHERE lower(email) = lower($1) LIMIT 1`
	return r.get(ctx, q, strings.TrimSpace(email))
}

func (r *postgresRepo) GetByID(ctx context.Context, id string) (*domain.Customer, error) {
	q := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`
	return r.get(ctx, q, id)
}

func (r *postgresRepo) ReplaceAddresses(ctx context.Context, id string, addresses []domain.Address) (*domain.Customer, error) {
	addrJSON, err := encodeAddresses(addresses)
	if err != nil {
		return nil, err
	}
	q := `UPDATE customers SET addresses = $2, updated_at = now() WHERE id = $1 RETURNING ` + customerColumns
	return r.get(ctx, q, id, addrJSON)
}

func (r *postgresRepo) get(ctx context.Context, q string, args ...any) (*domain.Customer, error) {
	c, err := scanCustomer(r.pool.QueryRow(ctx, q, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.Error("query customer", zap.Error(err))
		return nil, err
	}
	return c, nil
}

func encodeAddresses(addresses []domain.Address) ([]byte, error) {
	if addresses == nil {
		addresses = []domain.Address{}
	}
	return json.Marshal(addresses)
}

func scanCustomer(row pgx.Row) (*domain.Customer, error) {
	var c domain.Customer
	var addrJSON []byte
	if err := row.Scan(&c.ID, &c.Email, &c.PasswordHash, &c.FirstName, &c.LastName, &c.Phone, &addrJSON, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Addresses = []domain.Address{}
	if len(addrJSON) > 0 {
		if err := json.Unmarshal(addrJSON, &c.Addresses); err != nil {
			return nil, fmt.Errorf("decode addresses of %s: %w", c.ID, err)
		}
	}
	return &c, nil
}
