package order

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"storefront/internal/domain"
	"storefront/internal/migrate"
)

func sampleOrder(number string) domain.Order {
	session := "sess-1"
	addr := domain.Address{FullName: "Ana Lee", Street: "Jl. Merdeka 1", City: "Bandung", PostalCode: "40111", Country: "ID"}
	return domain.Order{
		OrderNumber:     number,
		SessionID:       &session,
		Currency:        "IDR",
		Subtotal:        100000,
		ShippingFee:     15000,
		TotalAmount:     115000,
		OrderStatus:     domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		PaymentMethod:   "VC",
		ShippingAddress: addr,
		BillingAddress:  addr,
		Email:           "ana@example.com",
		Items: []domain.OrderItem{{
			ProductID:   "11111111-1111-1111-1111-111111111111",
			VariantID:   "v1",
			SKU:         "MUG-S",
			ProductName: "Mug",
			VariantName: "Small",
			Quantity:    2,
			UnitPrice:   50000,
			Subtotal:    100000,
		}},
	}
}

func TestPostgres_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	pool := testPool(ctx, t)
	defer pool.Close()
	resetTables(ctx, t, pool)

	repo := NewPostgres(pool)
	created, err := repo.Create(ctx, sampleOrder("ORD-1"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.PaymentInitiated() {
		t.Fatalf("new order must not carry a payment reference")
	}
	if len(created.Items) != 1 || created.Items[0].OrderID != created.ID {
		t.Fatalf("unexpected items %+v", created.Items)
	}

	if _, err := repo.Create(ctx, sampleOrder("ORD-1")); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	found, err := repo.FindByOrderNumber(ctx, "ORD-1")
	if err != nil {
		t.Fatalf("FindByOrderNumber: %v", err)
	}
	if found.ID != created.ID || found.ShippingAddress.City != "Bandung" || found.Items[0].ProductName != "Mug" {
		t.Fatalf("unexpected order %+v", found)
	}

	if _, err := repo.FindByOrderNumber(ctx, "ORD-404"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	withRef, err := repo.SetPaymentDetails(ctx, created.ID, PaymentDetails{Reference: "REF1", PaymentURL: "https://pay/REF1"})
	if err != nil {
		t.Fatalf("SetPaymentDetails: %v", err)
	}
	if !withRef.PaymentInitiated() || *withRef.PaymentURL != "https://pay/REF1" {
		t.Fatalf("payment details not stored %+v", withRef)
	}
}

func TestPostgres_TransitionStatusSingleWinner(t *testing.T) {
	ctx := context.Background()
	pool := testPool(ctx, t)
	defer pool.Close()
	resetTables(ctx, t, pool)

	repo := NewPostgres(pool)
	created, err := repo.Create(ctx, sampleOrder("ORD-2"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	toPaid := StatusTransition{
		PaymentStatus: domain.PaymentStatusPaid,
		OrderStatus:   domain.OrderStatusProcessing,
		AllowedFrom:   domain.PaymentSourcesFor(domain.PaymentStatusPaid),
	}

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, changed, err := repo.TransitionStatus(ctx, created.ID, toPaid)
			if err != nil {
				t.Errorf("TransitionStatus: %v", err)
				return
			}
			if changed {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}

	toFailed := StatusTransition{
		PaymentStatus: domain.PaymentStatusFailed,
		OrderStatus:   domain.OrderStatusCancelled,
		AllowedFrom:   domain.PaymentSourcesFor(domain.PaymentStatusFailed),
	}
	current, changed, err := repo.TransitionStatus(ctx, created.ID, toFailed)
	if err != nil {
		t.Fatalf("TransitionStatus failed: %v", err)
	}
	if changed || current.PaymentStatus != domain.PaymentStatusPaid || current.PaidAt == nil {
		t.Fatalf("paid order must not be downgraded: %+v", current)
	}
	if current.OrderStatus != domain.OrderStatusProcessing {
		t.Fatalf("expected processing, got %s", current.OrderStatus)
	}

	if _, _, err := repo.TransitionStatus(ctx, "00000000-0000-0000-0000-000000000000", toPaid); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgres_OrderNumberIsFrozen(t *testing.T) {
	ctx := context.Background()
	pool := testPool(ctx, t)
	defer pool.Close()
	resetTables(ctx, t, pool)

	repo := NewPostgres(pool)
	created, err := repo.Create(ctx, sampleOrder("ORD-3"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := pool.Exec(ctx, `UPDATE orders SET order_number = 'ORD-X' WHERE id = $1`, created.ID); err == nil {
		t.Fatalf("expected order number update to be rejected")
	}
	if _, err := pool.Exec(ctx, `UPDATE orders SET total_amount = 1 WHERE id = $1`, created.ID); err == nil {
		t.Fatalf("expected total amount update to be rejected")
	}
}

func testPool(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	if _, err := migrate.Apply(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}
	return pool
}

func resetTables(ctx context.Context, t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	if _, err := pool.Exec(ctx, `TRUNCATE order_items, orders, cart_lines, carts, products RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}
