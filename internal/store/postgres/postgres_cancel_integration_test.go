package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"restopos/backend/internal/domain"
	"restopos/backend/internal/store"
)

func TestCommitAndCancelSaleRestocksInventory(t *testing.T) {
	databaseURL := os.Getenv("RESTOPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set RESTOPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prod-cancel-it-%d", stamp)
	saleID := fmt.Sprintf("sale-cancel-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	if _, err := s.CreateProduct(ctx, domain.Product{
		ID:         productID,
		Name:       "Producto Integración",
		Category:   "Pruebas",
		PriceCents: 1200,
		Stock:      10,
	}); err != nil {
		t.Fatalf("create product: %v", err)
	}

	sale, err := s.CommitSale(ctx, domain.Sale{
		ID: saleID,
		Lines: []domain.SaleLine{
			{ProductID: productID, Name: "Producto Integración", UnitPriceCents: 1200, Qty: 2},
		},
		PaymentMethod: domain.PaymentMethodCash,
		ReceivedCents: 3000,
		ChangeCents:   600,
		Cashier:       "cashier",
	})
	if err != nil {
		t.Fatalf("commit sale: %v", err)
	}
	if sale.Number < 1 {
		t.Fatalf("expected assigned sale number, got %d", sale.Number)
	}
	if sale.TotalCents != 2400 {
		t.Fatalf("expected total 2400, got %d", sale.TotalCents)
	}
	if sale.CustomerLabel != domain.DefaultCustomerLabel {
		t.Fatalf("expected default customer label, got %q", sale.CustomerLabel)
	}

	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 8 {
		t.Fatalf("expected stock 8 after commit, got %d", product.Stock)
	}

	cancelled, err := s.CancelSale(ctx, saleID, domain.Cancellation{
		CancelledAt: time.Now().UTC(),
		CancelledBy: "admin",
		Reason:      "integration test cancel",
	})
	if err != nil {
		t.Fatalf("cancel sale: %v", err)
	}
	if cancelled.Cancellation == nil {
		t.Fatalf("expected cancellation overlay")
	}

	product, err = s.GetProduct(ctx, productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 10 {
		t.Fatalf("expected stock restored to 10, got %d", product.Stock)
	}

	if _, err := s.CancelSale(ctx, saleID, domain.Cancellation{
		CancelledAt: time.Now().UTC(),
		CancelledBy: "admin",
	}); !errors.Is(err, store.ErrSaleCancelled) {
		t.Fatalf("expected ErrSaleCancelled on second cancel, got %v", err)
	}
}

func TestCommitSaleUnderflowRollsBack(t *testing.T) {
	databaseURL := os.Getenv("RESTOPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set RESTOPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	keptID := fmt.Sprintf("prod-uf-a-%d", stamp)
	shortID := fmt.Sprintf("prod-uf-b-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id IN ($1, $2)`, keptID, shortID)
	})

	for _, p := range []domain.Product{
		{ID: keptID, Name: "Con Stock", PriceCents: 500, Stock: 5},
		{ID: shortID, Name: "Sin Stock", PriceCents: 500, Stock: 1},
	} {
		if _, err := s.CreateProduct(ctx, p); err != nil {
			t.Fatalf("create product %s: %v", p.ID, err)
		}
	}

	_, err = s.CommitSale(ctx, domain.Sale{
		ID: fmt.Sprintf("sale-uf-%d", stamp),
		Lines: []domain.SaleLine{
			{ProductID: keptID, Name: "Con Stock", UnitPriceCents: 500, Qty: 2},
			{ProductID: shortID, Name: "Sin Stock", UnitPriceCents: 500, Qty: 3},
		},
		PaymentMethod: domain.PaymentMethodCash,
		Cashier:       "cashier",
	})
	if !errors.Is(err, store.ErrStockUnderflow) {
		t.Fatalf("expected ErrStockUnderflow, got %v", err)
	}

	product, err := s.GetProduct(ctx, keptID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 5 {
		t.Fatalf("expected first line rolled back to stock 5, got %d", product.Stock)
	}
}
