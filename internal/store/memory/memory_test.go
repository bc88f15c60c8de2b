package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"restopos/backend/internal/domain"
	"restopos/backend/internal/store"
)

func saleOf(lines ...domain.SaleLine) domain.Sale {
	return domain.Sale{
		Lines:         lines,
		PaymentMethod: domain.PaymentMethodCash,
		Cashier:       "cashier",
	}
}

func TestCommitSaleDecrementsStockAndNumbersSales(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	first, err := s.CommitSale(ctx, saleOf(
		domain.SaleLine{ProductID: "prod-churrasco", Name: "Churrasco", UnitPriceCents: 2400, Qty: 2},
	))
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if first.Number != 1 {
		t.Fatalf("expected sale number 1, got %d", first.Number)
	}
	if first.TotalCents != 4800 {
		t.Fatalf("expected total 4800, got %d", first.TotalCents)
	}
	if first.CustomerLabel != domain.DefaultCustomerLabel {
		t.Fatalf("expected default customer label, got %q", first.CustomerLabel)
	}

	product, err := s.GetProduct(ctx, "prod-churrasco")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.Stock != 16 {
		t.Fatalf("expected stock 16 after sale, got %d", product.Stock)
	}

	second, err := s.CommitSale(ctx, saleOf(
		domain.SaleLine{ProductID: "prod-cafe", Name: "Café Americano", UnitPriceCents: 180, Qty: 1},
	))
	if err != nil {
		t.Fatalf("second commit failed: %v", err)
	}
	if second.Number != 2 {
		t.Fatalf("expected sale number 2, got %d", second.Number)
	}
}

func TestCommitSaleUnderflowLeavesNothingApplied(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	_, err := s.CommitSale(ctx, saleOf(
		domain.SaleLine{ProductID: "prod-flan", Name: "Flan de Caramelo", UnitPriceCents: 400, Qty: 2},
		domain.SaleLine{ProductID: "prod-tresleches", Name: "Torta Tres Leches", UnitPriceCents: 500, Qty: 17},
	))
	if !errors.Is(err, store.ErrStockUnderflow) {
		t.Fatalf("expected ErrStockUnderflow, got %v", err)
	}

	flan, err := s.GetProduct(ctx, "prod-flan")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if flan.Stock != 22 {
		t.Fatalf("expected first line untouched after failed commit, got stock %d", flan.Stock)
	}
}

func TestCommitSaleUnknownProductRejected(t *testing.T) {
	s := NewSeeded()

	_, err := s.CommitSale(context.Background(), saleOf(
		domain.SaleLine{ProductID: "prod-fantasma", Name: "Fantasma", UnitPriceCents: 100, Qty: 1},
	))
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancelSaleRestoresStockOnce(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	sale, err := s.CommitSale(ctx, saleOf(
		domain.SaleLine{ProductID: "prod-bandeja", Name: "Bandeja Paisa", UnitPriceCents: 1850, Qty: 3},
	))
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	cancelled, err := s.CancelSale(ctx, sale.ID, domain.Cancellation{
		CancelledAt: time.Now().UTC(),
		CancelledBy: "admin",
		Reason:      "orden equivocada",
	})
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Cancellation == nil {
		t.Fatalf("expected cancellation overlay to be set")
	}

	product, err := s.GetProduct(ctx, "prod-bandeja")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.Stock != 25 {
		t.Fatalf("expected stock restored to 25, got %d", product.Stock)
	}

	_, err = s.CancelSale(ctx, sale.ID, domain.Cancellation{
		CancelledAt: time.Now().UTC(),
		CancelledBy: "admin",
		Reason:      "second attempt",
	})
	if !errors.Is(err, store.ErrSaleCancelled) {
		t.Fatalf("expected ErrSaleCancelled on second cancel, got %v", err)
	}

	product, err = s.GetProduct(ctx, "prod-bandeja")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.Stock != 25 {
		t.Fatalf("expected stock unchanged after rejected cancel, got %d", product.Stock)
	}
}

func TestCancelSaleRestoresStockOfSoftDeletedProduct(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	sale, err := s.CommitSale(ctx, saleOf(
		domain.SaleLine{ProductID: "prod-limonada", Name: "Limonada Natural", UnitPriceCents: 250, Qty: 5},
	))
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	if _, err := s.SetProductDeleted(ctx, "prod-limonada", true, time.Now().UTC()); err != nil {
		t.Fatalf("soft delete failed: %v", err)
	}

	if _, err := s.CancelSale(ctx, sale.ID, domain.Cancellation{
		CancelledAt: time.Now().UTC(),
		CancelledBy: "admin",
	}); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	product, err := s.GetProduct(ctx, "prod-limonada")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.Stock != 60 {
		t.Fatalf("expected stock restored onto soft-deleted product, got %d", product.Stock)
	}
	if !product.Deleted {
		t.Fatalf("expected product to stay soft-deleted")
	}
}

func TestListSalesFiltersCancelled(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	kept, err := s.CommitSale(ctx, saleOf(
		domain.SaleLine{ProductID: "prod-cafe", Name: "Café Americano", UnitPriceCents: 180, Qty: 1},
	))
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	dropped, err := s.CommitSale(ctx, saleOf(
		domain.SaleLine{ProductID: "prod-cafe", Name: "Café Americano", UnitPriceCents: 180, Qty: 1},
	))
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if _, err := s.CancelSale(ctx, dropped.ID, domain.Cancellation{CancelledAt: time.Now().UTC(), CancelledBy: "admin"}); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	sales, err := s.ListSales(ctx, store.SaleFilter{To: time.Now().UTC().Add(time.Minute)})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(sales) != 1 || sales[0].ID != kept.ID {
		t.Fatalf("expected only the live sale, got %d sales", len(sales))
	}

	all, err := s.ListSales(ctx, store.SaleFilter{To: time.Now().UTC().Add(time.Minute), IncludeCancelled: true})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both sales with IncludeCancelled, got %d", len(all))
	}
}

func TestUpdateProductPreservesStockAndDeleteFlag(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	product, err := s.GetProduct(ctx, "prod-empanadas")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}

	edited := *product
	edited.Name = "Empanadas x6"
	edited.PriceCents = 800
	edited.Stock = 9999

	updated, err := s.UpdateProduct(ctx, edited)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.PriceCents != 800 {
		t.Fatalf("expected price 800, got %d", updated.PriceCents)
	}
	if updated.Stock != 45 {
		t.Fatalf("expected stock to stay 45, got %d", updated.Stock)
	}
}

func TestCreateCategoryRejectsDuplicateName(t *testing.T) {
	s := NewSeeded()

	_, err := s.CreateCategory(context.Background(), domain.Category{Name: "bebidas"})
	if !errors.Is(err, store.ErrInvalidSale) {
		t.Fatalf("expected duplicate category name to be rejected, got %v", err)
	}
}

func TestDeleteCartsByOwner(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.CreateCart(ctx, domain.Cart{ID: "cart-a", Owner: "cashier"}); err != nil {
		t.Fatalf("create cart failed: %v", err)
	}
	if _, err := s.CreateCart(ctx, domain.Cart{ID: "cart-b", Owner: "admin"}); err != nil {
		t.Fatalf("create cart failed: %v", err)
	}

	if err := s.DeleteCartsByOwner(ctx, "cashier"); err != nil {
		t.Fatalf("delete by owner failed: %v", err)
	}

	if _, err := s.GetCart(ctx, "cart-a"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected cashier cart to be gone, got %v", err)
	}
	if _, err := s.GetCart(ctx, "cart-b"); err != nil {
		t.Fatalf("expected admin cart to survive, got %v", err)
	}
}
