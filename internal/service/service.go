package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"restopos/backend/internal/cache"
	"restopos/backend/internal/domain"
	"restopos/backend/internal/store"
	"restopos/backend/internal/tender"
	"restopos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo       store.Repository
	summaries  cache.SummaryCache
	summaryTTL time.Duration
	logger     zerolog.Logger
}

func New(repo store.Repository, summaries cache.SummaryCache, logger zerolog.Logger) *Service {
	if summaries == nil {
		summaries = cache.NoopSummaryCache{}
	}

	return &Service{
		repo:       repo,
		summaries:  summaries,
		summaryTTL: 15 * time.Second,
		logger:     logger,
	}
}

func (s *Service) ListProducts(ctx context.Context, includeDeleted bool) ([]domain.Product, error) {
	if includeDeleted {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
	}
	return s.repo.ListProducts(ctx, includeDeleted)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" {
		return domain.Product{}, store.ErrInvalidSale
	}
	if req.PriceCents < 0 || req.Stock < 0 {
		return domain.Product{}, store.ErrInvalidSale
	}

	product := domain.Product{
		ID:         xid.New("prod"),
		Name:       req.Name,
		Category:   req.Category,
		Glyph:      req.Glyph,
		PriceCents: req.PriceCents,
		Stock:      req.Stock,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("name=%s,price=%d,stock=%d", created.Name, created.PriceCents, created.Stock))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, store.ErrInvalidSale
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidSale
		}
		updated.Name = name
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.Glyph != nil {
		updated.Glyph = *req.Glyph
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 0 {
			return domain.Product{}, store.ErrInvalidSale
		}
		updated.PriceCents = *req.PriceCents
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_update", "product", saved.ID, fmt.Sprintf("name=%s,price=%d", saved.Name, saved.PriceCents))
	return *saved, nil
}

// DeleteProduct hides the product from sales views. The record stays
// so old sale lines keep resolving and cancellations can restore its
// stock.
func (s *Service) DeleteProduct(ctx context.Context, id string) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	deleted, err := s.repo.SetProductDeleted(ctx, id, true, time.Now().UTC())
	if err != nil {
		return domain.Product{}, err
	}
	s.logAudit(ctx, "product_delete", "product", id, "soft delete")
	return *deleted, nil
}

func (s *Service) RestoreProduct(ctx context.Context, id string) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	restored, err := s.repo.SetProductDeleted(ctx, id, false, time.Now().UTC())
	if err != nil {
		return domain.Product{}, err
	}
	s.logAudit(ctx, "product_restore", "product", id, "restore")
	return *restored, nil
}

func (s *Service) SetStock(ctx context.Context, id string, qty int) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	if qty < 0 {
		return store.ErrStockUnderflow
	}

	if err := s.repo.SetStock(ctx, id, qty, time.Now().UTC()); err != nil {
		return err
	}
	s.logAudit(ctx, "stock_set", "product", id, fmt.Sprintf("stock=%d", qty))
	return nil
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryCreateRequest) (domain.Category, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Category{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Category{}, store.ErrInvalidSale
	}

	created, err := s.repo.CreateCategory(ctx, domain.Category{
		ID:        xid.New("cat"),
		Name:      req.Name,
		Glyph:     req.Glyph,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.Category{}, err
	}

	s.logAudit(ctx, "category_create", "category", created.ID, "name="+created.Name)
	return *created, nil
}

// DeleteCategory detaches the name from future products only; sale
// line snapshots and existing products keep the text they carry.
func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}

	if err := s.repo.DeleteCategory(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "category_delete", "category", id, "")
	return nil
}

func (s *Service) CreateCart(ctx context.Context) (domain.Cart, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Cart{}, fmt.Errorf("authenticated user required")
	}

	created, err := s.repo.CreateCart(ctx, domain.Cart{
		ID:    xid.New("cart"),
		Owner: actor.Username,
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return *created, nil
}

func (s *Service) GetCart(ctx context.Context, cartID string) (domain.Cart, error) {
	cart, err := s.ownedCart(ctx, cartID)
	if err != nil {
		return domain.Cart{}, err
	}
	return *cart, nil
}

// AddToCart is the stock-ceiling add: an existing line increments only
// while the next unit still fits under current stock, a new line needs
// at least one unit on hand. The catalog itself is untouched until
// checkout.
func (s *Service) AddToCart(ctx context.Context, cartID string, productID string) (domain.Cart, error) {
	cart, err := s.ownedCart(ctx, cartID)
	if err != nil {
		return domain.Cart{}, err
	}

	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return domain.Cart{}, err
	}
	if product.Deleted {
		return domain.Cart{}, store.ErrNotFound
	}

	idx := findLine(cart.Lines, productID)
	if idx >= 0 {
		if cart.Lines[idx].Qty+1 > product.Stock {
			return domain.Cart{}, store.ErrInsufficientStock
		}
		cart.Lines[idx].Qty++
	} else {
		if product.Stock < 1 {
			return domain.Cart{}, store.ErrOutOfStock
		}
		cart.Lines = append(cart.Lines, domain.CartLine{
			ProductID:      product.ID,
			Name:           product.Name,
			Glyph:          product.Glyph,
			UnitPriceCents: product.PriceCents,
			Qty:            1,
		})
	}

	saved, err := s.repo.SaveCart(ctx, *cart)
	if err != nil {
		return domain.Cart{}, err
	}
	return *saved, nil
}

// RemoveFromCart deletes the line unconditionally; a missing line is
// not an error.
func (s *Service) RemoveFromCart(ctx context.Context, cartID string, productID string) (domain.Cart, error) {
	cart, err := s.ownedCart(ctx, cartID)
	if err != nil {
		return domain.Cart{}, err
	}

	idx := findLine(cart.Lines, productID)
	if idx < 0 {
		return *cart, nil
	}
	cart.Lines = append(cart.Lines[:idx], cart.Lines[idx+1:]...)

	saved, err := s.repo.SaveCart(ctx, *cart)
	if err != nil {
		return domain.Cart{}, err
	}
	return *saved, nil
}

// AdjustQuantity applies the delta whole or not at all: a result of
// zero or below, or above the stock read at call time, rejects the
// adjustment and leaves the line unchanged.
func (s *Service) AdjustQuantity(ctx context.Context, cartID string, productID string, delta int) (domain.Cart, error) {
	cart, err := s.ownedCart(ctx, cartID)
	if err != nil {
		return domain.Cart{}, err
	}

	idx := findLine(cart.Lines, productID)
	if idx < 0 {
		return domain.Cart{}, store.ErrNotFound
	}

	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return domain.Cart{}, err
	}

	next := cart.Lines[idx].Qty + delta
	if next <= 0 {
		return domain.Cart{}, store.ErrInvalidSale
	}
	if next > product.Stock {
		return domain.Cart{}, store.ErrInsufficientStock
	}
	cart.Lines[idx].Qty = next

	saved, err := s.repo.SaveCart(ctx, *cart)
	if err != nil {
		return domain.Cart{}, err
	}
	return *saved, nil
}

func (s *Service) ClearCart(ctx context.Context, cartID string) (domain.Cart, error) {
	cart, err := s.ownedCart(ctx, cartID)
	if err != nil {
		return domain.Cart{}, err
	}

	cart.Lines = []domain.CartLine{}
	saved, err := s.repo.SaveCart(ctx, *cart)
	if err != nil {
		return domain.Cart{}, err
	}
	return *saved, nil
}

// ReleaseCarts drops every cart owned by the user, called on logout.
func (s *Service) ReleaseCarts(ctx context.Context, owner string) error {
	return s.repo.DeleteCartsByOwner(ctx, owner)
}

// Checkout validates the tender against the recomputed cart total,
// then commits the sale and the stock decrements as one atomic step.
// On success the cart is cleared; on any failure neither the ledger
// nor the stock has changed.
func (s *Service) Checkout(ctx context.Context, cartID string, req domain.CheckoutRequest) (domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Sale{}, fmt.Errorf("authenticated user required")
	}

	cart, err := s.ownedCart(ctx, cartID)
	if err != nil {
		return domain.Sale{}, err
	}
	if len(cart.Lines) == 0 {
		return domain.Sale{}, store.ErrInvalidSale
	}

	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentMethodCash
	}

	totalCents := cart.TotalCents()
	breakdown, err := tender.Compute(req.PaymentMethod, totalCents, tender.Amounts{
		CashReceivedCents: req.CashReceivedCents,
		CashPartCents:     req.CashPartCents,
		TransferPartCents: req.TransferPartCents,
	})
	if err != nil {
		return domain.Sale{}, err
	}

	lines := make([]domain.SaleLine, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		lines = append(lines, domain.SaleLine{
			ProductID:      line.ProductID,
			Name:           line.Name,
			Glyph:          line.Glyph,
			UnitPriceCents: line.UnitPriceCents,
			Qty:            line.Qty,
		})
	}

	sale := domain.Sale{
		ID:                xid.New("sale"),
		Lines:             lines,
		TotalCents:        breakdown.TotalCents,
		PaymentMethod:     breakdown.Method,
		ReceivedCents:     breakdown.ReceivedCents,
		ChangeCents:       breakdown.ChangeCents,
		CashPartCents:     breakdown.CashPartCents,
		TransferPartCents: breakdown.TransferPartCents,
		Cashier:           actor.Username,
		CustomerLabel:     strings.TrimSpace(req.CustomerLabel),
		CreatedAt:         time.Now().UTC(),
	}

	created, err := s.repo.CommitSale(ctx, sale)
	if err != nil {
		return domain.Sale{}, err
	}

	if _, err := s.repo.SaveCart(ctx, domain.Cart{ID: cart.ID, Owner: cart.Owner, CreatedAt: cart.CreatedAt, Lines: []domain.CartLine{}}); err != nil {
		s.logger.Warn().Err(err).Str("cart_id", cart.ID).Msg("failed to clear cart after checkout")
	}
	s.invalidateSummaries(ctx)

	s.logAudit(ctx, "sale_commit", "sale", created.ID, fmt.Sprintf("number=%d,total=%d,method=%s", created.Number, created.TotalCents, created.PaymentMethod))
	return *created, nil
}

// CancelSale sets the cancellation overlay once and restores the sold
// stock. A second cancel on the same sale fails.
func (s *Service) CancelSale(ctx context.Context, saleID string, reason string) (domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Sale{}, fmt.Errorf("authenticated user required")
	}

	cancelled, err := s.repo.CancelSale(ctx, saleID, domain.Cancellation{
		CancelledAt: time.Now().UTC(),
		CancelledBy: actor.Username,
		Reason:      strings.TrimSpace(reason),
	})
	if err != nil {
		return domain.Sale{}, err
	}
	s.invalidateSummaries(ctx)

	s.logAudit(ctx, "sale_cancel", "sale", saleID, "reason="+reason)
	return *cancelled, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, window string, includeCancelled bool) ([]domain.Sale, error) {
	filter, err := windowFilter(window, time.Now().UTC(), includeCancelled)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, filter)
}

// SalesSummary recomputes counts, revenue, and the per-product
// quantity/revenue aggregation from the sale records on each query.
// Totals come from the stored line snapshots, so later price edits
// never move past numbers. Cancelled sales are excluded unless the
// caller asks for them; when asked, their totals count toward revenue
// and the per-product aggregation alongside CancelledCount.
func (s *Service) SalesSummary(ctx context.Context, window string, includeCancelled bool) (domain.SalesSummary, error) {
	now := time.Now().UTC()
	filter, err := windowFilter(window, now, includeCancelled)
	if err != nil {
		return domain.SalesSummary{}, err
	}

	cacheKey := fmt.Sprintf("%s:%t", window, includeCancelled)
	if cached, ok, cacheErr := s.summaries.Get(ctx, cacheKey); cacheErr == nil && ok {
		return *cached, nil
	}

	sales, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return domain.SalesSummary{}, err
	}

	summary := domain.SalesSummary{
		Window:           window,
		From:             filter.From,
		To:               filter.To,
		IncludeCancelled: includeCancelled,
	}

	byProduct := make(map[string]*domain.ProductSales)
	for _, sale := range sales {
		if sale.Cancelled() {
			summary.CancelledCount++
		} else {
			summary.SaleCount++
		}
		summary.RevenueCents += sale.TotalCents
		for _, line := range sale.Lines {
			agg, exists := byProduct[line.ProductID]
			if !exists {
				agg = &domain.ProductSales{ProductID: line.ProductID, Name: line.Name}
				byProduct[line.ProductID] = agg
			}
			agg.Qty += line.Qty
			agg.RevenueCents += line.ExtensionCents()
		}
	}

	summary.ByProduct = make([]domain.ProductSales, 0, len(byProduct))
	for _, agg := range byProduct {
		summary.ByProduct = append(summary.ByProduct, *agg)
	}
	sort.Slice(summary.ByProduct, func(i, j int) bool {
		if summary.ByProduct[i].RevenueCents == summary.ByProduct[j].RevenueCents {
			return summary.ByProduct[i].ProductID < summary.ByProduct[j].ProductID
		}
		return summary.ByProduct[i].RevenueCents > summary.ByProduct[j].RevenueCents
	})

	if err := s.summaries.Set(ctx, cacheKey, &summary, s.summaryTTL); err != nil {
		s.logger.Warn().Err(err).Str("window", window).Msg("failed to cache sales summary")
	}
	return summary, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) ownedCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authenticated user required")
	}

	cart, err := s.repo.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if cart.Owner != actor.Username && actor.Role != "admin" {
		return nil, store.ErrNotFound
	}
	return cart, nil
}

func (s *Service) invalidateSummaries(ctx context.Context) {
	if err := s.summaries.Invalidate(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("failed to invalidate summary cache")
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("aud"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		s.logger.Warn().Err(err).Str("action", action).Str("entity", entityType+"/"+entityID).Msg("failed to write audit log")
	}

	s.logger.Info().
		Str("actor", actor.Username).
		Str("role", actor.Role).
		Str("action", action).
		Str("entity_type", entityType).
		Str("entity_id", entityID).
		Msg("audit")
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}
	return nil
}

func findLine(lines []domain.CartLine, productID string) int {
	for i, line := range lines {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}

// windowFilter resolves a report window name into a concrete range.
// Weeks start on Monday.
func windowFilter(window string, now time.Time, includeCancelled bool) (store.SaleFilter, error) {
	filter := store.SaleFilter{To: now, IncludeCancelled: includeCancelled}
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch window {
	case "", domain.WindowAll:
		return filter, nil
	case domain.WindowToday:
		filter.From = &startOfDay
	case domain.WindowWeek:
		offset := (int(now.Weekday()) + 6) % 7
		start := startOfDay.AddDate(0, 0, -offset)
		filter.From = &start
	case domain.WindowMonth:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		filter.From = &start
	default:
		return store.SaleFilter{}, fmt.Errorf("unsupported window %q", window)
	}
	return filter, nil
}
