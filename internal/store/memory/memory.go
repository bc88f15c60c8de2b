package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"restopos/backend/internal/domain"
	"restopos/backend/internal/store"
	"restopos/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	categories      map[string]domain.Category
	carts           map[string]domain.Cart
	salesByID       map[string]*domain.Sale
	saleOrder       []string
	nextSaleNumber  int64
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		categories:      make(map[string]domain.Category),
		carts:           make(map[string]domain.Cart),
		salesByID:       make(map[string]*domain.Sale),
		saleOrder:       make([]string, 0, 128),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	categories := []domain.Category{
		{ID: "cat-bebidas", Name: "Bebidas", Glyph: "🥤", CreatedAt: now},
		{ID: "cat-platos", Name: "Platos Fuertes", Glyph: "🍽️", CreatedAt: now},
		{ID: "cat-entradas", Name: "Entradas", Glyph: "🥗", CreatedAt: now},
		{ID: "cat-postres", Name: "Postres", Glyph: "🍰", CreatedAt: now},
	}
	products := []domain.Product{
		{ID: "prod-limonada", Name: "Limonada Natural", Category: "Bebidas", Glyph: "🍋", PriceCents: 250, Stock: 60},
		{ID: "prod-gaseosa", Name: "Gaseosa 400ml", Category: "Bebidas", Glyph: "🥤", PriceCents: 200, Stock: 80},
		{ID: "prod-cafe", Name: "Café Americano", Category: "Bebidas", Glyph: "☕", PriceCents: 180, Stock: 100},
		{ID: "prod-bandeja", Name: "Bandeja Paisa", Category: "Platos Fuertes", Glyph: "🍛", PriceCents: 1850, Stock: 25},
		{ID: "prod-churrasco", Name: "Churrasco", Category: "Platos Fuertes", Glyph: "🥩", PriceCents: 2400, Stock: 18},
		{ID: "prod-pollo", Name: "Pollo a la Plancha", Category: "Platos Fuertes", Glyph: "🍗", PriceCents: 1600, Stock: 30},
		{ID: "prod-empanadas", Name: "Empanadas x3", Category: "Entradas", Glyph: "🥟", PriceCents: 450, Stock: 45},
		{ID: "prod-patacones", Name: "Patacones con Hogao", Category: "Entradas", Glyph: "🍌", PriceCents: 550, Stock: 40},
		{ID: "prod-flan", Name: "Flan de Caramelo", Category: "Postres", Glyph: "🍮", PriceCents: 400, Stock: 22},
		{ID: "prod-tresleches", Name: "Torta Tres Leches", Category: "Postres", Glyph: "🍰", PriceCents: 500, Stock: 16},
	}

	s := New()
	for _, c := range categories {
		s.categories[c.ID] = c
	}
	for _, p := range products {
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
	}
	return s
}

func (s *Store) ListProducts(_ context.Context, includeDeleted bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.Deleted && !includeDeleted {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || product.PriceCents < 0 || product.Stock < 0 {
		return nil, store.ErrInvalidSale
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrInvalidSale
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now
	product.Deleted = false

	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.Name == "" || product.PriceCents < 0 {
		return nil, store.ErrInvalidSale
	}
	existing, exists := s.products[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}

	// Stock and the delete flag only change through their dedicated
	// operations.
	product.Stock = existing.Stock
	product.Deleted = existing.Deleted
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()

	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) SetProductDeleted(_ context.Context, id string, deleted bool, at time.Time) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	product.Deleted = deleted
	product.UpdatedAt = at
	s.products[id] = product
	updated := product
	return &updated, nil
}

func (s *Store) SetStock(_ context.Context, id string, qty int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if qty < 0 {
		return store.ErrStockUnderflow
	}
	product, exists := s.products[id]
	if !exists {
		return store.ErrNotFound
	}
	product.Stock = qty
	product.UpdatedAt = at
	s.products[id] = product
	return nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		categories = append(categories, c)
	}
	slices.SortFunc(categories, func(a, b domain.Category) int {
		return cmpString(a.Name, b.Name)
	})
	return categories, nil
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(category.Name) == "" {
		return nil, store.ErrInvalidSale
	}
	for _, existing := range s.categories {
		if strings.EqualFold(existing.Name, category.Name) {
			return nil, store.ErrInvalidSale
		}
	}
	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	if category.CreatedAt.IsZero() {
		category.CreatedAt = time.Now().UTC()
	}
	s.categories[category.ID] = category
	created := category
	return &created, nil
}

func (s *Store) DeleteCategory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.categories[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.categories, id)
	return nil
}

func (s *Store) CreateCart(_ context.Context, cart domain.Cart) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cart.ID == "" {
		cart.ID = xid.New("cart")
	}
	if _, exists := s.carts[cart.ID]; exists {
		return nil, store.ErrInvalidSale
	}
	now := time.Now().UTC()
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	cart.UpdatedAt = now
	if cart.Lines == nil {
		cart.Lines = []domain.CartLine{}
	}
	s.carts[cart.ID] = cloneCart(cart)
	created := cloneCart(cart)
	return &created, nil
}

func (s *Store) GetCart(_ context.Context, id string) (*domain.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cart, exists := s.carts[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCart := cloneCart(cart)
	return &copyCart, nil
}

func (s *Store) SaveCart(_ context.Context, cart domain.Cart) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.carts[cart.ID]; !exists {
		return nil, store.ErrNotFound
	}
	cart.UpdatedAt = time.Now().UTC()
	if cart.Lines == nil {
		cart.Lines = []domain.CartLine{}
	}
	s.carts[cart.ID] = cloneCart(cart)
	saved := cloneCart(cart)
	return &saved, nil
}

func (s *Store) DeleteCart(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.carts, id)
	return nil
}

func (s *Store) DeleteCartsByOwner(_ context.Context, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, cart := range s.carts {
		if cart.Owner == owner {
			delete(s.carts, id)
		}
	}
	return nil
}

func (s *Store) CommitSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sale.Lines) == 0 {
		return nil, store.ErrInvalidSale
	}

	// Validate every line before touching stock so a failing line
	// leaves nothing applied.
	total := int64(0)
	for _, line := range sale.Lines {
		if line.Qty < 1 {
			return nil, store.ErrInvalidSale
		}
		product, exists := s.products[line.ProductID]
		if !exists {
			return nil, fmt.Errorf("product %s: %w", line.ProductID, store.ErrNotFound)
		}
		if product.Stock-line.Qty < 0 {
			return nil, fmt.Errorf("product %s: %w", line.ProductID, store.ErrStockUnderflow)
		}
		total += line.ExtensionCents()
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if sale.CustomerLabel == "" {
		sale.CustomerLabel = domain.DefaultCustomerLabel
	}
	sale.TotalCents = total
	sale.Cancellation = nil
	s.nextSaleNumber++
	sale.Number = s.nextSaleNumber

	now := sale.CreatedAt
	for _, line := range sale.Lines {
		product := s.products[line.ProductID]
		product.Stock -= line.Qty
		product.UpdatedAt = now
		s.products[line.ProductID] = product
	}

	saleCopy := cloneSale(&sale)
	s.salesByID[sale.ID] = saleCopy
	s.saleOrder = append(s.saleOrder, sale.ID)

	return cloneSale(saleCopy), nil
}

func (s *Store) CancelSale(_ context.Context, id string, cancellation domain.Cancellation) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sale.Cancellation != nil {
		return nil, store.ErrSaleCancelled
	}

	// Stock is restored even for products soft-deleted since the sale.
	for _, line := range sale.Lines {
		product, exists := s.products[line.ProductID]
		if !exists {
			continue
		}
		product.Stock += line.Qty
		product.UpdatedAt = cancellation.CancelledAt
		s.products[line.ProductID] = product
	}

	overlay := cancellation
	sale.Cancellation = &overlay

	return cloneSale(sale), nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.saleOrder))
	for _, id := range s.saleOrder {
		sale := s.salesByID[id]
		if sale.Cancellation != nil && !filter.IncludeCancelled {
			continue
		}
		if filter.From != nil && sale.CreatedAt.Before(*filter.From) {
			continue
		}
		if !filter.To.IsZero() && sale.CreatedAt.After(filter.To) {
			continue
		}
		sales = append(sales, *cloneSale(sale))
	}
	return sales, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("aud")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && entry.CreatedAt.After(to) {
			continue
		}
		logs = append(logs, entry)
		if limit > 0 && len(logs) >= limit {
			break
		}
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidSale
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidSale
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidSale
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneCart(src domain.Cart) domain.Cart {
	dup := src
	lines := make([]domain.CartLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	return dup
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	lines := make([]domain.SaleLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	if src.Cancellation != nil {
		overlay := *src.Cancellation
		dup.Cancellation = &overlay
	}
	return &dup
}
