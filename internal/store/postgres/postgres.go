package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"restopos/backend/internal/domain"
	"restopos/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context, includeDeleted bool) ([]domain.Product, error) {
	query := `
		SELECT id, name, category, glyph, price_cents, stock_qty, deleted, created_at, updated_at
		FROM products
		WHERE deleted = false
		ORDER BY category, name
	`
	if includeDeleted {
		query = `
			SELECT id, name, category, glyph, price_cents, stock_qty, deleted, created_at, updated_at
			FROM products
			ORDER BY category, name
		`
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Glyph, &p.PriceCents, &p.Stock, &p.Deleted, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.PriceCents < 0 || product.Stock < 0 {
		return nil, store.ErrInvalidSale
	}

	now := time.Now().UTC()
	product.Deleted = false
	product.CreatedAt = now
	product.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, glyph, price_cents, stock_qty, deleted, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,false,$7,$7)
	`, product.ID, product.Name, product.Category, product.Glyph, product.PriceCents, product.Stock, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidSale
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, glyph, price_cents, stock_qty, deleted, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.Name, &product.Category, &product.Glyph, &product.PriceCents, &product.Stock, &product.Deleted, &product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.PriceCents < 0 {
		return nil, store.ErrInvalidSale
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, glyph = $4, price_cents = $5, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.Category, product.Glyph, product.PriceCents)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	return s.GetProduct(ctx, product.ID)
}

func (s *Store) SetProductDeleted(ctx context.Context, id string, deleted bool, at time.Time) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET deleted = $2, updated_at = $3
		WHERE id = $1
	`, id, deleted, at)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	return s.GetProduct(ctx, id)
}

func (s *Store) SetStock(ctx context.Context, id string, qty int, at time.Time) error {
	if qty < 0 {
		return store.ErrStockUnderflow
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET stock_qty = $2, updated_at = $3
		WHERE id = $1
	`, id, qty, at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, glyph, created_at
		FROM categories
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 16)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Glyph, &c.CreatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	if category.ID == "" || strings.TrimSpace(category.Name) == "" {
		return nil, store.ErrInvalidSale
	}
	if category.CreatedAt.IsZero() {
		category.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, glyph, created_at)
		VALUES ($1,$2,$3,$4)
	`, category.ID, category.Name, category.Glyph, category.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidSale
		}
		return nil, err
	}

	created := category
	return &created, nil
}

func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Cart lines are stored as a jsonb document; carts are short-lived
// session state, not reporting data.
func (s *Store) CreateCart(ctx context.Context, cart domain.Cart) (*domain.Cart, error) {
	if cart.ID == "" || cart.Owner == "" {
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

	payload, err := json.Marshal(cart.Lines)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO carts (id, owner, lines, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
	`, cart.ID, cart.Owner, payload, cart.CreatedAt, cart.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidSale
		}
		return nil, err
	}

	created := cart
	return &created, nil
}

func (s *Store) GetCart(ctx context.Context, id string) (*domain.Cart, error) {
	var cart domain.Cart
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner, lines, created_at, updated_at
		FROM carts
		WHERE id = $1
	`, id).Scan(&cart.ID, &cart.Owner, &payload, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(payload, &cart.Lines); err != nil {
		return nil, err
	}
	if cart.Lines == nil {
		cart.Lines = []domain.CartLine{}
	}
	return &cart, nil
}

func (s *Store) SaveCart(ctx context.Context, cart domain.Cart) (*domain.Cart, error) {
	if cart.Lines == nil {
		cart.Lines = []domain.CartLine{}
	}
	payload, err := json.Marshal(cart.Lines)
	if err != nil {
		return nil, err
	}

	cart.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE carts
		SET lines = $2, updated_at = $3
		WHERE id = $1
	`, cart.ID, payload, cart.UpdatedAt)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	saved := cart
	return &saved, nil
}

func (s *Store) DeleteCart(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM carts WHERE id = $1`, id)
	return err
}

func (s *Store) DeleteCartsByOwner(ctx context.Context, owner string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM carts WHERE owner = $1`, owner)
	return err
}

// CommitSale runs the ledger append and the stock decrements inside one
// serializable transaction. The decrement uses a check-and-set guard
// (stock_qty >= qty) so two terminals selling the last unit cannot both
// succeed; the losing commit rolls back whole.
func (s *Store) CommitSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Lines) == 0 {
		return nil, store.ErrInvalidSale
	}
	if sale.ID == "" {
		return nil, store.ErrInvalidSale
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if sale.CustomerLabel == "" {
		sale.CustomerLabel = domain.DefaultCustomerLabel
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	total := int64(0)
	for _, line := range sale.Lines {
		if line.Qty < 1 {
			return nil, store.ErrInvalidSale
		}

		res, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock_qty = stock_qty - $1, updated_at = $2
			WHERE id = $3 AND stock_qty >= $1
		`, line.Qty, sale.CreatedAt, line.ProductID)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			var exists bool
			if err := pgTx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, line.ProductID).Scan(&exists); err != nil {
				return nil, err
			}
			if !exists {
				return nil, fmt.Errorf("product %s: %w", line.ProductID, store.ErrNotFound)
			}
			return nil, fmt.Errorf("product %s: %w", line.ProductID, store.ErrStockUnderflow)
		}

		total += line.ExtensionCents()
	}
	sale.TotalCents = total

	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO sales (
			id, lines_total_cents, payment_method, received_cents, change_cents,
			cash_part_cents, transfer_part_cents, cashier, customer_label, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING number
	`, sale.ID, sale.TotalCents, sale.PaymentMethod, sale.ReceivedCents, sale.ChangeCents,
		sale.CashPartCents, sale.TransferPartCents, sale.Cashier, sale.CustomerLabel, sale.CreatedAt).Scan(&sale.Number)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidSale
		}
		return nil, err
	}

	for i, line := range sale.Lines {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, position, product_id, name, glyph, unit_price_cents, qty)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, sale.ID, i, line.ProductID, line.Name, line.Glyph, line.UnitPriceCents, line.Qty)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	sale.Cancellation = nil
	return &sale, nil
}

// CancelSale sets the cancellation overlay once and restores the sold
// quantities, including onto soft-deleted products.
func (s *Store) CancelSale(ctx context.Context, id string, cancellation domain.Cancellation) (*domain.Sale, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var cancelledAt sql.NullTime
	err = pgTx.QueryRowContext(ctx, `
		SELECT cancelled_at
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&cancelledAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if cancelledAt.Valid {
		return nil, store.ErrSaleCancelled
	}

	itemRows, err := pgTx.QueryContext(ctx, `
		SELECT product_id, qty
		FROM sale_items
		WHERE sale_id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	type restock struct {
		productID string
		qty       int
	}
	items := make([]restock, 0, 8)
	for itemRows.Next() {
		var item restock
		if err := itemRows.Scan(&item.productID, &item.qty); err != nil {
			_ = itemRows.Close()
			return nil, err
		}
		items = append(items, item)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return nil, err
	}
	_ = itemRows.Close()

	for _, item := range items {
		_, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock_qty = stock_qty + $1, updated_at = $2
			WHERE id = $3
		`, item.qty, cancellation.CancelledAt, item.productID)
		if err != nil {
			return nil, err
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE sales
		SET cancelled_at = $2, cancelled_by = $3, cancel_reason = $4
		WHERE id = $1 AND cancelled_at IS NULL
	`, id, cancellation.CancelledAt, cancellation.CancelledBy, cancellation.Reason)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return s.GetSale(ctx, id)
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, number, lines_total_cents, payment_method, received_cents, change_cents,
			cash_part_cents, transfer_part_cents, cashier, customer_label, created_at,
			cancelled_at, cancelled_by, cancel_reason
		FROM sales
		WHERE id = $1
	`, id)

	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	lines, err := s.loadSaleItems(ctx, []string{sale.ID})
	if err != nil {
		return nil, err
	}
	sale.Lines = lines[sale.ID]
	return sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	query := `
		SELECT id, number, lines_total_cents, payment_method, received_cents, change_cents,
			cash_part_cents, transfer_part_cents, cashier, customer_label, created_at,
			cancelled_at, cancelled_by, cancel_reason
		FROM sales
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
			AND ($2::timestamptz IS NULL OR created_at <= $2)
			AND ($3::boolean OR cancelled_at IS NULL)
		ORDER BY number ASC
	`

	var to any
	if !filter.To.IsZero() {
		to = filter.To
	}
	rows, err := s.db.QueryContext(ctx, query, nullTime(filter.From), to, filter.IncludeCancelled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	ids := make([]string, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return sales, nil
	}
	lines, err := s.loadSaleItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Lines = lines[sales[i].ID]
	}
	return sales, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	var cancelledAt sql.NullTime
	var cancelledBy sql.NullString
	var cancelReason sql.NullString
	err := row.Scan(
		&sale.ID, &sale.Number, &sale.TotalCents, &sale.PaymentMethod, &sale.ReceivedCents,
		&sale.ChangeCents, &sale.CashPartCents, &sale.TransferPartCents, &sale.Cashier,
		&sale.CustomerLabel, &sale.CreatedAt, &cancelledAt, &cancelledBy, &cancelReason,
	)
	if err != nil {
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	if cancelledAt.Valid {
		sale.Cancellation = &domain.Cancellation{
			CancelledAt: cancelledAt.Time.UTC(),
			CancelledBy: cancelledBy.String,
			Reason:      cancelReason.String,
		}
	}
	return &sale, nil
}

func (s *Store) loadSaleItems(ctx context.Context, saleIDs []string) (map[string][]domain.SaleLine, error) {
	sort.Strings(saleIDs)
	rows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, product_id, name, glyph, unit_price_cents, qty
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, position
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make(map[string][]domain.SaleLine, len(saleIDs))
	for rows.Next() {
		var saleID string
		var line domain.SaleLine
		if err := rows.Scan(&saleID, &line.ProductID, &line.Name, &line.Glyph, &line.UnitPriceCents, &line.Qty); err != nil {
			return nil, err
		}
		lines[saleID] = append(lines[saleID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var fromArg, toArg any
	if !from.IsZero() {
		fromArg = from
	}
	if !to.IsZero() {
		toArg = to
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
			AND ($2::timestamptz IS NULL OR created_at <= $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, fromArg, toArg, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidSale
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidSale
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidSale
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
