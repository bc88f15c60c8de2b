package store

import (
	"context"
	"errors"
	"time"

	"restopos/backend/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrOutOfStock          = errors.New("out of stock")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrStockUnderflow      = errors.New("stock underflow")
	ErrSaleCancelled       = errors.New("sale already cancelled")
	ErrInvalidSale         = errors.New("invalid sale")
)

// SaleFilter narrows ListSales and aggregation queries. A nil From
// means no lower bound.
type SaleFilter struct {
	From             *time.Time
	To               time.Time
	IncludeCancelled bool
}

type Repository interface {
	ListProducts(ctx context.Context, includeDeleted bool) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	SetProductDeleted(ctx context.Context, id string, deleted bool, at time.Time) (*domain.Product, error)
	SetStock(ctx context.Context, id string, qty int, at time.Time) error

	ListCategories(ctx context.Context) ([]domain.Category, error)
	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	DeleteCategory(ctx context.Context, id string) error

	CreateCart(ctx context.Context, cart domain.Cart) (*domain.Cart, error)
	GetCart(ctx context.Context, id string) (*domain.Cart, error)
	SaveCart(ctx context.Context, cart domain.Cart) (*domain.Cart, error)
	DeleteCart(ctx context.Context, id string) error
	DeleteCartsByOwner(ctx context.Context, owner string) error

	// CommitSale appends the sale and decrements stock for every line
	// in one atomic step. If any line would drive stock negative the
	// whole commit fails with ErrStockUnderflow and nothing is applied.
	CommitSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	// CancelSale sets the cancellation overlay once and restores the
	// stock recorded in the sale's lines, soft-deleted products
	// included. A second cancel fails with ErrSaleCancelled.
	CancelSale(ctx context.Context, id string, cancellation domain.Cancellation) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter SaleFilter) ([]domain.Sale, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
