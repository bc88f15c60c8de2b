package domain

import "time"

const DefaultCustomerLabel = "Cliente General"

type Product struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	Glyph      string    `json:"glyph"`
	PriceCents int64     `json:"price_cents"`
	Stock      int       `json:"stock"`
	Deleted    bool      `json:"deleted"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ProductCreateRequest struct {
	Name       string `json:"name"`
	Category   string `json:"category"`
	Glyph      string `json:"glyph"`
	PriceCents int64  `json:"price_cents"`
	Stock      int    `json:"stock"`
}

type ProductUpdateRequest struct {
	Name       *string `json:"name,omitempty"`
	Category   *string `json:"category,omitempty"`
	Glyph      *string `json:"glyph,omitempty"`
	PriceCents *int64  `json:"price_cents,omitempty"`
}

type StockSetRequest struct {
	Stock int `json:"stock"`
}

type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Glyph     string    `json:"glyph"`
	CreatedAt time.Time `json:"created_at"`
}

type CategoryCreateRequest struct {
	Name  string `json:"name"`
	Glyph string `json:"glyph"`
}

// CartLine pairs a product snapshot taken at add time with the
// requested quantity. The snapshot keeps receipts stable across later
// price edits.
type CartLine struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	Glyph          string `json:"glyph"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Qty            int    `json:"qty"`
}

type Cart struct {
	ID        string     `json:"id"`
	Owner     string     `json:"owner"`
	Lines     []CartLine `json:"lines"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TotalCents is recomputed from the lines on every call, never cached.
func (c Cart) TotalCents() int64 {
	var total int64
	for _, line := range c.Lines {
		total += line.UnitPriceCents * int64(line.Qty)
	}
	return total
}

type CartResponse struct {
	Cart       Cart  `json:"cart"`
	TotalCents int64 `json:"total_cents"`
}

type AddLineRequest struct {
	ProductID string `json:"product_id"`
}

type AdjustLineRequest struct {
	Delta int `json:"delta"`
}

type CheckoutRequest struct {
	PaymentMethod     string `json:"payment_method"`
	CashReceivedCents int64  `json:"cash_received_cents,omitempty"`
	CashPartCents     int64  `json:"cash_part_cents,omitempty"`
	TransferPartCents *int64 `json:"transfer_part_cents,omitempty"`
	CustomerLabel     string `json:"customer_label,omitempty"`
}

type SaleLine struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	Glyph          string `json:"glyph"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Qty            int    `json:"qty"`
}

func (l SaleLine) ExtensionCents() int64 {
	return l.UnitPriceCents * int64(l.Qty)
}

type Cancellation struct {
	CancelledAt time.Time `json:"cancelled_at"`
	CancelledBy string    `json:"cancelled_by"`
	Reason      string    `json:"reason"`
}

type Sale struct {
	ID                string        `json:"id"`
	Number            int64         `json:"number"`
	Lines             []SaleLine    `json:"lines"`
	TotalCents        int64         `json:"total_cents"`
	PaymentMethod     string        `json:"payment_method"`
	ReceivedCents     int64         `json:"received_cents"`
	ChangeCents       int64         `json:"change_cents"`
	CashPartCents     int64         `json:"cash_part_cents,omitempty"`
	TransferPartCents int64         `json:"transfer_part_cents,omitempty"`
	Cashier           string        `json:"cashier"`
	CustomerLabel     string        `json:"customer_label"`
	CreatedAt         time.Time     `json:"created_at"`
	Cancellation      *Cancellation `json:"cancellation,omitempty"`
}

func (s Sale) Cancelled() bool {
	return s.Cancellation != nil
}

type SaleResponse struct {
	Sale Sale `json:"sale"`
}

type SaleListResponse struct {
	Sales []Sale `json:"sales"`
}

type CancelSaleRequest struct {
	Reason     string `json:"reason"`
	ManagerPIN string `json:"manager_pin"`
}

type ProductSales struct {
	ProductID    string `json:"product_id"`
	Name         string `json:"name"`
	Qty          int    `json:"qty"`
	RevenueCents int64  `json:"revenue_cents"`
}

type SalesSummary struct {
	Window           string         `json:"window"`
	From             *time.Time     `json:"from,omitempty"`
	To               time.Time      `json:"to"`
	SaleCount        int            `json:"sale_count"`
	CancelledCount   int            `json:"cancelled_count"`
	RevenueCents     int64          `json:"revenue_cents"`
	ByProduct        []ProductSales `json:"by_product"`
	IncludeCancelled bool           `json:"include_cancelled"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	PaymentMethodCash  = "cash"
	PaymentMethodCard  = "card"
	PaymentMethodSplit = "split"
)

const (
	WindowToday = "today"
	WindowWeek  = "week"
	WindowMonth = "month"
	WindowAll   = "all"
)
