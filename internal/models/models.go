package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a product in the catalog
type Product struct {
	ID          string          `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Description string          `db:"description" json:"description"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Category    string          `db:"category" json:"category"`
	ImageURL    string          `db:"image_url" json:"image_url"`
	Sizes       []string        `db:"sizes" json:"sizes"`
	Stock       int             `db:"stock" json:"stock"`
}

// DefaultSize returns the first available size, or "" when the product has none
func (p *Product) DefaultSize() string {
	if len(p.Sizes) == 0 {
		return ""
	}
	return p.Sizes[0]
}

// HasSize reports whether size is one of the product's available sizes
func (p *Product) HasSize(size string) bool {
	for _, s := range p.Sizes {
		if s == size {
			return true
		}
	}
	return false
}

// CartLine represents one (user, product, size) entry in a cart
type CartLine struct {
	ID        string   `db:"id" json:"id"`
	UserID    string   `db:"user_id" json:"user_id"`
	ProductID string   `db:"product_id" json:"product_id"`
	Size      string   `db:"size" json:"size"`
	Quantity  int      `db:"quantity" json:"quantity"`
	Product   *Product `json:"product,omitempty"`
}

// Subtotal is price times quantity; zero when the product snapshot is missing
func (l CartLine) Subtotal() decimal.Decimal {
	if l.Product == nil {
		return decimal.Zero
	}
	return l.Product.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// CartTotal sums the subtotals of lines
func CartTotal(lines []CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// Order represents a customer order
type Order struct {
	ID          string          `db:"id" json:"id"`
	UserID      string          `db:"user_id" json:"user_id"`
	Status      string          `db:"status" json:"status"`
	TotalAmount decimal.Decimal `db:"total_amount" json:"total_amount"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	Items       []OrderLine     `json:"items,omitempty"`
}

// OrderLine represents items in an order. PriceAtTime is the unit price at purchase.
type OrderLine struct {
	ID          string          `db:"id" json:"id"`
	OrderID     string          `db:"order_id" json:"order_id"`
	ProductID   string          `db:"product_id" json:"product_id"`
	Quantity    int             `db:"quantity" json:"quantity"`
	Size        string          `db:"size" json:"size"`
	PriceAtTime decimal.Decimal `db:"price_at_time" json:"price_at_time"`
	Product     *Product        `json:"product,omitempty"`
}

// Order statuses
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

// User is the authenticated identity exposed to the client
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// UserRecord is the stored account row
type UserRecord struct {
	ID           string    `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

// User returns the public identity of the record
func (r *UserRecord) User() *User {
	return &User{ID: r.ID, Email: r.Email}
}

// Table names used by the storefront
const (
	TableProducts   = "products"
	TableCartItems  = "cart_items"
	TableOrders     = "orders"
	TableOrderItems = "order_items"
	TableUsers      = "users"
)
