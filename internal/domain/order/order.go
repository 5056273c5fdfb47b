package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Status of an order. Payment is not processed, so every order stays
// unpaid.
type Status string

const StatusUnpaid Status = "unpaid"

// Order is a snapshot of a cart taken at checkout.
type Order struct {
	ID        string
	SessionID string
	Items     []OrderItem
	Total     decimal.Decimal
	ItemCount int
	Status    Status
	CreatedAt time.Time
}

// OrderItem is a single line of an order, priced at checkout time.
type OrderItem struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, order *Order) error
}
