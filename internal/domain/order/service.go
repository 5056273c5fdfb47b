package order

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/shopwave/internal/domain/cart"
	"github.com/xenking/shopwave/internal/domain/product"
)

// ErrEmptyCart is returned when checking out a cart without lines.
var ErrEmptyCart = fmt.Errorf("cart is empty")

// ProductNotFoundError indicates a cart line references a product that is
// no longer in the catalog.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// Service implements the checkout stub: it records an unpaid order and
// empties the cart. No payment is taken.
type Service struct {
	products product.Repository
	orders   Repository
	now      func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(products product.Repository, orders Repository) *Service {
	return &Service{
		products: products,
		orders:   orders,
		now:      time.Now,
	}
}

// Checkout prices the cart against the catalog in a single batch, persists
// the order and clears the cart. The cart is left untouched on error.
//
// The caller must hold exclusive access to c.
func (s *Service) Checkout(ctx context.Context, sessionID string, c *cart.Cart) (*Order, error) {
	lines := c.Lines()
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.Product.ID
	}
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	productMap := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		productMap[p.ID] = p
	}

	items := make([]OrderItem, 0, len(lines))
	total := decimal.Zero
	for _, l := range lines {
		p, ok := productMap[l.Product.ID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: l.Product.ID}
		}
		items = append(items, OrderItem{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  l.Quantity,
		})
		total = total.Add(p.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}

	o := &Order{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Items:     items,
		Total:     total.Round(2),
		ItemCount: c.ItemCount(),
		Status:    StatusUnpaid,
		CreatedAt: s.now().UTC(),
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	c.ClearCart()
	return o, nil
}
