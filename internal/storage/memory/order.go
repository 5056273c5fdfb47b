package memory

import (
	"context"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/shopwave/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository keeps orders in memory.
type OrderRepository struct {
	mu     sync.Mutex
	orders map[string]order.Order
}

// NewOrderRepository returns an empty OrderRepository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[string]order.Order)}
}

// Create stores a copy of o.
func (r *OrderRepository) Create(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; ok {
		return errors.Errorf("order %q already exists", o.ID)
	}
	cp := *o
	cp.Items = append([]order.OrderItem(nil), o.Items...)
	r.orders[o.ID] = cp
	return nil
}

// Get returns a stored order.
func (r *OrderRepository) Get(id string) (order.Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	return o, ok
}
