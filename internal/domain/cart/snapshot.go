package cart

import "github.com/xenking/shopwave/internal/domain/product"

// SnapshotLine is the storable form of a line: the product is kept by id
// only and resolved against the catalog on restore.
type SnapshotLine struct {
	ProductID string
	Quantity  int
}

// Snapshot returns the storable form of the cart in insertion order.
func (c *Cart) Snapshot() []SnapshotLine {
	out := make([]SnapshotLine, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, SnapshotLine{ProductID: id, Quantity: c.lines[id].Quantity})
	}
	return out
}

// Restore rebuilds a cart from a snapshot. Lines whose product is no longer
// in the catalog, or whose quantity is not positive, are dropped. When a
// product id repeats, the last quantity wins.
func Restore(lines []SnapshotLine, lookup func(id string) (*product.Product, bool)) *Cart {
	c := New()
	for _, sl := range lines {
		if sl.Quantity <= 0 {
			continue
		}
		p, ok := lookup(sl.ProductID)
		if !ok {
			continue
		}
		if l, exists := c.lines[p.ID]; exists {
			l.Quantity = sl.Quantity
			continue
		}
		c.lines[p.ID] = &Line{Product: p, Quantity: sl.Quantity}
		c.order = append(c.order, p.ID)
	}
	return c
}
