// Package cart implements the shopping cart aggregate.
//
// A Cart maps product ids to lines. Every line holds a reference to the
// catalog product and a positive quantity; a line whose quantity drops to
// zero is removed rather than kept at zero. A Cart is not safe for
// concurrent use: its owner (the session) serializes access.
package cart

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/xenking/shopwave/internal/domain/product"
)

// Line is a single (product, quantity) entry in the cart.
type Line struct {
	Product  *product.Product
	Quantity int
}

// Subtotal returns price × quantity for the line.
func (l Line) Subtotal() decimal.Decimal {
	return l.Product.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Summary is the pricing-free description of a line handed to the
// recommendation flow.
type Summary struct {
	Name        string
	Description string
	Category    string
}

// Cart is the per-session cart aggregate. The zero value is not usable;
// create carts with New or Restore.
type Cart struct {
	lines map[string]*Line
	// order keeps product ids in insertion order so listings are stable.
	order   []string
	version uint64
}

// New returns an empty cart.
func New() *Cart {
	return &Cart{lines: make(map[string]*Line)}
}

// AddToCart increments the quantity of the line for p, inserting a new
// line with quantity 1 when none exists. A line already at math.MaxInt is
// left unchanged.
func (c *Cart) AddToCart(p *product.Product) {
	if l, ok := c.lines[p.ID]; ok {
		if l.Quantity == math.MaxInt {
			return
		}
		l.Quantity++
		c.version++
		return
	}
	c.lines[p.ID] = &Line{Product: p, Quantity: 1}
	c.order = append(c.order, p.ID)
	c.version++
}

// UpdateQuantity replaces the quantity of the line for productID. A
// quantity of zero or less removes the line. Unknown ids are ignored.
func (c *Cart) UpdateQuantity(productID string, quantity int) {
	if quantity <= 0 {
		c.RemoveFromCart(productID)
		return
	}
	l, ok := c.lines[productID]
	if !ok || l.Quantity == quantity {
		return
	}
	l.Quantity = quantity
	c.version++
}

// RemoveFromCart deletes the line for productID if present.
func (c *Cart) RemoveFromCart(productID string) {
	if _, ok := c.lines[productID]; !ok {
		return
	}
	delete(c.lines, productID)
	for i, id := range c.order {
		if id == productID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.version++
}

// ClearCart removes every line.
func (c *Cart) ClearCart() {
	if len(c.lines) == 0 {
		return
	}
	clear(c.lines)
	c.order = c.order[:0]
	c.version++
}

// Total returns the sum of price × quantity over all lines in full
// precision. Rounding is left to presentation.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// ItemCount returns the sum of all line quantities, saturating at
// math.MaxInt.
func (c *Cart) ItemCount() int {
	var n int
	for _, l := range c.lines {
		if n > math.MaxInt-l.Quantity {
			return math.MaxInt
		}
		n += l.Quantity
	}
	return n
}

// Len returns the number of distinct lines.
func (c *Cart) Len() int {
	return len(c.lines)
}

// Line returns the line for productID.
func (c *Cart) Line(productID string) (Line, bool) {
	l, ok := c.lines[productID]
	if !ok {
		return Line{}, false
	}
	return *l, true
}

// Lines returns a copy of all lines in insertion order.
func (c *Cart) Lines() []Line {
	out := make([]Line, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.lines[id])
	}
	return out
}

// Version is a counter bumped by every mutation that changes the cart.
// Two reads returning the same version observed the same cart state.
func (c *Cart) Version() uint64 {
	return c.version
}

// Summaries describes the lines, in order, for the recommendation flow.
func (c *Cart) Summaries() []Summary {
	out := make([]Summary, 0, len(c.order))
	for _, id := range c.order {
		p := c.lines[id].Product
		out = append(out, Summary{
			Name:        p.Name,
			Description: p.Description,
			Category:    p.Category,
		})
	}
	return out
}
