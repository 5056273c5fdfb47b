package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is an immutable catalog entry. Products are created when the
// catalog is loaded and never change for the lifetime of the process.
type Product struct {
	ID              string
	Name            string
	Price           decimal.Decimal
	Description     string
	LongDescription string
	ImageURL        string
	Category        string
	Colors          []string
	Sizes           []string
	// ImageHint is a one or two word hint describing the product image.
	ImageHint string
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
