// Package memory provides in-process implementations of the storage
// interfaces, used when no database is configured and in tests.
package memory

import (
	"context"
	"slices"

	"github.com/xenking/shopwave/internal/domain/product"
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository serves an immutable catalog loaded at startup.
type ProductRepository struct {
	products []product.Product
	byID     map[string]int
}

// NewProductRepository returns a repository over products, kept in the
// given order.
func NewProductRepository(products []product.Product) *ProductRepository {
	r := &ProductRepository{
		products: slices.Clone(products),
		byID:     make(map[string]int, len(products)),
	}
	for i, p := range r.products {
		r.byID[p.ID] = i
	}
	return r
}

// List returns all products in catalog order.
func (r *ProductRepository) List(context.Context) ([]product.Product, error) {
	return slices.Clone(r.products), nil
}

// GetByID returns the catalog entry for id. The product is shared with
// every other caller and must not be modified.
func (r *ProductRepository) GetByID(_ context.Context, id string) (*product.Product, error) {
	i, ok := r.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &r.products[i], nil
}

// GetByIDs returns products matching any of the given IDs. Unknown ids are
// skipped.
func (r *ProductRepository) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if i, ok := r.byID[id]; ok {
			out = append(out, r.products[i])
		}
	}
	return out, nil
}
