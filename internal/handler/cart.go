package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/shopwave/internal/domain/cart"
	"github.com/xenking/shopwave/internal/domain/order"
	"github.com/xenking/shopwave/internal/domain/product"
	"github.com/xenking/shopwave/internal/domain/session"
	"github.com/xenking/shopwave/pkg/httpmiddleware"
)

// GetCart returns the cart page for the session.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	h.writeCart(w, r, sessionFrom(r.Context()), http.StatusOK)
}

// AddItem adds one unit of a catalog product to the cart.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var productID string
	err := decodeBody(w, r, maxBodyBytes, func(d *jx.Decoder, key string) error {
		if key != "productId" {
			return d.Skip()
		}
		var err error
		productID, err = d.Str()
		return err
	})
	if err != nil || productID == "" {
		httpmiddleware.WriteError(w, http.StatusBadRequest, "productId is required")
		return
	}

	p, err := h.products.GetByID(r.Context(), productID)
	if err != nil {
		mapProductError(w, r, err)
		return
	}

	h.update(w, r, func(c *cart.Cart) error {
		c.AddToCart(p)
		return nil
	})
}

// UpdateItem replaces the quantity of a line. Quantities of zero or less
// remove the line; unknown products are ignored.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var (
		quantity int
		seen     bool
	)
	err := decodeBody(w, r, maxBodyBytes, func(d *jx.Decoder, key string) error {
		if key != "quantity" {
			return d.Skip()
		}
		var err error
		quantity, err = d.Int()
		seen = err == nil
		return err
	})
	if err != nil || !seen {
		httpmiddleware.WriteError(w, http.StatusBadRequest, "quantity must be an integer")
		return
	}

	id := chi.URLParam(r, "id")
	h.update(w, r, func(c *cart.Cart) error {
		c.UpdateQuantity(id, quantity)
		return nil
	})
}

// RemoveItem deletes a line from the cart.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.update(w, r, func(c *cart.Cart) error {
		c.RemoveFromCart(id)
		return nil
	})
}

// ClearCart removes every line.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, func(c *cart.Cart) error {
		c.ClearCart()
		return nil
	})
}

// Checkout records an unpaid order for the cart and empties it.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := sessionFrom(ctx)

	var o *order.Order
	err := s.Update(ctx, func(c *cart.Cart) error {
		var err error
		o, err = h.checkout.Checkout(ctx, s.ID(), c)
		return err
	})
	if o == nil {
		mapCheckoutError(w, r, err)
		return
	}
	if err != nil {
		zctx.From(ctx).Warn("Save cart after checkout", zap.Error(err))
	}

	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.Int("item_count", o.ItemCount),
	)
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		encodeOrder(e, o)
	})
}

// update applies fn to the session cart and writes the resulting cart page.
// A failure to persist the cart is logged; the session keeps the change.
func (h *Handler) update(w http.ResponseWriter, r *http.Request, fn func(c *cart.Cart) error) {
	ctx := r.Context()
	s := sessionFrom(ctx)
	if err := s.Update(ctx, fn); err != nil {
		zctx.From(ctx).Warn("Save cart", zap.Error(err))
	}
	h.writeCart(w, r, s, http.StatusOK)
}

func (h *Handler) writeCart(w http.ResponseWriter, r *http.Request, s *session.Session, status int) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	s.View(r.Context(), func(c *cart.Cart, feed session.FeedSnapshot) {
		encodeCart(e, c, feed)
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func mapCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, order.ErrEmptyCart) {
		httpmiddleware.WriteError(w, http.StatusUnprocessableEntity, "cart is empty")
		return
	}

	var pnfErr *order.ProductNotFoundError
	if errors.As(err, &pnfErr) {
		httpmiddleware.WriteError(w, http.StatusUnprocessableEntity, pnfErr.Error())
		return
	}

	if errors.Is(err, product.ErrNotFound) {
		httpmiddleware.WriteError(w, http.StatusUnprocessableEntity, "product not found")
		return
	}

	zctx.From(r.Context()).Error("Checkout", zap.Error(err))
	httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal server error")
}
