// Package handler implements the storefront HTTP API on a chi router.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/shopwave/internal/domain/assistant"
	"github.com/xenking/shopwave/internal/domain/cart"
	"github.com/xenking/shopwave/internal/domain/order"
	"github.com/xenking/shopwave/internal/domain/product"
	"github.com/xenking/shopwave/internal/domain/session"
	"github.com/xenking/shopwave/pkg/httpmiddleware"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// CookieName is the session cookie. Defaults to "shopwave_session".
	CookieName string
	// CookieSecure marks the session cookie Secure.
	CookieSecure bool
	// CookieMaxAge is the session cookie lifetime; zero makes it a browser
	// session cookie.
	CookieMaxAge time.Duration
	// MaxActionBodyBytes bounds request bodies of the action endpoints,
	// which carry base64 images.
	MaxActionBodyBytes int64
}

// DefaultCookieName is the session cookie used when Config.CookieName is empty.
const DefaultCookieName = "shopwave_session"

const (
	defaultMaxActionBody = 8 << 20
	maxBodyBytes         = 64 << 10
)

// Sessions resolves session ids to live sessions.
type Sessions interface {
	Get(ctx context.Context, id string) (*session.Session, error)
}

// SimilarItemsFinder finds catalog items that look like a photo.
type SimilarItemsFinder interface {
	Find(ctx context.Context, photoDataURI string) ([]assistant.Item, error)
}

// Checkouter records an order for a cart and empties it.
type Checkouter interface {
	Checkout(ctx context.Context, sessionID string, c *cart.Cart) (*order.Order, error)
}

// Handler serves the catalog, cart and assistant action endpoints.
type Handler struct {
	products    product.Repository
	sessions    Sessions
	checkout    Checkouter
	similar     SimilarItemsFinder
	recommender session.Recommender
	actionLimit httpmiddleware.Middleware
	cfg         Config
}

// New constructs a Handler with the required domain dependencies.
// actionLimit, when not nil, guards the assistant actions.
func New(
	cfg Config,
	products product.Repository,
	sessions Sessions,
	checkout Checkouter,
	similar SimilarItemsFinder,
	recommender session.Recommender,
	actionLimit httpmiddleware.Middleware,
) *Handler {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.MaxActionBodyBytes <= 0 {
		cfg.MaxActionBodyBytes = defaultMaxActionBody
	}
	return &Handler{
		products:    products,
		sessions:    sessions,
		checkout:    checkout,
		similar:     similar,
		recommender: recommender,
		actionLimit: actionLimit,
		cfg:         cfg,
	}
}

// Routes registers the API under r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/products", h.ListProducts)
	r.Get("/products/{id}", h.GetProduct)

	r.Group(func(r chi.Router) {
		r.Use(h.withSession)

		r.Get("/cart", h.GetCart)
		r.Delete("/cart", h.ClearCart)
		r.Post("/cart/items", h.AddItem)
		r.Put("/cart/items/{id}", h.UpdateItem)
		r.Delete("/cart/items/{id}", h.RemoveItem)
		r.Post("/cart/checkout", h.Checkout)

		r.Group(func(r chi.Router) {
			if h.actionLimit != nil {
				r.Use(h.actionLimit)
			}
			r.Post("/actions/find-similar-items", h.FindSimilarItems)
			r.Post("/actions/recommend-products", h.RecommendProducts)
		})
	})
}

// Router returns a chi router serving the API at its root.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	h.Routes(r)
	return r
}
