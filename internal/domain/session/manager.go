package session

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/shopwave/internal/domain/cart"
	"github.com/xenking/shopwave/internal/domain/product"
)

// Config holds session lifecycle settings.
type Config struct {
	// IdleTimeout is how long an unused session stays in memory.
	IdleTimeout time.Duration
	// JanitorInterval is how often idle sessions are evicted.
	JanitorInterval time.Duration
	// FetchTimeout bounds each recommendation request.
	FetchTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Minute
	}
	if c.JanitorInterval <= 0 {
		c.JanitorInterval = time.Minute
	}
}

// Manager keeps live sessions in memory, restoring carts from the Store on
// first use and evicting sessions that stay idle.
type Manager struct {
	store    Store
	products product.Repository
	rec      Recommender
	cfg      Config
	lg       *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session Manager.
func NewManager(store Store, products product.Repository, rec Recommender, cfg Config, lg *zap.Logger) *Manager {
	cfg.setDefaults()
	return &Manager{
		store:    store,
		products: products,
		rec:      rec,
		cfg:      cfg,
		lg:       lg,
		sessions: make(map[string]*Session),
	}
}

// NewID returns a fresh session id.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether id could have been issued by NewID.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Get returns the live session for id, restoring its cart from the Store
// when it is not in memory. Unknown ids start with an empty cart.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	c, err := m.restore(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another request may have restored the same session meanwhile.
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	s := &Session{
		id:       id,
		store:    m.store,
		feed:     NewFeed(m.rec, m.cfg.FetchTimeout, m.lg.With(zap.String("session", id))),
		resolve:  m.Get,
		cart:     c,
		lastSeen: time.Now(),
	}
	if c.Len() > 0 {
		s.feed.Refresh(c.Summaries())
	}
	m.sessions[id] = s
	return s, nil
}

func (m *Manager) restore(ctx context.Context, id string) (*cart.Cart, error) {
	lines, err := m.store.Load(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		return cart.New(), nil
	case errors.Is(err, ErrCorrupt):
		lg := m.lg.With(zap.String("session", id))
		lg.Warn("Discarding unreadable cart", zap.Error(err))
		if err := m.store.Delete(ctx, id); err != nil {
			lg.Warn("Delete unreadable cart", zap.Error(err))
		}
		return cart.New(), nil
	case err != nil:
		return nil, errors.Wrap(err, "load cart")
	}
	if len(lines) == 0 {
		return cart.New(), nil
	}

	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	products, err := m.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]*product.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	return cart.Restore(lines, func(id string) (*product.Product, bool) {
		p, ok := byID[id]
		return p, ok
	}), nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Run evicts idle sessions until ctx is done, then closes every session.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Close()
			return nil
		case now := <-ticker.C:
			if n := m.EvictIdle(now); n > 0 {
				m.lg.Debug("Evicted idle sessions", zap.Int("count", n))
			}
		}
	}
}

// EvictIdle ends every session unused since now minus IdleTimeout. Their
// carts remain in the Store.
func (m *Manager) EvictIdle(now time.Time) int {
	deadline := now.Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.evictIfIdle(deadline) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.feed.Close()
	}
	return len(idle)
}

// Close ends every live session.
func (m *Manager) Close() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range all {
		s.feed.Close()
	}
}
