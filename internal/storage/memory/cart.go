package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xenking/shopwave/internal/domain/cart"
	"github.com/xenking/shopwave/internal/domain/session"
)

var _ session.Store = (*CartStore)(nil)

type cartEntry struct {
	lines     []cart.SnapshotLine
	expiresAt time.Time
}

// CartStore keeps cart snapshots in memory. Entries expire ttl after their
// last save; a zero ttl keeps them forever.
type CartStore struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	carts map[string]cartEntry
}

// NewCartStore returns an empty CartStore.
func NewCartStore(ttl time.Duration) *CartStore {
	return &CartStore{
		ttl:   ttl,
		now:   time.Now,
		carts: make(map[string]cartEntry),
	}
}

// Load returns the snapshot for id, or session.ErrNotFound.
func (s *CartStore) Load(_ context.Context, id string) ([]cart.SnapshotLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.carts[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	if s.expired(e) {
		delete(s.carts, id)
		return nil, session.ErrNotFound
	}
	return slices.Clone(e.lines), nil
}

// Save replaces the snapshot for id.
func (s *CartStore) Save(_ context.Context, id string, lines []cart.SnapshotLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := cartEntry{lines: slices.Clone(lines)}
	if s.ttl > 0 {
		e.expiresAt = s.now().Add(s.ttl)
	}
	s.carts[id] = e
	return nil
}

// Delete removes the snapshot for id.
func (s *CartStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, id)
	return nil
}

// Purge drops expired snapshots and returns how many were removed.
func (s *CartStore) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for id, e := range s.carts {
		if s.expired(e) {
			delete(s.carts, id)
			n++
		}
	}
	return n
}

func (s *CartStore) expired(e cartEntry) bool {
	return !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt)
}
