// Package session owns per-visitor state: the cart aggregate and the
// recommendation feed that follows it.
//
// HTTP requests for one visitor may arrive concurrently, so every access
// to a session's cart goes through the session lock.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/shopwave/internal/domain/cart"
)

var (
	// ErrNotFound is returned by a Store when no snapshot exists for an id.
	ErrNotFound = errors.New("session not found")
	// ErrCorrupt is returned by a Store when a snapshot exists but cannot
	// be decoded.
	ErrCorrupt = errors.New("corrupt cart snapshot")
)

// Store persists cart snapshots between process restarts and across
// eviction of idle sessions.
type Store interface {
	Load(ctx context.Context, id string) ([]cart.SnapshotLine, error)
	Save(ctx context.Context, id string, lines []cart.SnapshotLine) error
	Delete(ctx context.Context, id string) error
}

// Session is one visitor's cart and recommendation feed.
type Session struct {
	id    string
	store Store
	feed  *Feed
	// resolve returns the live session for id once this one was evicted.
	resolve func(ctx context.Context, id string) (*Session, error)

	mu       sync.Mutex
	cart     *cart.Cart
	lastSeen time.Time
	evicted  bool
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Update runs fn with exclusive access to the cart. When fn changes the
// cart, the new state is saved and the recommendation feed is refreshed.
// Mutations made by fn are kept even if fn or the save fails; an error
// from fn takes precedence over a save error. A session evicted while the
// caller held it forwards the update to the live session for its id.
func (s *Session) Update(ctx context.Context, fn func(c *cart.Cart) error) error {
	s.mu.Lock()
	if s.evicted {
		s.mu.Unlock()
		live, err := s.resolve(ctx, s.id)
		if err != nil {
			return errors.Wrap(err, "resolve session")
		}
		return live.Update(ctx, fn)
	}
	defer s.mu.Unlock()
	s.lastSeen = time.Now()

	before := s.cart.Version()
	fnErr := fn(s.cart)
	if s.cart.Version() == before {
		return fnErr
	}

	s.feed.Refresh(s.cart.Summaries())
	if err := s.save(ctx); err != nil && fnErr == nil {
		return err
	}
	return fnErr
}

// View runs fn with a consistent view of the cart and the feed. An evicted
// session shows the live session for its id when it can be resolved.
func (s *Session) View(ctx context.Context, fn func(c *cart.Cart, feed FeedSnapshot)) {
	s.mu.Lock()
	if s.evicted {
		s.mu.Unlock()
		if live, err := s.resolve(ctx, s.id); err == nil {
			live.View(ctx, fn)
			return
		}
		s.mu.Lock()
	}
	defer s.mu.Unlock()
	s.lastSeen = time.Now()
	fn(s.cart, s.feed.Snapshot())
}

func (s *Session) save(ctx context.Context) error {
	if s.cart.Len() == 0 {
		if err := s.store.Delete(ctx, s.id); err != nil {
			return errors.Wrap(err, "delete cart")
		}
		return nil
	}
	if err := s.store.Save(ctx, s.id, s.cart.Snapshot()); err != nil {
		return errors.Wrap(err, "save cart")
	}
	return nil
}

// evictIfIdle marks the session evicted when it was last used before
// deadline. A session busy with a request is not idle.
func (s *Session) evictIfIdle(deadline time.Time) bool {
	if !s.mu.TryLock() {
		return false
	}
	defer s.mu.Unlock()
	if !s.lastSeen.Before(deadline) {
		return false
	}
	s.evicted = true
	return true
}
