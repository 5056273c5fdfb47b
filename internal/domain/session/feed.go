package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xenking/shopwave/internal/domain/assistant"
	"github.com/xenking/shopwave/internal/domain/cart"
)

// FeedState is the state of the cart-page recommendation section.
type FeedState string

const (
	// FeedIdle means the cart is empty and nothing was requested.
	FeedIdle FeedState = "idle"
	// FeedFetching means a request for the current cart is in flight.
	FeedFetching FeedState = "fetching"
	// FeedReady means recommendations, possibly none, are available.
	FeedReady FeedState = "ready"
	// FeedFailed means the last request for the current cart failed.
	FeedFailed FeedState = "failed"
)

// Recommender produces recommendations for cart summaries.
type Recommender interface {
	Recommend(ctx context.Context, items []cart.Summary) ([]assistant.Item, error)
}

// FeedSnapshot is a point-in-time view of a Feed.
type FeedSnapshot struct {
	State FeedState
	Items []assistant.Item
	// Seq identifies the refresh that produced this state.
	Seq uint64
}

// Feed drives the recommendation section of a cart page.
//
// Every Refresh is numbered. A response commits only while its number is
// still the latest issued, so a slow response for an older cart never
// overwrites state for a newer one. Superseded requests are cancelled.
type Feed struct {
	rec     Recommender
	timeout time.Duration
	lg      *zap.Logger

	mu     sync.Mutex
	state  FeedState
	items  []assistant.Item
	seq    uint64
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// NewFeed creates an idle feed. timeout bounds each request; zero means no
// bound.
func NewFeed(rec Recommender, timeout time.Duration, lg *zap.Logger) *Feed {
	return &Feed{
		rec:     rec,
		timeout: timeout,
		lg:      lg,
		state:   FeedIdle,
	}
}

// Refresh restarts the cycle for a new cart state and returns its sequence
// number. An empty cart moves the feed to FeedIdle without a request.
func (f *Feed) Refresh(items []cart.Summary) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return f.seq
	}

	f.seq++
	seq := f.seq
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.items = nil

	if len(items) == 0 {
		f.state = FeedIdle
		return seq
	}
	f.state = FeedFetching

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if f.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), f.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	f.cancel = cancel

	f.wg.Add(1)
	go f.fetch(ctx, cancel, seq, items)
	return seq
}

func (f *Feed) fetch(ctx context.Context, cancel context.CancelFunc, seq uint64, items []cart.Summary) {
	defer f.wg.Done()
	defer cancel()

	recs, err := f.rec.Recommend(ctx, items)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || seq != f.seq {
		f.lg.Debug("Discarding stale recommendations",
			zap.Uint64("seq", seq),
			zap.Uint64("latest", f.seq),
		)
		return
	}
	f.cancel = nil
	if err != nil {
		f.lg.Warn("Recommendations unavailable", zap.Uint64("seq", seq), zap.Error(err))
		f.state = FeedFailed
		f.items = nil
		return
	}
	f.state = FeedReady
	f.items = recs
}

// Snapshot returns the current state.
func (f *Feed) Snapshot() FeedSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return FeedSnapshot{
		State: f.state,
		Items: append([]assistant.Item(nil), f.items...),
		Seq:   f.seq,
	}
}

// Close cancels any in-flight request and waits for it to return. Later
// Refresh calls are ignored.
func (f *Feed) Close() {
	f.mu.Lock()
	f.closed = true
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.mu.Unlock()
	f.wg.Wait()
}
