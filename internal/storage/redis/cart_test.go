package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/shopwave/internal/domain/cart"
	"github.com/xenking/shopwave/internal/domain/session"
	"github.com/xenking/shopwave/internal/storage/memory"
)

const testSessionID = "2b0f1c9e-8a43-4a51-9d2e-6c3f7a1b5e20"

func setupTestStore(t *testing.T, ttl time.Duration) (*CartStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCartStore(client, ttl), mr
}

func TestCartStore_SaveLoad(t *testing.T) {
	s, mr := setupTestStore(t, 15*time.Minute)
	ctx := context.Background()
	lines := []cart.SnapshotLine{
		{ProductID: "2", Quantity: 1},
		{ProductID: "1", Quantity: 4},
	}

	require.NoError(t, s.Save(ctx, "abc", lines))

	raw, err := mr.Get("cart:abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"lines":[{"productId":"2","quantity":1},{"productId":"1","quantity":4}]}`, raw)
	assert.Equal(t, 15*time.Minute, mr.TTL("cart:abc"))

	got, err := s.Load(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, lines, got)
}

func TestCartStore_Miss(t *testing.T) {
	s, _ := setupTestStore(t, time.Minute)

	_, err := s.Load(context.Background(), "nope")
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestCartStore_Expiry(t *testing.T) {
	s, mr := setupTestStore(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "abc", []cart.SnapshotLine{{ProductID: "1", Quantity: 1}}))

	mr.FastForward(2 * time.Minute)

	_, err := s.Load(ctx, "abc")
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestCartStore_Delete(t *testing.T) {
	s, mr := setupTestStore(t, 0)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "abc", []cart.SnapshotLine{{ProductID: "1", Quantity: 1}}))
	assert.Zero(t, mr.TTL("cart:abc"))

	require.NoError(t, s.Delete(ctx, "abc"))
	assert.False(t, mr.Exists("cart:abc"))
	require.NoError(t, s.Delete(ctx, "abc"), "deleting a missing cart is not an error")
}

func TestCartStore_CorruptValue(t *testing.T) {
	s, mr := setupTestStore(t, 0)
	require.NoError(t, mr.Set("cart:abc", "{not json"))

	_, err := s.Load(context.Background(), "abc")
	require.ErrorIs(t, err, session.ErrCorrupt)
	assert.NotErrorIs(t, err, session.ErrNotFound)
}

func TestCartStore_CorruptValueStartsEmptySession(t *testing.T) {
	s, mr := setupTestStore(t, 0)
	require.NoError(t, mr.Set("cart:"+testSessionID, "{not json"))

	m := session.NewManager(s, memory.NewProductRepository(nil), nil, session.Config{}, zap.NewNop())
	t.Cleanup(m.Close)

	ctx := context.Background()
	sess, err := m.Get(ctx, testSessionID)
	require.NoError(t, err)
	sess.View(ctx, func(c *cart.Cart, _ session.FeedSnapshot) {
		assert.Zero(t, c.Len())
	})
	assert.False(t, mr.Exists("cart:"+testSessionID), "unreadable value is dropped")
}

func TestCartStore_Ping(t *testing.T) {
	s, mr := setupTestStore(t, 0)
	require.NoError(t, s.Ping(context.Background()))

	mr.Close()
	require.Error(t, s.Ping(context.Background()))
}
