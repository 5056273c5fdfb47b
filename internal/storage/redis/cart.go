// Package redis stores cart snapshots in Redis so carts survive restarts
// and can be shared by several api-server replicas.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/shopwave/internal/domain/cart"
	"github.com/xenking/shopwave/internal/domain/session"
)

var _ session.Store = (*CartStore)(nil)

const keyPrefix = "cart:"

// CartStore implements session.Store on Redis. Each cart is a JSON value
// under "cart:<session id>" that expires ttl after its last save.
type CartStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewCartStore returns a CartStore. A zero ttl keeps carts forever.
func NewCartStore(client redis.UniversalClient, ttl time.Duration) *CartStore {
	return &CartStore{client: client, ttl: ttl}
}

// Load returns the snapshot for id, or session.ErrNotFound. A value that
// cannot be decoded yields session.ErrCorrupt.
func (s *CartStore) Load(ctx context.Context, id string) ([]cart.SnapshotLine, error) {
	data, err := s.client.Get(ctx, cartKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get")
	}
	lines, err := decodeLines(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode cart %s: %w", session.ErrCorrupt, id, err)
	}
	return lines, nil
}

// Save replaces the snapshot for id and resets its expiry.
func (s *CartStore) Save(ctx context.Context, id string, lines []cart.SnapshotLine) error {
	if err := s.client.Set(ctx, cartKey(id), encodeLines(lines), s.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

// Delete removes the snapshot for id.
func (s *CartStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, cartKey(id)).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}

// Ping checks connectivity. It is used as a readiness check.
func (s *CartStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func cartKey(id string) string {
	return keyPrefix + id
}

func encodeLines(lines []cart.SnapshotLine) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range lines {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(l.ProductID)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
	return append([]byte(nil), e.Bytes()...)
}

func decodeLines(data []byte) ([]cart.SnapshotLine, error) {
	var lines []cart.SnapshotLine
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		if key != "lines" {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			var l cart.SnapshotLine
			if err := d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "productId":
					l.ProductID, err = d.Str()
				case "quantity":
					l.Quantity, err = d.Int()
				default:
					err = d.Skip()
				}
				return err
			}); err != nil {
				return err
			}
			lines = append(lines, l)
			return nil
		})
	})
	return lines, err
}
