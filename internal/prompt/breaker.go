package prompt

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerConfig controls when the model circuit breaker opens.
type BreakerConfig struct {
	// ConsecutiveFailures opens the breaker after this many failed calls.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of probe calls allowed while half-open.
	HalfOpenRequests uint32
}

// Breaker wraps a Model with a circuit breaker so that a failing backend
// is not hammered by every cart change. Calls rejected by an open breaker
// fail with ErrUnavailable.
type Breaker struct {
	model Model
	cb    *gobreaker.CircuitBreaker[[]byte]
}

// NewBreaker wraps model.
func NewBreaker(model Model, cfg BreakerConfig, lg *zap.Logger) *Breaker {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}
	st := gobreaker.Settings{
		Name:        "model",
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		// A caller giving up is not a backend failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	}
	return &Breaker{
		model: model,
		cb:    gobreaker.NewCircuitBreaker[[]byte](st),
	}
}

// Generate implements Model.
func (b *Breaker) Generate(ctx context.Context, req Request) ([]byte, error) {
	out, err := b.cb.Execute(func() ([]byte, error) {
		return b.model.Generate(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.Wrapf(ErrUnavailable, "breaker: %s", err)
	}
	return out, err
}

// Open reports whether the breaker currently rejects calls.
func (b *Breaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// Check is a health check reporting an error while the breaker is open.
func (b *Breaker) Check(context.Context) error {
	if b.Open() {
		return errors.Wrap(ErrUnavailable, "circuit breaker open")
	}
	return nil
}
