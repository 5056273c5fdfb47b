package prompt

import (
	"context"
	"sync/atomic"
	"testing"
	"text/template"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const itemsSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"items": {
			"type": "array",
			"minItems": 1,
			"maxItems": 2,
			"items": {
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"price": {"type": "number"}
				},
				"required": ["name", "price"]
			}
		}
	},
	"required": ["items"]
}`

func newTestRunner(t *testing.T, m Model) *Runner {
	t.Helper()
	r, err := NewRunner(m, tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	require.NoError(t, err)
	return r
}

func newTestFlow() *Flow {
	return &Flow{
		Name:     "testFlow",
		Template: template.Must(template.New("t").Parse("Hello {{.Name}}")),
		Output:   MustCompileSchema("items.json", []byte(itemsSchema)),
	}
}

func TestSchema_Validate(t *testing.T) {
	s := MustCompileSchema("items.json", []byte(itemsSchema))

	tests := []struct {
		name    string
		out     string
		wantErr error
		valid   bool
	}{
		{name: "valid", out: `{"items":[{"name":"a","price":1.5}]}`, valid: true},
		{name: "empty", out: "  ", wantErr: ErrNoOutput},
		{name: "not json", out: `items: a`},
		{name: "missing field", out: `{"items":[{"name":"a"}]}`},
		{name: "wrong type", out: `{"items":[{"name":"a","price":"1.5"}]}`},
		{name: "too many", out: `{"items":[{"name":"a","price":1},{"name":"b","price":2},{"name":"c","price":3}]}`},
		{name: "too few", out: `{"items":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Validate([]byte(tt.out))
			if tt.valid {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestCompileSchema_Invalid(t *testing.T) {
	_, err := CompileSchema("bad.json", []byte(`[1,2]`))
	require.Error(t, err)

	_, err = CompileSchema("bad.json", []byte(`{"type": 12}`))
	require.Error(t, err)
}

func TestRunner_Run(t *testing.T) {
	t.Run("renders prompt and returns validated output", func(t *testing.T) {
		var got Request
		m := ModelFunc(func(_ context.Context, req Request) ([]byte, error) {
			got = req
			return []byte(`{"items":[{"name":"x","price":2}]}`), nil
		})
		media := Media{MIMEType: "image/png", Data: []byte{1, 2, 3}}

		out, err := newTestRunner(t, m).Run(context.Background(), newTestFlow(), struct{ Name string }{"world"}, media)
		require.NoError(t, err)
		assert.JSONEq(t, `{"items":[{"name":"x","price":2}]}`, string(out))
		assert.Equal(t, "testFlow", got.Flow)
		assert.Equal(t, "Hello world", got.Prompt)
		assert.Equal(t, []Media{media}, got.Media)
		require.NotNil(t, got.Output)
		assert.Equal(t, "items.json", got.Output.Name())
	})

	t.Run("model failure", func(t *testing.T) {
		m := ModelFunc(func(context.Context, Request) ([]byte, error) {
			return nil, errors.New("connection reset")
		})

		_, err := newTestRunner(t, m).Run(context.Background(), newTestFlow(), struct{ Name string }{"a"})
		require.ErrorIs(t, err, ErrModelFailure)
		assert.NotErrorIs(t, err, ErrInvalidOutput)
	})

	t.Run("disabled model", func(t *testing.T) {
		_, err := newTestRunner(t, Disabled{}).Run(context.Background(), newTestFlow(), struct{ Name string }{"a"})
		require.ErrorIs(t, err, ErrModelFailure)
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("invalid output", func(t *testing.T) {
		m := ModelFunc(func(context.Context, Request) ([]byte, error) {
			return []byte(`{"items":"nope"}`), nil
		})

		_, err := newTestRunner(t, m).Run(context.Background(), newTestFlow(), struct{ Name string }{"a"})
		require.ErrorIs(t, err, ErrInvalidOutput)
		assert.NotErrorIs(t, err, ErrModelFailure)
	})

	t.Run("absent output", func(t *testing.T) {
		m := ModelFunc(func(context.Context, Request) ([]byte, error) {
			return nil, nil
		})

		_, err := newTestRunner(t, m).Run(context.Background(), newTestFlow(), struct{ Name string }{"a"})
		require.ErrorIs(t, err, ErrInvalidOutput)
		assert.ErrorIs(t, err, ErrNoOutput)
	})

	t.Run("template error", func(t *testing.T) {
		var calls atomic.Int32
		m := ModelFunc(func(context.Context, Request) ([]byte, error) {
			calls.Add(1)
			return nil, nil
		})
		f := newTestFlow()

		_, err := newTestRunner(t, m).Run(context.Background(), f, 42)
		require.Error(t, err)
		assert.Equal(t, int32(0), calls.Load())
	})
}

func TestBreaker(t *testing.T) {
	var calls atomic.Int32
	failing := ModelFunc(func(context.Context, Request) ([]byte, error) {
		calls.Add(1)
		return nil, errors.New("503")
	})
	b := NewBreaker(failing, BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Hour}, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, b.Check(ctx))

	for range 2 {
		_, err := b.Generate(ctx, Request{})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnavailable)
	}
	assert.True(t, b.Open())
	assert.Error(t, b.Check(ctx))

	_, err := b.Generate(ctx, Request{})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), calls.Load(), "open breaker must not reach the model")
}

func TestBreaker_CancelledCallsDoNotTrip(t *testing.T) {
	cancelled := ModelFunc(func(ctx context.Context, _ Request) ([]byte, error) {
		return nil, context.Canceled
	})
	b := NewBreaker(cancelled, BreakerConfig{ConsecutiveFailures: 1, OpenTimeout: time.Hour}, zap.NewNop())

	for range 3 {
		_, err := b.Generate(context.Background(), Request{})
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.False(t, b.Open())
}
