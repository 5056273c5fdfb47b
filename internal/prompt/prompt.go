// Package prompt executes named flows against a prompt-execution model.
//
// A Flow couples a prompt template with the JSON schema its output must
// satisfy. The Runner renders the template, sends one request to the Model
// and validates the response before handing it back; callers never see
// output that failed validation.
package prompt

import (
	"context"

	"github.com/go-faster/errors"
)

var (
	// ErrNoOutput is returned when the model produced an empty response.
	ErrNoOutput = errors.New("model returned no output")
	// ErrUnavailable is returned when the model cannot be reached: the
	// backend is disabled or the circuit breaker is open.
	ErrUnavailable = errors.New("model unavailable")
	// ErrModelFailure wraps every failure of the model call itself.
	ErrModelFailure = errors.New("model call failed")
	// ErrInvalidOutput wraps every response that is missing or does not
	// satisfy the flow's output schema.
	ErrInvalidOutput = errors.New("model output invalid")
)

// Media is an inline binary attachment, such as an image.
type Media struct {
	MIMEType string
	Data     []byte
}

// Request is a single prompt execution.
type Request struct {
	// Flow names the flow issuing the request, for logs and tracing.
	Flow   string
	Prompt string
	Media  []Media
	// Output is the schema the response is expected to satisfy. Backends
	// that support constrained decoding forward it to the model.
	Output *Schema
}

// Model is a prompt-execution backend. Generate returns the raw response
// text, which for flows with an output schema is a JSON document.
type Model interface {
	Generate(ctx context.Context, req Request) ([]byte, error)
}

// ModelFunc adapts a function to the Model interface.
type ModelFunc func(ctx context.Context, req Request) ([]byte, error)

// Generate calls f.
func (f ModelFunc) Generate(ctx context.Context, req Request) ([]byte, error) {
	return f(ctx, req)
}

// Disabled is a Model used when no backend is configured. Every call fails
// with ErrUnavailable.
type Disabled struct{}

// Generate implements Model.
func (Disabled) Generate(context.Context, Request) ([]byte, error) {
	return nil, ErrUnavailable
}
