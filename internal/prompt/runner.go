package prompt

import (
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/xenking/shopwave/internal/prompt"

// Flow is a named prompt with a declared output schema.
type Flow struct {
	Name     string
	Template *template.Template
	Output   *Schema
}

// Render executes the flow template with input.
func (f *Flow) Render(input any) (string, error) {
	var sb strings.Builder
	if err := f.Template.Execute(&sb, input); err != nil {
		return "", errors.Wrapf(err, "render %s", f.Name)
	}
	return sb.String(), nil
}

// Runner executes flows against a Model, recording a span and metrics for
// every invocation.
type Runner struct {
	model       Model
	tracer      trace.Tracer
	invocations metric.Int64Counter
	duration    metric.Float64Histogram
}

// NewRunner creates a Runner.
func NewRunner(model Model, tp trace.TracerProvider, mp metric.MeterProvider) (*Runner, error) {
	meter := mp.Meter(instrumentationName)
	invocations, err := meter.Int64Counter("shopwave.flow.invocations",
		metric.WithDescription("Flow invocations by flow and outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create invocations counter")
	}
	duration, err := meter.Float64Histogram("shopwave.flow.duration",
		metric.WithDescription("Flow invocation duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create duration histogram")
	}
	return &Runner{
		model:       model,
		tracer:      tp.Tracer(instrumentationName),
		invocations: invocations,
		duration:    duration,
	}, nil
}

// Run renders f with input, sends one request carrying media to the model
// and validates the response against f.Output.
//
// Failures of the model call wrap ErrModelFailure; missing or invalid
// output wraps ErrInvalidOutput.
func (r *Runner) Run(ctx context.Context, f *Flow, input any, media ...Media) (_ []byte, rerr error) {
	ctx, span := r.tracer.Start(ctx, "flow."+f.Name,
		trace.WithAttributes(attribute.String("flow.name", f.Name)),
	)
	start := time.Now()
	defer func() {
		o := outcome(rerr)
		attrs := metric.WithAttributes(
			attribute.String("flow", f.Name),
			attribute.String("outcome", o),
		)
		r.invocations.Add(ctx, 1, attrs)
		r.duration.Record(ctx, time.Since(start).Seconds(), attrs)
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, o)
		}
		span.End()
	}()

	text, err := f.Render(input)
	if err != nil {
		return nil, err
	}

	out, err := r.model.Generate(ctx, Request{
		Flow:   f.Name,
		Prompt: text,
		Media:  media,
		Output: f.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelFailure, err)
	}

	if f.Output != nil {
		if err := f.Output.Validate(out); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidOutput, err)
		}
	}
	return out, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidOutput):
		return "invalid_output"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrModelFailure):
		return "model_failure"
	default:
		return "error"
	}
}
