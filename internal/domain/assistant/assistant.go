// Package assistant implements the AI-assisted storefront flows: finding
// catalog items similar to a photo, and recommending products for a cart.
//
// Both flows delegate the actual matching to a prompt-execution model and
// trust only output that passed schema validation.
package assistant

import (
	"context"
	"embed"
	"fmt"
	"text/template"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/shopwave/internal/prompt"
)

// Error kinds returned by the flows.
var (
	// ErrInvalidInput is returned before any model call when the input
	// violates the flow's precondition.
	ErrInvalidInput = errors.New("invalid input")
	// ErrModelOutputInvalid is returned when the model response is absent
	// or does not satisfy the output schema.
	ErrModelOutputInvalid = errors.New("model output invalid")
	// ErrServiceFailure is returned when the model call itself failed.
	ErrServiceFailure = errors.New("model service failure")
)

//go:embed flows
var flowFS embed.FS

// Item is a product suggested by a flow: a similar item or a
// recommendation. Items are transient and never stored.
type Item struct {
	Name        string
	Description string
	// ImageURL may be empty; presentation substitutes a placeholder.
	ImageURL  string
	Price     decimal.Decimal
	ImageHint string
}

// Runner executes a prompt flow. It is satisfied by *prompt.Runner.
type Runner interface {
	Run(ctx context.Context, f *prompt.Flow, input any, media ...prompt.Media) ([]byte, error)
}

func loadFlow(name string) *prompt.Flow {
	tmpl := template.Must(template.ParseFS(flowFS, "flows/"+name+".tmpl"))
	schema, err := flowFS.ReadFile("flows/" + name + ".json")
	if err != nil {
		panic(err)
	}
	return &prompt.Flow{
		Name:     name,
		Template: tmpl,
		Output:   prompt.MustCompileSchema(name+".json", schema),
	}
}

// classify maps a runner error onto the flow error kinds.
func classify(err error) error {
	if errors.Is(err, prompt.ErrInvalidOutput) {
		return fmt.Errorf("%w: %w", ErrModelOutputInvalid, err)
	}
	return fmt.Errorf("%w: %w", ErrServiceFailure, err)
}

// decodeItems decodes the array stored under field of a validated output
// document.
func decodeItems(data []byte, field string) ([]Item, error) {
	items := []Item{}
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		if key != field {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			var it Item
			if err := it.decode(d); err != nil {
				return err
			}
			items = append(items, it)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", field)
	}
	return items, nil
}

func (it *Item) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "name":
			it.Name, err = d.Str()
		case "description":
			it.Description, err = d.Str()
		case "imageUrl":
			it.ImageURL, err = d.Str()
		case "dataAiHint":
			it.ImageHint, err = d.Str()
		case "price":
			var n jx.Num
			if n, err = d.Num(); err != nil {
				return err
			}
			it.Price, err = decimal.NewFromString(n.String())
		default:
			err = d.Skip()
		}
		return err
	})
}
