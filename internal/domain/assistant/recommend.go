package assistant

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/shopwave/internal/domain/cart"
	"github.com/xenking/shopwave/internal/prompt"
)

// Recommendation count bounds declared by the output schema.
const (
	MinRecommendations = 2
	MaxRecommendations = 3
)

// PlaceholderImageURL is shown for items without an image.
const PlaceholderImageURL = "https://placehold.co/600x400.png"

// exampleImageURL is the placeholder the model is told to use.
const exampleImageURL = "https://placehold.co/300x200.png"

// RecommenderOptions configures a Recommender.
type RecommenderOptions struct {
	// ExcludeCartItems drops recommendations whose name matches a cart
	// item. The model is always instructed not to return them.
	ExcludeCartItems bool
}

// Recommender suggests products that complement a cart.
type Recommender struct {
	runner  Runner
	flow    *prompt.Flow
	exclude bool
	lg      *zap.Logger
}

// NewRecommender creates the recommendations flow.
func NewRecommender(runner Runner, opts RecommenderOptions, lg *zap.Logger) *Recommender {
	return &Recommender{
		runner:  runner,
		flow:    loadFlow("recommend_products"),
		exclude: opts.ExcludeCartItems,
		lg:      lg,
	}
}

type recommendInput struct {
	Items               []cart.Summary
	PlaceholderImageURL string
	Min, Max            int
}

// Recommend returns between MinRecommendations and MaxRecommendations
// items for a non-empty cart.
//
// An empty cart returns an empty list without a model call. Missing or
// invalid model output also yields an empty list and a nil error. Only a
// failed model call is returned, as ErrServiceFailure.
func (r *Recommender) Recommend(ctx context.Context, items []cart.Summary) ([]Item, error) {
	if len(items) == 0 {
		return []Item{}, nil
	}

	out, err := r.runner.Run(ctx, r.flow, recommendInput{
		Items:               items,
		PlaceholderImageURL: exampleImageURL,
		Min:                 MinRecommendations,
		Max:                 MaxRecommendations,
	})
	if err != nil {
		err = classify(err)
		if errors.Is(err, ErrModelOutputInvalid) {
			r.lg.Warn("Discarding invalid recommendations", zap.Error(err))
			return []Item{}, nil
		}
		r.lg.Warn("Recommendations flow failed", zap.Error(err))
		return nil, err
	}

	recs, err := decodeItems(out, "recommendations")
	if err != nil {
		r.lg.Warn("Discarding undecodable recommendations", zap.Error(err))
		return []Item{}, nil
	}
	if r.exclude {
		recs = excludeNames(recs, items)
		if len(recs) < MinRecommendations {
			return []Item{}, nil
		}
	}
	return recs, nil
}

func excludeNames(recs []Item, in []cart.Summary) []Item {
	names := make(map[string]struct{}, len(in))
	for _, s := range in {
		names[normalizeName(s.Name)] = struct{}{}
	}
	kept := recs[:0]
	for _, it := range recs {
		if _, dup := names[normalizeName(it.Name)]; dup {
			continue
		}
		kept = append(kept, it)
	}
	return kept
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
