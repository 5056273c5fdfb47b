package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/shopwave/internal/domain/assistant"
	"github.com/xenking/shopwave/internal/domain/cart"
)

// User-facing action errors. Internal details are only logged.
const (
	msgInvalidImage         = "Invalid image data provided."
	msgSimilarItemsFailed   = "Failed to find similar items due to an unexpected error."
	msgRecommendationFailed = "Failed to fetch recommendations due to an unexpected error."
)

// FindSimilarItems runs the similar-items flow for an uploaded photo.
func (h *Handler) FindSimilarItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var uri string
	err := decodeBody(w, r, h.cfg.MaxActionBodyBytes, func(d *jx.Decoder, key string) error {
		if key != "photoDataUri" {
			return d.Skip()
		}
		var err error
		uri, err = d.Str()
		return err
	})
	if err != nil {
		zctx.From(ctx).Debug("Decode similar items request", zap.Error(err))
		writeAction(w, http.StatusBadRequest, actionResult{err: msgInvalidImage})
		return
	}

	items, err := h.similar.Find(ctx, uri)
	if err != nil {
		if errors.Is(err, assistant.ErrInvalidInput) {
			writeAction(w, http.StatusBadRequest, actionResult{err: msgInvalidImage})
			return
		}
		zctx.From(ctx).Error("Find similar items", zap.Error(err))
		writeAction(w, http.StatusOK, actionResult{err: msgSimilarItemsFailed})
		return
	}

	writeAction(w, http.StatusOK, actionResult{
		success: true,
		data: func(e *jx.Encoder) {
			e.ObjStart()
			e.FieldStart("items")
			encodeItems(e, items)
			e.ObjEnd()
		},
	})
}

// RecommendProducts runs the recommendations flow for the given cart
// summaries. Invalid model output yields an empty list, not a failure.
func (h *Handler) RecommendProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var items []cart.Summary
	err := decodeBody(w, r, h.cfg.MaxActionBodyBytes, func(d *jx.Decoder, key string) error {
		if key != "items" {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			s, err := decodeSummary(d)
			if err != nil {
				return err
			}
			items = append(items, s)
			return nil
		})
	})
	if err != nil {
		zctx.From(ctx).Debug("Decode recommendations request", zap.Error(err))
		writeAction(w, http.StatusBadRequest, actionResult{err: msgRecommendationFailed})
		return
	}

	recs, err := h.recommender.Recommend(ctx, items)
	if err != nil {
		zctx.From(ctx).Error("Recommend products", zap.Error(err))
		writeAction(w, http.StatusOK, actionResult{err: msgRecommendationFailed})
		return
	}

	writeAction(w, http.StatusOK, actionResult{
		success: true,
		data: func(e *jx.Encoder) {
			e.ObjStart()
			e.FieldStart("recommendations")
			encodeItems(e, recs)
			e.ObjEnd()
		},
	})
}

func decodeSummary(d *jx.Decoder) (cart.Summary, error) {
	var s cart.Summary
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "name":
			s.Name, err = d.Str()
		case "description":
			s.Description, err = d.Str()
		case "category":
			if d.Next() == jx.Null {
				return d.Null()
			}
			s.Category, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err == nil && s.Name == "" {
		err = errors.New("item name is required")
	}
	return s, err
}
