package assistant

import (
	"context"
	"fmt"

	"github.com/vincent-petithory/dataurl"
	"go.uber.org/zap"

	"github.com/xenking/shopwave/internal/prompt"
)

// DefaultMaxImageBytes caps the decoded size of an uploaded photo.
const DefaultMaxImageBytes = 5 << 20

// SimilarItems finds catalog items that look like a photo.
type SimilarItems struct {
	runner   Runner
	flow     *prompt.Flow
	maxBytes int
	lg       *zap.Logger
}

// NewSimilarItems creates the similar-items flow. maxBytes <= 0 selects
// DefaultMaxImageBytes.
func NewSimilarItems(runner Runner, maxBytes int, lg *zap.Logger) *SimilarItems {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	return &SimilarItems{
		runner:   runner,
		flow:     loadFlow("similar_items"),
		maxBytes: maxBytes,
		lg:       lg,
	}
}

// Find validates photoDataURI and asks the model for similar items.
//
// A malformed payload or a non-image MIME type fails with ErrInvalidInput
// without a model call. An empty result is a valid "no matches" outcome.
func (s *SimilarItems) Find(ctx context.Context, photoDataURI string) ([]Item, error) {
	media, err := s.parsePhoto(photoDataURI)
	if err != nil {
		return nil, err
	}

	out, err := s.runner.Run(ctx, s.flow, nil, media)
	if err != nil {
		err = classify(err)
		s.lg.Warn("Similar items flow failed", zap.Error(err))
		return nil, err
	}

	items, err := decodeItems(out, "items")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelOutputInvalid, err)
	}
	return items, nil
}

// MaxPhotoURILen returns the length of the longest data URI accepted for
// an image of maxBytes: its base64 form plus room for the media type.
func MaxPhotoURILen(maxBytes int) int {
	return (maxBytes+2)/3*4 + 1024
}

func (s *SimilarItems) parsePhoto(uri string) (prompt.Media, error) {
	if len(uri) > MaxPhotoURILen(s.maxBytes) {
		return prompt.Media{}, fmt.Errorf("%w: image exceeds %d bytes", ErrInvalidInput, s.maxBytes)
	}
	du, err := dataurl.DecodeString(uri)
	if err != nil {
		return prompt.Media{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	switch {
	case du.Type != "image":
		return prompt.Media{}, fmt.Errorf("%w: media type %q is not an image", ErrInvalidInput, du.ContentType())
	case du.Encoding != dataurl.EncodingBase64:
		return prompt.Media{}, fmt.Errorf("%w: image must be base64 encoded", ErrInvalidInput)
	case len(du.Data) == 0:
		return prompt.Media{}, fmt.Errorf("%w: empty image", ErrInvalidInput)
	case len(du.Data) > s.maxBytes:
		return prompt.Media{}, fmt.Errorf("%w: image exceeds %d bytes", ErrInvalidInput, s.maxBytes)
	}
	return prompt.Media{
		MIMEType: du.Type + "/" + du.Subtype,
		Data:     du.Data,
	}, nil
}
