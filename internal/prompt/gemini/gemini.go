// Package gemini implements prompt.Model on top of the Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/go-faster/errors"
	"google.golang.org/genai"

	"github.com/xenking/shopwave/internal/prompt"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gemini-2.0-flash"

// Config configures the Gemini client.
type Config struct {
	APIKey      string
	Model       string
	Temperature *float32
}

var _ prompt.Model = (*Client)(nil)

// Client sends prompts to Gemini. Output schemas are forwarded as response
// schemas so the model emits JSON in the expected shape.
type Client struct {
	client      *genai.Client
	model       string
	temperature *float32
}

// New creates a Gemini client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create genai client")
	}
	return &Client{
		client:      c,
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

// Generate implements prompt.Model.
func (c *Client) Generate(ctx context.Context, req prompt.Request) ([]byte, error) {
	parts := make([]*genai.Part, 0, 1+len(req.Media))
	parts = append(parts, genai.NewPartFromText(req.Prompt))
	for _, m := range req.Media {
		parts = append(parts, genai.NewPartFromBytes(m.Data, m.MIMEType))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	cfg := &genai.GenerateContentConfig{Temperature: c.temperature}
	if req.Output != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = convertSchema(req.Output.Document())
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "generate %s", req.Flow)
	}
	return []byte(resp.Text()), nil
}

// convertSchema translates the subset of JSON Schema used by flow output
// schemas into the Gemini schema representation.
func convertSchema(doc map[string]any) *genai.Schema {
	if doc == nil {
		return nil
	}
	s := &genai.Schema{}
	if d, ok := doc["description"].(string); ok {
		s.Description = d
	}
	switch doc["type"] {
	case "object":
		s.Type = genai.TypeObject
	case "array":
		s.Type = genai.TypeArray
	case "string":
		s.Type = genai.TypeString
	case "number":
		s.Type = genai.TypeNumber
	case "integer":
		s.Type = genai.TypeInteger
	case "boolean":
		s.Type = genai.TypeBoolean
	}

	if props, ok := doc["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				s.Properties[name] = convertSchema(pm)
			}
		}
		// Gemini emits properties in this order; keep it deterministic.
		s.PropertyOrdering = sortedKeys(props)
	}
	if req, ok := doc["required"].([]any); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	if items, ok := doc["items"].(map[string]any); ok {
		s.Items = convertSchema(items)
	}
	s.MinItems = int64Field(doc, "minItems")
	s.MaxItems = int64Field(doc, "maxItems")
	return s
}

func int64Field(doc map[string]any, key string) *int64 {
	var n int64
	switch v := doc[key].(type) {
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return nil
		}
		n = i
	case float64:
		n = int64(v)
	default:
		return nil
	}
	return &n
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
