package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/arcanumlabs/arcanum/internal/spellbook"
)

// DefaultImageModel is the image editing model.
const DefaultImageModel = "gemini-2.5-flash-image"

// ImageClient runs image edits through the Gemini API. It implements
// spellbook.ContentGenerator.
type ImageClient struct {
	client *genai.Client
	model  string
}

// NewImageClient creates an image client against the Gemini API backend.
func NewImageClient(ctx context.Context, apiKey, model string) (*ImageClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	if model == "" {
		model = DefaultImageModel
	}
	return &ImageClient{client: client, model: model}, nil
}

// EditImage sends the image and prompt and returns the first image part of
// the response, if any, plus any text the model adds.
func (c *ImageClient) EditImage(ctx context.Context, prompt string, image []byte, mimeType string) (*spellbook.GeneratedContent, error) {
	contents := []*genai.Content{{
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: image}},
			{Text: prompt},
		},
	}}
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE"},
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}

	out := &spellbook.GeneratedContent{}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			switch {
			case part.InlineData != nil && len(part.InlineData.Data) > 0 && len(out.ImageData) == 0:
				out.ImageData = part.InlineData.Data
				out.MimeType = part.InlineData.MIMEType
			case part.Text != "":
				out.Text += part.Text
			}
		}
	}
	return out, nil
}
