// Package spellbook runs image transmutations: a caster supplies an image
// and an incantation, and a generative model returns the altered image with
// optional commentary.
package spellbook

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Generation too large to be a real upload; the device camera and typical
// grimoire scans stay well under this.
const maxImageBytes = 8 << 20

// noEffectCommentary is returned when the model answers without an image.
const noEffectCommentary = "the spell produced no visible effect"

var (
	ErrEmptySpell      = errors.New("spellbook: incantation is empty")
	ErrEmptyImage      = errors.New("spellbook: no image supplied")
	ErrUnsupportedMime = errors.New("spellbook: unsupported image type")
	ErrImageTooLarge   = errors.New("spellbook: image exceeds size limit")
)

// GeneratedContent is the raw model response: an optional image plus
// optional text.
type GeneratedContent struct {
	ImageData []byte
	MimeType  string
	Text      string
}

// ContentGenerator produces an edited image from a source image and a
// prompt.
type ContentGenerator interface {
	EditImage(ctx context.Context, prompt string, image []byte, mimeType string) (*GeneratedContent, error)
}

// Result is the outcome of one casting. Changed is false when the model
// declined to alter the image; the caster sees the commentary instead.
type Result struct {
	Changed     bool   `json:"changed"`
	ImageBase64 string `json:"imageBase64,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Commentary  string `json:"commentary,omitempty"`
}

// Editor validates casts and runs them through a content generator.
type Editor struct {
	gen ContentGenerator
	log *slog.Logger
}

// NewEditor creates an editor over the given generator.
func NewEditor(gen ContentGenerator, logger *slog.Logger) *Editor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Editor{gen: gen, log: logger}
}

// Cast applies the spell to a base64-encoded image. A model response with
// no image part is not an error: the result is unchanged with the model's
// commentary, or a stock phrase when there is none.
func (e *Editor) Cast(ctx context.Context, spell, imageBase64, mimeType string) (*Result, error) {
	spell = strings.TrimSpace(spell)
	if spell == "" {
		return nil, ErrEmptySpell
	}
	if imageBase64 == "" {
		return nil, ErrEmptyImage
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMime, mimeType)
	}

	image, err := base64.StdEncoding.DecodeString(imageBase64)
	if err != nil {
		return nil, fmt.Errorf("spellbook: decode image: %w", err)
	}
	if len(image) > maxImageBytes {
		return nil, ErrImageTooLarge
	}

	content, err := e.gen.EditImage(ctx, spell, image, mimeType)
	if err != nil {
		return nil, fmt.Errorf("spellbook: cast failed: %w", err)
	}

	if len(content.ImageData) == 0 {
		commentary := strings.TrimSpace(content.Text)
		if commentary == "" {
			commentary = noEffectCommentary
		}
		e.log.Info("cast produced no image", "spell", spell)
		return &Result{Changed: false, Commentary: commentary}, nil
	}

	outMime := content.MimeType
	if outMime == "" {
		outMime = mimeType
	}
	return &Result{
		Changed:     true,
		ImageBase64: base64.StdEncoding.EncodeToString(content.ImageData),
		MimeType:    outMime,
		Commentary:  strings.TrimSpace(content.Text),
	}, nil
}
