// Package imagegen fulfils generation and edit requests against the Gemini
// image model: it assembles the final prompt, fans out one call per
// requested image, and classifies anything the model returns that is not an
// image into a human-readable error.
package imagegen

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"github.com/prismworks/easel/internal/attachment"
	"github.com/prismworks/easel/internal/models"
)

// refusalPreviewLimit bounds how much of a text-only model reply is quoted
// back to the user before it is cut with an ellipsis.
const refusalPreviewLimit = 200

const (
	fallbackPrompt     = "Create a beautiful, interesting image."
	fallbackEditPrompt = "Create a new variation of the provided image."

	styleDirective     = "Render the result in a rich, detailed, visually striking style."
	editStyleDirective = "Preserve the character of the provided image while applying the requested changes."
)

var (
	ErrMissingAPIKey = errors.New("imagegen: API key is not set")
	ErrNoImage       = errors.New("imagegen: the model produced no image")
)

// Params describes one generate-or-edit request. Reference, when set, is
// attached inline and switches the prompt into edit phrasing.
type Params struct {
	Prompt      string
	AspectRatio string
	Count       int
	Reference   *models.ImageAttachment
}

// generateFunc issues a single model call. It is a field so tests can run
// the fan-out and parsing without a network.
type generateFunc func(ctx context.Context, parts []*genai.Part) (*genai.GenerateContentResponse, error)

type Service struct {
	model    string
	generate generateFunc
}

// New builds the service or fails immediately when no credential is
// available.
func New(ctx context.Context, apiKey, model string) (*Service, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	s := &Service{model: model}
	s.generate = func(ctx context.Context, parts []*genai.Part) (*genai.GenerateContentResponse, error) {
		contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
		return client.Models.GenerateContent(ctx, s.model, contents, nil)
	}
	return s, nil
}

// GenerateOrEdit issues p.Count independent model calls and returns their
// images in issue order. The contract is all-or-nothing: the first failure
// cancels the remaining calls and fails the whole operation. There are no
// retries and no timeout beyond the transport's own.
func (s *Service) GenerateOrEdit(ctx context.Context, p Params) ([]models.GeneratedImage, error) {
	if p.Count < 1 || p.Count > models.MaxImageCount {
		return nil, fmt.Errorf("imagegen: image count %d out of range [1,%d]", p.Count, models.MaxImageCount)
	}
	if !models.ValidAspectRatio(p.AspectRatio) {
		return nil, fmt.Errorf("imagegen: unsupported aspect ratio %q", p.AspectRatio)
	}

	prompt := assemblePrompt(p.Prompt, p.AspectRatio, p.Reference != nil)
	parts := []*genai.Part{genai.NewPartFromText(prompt)}
	if p.Reference != nil {
		raw, err := attachment.Decode(*p.Reference)
		if err != nil {
			return nil, err
		}
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{
			MIMEType: p.Reference.MIMEType,
			Data:     raw,
		}})
	}

	results := make([]models.GeneratedImage, p.Count)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.Count; i++ {
		g.Go(func() error {
			res, err := s.generate(ctx, parts)
			if err != nil {
				return err
			}
			data, err := parseResponse(res)
			if err != nil {
				return err
			}
			results[i] = models.NewGeneratedImage(base64.StdEncoding.EncodeToString(data), prompt)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// assemblePrompt merges the user text (or a fallback when empty), a style
// directive whose phrasing depends on whether a reference image is attached,
// and the aspect-ratio directive.
func assemblePrompt(text, ratio string, hasReference bool) string {
	text = strings.TrimSpace(text)
	if text == "" {
		if hasReference {
			text = fallbackEditPrompt
		} else {
			text = fallbackPrompt
		}
	}
	style := styleDirective
	if hasReference {
		style = editStyleDirective
	}
	return fmt.Sprintf("%s %s The image must have an aspect ratio of %s.", text, style, ratio)
}

// parseResponse scans the candidate's parts in order and returns the first
// inline image. A reply with only text becomes an error quoting that text;
// an abnormal finish reason becomes an error naming it; anything else is
// ErrNoImage.
func parseResponse(res *genai.GenerateContentResponse) ([]byte, error) {
	if res == nil || len(res.Candidates) == 0 {
		return nil, ErrNoImage
	}
	cand := res.Candidates[0]

	var texts []string
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, nil
			}
			if part.Text != "" {
				texts = append(texts, part.Text)
			}
		}
	}
	if len(texts) > 0 {
		return nil, errors.New(truncate(strings.Join(texts, " "), refusalPreviewLimit))
	}
	if abnormalFinish(cand.FinishReason) {
		return nil, fmt.Errorf("imagegen: generation stopped: %s", cand.FinishReason)
	}
	return nil, ErrNoImage
}

func abnormalFinish(r genai.FinishReason) bool {
	switch r {
	case "", genai.FinishReasonStop, genai.FinishReasonUnspecified:
		return false
	}
	return true
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
