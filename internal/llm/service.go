// Package llm expands rough user prompts into detailed image-generation
// prompts via an OpenAI-compatible completion endpoint.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const refineTemplate = `You write prompts for a generative image model.
Rewrite the rough idea below into one detailed image prompt covering
subject, setting, lighting, mood and composition. Respond with the
rewritten prompt only, no preamble.

Rough idea: %s`

type Service struct {
	llm llms.LLM
}

func New(baseURL, token, model string) (*Service, error) {
	llm, err := openai.New(
		openai.WithToken(token),
		openai.WithBaseURL(baseURL),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, err
	}
	return &Service{llm: llm}, nil
}

// RefinePrompt returns a detailed rewrite of rough. It never touches the
// session; callers surface failures without blocking the send flow.
func (s *Service) RefinePrompt(ctx context.Context, rough string) (string, error) {
	rough = strings.TrimSpace(rough)
	if rough == "" {
		return "", errors.New("nothing to refine")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	completion, err := llms.GenerateFromSinglePrompt(ctx, s.llm, fmt.Sprintf(refineTemplate, rough))
	if err != nil {
		return "", fmt.Errorf("failed to generate completion: %w", err)
	}
	return strings.TrimSpace(completion), nil
}
