package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds everything the server reads from the environment. Only the
// Gemini key is a real secret; the rest exists so deployments can move the
// defaults.
type Config struct {
	ListenAddr string `env:"EASEL_ADDR" envDefault:":8100"`
	DBPath     string `env:"EASEL_DB" envDefault:"easel.db"`
	WebDir     string `env:"EASEL_WEB_DIR" envDefault:"web"`

	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	ImageModel   string `env:"EASEL_IMAGE_MODEL" envDefault:"gemini-2.5-flash-image-preview"`

	// Prompt refinement runs against any OpenAI-compatible endpoint; the
	// defaults point at a local ollama.
	RefineBaseURL string `env:"EASEL_REFINE_BASE_URL" envDefault:"http://localhost:11434/v1/"`
	RefineModel   string `env:"EASEL_REFINE_MODEL" envDefault:"llama3.1:8b"`
	RefineAPIKey  string `env:"EASEL_REFINE_API_KEY" envDefault:"unused"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
