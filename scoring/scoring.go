// Package scoring holds the prompt-in/text-out contract the AI scoring node
// depends on, and the Guard that owns its cooldown and model handles.
package scoring

import (
	"context"
	"fmt"
)

// Model is an external scorer: a prompt goes in, free text comes out.
type Model interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

type ModelFunc func(ctx context.Context, prompt string) (string, error)

func (f ModelFunc) GenerateContent(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// ModelConfig selects a model and its generation settings.
type ModelConfig struct {
	Name            string
	Temperature     float32
	TopP            float32
	MaxOutputTokens int32
}

func (c ModelConfig) cacheKey() string {
	return fmt.Sprintf("%s|%g|%g|%d", c.Name, c.Temperature, c.TopP, c.MaxOutputTokens)
}

// Provider builds model handles. Handles are cached by the Guard, so a
// provider may do expensive work (client setup) on each call.
type Provider interface {
	Model(ctx context.Context, cfg ModelConfig) (Model, error)
}

type ProviderFunc func(ctx context.Context, cfg ModelConfig) (Model, error)

func (f ProviderFunc) Model(ctx context.Context, cfg ModelConfig) (Model, error) {
	return f(ctx, cfg)
}

// StaticProvider hands out m for every configuration.
func StaticProvider(m Model) Provider {
	return ProviderFunc(func(ctx context.Context, cfg ModelConfig) (Model, error) {
		return m, nil
	})
}
