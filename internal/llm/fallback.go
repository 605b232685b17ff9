package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/tradewind-ai/tradewind/internal/metrics"
)

// Generator is the text-generation contract the agents consume
type Generator interface {
	Generate(ctx context.Context, prompt string, params GenerateParams) (*Result, error)
}

// FallbackChain tries an ordered list of model clients. Rate-limit and
// model-invalid errors advance to the next model; transport errors
// bubble to the caller.
type FallbackChain struct {
	clients []*Client
}

// FallbackConfig configures the chain
type FallbackConfig struct {
	Endpoint       string
	APIKey         string
	PrimaryModel   string
	FallbackModels []string
	Temperature    float64
	MaxTokens      int
	RequestsPerMin int
	Headers        map[string]string
}

// NewFallbackChain creates a chain with the primary model first
func NewFallbackChain(config FallbackConfig) *FallbackChain {
	models := append([]string{config.PrimaryModel}, config.FallbackModels...)

	clients := make([]*Client, 0, len(models))
	for _, model := range models {
		clients = append(clients, NewClient(ClientConfig{
			Endpoint:       config.Endpoint,
			APIKey:         config.APIKey,
			Model:          model,
			Temperature:    config.Temperature,
			MaxTokens:      config.MaxTokens,
			RequestsPerMin: config.RequestsPerMin,
			Headers:        config.Headers,
		}))
	}

	return &FallbackChain{clients: clients}
}

// Generate tries each model in order until one succeeds
func (fc *FallbackChain) Generate(ctx context.Context, prompt string, params GenerateParams) (*Result, error) {
	var lastErr error

	for i, client := range fc.clients {
		if i > 0 {
			metrics.LLMFallbacks.WithLabelValues(client.Model()).Inc()
			log.Warn().
				Err(lastErr).
				Str("model", client.Model()).
				Int("position", i+1).
				Msg("Falling back to next model")
		}

		result, err := client.Generate(ctx, prompt, params)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var llmErr *Error
		if errors.As(err, &llmErr) && llmErr.TriggersFallback() {
			continue
		}
		// Transport errors bubble without consuming the rest of the chain
		return nil, err
	}

	return nil, fmt.Errorf("all models exhausted: %w", lastErr)
}

// Models returns the configured model ids in chain order
func (fc *FallbackChain) Models() []string {
	models := make([]string, len(fc.clients))
	for i, c := range fc.clients {
		models[i] = c.Model()
	}
	return models
}
