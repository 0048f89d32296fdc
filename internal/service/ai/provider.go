// Package ai adapts model providers to the annotation pipeline ports.
package ai

import (
	"context"
	"fmt"
	"strings"

	llmprovider "github.com/haowjy/meridian-llm-go"
	"github.com/haowjy/meridian-llm-go/providers/anthropic"
	"github.com/haowjy/meridian-llm-go/providers/lorem"
	"github.com/haowjy/meridian-llm-go/providers/openrouter"

	"quill/internal/config"
	pipelineSvc "quill/internal/domain/services/pipeline"
)

// NewProvider returns the text-generation provider named by cfg.LLMProvider.
//
// Supported providers:
//   - "anthropic" - Claude models via Anthropic API
//   - "openrouter" - Any model routed through OpenRouter
//   - "lorem" - Mock provider for local runs (no API key required)
func NewProvider(cfg *config.Config) (llmprovider.Provider, error) {
	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable not set")
		}
		provider, err := anthropic.NewProvider(cfg.AnthropicAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create Anthropic provider: %w", err)
		}
		return provider, nil

	case "openrouter":
		if cfg.OpenRouterAPIKey == "" {
			return nil, fmt.Errorf("OPENROUTER_API_KEY environment variable not set")
		}
		provider, err := openrouter.NewProvider(cfg.OpenRouterAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenRouter provider: %w", err)
		}
		return provider, nil

	case "lorem":
		return lorem.NewProvider(), nil

	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.LLMProvider)
	}
}

// complete sends a single user message and joins the text blocks of the reply.
func complete(ctx context.Context, provider llmprovider.Provider, model, prompt string) (string, error) {
	req := &llmprovider.GenerateRequest{
		Messages: []llmprovider.Message{
			{
				Role: "user",
				Blocks: []*llmprovider.Block{
					{
						BlockType:   "text",
						Sequence:    0,
						TextContent: &prompt,
					},
				},
			},
		},
		Model: model,
	}

	resp, err := provider.GenerateResponse(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s generate: %w", provider.Name().String(), err)
	}

	var b strings.Builder
	for _, block := range resp.Blocks {
		if block == nil || block.BlockType != "text" || block.TextContent == nil {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(*block.TextContent)
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("%s returned no text", provider.Name().String())
	}
	return text, nil
}

// TruncateRunes cuts s to at most n runes without splitting a character.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// NewEmbedder returns the embedding generator named by cfg.EmbeddingProvider.
func NewEmbedder(cfg *config.Config) (pipelineSvc.EmbeddingGenerator, error) {
	switch cfg.EmbeddingProvider {
	case "ollama":
		if cfg.EmbeddingURL == "" {
			return nil, fmt.Errorf("EMBEDDING_URL environment variable not set")
		}
		return NewOllamaEmbedder(cfg.EmbeddingURL, cfg.EmbeddingModel), nil
	case "hash":
		return HashEmbedder{}, nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.EmbeddingProvider)
	}
}
