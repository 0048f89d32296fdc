package ai

import (
	"context"
	"fmt"
	"log/slog"

	llmprovider "github.com/haowjy/meridian-llm-go"

	"quill/internal/config"
	pipelineSvc "quill/internal/domain/services/pipeline"
)

const summaryPrompt = `Summarize the following document in two to four sentences.
Reply with the summary only.

Title: %s

%s`

// Summarizer implements pipelineSvc.SummaryGenerator with an LLM provider.
type Summarizer struct {
	provider llmprovider.Provider
	model    string
	logger   *slog.Logger
}

var _ pipelineSvc.SummaryGenerator = (*Summarizer)(nil)

// NewSummarizer creates a summarizer bound to one model
func NewSummarizer(provider llmprovider.Provider, model string, logger *slog.Logger) *Summarizer {
	return &Summarizer{provider: provider, model: model, logger: logger}
}

func (s *Summarizer) Summarize(ctx context.Context, title, content string) (string, error) {
	body := TruncateRunes(content, config.MaxSummaryInputChars)
	if len(body) < len(content) {
		s.logger.Debug("summarizer input truncated", "title", title, "original_bytes", len(content))
	}

	summary, err := complete(ctx, s.provider, s.model, fmt.Sprintf(summaryPrompt, title, body))
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return summary, nil
}
