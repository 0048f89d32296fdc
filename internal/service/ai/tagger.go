package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	llmprovider "github.com/haowjy/meridian-llm-go"

	"quill/internal/config"
	"quill/internal/domain/models/docstore"
	pipelineSvc "quill/internal/domain/services/pipeline"
)

const tagPrompt = `Extract up to %d tags from the document below.
Write one tag per line as CATEGORY: name, where CATEGORY is one of TOPIC, TECHNOLOGY, ENTITY, KEYWORD.
Reply with the tag lines only.

Title: %s

Summary: %s`

// Tagger implements pipelineSvc.TagExtractor with an LLM provider.
type Tagger struct {
	provider llmprovider.Provider
	model    string
	logger   *slog.Logger
}

var _ pipelineSvc.TagExtractor = (*Tagger)(nil)

// NewTagger creates a tagger bound to one model
func NewTagger(provider llmprovider.Provider, model string, logger *slog.Logger) *Tagger {
	return &Tagger{provider: provider, model: model, logger: logger}
}

func (t *Tagger) ExtractTags(ctx context.Context, title, summary string) ([]pipelineSvc.ExtractedTag, error) {
	prompt := fmt.Sprintf(tagPrompt, config.MaxTagsPerRevision, title, summary)
	reply, err := complete(ctx, t.provider, t.model, prompt)
	if err != nil {
		return nil, fmt.Errorf("extract tags: %w", err)
	}

	tags := ParseTags(reply)
	t.logger.Debug("tags extracted", "title", title, "count", len(tags))
	return tags, nil
}

// ParseTags reads "CATEGORY: name" lines. Lines without a known category,
// and comma separated lists, become KEYWORD tags. Names are deduplicated
// case-insensitively within a category and capped in length and count.
func ParseTags(reply string) []pipelineSvc.ExtractedTag {
	var out []pipelineSvc.ExtractedTag
	seen := make(map[string]bool)

	add := func(name string, constant docstore.TagConstant) {
		name = strings.Trim(strings.TrimSpace(name), `"'.*`)
		if name == "" || len(out) >= config.MaxTagsPerRevision {
			return
		}
		name = TruncateRunes(name, config.MaxTagNameLength)
		key := string(constant) + "\x00" + strings.ToLower(name)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, pipelineSvc.ExtractedTag{Name: name, TagConstant: constant})
	}

	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimLeft(strings.TrimSpace(line), "-*• ")
		if line == "" {
			continue
		}

		if prefix, rest, ok := strings.Cut(line, ":"); ok {
			constant := docstore.TagConstant(strings.ToUpper(strings.TrimSpace(prefix)))
			if docstore.ParseTagConstant(string(constant)) == constant {
				for _, name := range strings.Split(rest, ",") {
					add(name, constant)
				}
				continue
			}
		}

		for _, name := range strings.Split(line, ",") {
			add(name, docstore.TagKeyword)
		}
	}
	return out
}
