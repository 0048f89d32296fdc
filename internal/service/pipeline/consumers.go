package pipeline

import (
	"context"
	"fmt"
	"time"

	"quill/internal/config"
	"quill/internal/messaging"
)

// Stage names used in pipeline.yaml
const (
	StageSummarizer = "summarizer"
	StageTagger     = "tagger"
	StageEmbedder   = "embedder"
	StageFailure    = "failure"
)

// Handler returns the message handler for a stage name.
func (s *Service) Handler(stage string) (messaging.Handler, error) {
	switch stage {
	case StageSummarizer:
		return s.HandleDocumentReady, nil
	case StageTagger:
		return s.HandleTaggingRequest, nil
	case StageEmbedder:
		return s.HandleEmbeddingRequest, nil
	case StageFailure:
		return s.HandleFailure, nil
	default:
		return nil, fmt.Errorf("unknown pipeline stage %q", stage)
	}
}

// Register subscribes every consumer in cfg. Each handler call gets its own
// deadline of cfg.HandlerTimeout.
func (s *Service) Register(sub messaging.Subscriber, cfg *config.PipelineConfig) error {
	for _, c := range cfg.Consumers {
		h, err := s.Handler(c.Stage)
		if err != nil {
			return err
		}
		if err := sub.Subscribe(c.Topic, c.Group, withTimeout(h, cfg.HandlerTimeout)); err != nil {
			return fmt.Errorf("subscribe %s to %s: %w", c.Group, c.Topic, err)
		}
		s.logger.Info("pipeline consumer registered", "stage", c.Stage, "topic", c.Topic, "group", c.Group)
	}
	return nil
}

func withTimeout(h messaging.Handler, timeout time.Duration) messaging.Handler {
	if timeout <= 0 {
		return h
	}
	return func(ctx context.Context, msg messaging.Message) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return h(ctx, msg)
	}
}
