package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed pipeline.yaml
var defaultPipelineYAML []byte

// PipelineConfig describes partitions and consumer groups of the annotation pipeline
type PipelineConfig struct {
	Partitions     int              `yaml:"partitions"`
	HandlerTimeout time.Duration    `yaml:"handler_timeout"`
	StreamMaxLen   int64            `yaml:"stream_max_len"`
	Consumers      []ConsumerConfig `yaml:"consumers"`
}

// ConsumerConfig binds a pipeline stage to a topic under a consumer group
type ConsumerConfig struct {
	Stage string `yaml:"stage"`
	Topic string `yaml:"topic"`
	Group string `yaml:"group"`
}

// LoadPipelineConfig parses path, or the embedded default when path is empty
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	data := defaultPipelineYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read pipeline config: %w", err)
		}
		data = b
	}
	return ParsePipelineConfig(data)
}

// ParsePipelineConfig parses and validates a pipeline YAML document
func ParsePipelineConfig(data []byte) (*PipelineConfig, error) {
	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal pipeline config: %w", err)
	}

	if cfg.Partitions < 1 {
		return nil, fmt.Errorf("pipeline config: partitions must be >= 1, got %d", cfg.Partitions)
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 2 * time.Minute
	}

	seen := make(map[string]bool)
	for i, c := range cfg.Consumers {
		if c.Stage == "" || c.Topic == "" || c.Group == "" {
			return nil, fmt.Errorf("pipeline config: consumer %d needs stage, topic and group", i)
		}
		key := c.Topic + "/" + c.Group
		if seen[key] {
			return nil, fmt.Errorf("pipeline config: group %s subscribed twice to %s", c.Group, c.Topic)
		}
		seen[key] = true
	}

	return &cfg, nil
}
