package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	Environment string
	DatabaseURL string
	TablePrefix string
	CORSOrigins string

	// Auth
	JWKSURL      string
	AuthDisabled bool // dev only: trust DevUserID instead of a bearer token
	DevUserID    string

	// Messaging
	Broker             string // "redis" or "memory"
	RedisURL           string
	ConsumerName       string
	PipelineConfigPath string // overrides the embedded pipeline.yaml

	// Status stream
	HeartbeatInterval time.Duration
	StatusChannel     string // Redis pub/sub channel relaying status between instances

	// Search
	MeiliURL       string
	MeiliMasterKey string

	// Models
	LLMProvider       string
	AnthropicAPIKey   string
	OpenRouterAPIKey  string
	LLMModel          string
	EmbeddingProvider string // "ollama" or "hash"
	EmbeddingURL      string
	EmbeddingModel    string

	// Logging
	LogDir      string
	LogMaxFiles int
}

func Load() *Config {
	env := getEnv("ENVIRONMENT", "dev")

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: env,
		DatabaseURL: getEnv("DATABASE_URL", ""),
		TablePrefix: getTablePrefix(env),
		CORSOrigins: getEnv("CORS_ORIGINS", "http://localhost:3000"),

		JWKSURL:      getEnv("JWKS_URL", ""),
		AuthDisabled: env == "dev" && getEnv("AUTH_DISABLED", "false") == "true",
		DevUserID:    getEnv("DEV_USER_ID", "dev-user"),

		Broker:             getEnv("BROKER", "redis"),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379/0"),
		ConsumerName:       getEnv("CONSUMER_NAME", defaultConsumerName()),
		PipelineConfigPath: getEnv("PIPELINE_CONFIG", ""),

		HeartbeatInterval: getEnvDuration("SSE_HEARTBEAT_INTERVAL", 30*time.Second),
		StatusChannel:     getEnv("STATUS_CHANNEL", "quill:ai-status"),

		MeiliURL:       getEnv("MEILI_URL", ""),
		MeiliMasterKey: getEnv("MEILI_MASTER_KEY", ""),

		LLMProvider:       getEnv("LLM_PROVIDER", "anthropic"),
		AnthropicAPIKey:   getEnv("ANTHROPIC_API_KEY", ""),
		OpenRouterAPIKey:  getEnv("OPENROUTER_API_KEY", ""),
		LLMModel:          getEnv("LLM_MODEL", "claude-haiku-4-5-20251001"),
		EmbeddingProvider: getEnv("EMBEDDING_PROVIDER", "ollama"),
		EmbeddingURL:      getEnv("EMBEDDING_URL", "http://localhost:11434"),
		EmbeddingModel:    getEnv("EMBEDDING_MODEL", "nomic-embed-text"),

		LogDir:      getEnv("LOG_DIR", ""),
		LogMaxFiles: getEnvInt("LOG_MAX_FILES", 10),
	}
}

// AllowedOrigins splits CORSOrigins on commas
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// getTablePrefix returns the table prefix based on environment
func getTablePrefix(env string) string {
	if prefix := os.Getenv("TABLE_PREFIX"); prefix != "" {
		return prefix
	}

	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "quill"
	}
	return host
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
