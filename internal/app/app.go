// Package app assembles the server from configuration. Both binaries build
// on it so the CLI talks to the same storage and broker as the server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"quill/internal/config"
	"quill/internal/domain/repositories"
	docstoreRepo "quill/internal/domain/repositories/docstore"
	docstoreSvc "quill/internal/domain/services/docstore"
	pipelineSvc "quill/internal/domain/services/pipeline"
	"quill/internal/messaging"
	"quill/internal/repository/memory"
	"quill/internal/repository/postgres"
	postgresDocstore "quill/internal/repository/postgres/docstore"
	"quill/internal/search"
	"quill/internal/service/ai"
	"quill/internal/service/broadcast"
	serviceDocstore "quill/internal/service/docstore"
	servicePipeline "quill/internal/service/pipeline"
)

// Storage bundles the repositories of one backend
type Storage struct {
	Documents  docstoreRepo.DocumentRepository
	Revisions  docstoreRepo.RevisionRepository
	Tags       docstoreRepo.TagRepository
	Summaries  docstoreRepo.SummaryRepository
	Embeddings docstoreRepo.EmbeddingRepository
	TxManager  repositories.TransactionManager
	close      func()
}

// Close releases the backend
func (s *Storage) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStorage connects to Postgres and applies migrations. Without a
// DATABASE_URL the dev environment falls back to an in-memory store.
func OpenStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Storage, error) {
	if cfg.DatabaseURL == "" {
		if cfg.Environment != "dev" {
			return nil, errors.New("DATABASE_URL environment variable not set")
		}
		logger.Warn("DATABASE_URL not set, using in-memory storage")
		store := memory.NewStore()
		return &Storage{
			Documents:  store.Documents(),
			Revisions:  store.Revisions(),
			Tags:       store.Tags(),
			Summaries:  store.Summaries(),
			Embeddings: store.Embeddings(),
			TxManager:  store.TransactionManager(),
		}, nil
	}

	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL, postgres.PoolOptions{})
	if err != nil {
		return nil, err
	}

	tables := postgres.NewTableNames(cfg.TablePrefix)
	if err := postgres.ApplyMigrations(ctx, pool, tables, logger); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("database connected", "table_prefix", cfg.TablePrefix)

	repoConfig := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: tables,
		Logger: logger,
	}
	return &Storage{
		Documents:  postgresDocstore.NewDocumentRepository(repoConfig),
		Revisions:  postgresDocstore.NewRevisionRepository(repoConfig),
		Tags:       postgresDocstore.NewTagRepository(repoConfig),
		Summaries:  postgresDocstore.NewSummaryRepository(repoConfig),
		Embeddings: postgresDocstore.NewEmbeddingRepository(repoConfig),
		TxManager:  postgres.NewTransactionManager(pool, logger),
		close:      pool.Close,
	}, nil
}

// App holds every long-lived component
type App struct {
	Config   *config.Config
	Pipeline *config.PipelineConfig
	Logger   *slog.Logger

	Storage   *Storage
	Broker    messaging.Broker
	Registry  *broadcast.Registry
	Relay     *broadcast.Relay // nil without Redis
	Notifier  pipelineSvc.StatusNotifier
	Indexer   search.Indexer
	Lifecycle docstoreSvc.LifecycleService

	closers []func()
}

// New wires storage, broker, status broadcast, search and the lifecycle service
func New(ctx context.Context, cfg *config.Config, registryBuffer int, logger *slog.Logger) (*App, error) {
	pipelineCfg, err := config.LoadPipelineConfig(cfg.PipelineConfigPath)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:   cfg,
		Pipeline: pipelineCfg,
		Logger:   logger,
		Registry: broadcast.NewRegistry(registryBuffer, logger),
	}

	a.Storage, err = OpenStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Storage.Close)

	if err := a.openBroker(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.MeiliURL != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		a.Indexer = meili
		a.closers = append(a.closers, meili.Close)
	} else {
		a.Indexer = search.Noop{}
	}

	a.Lifecycle = serviceDocstore.NewLifecycleService(
		a.Storage.Documents,
		a.Storage.Revisions,
		a.Storage.Tags,
		a.Storage.TxManager,
		serviceDocstore.NewRequestValidator(),
		a.Broker,
		a.Notifier,
		a.Indexer,
		logger,
	)
	return a, nil
}

func (a *App) openBroker(ctx context.Context) error {
	switch a.Config.Broker {
	case "memory":
		a.Broker = messaging.NewMemoryBroker(a.Pipeline.Partitions, a.Logger)
		a.Notifier = a.Registry
		a.Logger.Warn("using in-memory broker; pipeline runs in this process only")

	case "redis":
		opts, err := redis.ParseURL(a.Config.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return fmt.Errorf("connect to redis: %w", err)
		}

		a.Broker = messaging.NewRedisBrokerWithClient(client, messaging.RedisOptions{
			Partitions: a.Pipeline.Partitions,
			Consumer:   a.Config.ConsumerName,
			MaxLen:     a.Pipeline.StreamMaxLen,
			LeaseTTL:   a.Pipeline.HandlerTimeout + 30*time.Second,
		}, a.Logger)
		a.Relay = broadcast.NewRelay(client, a.Config.StatusChannel, a.Registry, a.Logger)
		a.Notifier = a.Relay
		a.Logger.Info("redis connected", "consumer", a.Config.ConsumerName, "partitions", a.Pipeline.Partitions)

	default:
		return fmt.Errorf("unsupported broker: %s", a.Config.Broker)
	}

	a.closers = append(a.closers, func() {
		if err := a.Broker.Close(); err != nil {
			a.Logger.Warn("broker close failed", "error", err)
		}
	})
	return nil
}

// NewPipeline builds the model adapters and stage handlers
func (a *App) NewPipeline() (*servicePipeline.Service, error) {
	provider, err := ai.NewProvider(a.Config)
	if err != nil {
		return nil, err
	}
	embedder, err := ai.NewEmbedder(a.Config)
	if err != nil {
		return nil, err
	}

	return servicePipeline.NewService(
		servicePipeline.Repositories{
			Documents:  a.Storage.Documents,
			Tags:       a.Storage.Tags,
			Summaries:  a.Storage.Summaries,
			Embeddings: a.Storage.Embeddings,
			TxManager:  a.Storage.TxManager,
		},
		servicePipeline.Models{
			Summarizer: ai.NewSummarizer(provider, a.Config.LLMModel, a.Logger),
			Tagger:     ai.NewTagger(provider, a.Config.LLMModel, a.Logger),
			Embedder:   embedder,
		},
		a.Broker,
		a.Notifier,
		a.Indexer,
		a.Logger,
	), nil
}

// Close releases resources in reverse order of acquisition
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
