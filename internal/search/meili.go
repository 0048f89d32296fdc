package search

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxDocuments = "quill_documents"

var errUnhealthy = errors.New("meilisearch unhealthy")

// Meili implements Indexer via Meilisearch
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	logger  *slog.Logger
}

// NewMeili creates a Meilisearch client and configures the index.
// An unreachable server is tolerated; a background loop reconnects.
func NewMeili(url, apiKey string, logger *slog.Logger) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
		logger: logger,
	}

	if _, err := m.client.Health(); err != nil {
		logger.Warn("meilisearch unavailable", "url", url, "error", err)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxDocuments,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("create index (may already exist)", "index", idxDocuments, "error", err)
	}

	index := m.client.Index(idxDocuments)
	filterable := []interface{}{"status", "aiStatus", "parentId", "tags"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", "index", idxDocuments, "error", err)
	}
	searchable := []string{"title", "summary", "tags", "content"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", "index", idxDocuments, "error", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// IndexDocument adds or replaces a document in the index
func (m *Meili) IndexDocument(ctx context.Context, rec DocumentRecord) error {
	if !m.healthy.Load() {
		return errUnhealthy
	}
	_, err := m.client.Index(idxDocuments).AddDocuments([]DocumentRecord{rec}, nil)
	return err
}

// DeleteDocuments removes documents from the index
func (m *Meili) DeleteDocuments(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if !m.healthy.Load() {
		return errUnhealthy
	}
	for _, id := range ids {
		if _, err := m.client.Index(idxDocuments).DeleteDocument(strconv.FormatInt(id, 10), nil); err != nil {
			return err
		}
	}
	return nil
}

var _ Indexer = (*Meili)(nil)
