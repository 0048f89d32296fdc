package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quill/internal/config"
	models "quill/internal/domain/models/docstore"
	pipelineModels "quill/internal/domain/models/pipeline"
	"quill/internal/domain/repositories"
	docstoreRepo "quill/internal/domain/repositories/docstore"
	docstoreSvc "quill/internal/domain/services/docstore"
	pipelineSvc "quill/internal/domain/services/pipeline"
	"quill/internal/messaging"
	"quill/internal/repository/memory"
	"quill/internal/service/ai"
	"quill/internal/service/broadcast"
	docstoreService "quill/internal/service/docstore"
)

type fakeSummarizer struct {
	err   error
	calls atomic.Int32
}

func (f *fakeSummarizer) Summarize(ctx context.Context, title, content string) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return "summary of " + title, nil
}

type fakeTagger struct {
	err error
}

func (f *fakeTagger) ExtractTags(ctx context.Context, title, summary string) ([]pipelineSvc.ExtractedTag, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []pipelineSvc.ExtractedTag{
		{Name: "go", TagConstant: models.TagTechnology},
		{Name: title, TagConstant: models.TagTopic},
	}, nil
}

type fakeEmbedder struct {
	err   error
	calls atomic.Int32
}

func (f *fakeEmbedder) Model() string { return "fake" }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return ai.HashEmbedder{Dims: 8}.Embed(ctx, text)
}

// tap records every message on a topic under its own consumer group
type tap struct {
	mu   sync.Mutex
	msgs []messaging.Message
}

func (p *tap) handle(ctx context.Context, msg messaging.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *tap) all() []messaging.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]messaging.Message(nil), p.msgs...)
}

type harness struct {
	store      *memory.Store
	broker     *messaging.MemoryBroker
	registry   *broadcast.Registry
	lifecycle  docstoreSvc.LifecycleService
	pipeline   *Service
	summarizer *fakeSummarizer
	tagger     *fakeTagger
	embedder   *fakeEmbedder
	failures   *tap
	embeddings *tap
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	broker := messaging.NewMemoryBroker(4, logger)
	registry := broadcast.NewRegistry(16, logger)
	summarizer := &fakeSummarizer{}
	tagger := &fakeTagger{}
	embedder := &fakeEmbedder{}

	lifecycle := docstoreService.NewLifecycleService(
		store.Documents(),
		store.Revisions(),
		store.Tags(),
		store.TransactionManager(),
		docstoreService.NewRequestValidator(),
		broker,
		registry,
		nil,
		logger,
	)

	svc := NewService(
		Repositories{
			Documents:  store.Documents(),
			Tags:       store.Tags(),
			Summaries:  store.Summaries(),
			Embeddings: store.Embeddings(),
			TxManager:  store.TransactionManager(),
		},
		Models{Summarizer: summarizer, Tagger: tagger, Embedder: embedder},
		broker,
		registry,
		nil,
		logger,
	)

	cfg, err := config.LoadPipelineConfig("")
	require.NoError(t, err)
	require.NoError(t, svc.Register(broker, cfg))

	failures, embeddings := &tap{}, &tap{}
	require.NoError(t, broker.Subscribe(pipelineModels.TopicFailed, "tap", failures.handle))
	require.NoError(t, broker.Subscribe(pipelineModels.TopicEmbedding, "tap", embeddings.handle))

	return &harness{
		store:      store,
		broker:     broker,
		registry:   registry,
		lifecycle:  lifecycle,
		pipeline:   svc,
		summarizer: summarizer,
		tagger:     tagger,
		embedder:   embedder,
		failures:   failures,
		embeddings: embeddings,
	}
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.broker.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.broker.WaitIdle(ctx))
}

func (h *harness) publish(t *testing.T, title string) *models.Document {
	t.Helper()
	ctx := context.Background()
	content := "content of " + title
	doc, err := h.lifecycle.Create(ctx, "alice", &docstoreSvc.CreateDocumentRequest{Title: title, Content: &content})
	require.NoError(t, err)
	doc, err = h.lifecycle.Publish(ctx, "alice", doc.ID)
	require.NoError(t, err)
	return doc
}

func (h *harness) status(t *testing.T, id int64) models.AIStatus {
	t.Helper()
	doc, err := h.store.Documents().GetByID(context.Background(), id)
	require.NoError(t, err)
	return doc.AIStatus
}

func drain(conn *broadcast.Connection) []models.AIStatus {
	var out []models.AIStatus
	for {
		select {
		case ev := <-conn.Events():
			var update pipelineModels.StatusUpdate
			if err := json.Unmarshal(ev.Data, &update); err == nil {
				out = append(out, update.Status)
			}
		default:
			return out
		}
	}
}

func TestPipelineCompletesPublishedDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	content := "body"
	draft, err := h.lifecycle.Create(ctx, "alice", &docstoreSvc.CreateDocumentRequest{Title: "Go", Content: &content})
	require.NoError(t, err)
	conn := h.registry.Subscribe(draft.ID)

	h.run(t)
	doc, err := h.lifecycle.Publish(ctx, "alice", draft.ID)
	require.NoError(t, err)
	h.waitIdle(t)

	assert.Equal(t, models.AIStatusCompleted, h.status(t, doc.ID))

	summary, err := h.store.Summaries().GetByRevision(ctx, doc.ID, doc.CurrentRevisionID)
	require.NoError(t, err)
	assert.Equal(t, "summary of Go", summary.Summary)

	tags, err := h.lifecycle.ListTags(ctx, "alice", doc.ID)
	require.NoError(t, err)
	assert.Len(t, tags, 2)

	emb, err := h.store.Embeddings().GetByRevision(ctx, doc.ID, doc.CurrentRevisionID)
	require.NoError(t, err)
	assert.Equal(t, "fake", emb.Model)
	assert.Len(t, emb.Vector, 8)

	assert.Equal(t, []models.AIStatus{
		models.AIStatusPending,
		models.AIStatusProcessing,
		models.AIStatusCompleted,
	}, drain(conn))
	select {
	case <-conn.Done():
	default:
		t.Fatal("terminal status should close the stream")
	}
	assert.Zero(t, h.registry.Count(doc.ID))
}

func TestPipelineSummarizerFailureMarksFailed(t *testing.T) {
	h := newHarness(t)
	h.summarizer.err = errors.New("model overloaded")
	h.run(t)

	doc := h.publish(t, "doc")
	h.waitIdle(t)

	assert.Equal(t, models.AIStatusFailed, h.status(t, doc.ID))
	assert.Zero(t, h.embedder.calls.Load())

	_, err := h.store.Summaries().GetByRevision(context.Background(), doc.ID, doc.CurrentRevisionID)
	assert.Error(t, err)
}

func TestPipelineTaggerFailureStopsBeforeEmbedding(t *testing.T) {
	h := newHarness(t)
	h.tagger.err = errors.New("rate limited")
	h.run(t)

	doc := h.publish(t, "doc")
	h.waitIdle(t)

	assert.Equal(t, models.AIStatusFailed, h.status(t, doc.ID))
	assert.Empty(t, h.embeddings.all())

	failures := h.failures.all()
	require.Len(t, failures, 1)
	var ev pipelineModels.Failure
	require.NoError(t, json.Unmarshal(failures[0].Payload, &ev))
	assert.Equal(t, pipelineModels.AgentTagger, ev.AgentType)
	assert.Equal(t, doc.CurrentRevisionID, ev.DocumentRevisionID)
	assert.Contains(t, ev.Reason, "rate limited")
	assert.Equal(t, pipelineModels.Key(doc.ID), failures[0].Key)
}

func TestFailureReasonIsTruncated(t *testing.T) {
	h := newHarness(t)
	h.tagger.err = errors.New(strings.Repeat("é", config.MaxFailureReasonLength+50))
	h.run(t)

	h.publish(t, "doc")
	h.waitIdle(t)

	failures := h.failures.all()
	require.Len(t, failures, 1)
	var ev pipelineModels.Failure
	require.NoError(t, json.Unmarshal(failures[0].Payload, &ev))
	assert.Equal(t, config.MaxFailureReasonLength, utf8.RuneCountInString(ev.Reason))
}

func TestPipelineEmbedderFailureMarksFailed(t *testing.T) {
	h := newHarness(t)
	h.embedder.err = errors.New("connection refused")
	h.run(t)

	doc := h.publish(t, "doc")
	h.waitIdle(t)

	assert.Equal(t, models.AIStatusFailed, h.status(t, doc.ID))
	assert.Zero(t, h.store.EmbeddingCount(doc.ID, doc.CurrentRevisionID))
}

func TestPipelineSkipsSupersededRevision(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc := h.publish(t, "doc")
	first := doc.CurrentRevisionID
	edited, err := h.lifecycle.Update(ctx, "alice", doc.ID, &docstoreSvc.UpdateDocumentRequest{Content: strPtr("v2")})
	require.NoError(t, err)

	h.run(t)
	h.waitIdle(t)

	assert.Equal(t, models.AIStatusCompleted, h.status(t, doc.ID))
	assert.Equal(t, int32(1), h.summarizer.calls.Load(), "only the current revision is summarized")
	assert.Zero(t, h.store.EmbeddingCount(doc.ID, first))
	assert.Equal(t, 1, h.store.EmbeddingCount(doc.ID, edited.CurrentRevisionID))
}

func TestPipelineIgnoresDeletedDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc := h.publish(t, "doc")
	_, err := h.lifecycle.Delete(ctx, "alice", doc.ID)
	require.NoError(t, err)

	h.run(t)
	h.waitIdle(t)

	assert.Zero(t, h.summarizer.calls.Load())
	assert.Equal(t, models.AIStatusPending, h.status(t, doc.ID))
}

func TestEmbeddingRedeliveryIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.publish(t, "doc")
	require.NoError(t, h.store.Documents().SetAIStatus(ctx, doc.ID, models.AIStatusProcessing))

	payload, err := json.Marshal(pipelineModels.EmbeddingRequest{
		DocumentID:         doc.ID,
		DocumentRevisionID: doc.CurrentRevisionID,
		Tags:               []pipelineModels.TagPayload{{Name: "go", TagConstant: models.TagTechnology}},
	})
	require.NoError(t, err)
	msg := messaging.Message{ID: "1", Topic: pipelineModels.TopicEmbedding, Key: pipelineModels.Key(doc.ID), Payload: payload}

	require.NoError(t, h.pipeline.HandleEmbeddingRequest(ctx, msg))
	require.NoError(t, h.pipeline.HandleEmbeddingRequest(ctx, msg))

	assert.Equal(t, models.AIStatusCompleted, h.status(t, doc.ID))
	assert.Equal(t, 1, h.store.EmbeddingCount(doc.ID, doc.CurrentRevisionID))
	assert.Equal(t, int32(1), h.embedder.calls.Load(), "completed revisions are not re-embedded")
}

func TestLateEmbeddingForOldRevisionIsIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.run(t)

	doc := h.publish(t, "doc")
	h.waitIdle(t)
	first := doc.CurrentRevisionID

	edited, err := h.lifecycle.Update(ctx, "alice", doc.ID, &docstoreSvc.UpdateDocumentRequest{Content: strPtr("v2")})
	require.NoError(t, err)
	h.waitIdle(t)
	require.Equal(t, models.AIStatusCompleted, h.status(t, doc.ID))
	current, err := h.store.Embeddings().GetByRevision(ctx, doc.ID, edited.CurrentRevisionID)
	require.NoError(t, err)

	require.NoError(t, h.store.Documents().SetAIStatus(ctx, doc.ID, models.AIStatusProcessing))
	payload, err := json.Marshal(pipelineModels.EmbeddingRequest{DocumentID: doc.ID, DocumentRevisionID: first})
	require.NoError(t, err)
	calls := h.embedder.calls.Load()
	require.NoError(t, h.pipeline.HandleEmbeddingRequest(ctx, messaging.Message{Topic: pipelineModels.TopicEmbedding, Payload: payload}))

	assert.Equal(t, calls, h.embedder.calls.Load(), "stale revision is never embedded")
	assert.Equal(t, models.AIStatusProcessing, h.status(t, doc.ID), "stale revision cannot complete the document")
	after, err := h.store.Embeddings().GetByRevision(ctx, doc.ID, edited.CurrentRevisionID)
	require.NoError(t, err)
	assert.Equal(t, current.Vector, after.Vector)
}

func TestFailureHandlerIgnoresStaleRevision(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.publish(t, "doc")

	payload, err := json.Marshal(pipelineModels.Failure{
		DocumentID:         doc.ID,
		DocumentRevisionID: doc.CurrentRevisionID - 1,
		AgentType:          pipelineModels.AgentTagger,
		Reason:             "boom",
	})
	require.NoError(t, err)

	require.NoError(t, h.pipeline.HandleFailure(ctx, messaging.Message{Topic: pipelineModels.TopicFailed, Payload: payload}))
	assert.Equal(t, models.AIStatusPending, h.status(t, doc.ID))
}

func TestRegisterRejectsUnknownStage(t *testing.T) {
	h := newHarness(t)
	broker := messaging.NewMemoryBroker(1, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := h.pipeline.Register(broker, &config.PipelineConfig{
		Partitions: 1,
		Consumers:  []config.ConsumerConfig{{Stage: "translator", Topic: "t", Group: "g"}},
	})
	assert.ErrorContains(t, err, "translator")
}

// documentsSpy records document reads and status swaps, and can fail reads.
type documentsSpy struct {
	docstoreRepo.DocumentRepository

	mu       sync.Mutex
	calls    []string
	failGets int
}

func (d *documentsSpy) record(ctx context.Context, call string) {
	if repositories.InTx(ctx) {
		call += " in tx"
	}
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()
}

func (d *documentsSpy) GetByID(ctx context.Context, id int64) (*models.Document, error) {
	d.record(ctx, "get")
	d.mu.Lock()
	fail := d.failGets > 0
	if fail {
		d.failGets--
	}
	d.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset by peer")
	}
	return d.DocumentRepository.GetByID(ctx, id)
}

func (d *documentsSpy) CompareAndSetAIStatus(ctx context.Context, id int64, from, to models.AIStatus) (bool, error) {
	d.record(ctx, "cas "+string(to))
	return d.DocumentRepository.CompareAndSetAIStatus(ctx, id, from, to)
}

func (d *documentsSpy) recorded() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// withDocuments builds a second pipeline over the same store and broker
// that reads documents through docs.
func (h *harness) withDocuments(docs docstoreRepo.DocumentRepository) *Service {
	return NewService(
		Repositories{
			Documents:  docs,
			Tags:       h.store.Tags(),
			Summaries:  h.store.Summaries(),
			Embeddings: h.store.Embeddings(),
			TxManager:  h.store.TransactionManager(),
		},
		Models{Summarizer: h.summarizer, Tagger: h.tagger, Embedder: h.embedder},
		h.broker,
		h.registry,
		nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func TestMalformedEmbeddingRequestFailsDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.publish(t, "doc")
	require.NoError(t, h.store.Documents().SetAIStatus(ctx, doc.ID, models.AIStatusProcessing))
	conn := h.registry.Subscribe(doc.ID)

	payload := fmt.Sprintf(`{"documentId":%d,"documentRevisionId":%d,"tags":"oops"}`, doc.ID, doc.CurrentRevisionID)
	err := h.pipeline.HandleEmbeddingRequest(ctx, messaging.Message{Topic: pipelineModels.TopicEmbedding, Payload: []byte(payload)})

	require.Error(t, err)
	assert.Equal(t, models.AIStatusFailed, h.status(t, doc.ID))
	assert.Equal(t, []models.AIStatus{models.AIStatusFailed}, drain(conn))
	assert.Zero(t, h.embedder.calls.Load())
}

func TestMalformedTaggingRequestPublishesFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.run(t)

	doc := h.publish(t, "doc")
	h.waitIdle(t)
	require.NoError(t, h.store.Documents().SetAIStatus(ctx, doc.ID, models.AIStatusProcessing))

	payload := fmt.Sprintf(`{"documentId":%d,"documentRevisionId":%d,"title":42}`, doc.ID, doc.CurrentRevisionID)
	err := h.pipeline.HandleTaggingRequest(ctx, messaging.Message{Topic: pipelineModels.TopicTagging, Payload: []byte(payload)})
	require.Error(t, err)
	h.waitIdle(t)

	assert.Equal(t, models.AIStatusFailed, h.status(t, doc.ID))
	failures := h.failures.all()
	require.Len(t, failures, 1)
	var ev pipelineModels.Failure
	require.NoError(t, json.Unmarshal(failures[0].Payload, &ev))
	assert.Equal(t, pipelineModels.AgentTagger, ev.AgentType)
	assert.Equal(t, doc.CurrentRevisionID, ev.DocumentRevisionID)
}

func TestUnattributableMessageIsDropped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.publish(t, "doc")
	require.NoError(t, h.store.Documents().SetAIStatus(ctx, doc.ID, models.AIStatusProcessing))

	err := h.pipeline.HandleTaggingRequest(ctx, messaging.Message{Topic: pipelineModels.TopicTagging, Payload: []byte(`{not json`)})

	require.Error(t, err)
	assert.Equal(t, models.AIStatusProcessing, h.status(t, doc.ID))
}

func TestStorageErrorInStageFailsDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.run(t)

	doc := h.publish(t, "doc")
	h.waitIdle(t)
	require.NoError(t, h.store.Documents().SetAIStatus(ctx, doc.ID, models.AIStatusProcessing))

	spy := &documentsSpy{DocumentRepository: h.store.Documents(), failGets: 1}
	payload, err := json.Marshal(pipelineModels.TaggingRequest{DocumentID: doc.ID, DocumentRevisionID: doc.CurrentRevisionID, Title: "doc"})
	require.NoError(t, err)

	err = h.withDocuments(spy).HandleTaggingRequest(ctx, messaging.Message{Topic: pipelineModels.TopicTagging, Payload: payload})
	assert.ErrorContains(t, err, "connection reset")
	h.waitIdle(t)

	assert.Equal(t, models.AIStatusFailed, h.status(t, doc.ID))
	require.Len(t, h.failures.all(), 1)
}

func TestEmbedderCompletesUnderLockedRevisionCheck(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.publish(t, "doc")
	require.NoError(t, h.store.Documents().SetAIStatus(ctx, doc.ID, models.AIStatusProcessing))

	spy := &documentsSpy{DocumentRepository: h.store.Documents()}
	payload, err := json.Marshal(pipelineModels.EmbeddingRequest{DocumentID: doc.ID, DocumentRevisionID: doc.CurrentRevisionID})
	require.NoError(t, err)

	require.NoError(t, h.withDocuments(spy).HandleEmbeddingRequest(ctx, messaging.Message{Topic: pipelineModels.TopicEmbedding, Payload: payload}))

	assert.Equal(t, models.AIStatusCompleted, h.status(t, doc.ID))
	calls := spy.recorded()
	require.GreaterOrEqual(t, len(calls), 2)
	assert.Equal(t, []string{"get in tx", "cas COMPLETED in tx"}, calls[len(calls)-2:],
		"the revision check and the swap share one transaction")
}

func TestRepeatedFailureBroadcastsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.publish(t, "doc")
	require.NoError(t, h.store.Documents().SetAIStatus(ctx, doc.ID, models.AIStatusProcessing))
	conn := h.registry.Subscribe(doc.ID)

	payload, err := json.Marshal(pipelineModels.Failure{
		DocumentID:         doc.ID,
		DocumentRevisionID: doc.CurrentRevisionID,
		AgentType:          pipelineModels.AgentSummarizer,
		Reason:             "boom",
	})
	require.NoError(t, err)
	msg := messaging.Message{Topic: pipelineModels.TopicFailed, Payload: payload}

	require.NoError(t, h.pipeline.HandleFailure(ctx, msg))
	require.NoError(t, h.pipeline.HandleFailure(ctx, msg))

	assert.Equal(t, models.AIStatusFailed, h.status(t, doc.ID))
	assert.Equal(t, []models.AIStatus{models.AIStatusFailed}, drain(conn))
}

func TestFailureForDeletedDocumentIsIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.publish(t, "doc")
	deleted, err := h.lifecycle.Delete(ctx, "alice", doc.ID)
	require.NoError(t, err)
	require.Len(t, deleted, 1)

	payload, err := json.Marshal(pipelineModels.Failure{
		DocumentID:         doc.ID,
		DocumentRevisionID: deleted[0].CurrentRevisionID,
		AgentType:          pipelineModels.AgentEmbedder,
		Reason:             "boom",
	})
	require.NoError(t, err)
	msg := messaging.Message{Topic: pipelineModels.TopicFailed, Payload: payload}

	require.NoError(t, h.pipeline.HandleFailure(ctx, msg))
	require.NoError(t, h.pipeline.HandleFailure(ctx, msg))

	stored, err := h.store.Documents().GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeleted, stored.Status)
	assert.Equal(t, models.AIStatusPending, stored.AIStatus)
}

func strPtr(s string) *string { return &s }
