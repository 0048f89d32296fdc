package docstore

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quill/internal/domain"
	models "quill/internal/domain/models/docstore"
	pipelineModels "quill/internal/domain/models/pipeline"
	docstoreSvc "quill/internal/domain/services/docstore"
	"quill/internal/repository/memory"
)

type published struct {
	topic string
	key   string
	ready pipelineModels.DocumentReady
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakePublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	var ready pipelineModels.DocumentReady
	if err := json.Unmarshal(payload, &ready); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, key: key, ready: ready})
	return nil
}

func (p *fakePublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

type statusRecord struct {
	documentID int64
	status     models.AIStatus
}

type fakeNotifier struct {
	mu      sync.Mutex
	records []statusRecord
}

func (n *fakeNotifier) NotifyStatus(ctx context.Context, documentID int64, status models.AIStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.records = append(n.records, statusRecord{documentID, status})
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.records)
}

type fixture struct {
	svc       docstoreSvc.LifecycleService
	store     *memory.Store
	publisher *fakePublisher
	notifier  *fakeNotifier
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	pub := &fakePublisher{}
	notifier := &fakeNotifier{}
	svc := NewLifecycleService(
		store.Documents(),
		store.Revisions(),
		store.Tags(),
		store.TransactionManager(),
		NewRequestValidator(),
		pub,
		notifier,
		nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return &fixture{svc: svc, store: store, publisher: pub, notifier: notifier}
}

func strPtr(s string) *string { return &s }

func (f *fixture) create(t *testing.T, user, title string, parentID *int64) *models.Document {
	t.Helper()
	doc, err := f.svc.Create(context.Background(), user, &docstoreSvc.CreateDocumentRequest{
		Title:    title,
		Content:  strPtr("body of " + title),
		ParentID: parentID,
	})
	require.NoError(t, err)
	return doc
}

func (f *fixture) createActive(t *testing.T, user, title string, parentID *int64) *models.Document {
	t.Helper()
	doc := f.create(t, user, title, parentID)
	doc, err := f.svc.Publish(context.Background(), user, doc.ID)
	require.NoError(t, err)
	return doc
}

func TestCreateStartsAsPendingDraft(t *testing.T) {
	f := setup(t)
	doc := f.create(t, "alice", "  Notes  ", nil)

	assert.Equal(t, "Notes", doc.Title)
	assert.Equal(t, models.StatusDraft, doc.Status)
	assert.Equal(t, models.AIStatusPending, doc.AIStatus)
	assert.NotZero(t, doc.CurrentRevisionID)
	assert.Empty(t, f.publisher.all(), "drafts are never sent to the pipeline")
}

func TestCreateValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, "alice", &docstoreSvc.CreateDocumentRequest{Title: "   "})
	assert.ErrorIs(t, err, domain.ErrValidation)

	missing := int64(999)
	_, err = f.svc.Create(ctx, "alice", &docstoreSvc.CreateDocumentRequest{Title: "child", ParentID: &missing})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateUnderDeletedParent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	parent := f.createActive(t, "alice", "parent", nil)

	_, err := f.svc.Delete(ctx, "alice", parent.ID)
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, "alice", &docstoreSvc.CreateDocumentRequest{Title: "child", ParentID: &parent.ID})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPublishEmitsCurrentRevision(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	draft := f.create(t, "alice", "doc", nil)

	doc, err := f.svc.Publish(ctx, "alice", draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, doc.Status)
	assert.Greater(t, doc.CurrentRevisionID, draft.CurrentRevisionID)

	msgs := f.publisher.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, pipelineModels.TopicDocumentReady, msgs[0].topic)
	assert.Equal(t, pipelineModels.Key(doc.ID), msgs[0].key)
	assert.Equal(t, doc.CurrentRevisionID, msgs[0].ready.DocumentRevisionID)
	assert.Equal(t, "body of doc", *msgs[0].ready.Content)
	assert.Equal(t, 1, f.notifier.count())

	_, err = f.svc.Publish(ctx, "alice", draft.ID)
	var stateErr *domain.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, string(models.StatusActive), stateErr.Current)
}

func TestUpdateDraftKeepsPipelineIdle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	draft := f.create(t, "alice", "doc", nil)

	doc, err := f.svc.Update(ctx, "alice", draft.ID, &docstoreSvc.UpdateDocumentRequest{Content: strPtr("edited")})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, doc.Status)
	assert.Equal(t, "edited", doc.ContentText())
	assert.Empty(t, f.publisher.all())
	assert.Zero(t, f.notifier.count())
}

func TestUpdateActiveResetsStatus(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	doc := f.createActive(t, "alice", "doc", nil)
	require.NoError(t, f.store.Documents().SetAIStatus(ctx, doc.ID, models.AIStatusCompleted))

	updated, err := f.svc.Update(ctx, "alice", doc.ID, &docstoreSvc.UpdateDocumentRequest{Title: strPtr("renamed")})
	require.NoError(t, err)
	assert.Equal(t, models.AIStatusPending, updated.AIStatus)
	assert.Equal(t, "renamed", updated.Title)

	msgs := f.publisher.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, updated.CurrentRevisionID, msgs[1].ready.DocumentRevisionID)
}

func TestUpdateRejectsEmptyRequest(t *testing.T) {
	f := setup(t)
	doc := f.create(t, "alice", "doc", nil)

	_, err := f.svc.Update(context.Background(), "alice", doc.ID, &docstoreSvc.UpdateDocumentRequest{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDeleteCascadesToDescendants(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	root := f.createActive(t, "alice", "root", nil)
	child := f.createActive(t, "alice", "child", &root.ID)
	grandchild := f.create(t, "alice", "grandchild", &child.ID)
	sibling := f.createActive(t, "alice", "sibling", nil)

	affected, err := f.svc.Delete(ctx, "alice", root.ID)
	require.NoError(t, err)
	require.Len(t, affected, 3)
	assert.Equal(t, root.ID, affected[0].ID)

	deletedAt := affected[0].DeletedAt
	require.NotNil(t, deletedAt)
	for _, doc := range affected {
		assert.Equal(t, models.StatusDeleted, doc.Status)
		assert.True(t, deletedAt.Equal(*doc.DeletedAt), "one timestamp for the whole cascade")
	}

	for _, id := range []int64{root.ID, child.ID, grandchild.ID} {
		_, err := f.svc.Get(ctx, "alice", id)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		page, err := f.svc.ListRevisions(ctx, "alice", id, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, models.StatusDeleted, page.Revisions[0].Status, "deletion is recorded as a revision")
	}

	_, err = f.svc.Get(ctx, "alice", sibling.ID)
	assert.NoError(t, err)

	trash, err := f.svc.ListTrash(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, trash, 3)

	again, err := f.svc.Delete(ctx, "alice", root.ID)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestRestoreDetachesFromDeletedParent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	parent := f.createActive(t, "alice", "parent", nil)
	child := f.createActive(t, "alice", "child", &parent.ID)

	_, err := f.svc.Delete(ctx, "alice", parent.ID)
	require.NoError(t, err)

	restored, err := f.svc.Restore(ctx, "alice", child.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, restored.Status)
	assert.Nil(t, restored.ParentID)
	assert.Nil(t, restored.DeletedAt)

	roots, err := f.svc.List(ctx, "alice", nil)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, child.ID, roots[0].ID)
}

func TestRestoreKeepsActiveParent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	parent := f.createActive(t, "alice", "parent", nil)
	child := f.createActive(t, "alice", "child", &parent.ID)

	_, err := f.svc.Delete(ctx, "alice", child.ID)
	require.NoError(t, err)

	restored, err := f.svc.Restore(ctx, "alice", child.ID)
	require.NoError(t, err)
	require.NotNil(t, restored.ParentID)
	assert.Equal(t, parent.ID, *restored.ParentID)
}

func TestRestoreRequiresDeleted(t *testing.T) {
	f := setup(t)
	doc := f.createActive(t, "alice", "doc", nil)

	_, err := f.svc.Restore(context.Background(), "alice", doc.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestDraftsArePrivate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	draft := f.create(t, "alice", "secret", nil)
	f.createActive(t, "alice", "public", nil)

	_, err := f.svc.Get(ctx, "bob", draft.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Publish(ctx, "bob", draft.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	bobs, err := f.svc.List(ctx, "bob", nil)
	require.NoError(t, err)
	require.Len(t, bobs, 1)
	assert.Equal(t, "public", bobs[0].Title)

	alices, err := f.svc.List(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Len(t, alices, 2)
}

func TestListRevisionsNewestFirst(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	doc := f.create(t, "alice", "doc", nil)
	for i := 0; i < 4; i++ {
		_, err := f.svc.Update(ctx, "alice", doc.ID, &docstoreSvc.UpdateDocumentRequest{Content: strPtr("v")})
		require.NoError(t, err)
	}

	page, err := f.svc.ListRevisions(ctx, "alice", doc.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Revisions, 2)
	assert.Greater(t, page.Revisions[0].ID, page.Revisions[1].ID)

	last, err := f.svc.ListRevisions(ctx, "alice", doc.ID, 3, 2)
	require.NoError(t, err)
	require.Len(t, last.Revisions, 1)
	assert.Equal(t, "doc", last.Revisions[0].Title)
	assert.Equal(t, models.StatusDraft, last.Revisions[0].Status)
}

func TestReanalyze(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	draft := f.create(t, "alice", "doc", nil)

	_, err := f.svc.Reanalyze(ctx, "alice", draft.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	doc, err := f.svc.Publish(ctx, "alice", draft.ID)
	require.NoError(t, err)
	require.NoError(t, f.store.Documents().SetAIStatus(ctx, doc.ID, models.AIStatusFailed))

	again, err := f.svc.Reanalyze(ctx, "alice", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AIStatusPending, again.AIStatus)
	assert.Equal(t, doc.CurrentRevisionID, again.CurrentRevisionID, "reanalysis does not create a revision")

	status, err := f.svc.GetAIStatus(ctx, "alice", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AIStatusPending, status)

	msgs := f.publisher.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, msgs[0].ready.DocumentRevisionID, msgs[1].ready.DocumentRevisionID)
}
