// Package memory provides in-process implementations of the docstore
// repositories. It backs the test suites and single-process dev runs.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"quill/internal/domain/models/docstore"
	"quill/internal/domain/repositories"
	docstoreRepo "quill/internal/domain/repositories/docstore"
)

type revisionKey struct {
	documentID int64
	revisionID int64
}

type tagKey struct {
	name     string
	constant docstore.TagConstant
}

type state struct {
	docs       map[int64]docstore.Document
	revisions  map[int64][]docstore.Revision
	tags       map[tagKey]docstore.Tag
	tagMaps    map[revisionKey][]int64
	summaries  map[revisionKey]docstore.Summary
	embeddings map[revisionKey]docstore.Embedding

	nextDocID       int64
	nextRevisionID  int64
	nextTagID       int64
	nextSummaryID   int64
	nextEmbeddingID int64
}

func newState() state {
	return state{
		docs:       make(map[int64]docstore.Document),
		revisions:  make(map[int64][]docstore.Revision),
		tags:       make(map[tagKey]docstore.Tag),
		tagMaps:    make(map[revisionKey][]int64),
		summaries:  make(map[revisionKey]docstore.Summary),
		embeddings: make(map[revisionKey]docstore.Embedding),
	}
}

func (s state) clone() state {
	c := s
	c.docs = maps.Clone(s.docs)
	c.revisions = make(map[int64][]docstore.Revision, len(s.revisions))
	for k, v := range s.revisions {
		c.revisions[k] = slices.Clone(v)
	}
	c.tags = maps.Clone(s.tags)
	c.tagMaps = make(map[revisionKey][]int64, len(s.tagMaps))
	for k, v := range s.tagMaps {
		c.tagMaps[k] = slices.Clone(v)
	}
	c.summaries = maps.Clone(s.summaries)
	c.embeddings = maps.Clone(s.embeddings)
	return c
}

// Store holds every table in memory. Writes outside a transaction are
// serialized with transactions so a rollback never discards them.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	st   state
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{st: newState()}
}

// write runs fn under the write lock, taking the transaction lock first
// unless ctx already belongs to a transaction.
func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	if !repositories.InTx(ctx) {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.st)
}

func (s *Store) read(fn func(st *state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(&s.st)
}

// Documents returns the document repository view
func (s *Store) Documents() docstoreRepo.DocumentRepository { return (*documentRepo)(s) }

// Revisions returns the revision repository view
func (s *Store) Revisions() docstoreRepo.RevisionRepository { return (*revisionRepo)(s) }

// Tags returns the tag repository view
func (s *Store) Tags() docstoreRepo.TagRepository { return (*tagRepo)(s) }

// Summaries returns the summary repository view
func (s *Store) Summaries() docstoreRepo.SummaryRepository { return (*summaryRepo)(s) }

// Embeddings returns the embedding repository view
func (s *Store) Embeddings() docstoreRepo.EmbeddingRepository { return (*embeddingRepo)(s) }

// TransactionManager returns a manager that snapshots the store and restores it on error
func (s *Store) TransactionManager() repositories.TransactionManager { return (*txManager)(s) }

// EmbeddingCount reports how many embedding rows exist for a revision.
func (s *Store) EmbeddingCount(documentID, revisionID int64) int {
	n := 0
	s.read(func(st *state) {
		if _, ok := st.embeddings[revisionKey{documentID, revisionID}]; ok {
			n = 1
		}
	})
	return n
}

type txManager Store

// ExecTx runs fn with the store locked against other writers. Any error
// restores the snapshot taken before fn started.
func (m *txManager) ExecTx(ctx context.Context, fn repositories.TxFn) error {
	if repositories.InTx(ctx) {
		return fn(ctx)
	}

	s := (*Store)(m)
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.st.clone()
	s.mu.RUnlock()

	if err := fn(repositories.MarkTx(ctx)); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

var _ repositories.TransactionManager = (*txManager)(nil)
