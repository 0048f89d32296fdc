package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"quill/internal/domain"
	"quill/internal/domain/models/docstore"
	docstoreRepo "quill/internal/domain/repositories/docstore"
)

type tagRepo Store

var _ docstoreRepo.TagRepository = (*tagRepo)(nil)

func (r *tagRepo) GetOrCreate(ctx context.Context, name string, constant docstore.TagConstant) (*docstore.Tag, error) {
	var tag docstore.Tag
	err := (*Store)(r).write(ctx, func(st *state) error {
		key := tagKey{name, constant}
		if existing, ok := st.tags[key]; ok {
			tag = existing
			return nil
		}
		st.nextTagID++
		tag = docstore.Tag{ID: st.nextTagID, Name: name, TagConstant: constant}
		st.tags[key] = tag
		return nil
	})
	return &tag, err
}

func (r *tagRepo) ReplaceForRevision(ctx context.Context, documentID, revisionID int64, tagIDs []int64) error {
	return (*Store)(r).write(ctx, func(st *state) error {
		ids := slices.Clone(tagIDs)
		slices.Sort(ids)
		st.tagMaps[revisionKey{documentID, revisionID}] = slices.Compact(ids)
		return nil
	})
}

func (r *tagRepo) ListByRevision(ctx context.Context, documentID, revisionID int64) ([]docstore.Tag, error) {
	tags := []docstore.Tag{}
	(*Store)(r).read(func(st *state) {
		ids := st.tagMaps[revisionKey{documentID, revisionID}]
		for _, t := range st.tags {
			if slices.Contains(ids, t.ID) {
				tags = append(tags, t)
			}
		}
	})
	slices.SortFunc(tags, func(a, b docstore.Tag) int {
		return cmp.Or(cmp.Compare(a.TagConstant, b.TagConstant), cmp.Compare(a.Name, b.Name))
	})
	return tags, nil
}

type summaryRepo Store

var _ docstoreRepo.SummaryRepository = (*summaryRepo)(nil)

func (r *summaryRepo) Upsert(ctx context.Context, s *docstore.Summary) error {
	return (*Store)(r).write(ctx, func(st *state) error {
		key := revisionKey{s.DocumentID, s.RevisionID}
		now := time.Now()
		if existing, ok := st.summaries[key]; ok {
			s.ID, s.CreatedAt = existing.ID, existing.CreatedAt
		} else {
			st.nextSummaryID++
			s.ID, s.CreatedAt = st.nextSummaryID, now
		}
		s.UpdatedAt = now
		st.summaries[key] = *s
		return nil
	})
}

func (r *summaryRepo) GetByRevision(ctx context.Context, documentID, revisionID int64) (*docstore.Summary, error) {
	var (
		s  docstore.Summary
		ok bool
	)
	(*Store)(r).read(func(st *state) {
		s, ok = st.summaries[revisionKey{documentID, revisionID}]
	})
	if !ok {
		return nil, fmt.Errorf("summary for document %d revision %d: %w", documentID, revisionID, domain.ErrNotFound)
	}
	return &s, nil
}

type embeddingRepo Store

var _ docstoreRepo.EmbeddingRepository = (*embeddingRepo)(nil)

func (r *embeddingRepo) Upsert(ctx context.Context, e *docstore.Embedding) error {
	return (*Store)(r).write(ctx, func(st *state) error {
		key := revisionKey{e.DocumentID, e.RevisionID}
		now := time.Now()
		if existing, ok := st.embeddings[key]; ok {
			e.ID, e.CreatedAt = existing.ID, existing.CreatedAt
		} else {
			st.nextEmbeddingID++
			e.ID, e.CreatedAt = st.nextEmbeddingID, now
		}
		e.UpdatedAt = now
		stored := *e
		stored.Vector = slices.Clone(e.Vector)
		st.embeddings[key] = stored
		return nil
	})
}

func (r *embeddingRepo) GetByRevision(ctx context.Context, documentID, revisionID int64) (*docstore.Embedding, error) {
	var (
		e  docstore.Embedding
		ok bool
	)
	(*Store)(r).read(func(st *state) {
		e, ok = st.embeddings[revisionKey{documentID, revisionID}]
	})
	if !ok {
		return nil, fmt.Errorf("embedding for document %d revision %d: %w", documentID, revisionID, domain.ErrNotFound)
	}
	e.Vector = slices.Clone(e.Vector)
	return &e, nil
}
