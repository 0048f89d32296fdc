package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"quill/internal/domain"
	"quill/internal/domain/models/docstore"
	docstoreRepo "quill/internal/domain/repositories/docstore"
)

type documentRepo Store

var _ docstoreRepo.DocumentRepository = (*documentRepo)(nil)

func (st *state) withRevision(doc docstore.Document) docstore.Document {
	if revs := st.revisions[doc.ID]; len(revs) > 0 {
		doc.CurrentRevisionID = revs[len(revs)-1].ID
	}
	return doc
}

func (r *documentRepo) Create(ctx context.Context, doc *docstore.Document) error {
	return (*Store)(r).write(ctx, func(st *state) error {
		st.nextDocID++
		doc.ID = st.nextDocID
		st.docs[doc.ID] = *doc
		return nil
	})
}

func (r *documentRepo) GetByID(ctx context.Context, id int64) (*docstore.Document, error) {
	var (
		doc docstore.Document
		ok  bool
	)
	(*Store)(r).read(func(st *state) {
		doc, ok = st.docs[id]
		if ok {
			doc = st.withRevision(doc)
		}
	})
	if !ok {
		return nil, fmt.Errorf("document %d: %w", id, domain.ErrNotFound)
	}
	return &doc, nil
}

func (r *documentRepo) Update(ctx context.Context, doc *docstore.Document) error {
	return (*Store)(r).write(ctx, func(st *state) error {
		if _, ok := st.docs[doc.ID]; !ok {
			return fmt.Errorf("document %d: %w", doc.ID, domain.ErrNotFound)
		}
		stored := *doc
		stored.CurrentRevisionID = 0
		st.docs[doc.ID] = stored
		return nil
	})
}

func (r *documentRepo) filter(keep func(d docstore.Document) bool, less func(a, b docstore.Document) int) []docstore.Document {
	out := []docstore.Document{}
	(*Store)(r).read(func(st *state) {
		for _, d := range st.docs {
			if keep(d) {
				out = append(out, st.withRevision(d))
			}
		}
	})
	slices.SortFunc(out, less)
	return out
}

func byID(a, b docstore.Document) int { return cmp.Compare(a.ID, b.ID) }

func (r *documentRepo) ListRoots(ctx context.Context) ([]docstore.Document, error) {
	return r.filter(func(d docstore.Document) bool {
		return d.ParentID == nil && d.Status != docstore.StatusDeleted
	}, byID), nil
}

func (r *documentRepo) ListChildren(ctx context.Context, parentID int64) ([]docstore.Document, error) {
	return r.filter(func(d docstore.Document) bool {
		return d.ParentID != nil && *d.ParentID == parentID && d.Status != docstore.StatusDeleted
	}, byID), nil
}

func (r *documentRepo) ListDeleted(ctx context.Context) ([]docstore.Document, error) {
	return r.filter(func(d docstore.Document) bool {
		return d.Status == docstore.StatusDeleted
	}, func(a, b docstore.Document) int {
		if a.DeletedAt != nil && b.DeletedAt != nil && !a.DeletedAt.Equal(*b.DeletedAt) {
			return b.DeletedAt.Compare(*a.DeletedAt)
		}
		return byID(a, b)
	}), nil
}

func (r *documentRepo) SetAIStatus(ctx context.Context, id int64, status docstore.AIStatus) error {
	return (*Store)(r).write(ctx, func(st *state) error {
		doc, ok := st.docs[id]
		if !ok {
			return fmt.Errorf("document %d: %w", id, domain.ErrNotFound)
		}
		doc.AIStatus = status
		st.docs[id] = doc
		return nil
	})
}

func (r *documentRepo) CompareAndSetAIStatus(ctx context.Context, id int64, from, to docstore.AIStatus) (bool, error) {
	swapped := false
	err := (*Store)(r).write(ctx, func(st *state) error {
		doc, ok := st.docs[id]
		if !ok || doc.AIStatus != from {
			return nil
		}
		doc.AIStatus = to
		st.docs[id] = doc
		swapped = true
		return nil
	})
	return swapped, err
}

type revisionRepo Store

var _ docstoreRepo.RevisionRepository = (*revisionRepo)(nil)

func (r *revisionRepo) Create(ctx context.Context, rev *docstore.Revision) error {
	return (*Store)(r).write(ctx, func(st *state) error {
		st.nextRevisionID++
		rev.ID = st.nextRevisionID
		st.revisions[rev.DocumentID] = append(st.revisions[rev.DocumentID], *rev)
		return nil
	})
}

func (r *revisionRepo) ListByDocument(ctx context.Context, documentID int64, limit, offset int) ([]docstore.Revision, int, error) {
	var all []docstore.Revision
	(*Store)(r).read(func(st *state) {
		all = slices.Clone(st.revisions[documentID])
	})
	slices.Reverse(all)

	total := len(all)
	if offset >= total {
		return []docstore.Revision{}, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}
