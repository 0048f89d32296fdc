package docstore

import (
	"context"
	"fmt"

	models "quill/internal/domain/models/docstore"
)

// collectSubtree returns root followed by every non-deleted descendant,
// depth first. Children are fetched with one explicit query per node.
func (s *lifecycleService) collectSubtree(ctx context.Context, root *models.Document) ([]*models.Document, error) {
	visited := map[int64]bool{root.ID: true}
	out := []*models.Document{root}

	var walk func(parentID int64) error
	walk = func(parentID int64) error {
		children, err := s.docRepo.ListChildren(ctx, parentID)
		if err != nil {
			return fmt.Errorf("list children of %d: %w", parentID, err)
		}
		for i := range children {
			child := &children[i]
			if visited[child.ID] {
				continue
			}
			visited[child.ID] = true
			out = append(out, child)
			if err := walk(child.ID); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(root.ID); err != nil {
		return nil, err
	}
	return out, nil
}
