// Package recordsource abstracts the story tracker rules are loaded from.
//
// Two implementations exist: shortcut talks to the hosted tracker API and
// sqlstore keeps stories in the local database for self-hosted and
// development use. Both page search results with an opaque continuation.
package recordsource

import (
	"context"
	"errors"
	"fmt"

	"github.com/solatis/gears/internal/types"
)

// ErrPagingLoop indicates a source returned the same continuation twice.
var ErrPagingLoop = errors.New("record source returned a repeated page token")

// SearchQuery selects non-archived stories carrying Label.
// Next is the continuation from the previous page; empty for the first.
type SearchQuery struct {
	Label string
	Next  string
}

// Source is the story tracker as seen by the rule loader and reporters.
type Source interface {
	Search(ctx context.Context, q SearchQuery) (*types.StoryPage, error)
	AddComment(ctx context.Context, storyID int64, text string) error
}

// Walk calls fn for every story matching label, following pagination.
// Archived stories are skipped even if the source returns them.
func Walk(ctx context.Context, src Source, label string, fn func(types.Story) error) error {
	seen := make(map[string]bool)
	q := SearchQuery{Label: label}
	for {
		page, err := src.Search(ctx, q)
		if err != nil {
			return fmt.Errorf("search label %q: %w", label, err)
		}
		for _, s := range page.Stories {
			if s.Archived {
				continue
			}
			if err := fn(s); err != nil {
				return err
			}
		}
		if page.Next == "" {
			return nil
		}
		if seen[page.Next] {
			return fmt.Errorf("search label %q: %w", label, ErrPagingLoop)
		}
		seen[page.Next] = true
		q.Next = page.Next
	}
}

// All collects every story matching label.
func All(ctx context.Context, src Source, label string) ([]types.Story, error) {
	var stories []types.Story
	err := Walk(ctx, src, label, func(s types.Story) error {
		stories = append(stories, s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stories, nil
}
