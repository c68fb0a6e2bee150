// Package sqlstore keeps stories in the gears database and implements
// recordsource.Source over them. It serves self-hosted setups without a
// hosted tracker and doubles as the development fixture store.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/solatis/gears/internal/core/db"
	"github.com/solatis/gears/internal/recordsource"
	"github.com/solatis/gears/internal/types"
)

const defaultPageSize = 50

// ErrStoryNotFound indicates an unknown story id.
var ErrStoryNotFound = errors.New("story not found")

// Comment is a note posted on a story.
type Comment struct {
	ID        int64     `db:"comment_id" json:"id"`
	StoryID   int64     `db:"story_id" json:"story_id"`
	Text      string    `db:"text" json:"text"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Store is a database-backed story source.
type Store struct {
	q        *db.Queries
	pageSize int
	baseURL  string
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPageSize sets the search page size.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithAppURL sets the prefix used to build story app URLs.
func WithAppURL(base string) Option {
	return func(s *Store) { s.baseURL = strings.TrimRight(base, "/") }
}

// New creates a store over q.
func New(q *db.Queries, opts ...Option) *Store {
	s := &Store{q: q, pageSize: defaultPageSize, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ recordsource.Source = (*Store)(nil)

// Search returns one page of non-archived stories carrying q.Label.
// The continuation is the last story id of the page.
func (s *Store) Search(ctx context.Context, q recordsource.SearchQuery) (*types.StoryPage, error) {
	var after int64
	if q.Next != "" {
		n, err := strconv.ParseInt(q.Next, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid page token %q: %w", q.Next, err)
		}
		after = n
	}

	var stories []types.Story
	if err := s.q.Select(ctx, "search-stories-by-label", &stories, q.Label, false, after, s.pageSize); err != nil {
		return nil, fmt.Errorf("search stories: %w", err)
	}
	for i := range stories {
		if err := s.loadLabels(ctx, &stories[i]); err != nil {
			return nil, err
		}
	}

	page := &types.StoryPage{Stories: stories}
	if len(stories) == s.pageSize {
		page.Next = strconv.FormatInt(stories[len(stories)-1].ID, 10)
	}
	return page, nil
}

// AddComment records text as a comment on the story.
func (s *Store) AddComment(ctx context.Context, storyID int64, text string) error {
	if _, err := s.q.Exec(ctx, "insert-comment", storyID, text, s.now().UTC()); err != nil {
		return fmt.Errorf("add comment to story %d: %w", storyID, err)
	}
	return nil
}

// Comments lists a story's comments oldest first.
func (s *Store) Comments(ctx context.Context, storyID int64) ([]Comment, error) {
	var comments []Comment
	if err := s.q.Select(ctx, "list-comments", &comments, storyID); err != nil {
		return nil, fmt.Errorf("list comments for story %d: %w", storyID, err)
	}
	return comments, nil
}

// Get loads one story with its labels.
func (s *Store) Get(ctx context.Context, storyID int64) (*types.Story, error) {
	var story types.Story
	if err := s.q.Get(ctx, "get-story", &story, storyID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("story %d: %w", storyID, ErrStoryNotFound)
		}
		return nil, fmt.Errorf("get story %d: %w", storyID, err)
	}
	if err := s.loadLabels(ctx, &story); err != nil {
		return nil, err
	}
	return &story, nil
}

// Create inserts a story with the given label names and returns it.
// The story's ID, AppURL and UpdatedAt are assigned by the store.
func (s *Store) Create(ctx context.Context, story types.Story, labels ...string) (*types.Story, error) {
	if story.StoryType == "" {
		story.StoryType = "feature"
	}
	story.UpdatedAt = s.now().UTC()

	err := s.q.InTx(ctx, func(tx *db.Queries) error {
		if err := tx.Get(ctx, "insert-story", &story.ID,
			story.Name, story.Description, story.StoryType, "", false, story.UpdatedAt); err != nil {
			return fmt.Errorf("insert story: %w", err)
		}
		if s.baseURL != "" {
			story.AppURL = fmt.Sprintf("%s/story/%d", s.baseURL, story.ID)
			if _, err := tx.Exec(ctx, "set-story-app-url", story.AppURL, story.ID); err != nil {
				return fmt.Errorf("set app url: %w", err)
			}
		}
		return attachLabels(ctx, tx, story.ID, labels)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, story.ID)
}

// Update rewrites a story's name, description and type and adds labels.
func (s *Store) Update(ctx context.Context, story types.Story, labels ...string) error {
	return s.q.InTx(ctx, func(tx *db.Queries) error {
		res, err := tx.Exec(ctx, "update-story", story.Name, story.Description, story.StoryType, s.now().UTC(), story.ID)
		if err != nil {
			return fmt.Errorf("update story %d: %w", story.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("story %d: %w", story.ID, ErrStoryNotFound)
		}
		return attachLabels(ctx, tx, story.ID, labels)
	})
}

// Archive marks a story archived; archived stories never match a search.
func (s *Store) Archive(ctx context.Context, storyID int64) error {
	res, err := s.q.Exec(ctx, "archive-story", true, s.now().UTC(), storyID)
	if err != nil {
		return fmt.Errorf("archive story %d: %w", storyID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("story %d: %w", storyID, ErrStoryNotFound)
	}
	return nil
}

func (s *Store) loadLabels(ctx context.Context, story *types.Story) error {
	var labels []types.Label
	if err := s.q.Select(ctx, "list-story-labels", &labels, story.ID); err != nil {
		return fmt.Errorf("labels for story %d: %w", story.ID, err)
	}
	story.Labels = labels
	return nil
}

func attachLabels(ctx context.Context, tx *db.Queries, storyID int64, names []string) error {
	for _, name := range names {
		if _, err := tx.Exec(ctx, "insert-label", name); err != nil {
			return fmt.Errorf("insert label %q: %w", name, err)
		}
		var label types.Label
		if err := tx.Get(ctx, "get-label-by-name", &label, name); err != nil {
			return fmt.Errorf("get label %q: %w", name, err)
		}
		if _, err := tx.Exec(ctx, "attach-label", storyID, label.ID); err != nil {
			return fmt.Errorf("attach label %q: %w", name, err)
		}
	}
	return nil
}
