// internal/types/story.go
package types

import "time"

/*
 * Story tracker records.
 *
 * Stories are the free-text records rules are written in: the title holds
 * the condition, fenced code blocks in the description hold the action.
 * Only the fields the rule loader and reporter need are modelled.
 */

// Label tags a story. The rule loader searches by label name.
type Label struct {
	ID   int64  `json:"id" db:"label_id"`
	Name string `json:"name" db:"name"`
}

// Story is one record returned by the record source.
type Story struct {
	ID          int64     `json:"id" db:"story_id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	StoryType   string    `json:"story_type" db:"story_type"`
	AppURL      string    `json:"app_url" db:"app_url"`
	Archived    bool      `json:"archived" db:"archived"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
	Labels      []Label   `json:"labels" db:"-"`
}

// HasLabel reports whether the story carries a label with the given name.
func (s *Story) HasLabel(name string) bool {
	for _, l := range s.Labels {
		if l.Name == name {
			return true
		}
	}
	return false
}

// StoryPage is one page of search results.
// Next is an opaque continuation; empty means no further pages.
type StoryPage struct {
	Stories []Story `json:"data"`
	Next    string  `json:"next"`
}
