package rules

import (
	"context"
	"sync"
)

type comment struct {
	storyID int64
	text    string
}

type recordingCommenter struct {
	mu       sync.Mutex
	comments []comment
	err      error
}

func (c *recordingCommenter) AddComment(_ context.Context, storyID int64, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.comments = append(c.comments, comment{storyID: storyID, text: text})
	return c.err
}

func (c *recordingCommenter) all() []comment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]comment, len(c.comments))
	copy(out, c.comments)
	return out
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (o *recordingObserver) Observe(_ context.Context, out Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, out)
}
