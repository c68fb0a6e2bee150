package calendar

import (
	"context"
	"time"
)

// Tick is one minute boundary delivered by a Ticker.
type Tick struct {
	At        time.Time
	Changes   ChangeSet
	Reference Reference
}

// Ticker fires once per wall-clock minute, aligned to the minute boundary.
type Ticker struct {
	loc *time.Location
	now func() time.Time
}

// NewTicker creates a ticker computing calendar fields in loc.
// A nil loc means time.Local.
func NewTicker(loc *time.Location) *Ticker {
	if loc == nil {
		loc = time.Local
	}
	return &Ticker{loc: loc, now: time.Now}
}

// Run calls fn at every minute boundary until ctx is cancelled.
// fn runs on the ticker goroutine; a slow fn delays, never overlaps, the next tick.
func (t *Ticker) Run(ctx context.Context, fn func(context.Context, Tick)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		next := nextMinute(t.now().In(t.loc))
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		fn(ctx, t.tickAt(next))
	}
}

func (t *Ticker) tickAt(at time.Time) Tick {
	at = at.In(t.loc)
	changes, ref := Generate(at)
	return Tick{At: at, Changes: changes, Reference: ref}
}

// nextMinute returns the first minute boundary strictly after t.
func nextMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute).Add(time.Minute)
}
