package rules

import (
	"context"
	"time"
)

// Phase distinguishes predicate evaluation from action execution.
type Phase string

const (
	PhasePredicate Phase = "predicate"
	PhaseAction    Phase = "action"
)

// Outcome describes one predicate evaluation or action run.
type Outcome struct {
	DeliveryID string
	EventID    int64
	EntityType string
	Provenance Provenance
	Phase      Phase
	Result     Result
	Err        error
	StartedAt  time.Time
	Duration   time.Duration
}

// Observer receives every outcome. Called synchronously on the dispatch
// goroutine; implementations must not block for long.
type Observer interface {
	Observe(ctx context.Context, o Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, o Outcome)

func (f ObserverFunc) Observe(ctx context.Context, o Outcome) {
	f(ctx, o)
}
