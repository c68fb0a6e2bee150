package rules

import (
	"context"

	"github.com/solatis/gears/internal/types"
)

// Provenance identifies where a rule came from.
// StoryID is zero for built-in rules; such rules never comment back.
type Provenance struct {
	StoryID   int64
	Name      string
	AppURL    string
	Condition string
	Source    string
}

// Call carries the arguments shared by a predicate and its actions for one event.
type Call struct {
	Event    *types.Event
	Payload  *types.Payload
	Reporter *Reporter
	Caps     *Capabilities
}

// PredicateFunc decides whether a rule's actions run for an event.
type PredicateFunc func(ctx context.Context, call Call) (bool, error)

// ActionFunc performs a rule's side effects.
type ActionFunc func(ctx context.Context, call Call) error

// Predicate is a compiled rule condition. Identity is the pointer: two
// predicates compiled from identical text are distinct table entries.
type Predicate struct {
	Provenance Provenance
	fn         PredicateFunc
}

// NewPredicate wraps fn with its provenance.
func NewPredicate(prov Provenance, fn PredicateFunc) *Predicate {
	return &Predicate{Provenance: prov, fn: fn}
}

// Eval evaluates the predicate.
func (p *Predicate) Eval(ctx context.Context, call Call) (bool, error) {
	return p.fn(ctx, call)
}

// Action is a compiled rule consequence. Identity is the pointer.
type Action struct {
	Provenance Provenance
	fn         ActionFunc
}

// NewAction wraps fn with its provenance.
func NewAction(prov Provenance, fn ActionFunc) *Action {
	return &Action{Provenance: prov, fn: fn}
}

// Run executes the action.
func (a *Action) Run(ctx context.Context, call Call) error {
	return a.fn(ctx, call)
}

// Rule pairs a predicate with the action compiled from the same story.
type Rule struct {
	Predicate *Predicate
	Action    *Action
}
