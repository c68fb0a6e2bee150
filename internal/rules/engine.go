// internal/rules/engine.go
package rules

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/solatis/gears/internal/types"
)

/*
 * Rule store and dispatcher.
 *
 * The engine holds the active Table behind an atomic pointer. Broadcast takes
 * one snapshot and walks it: for each predicate in insertion order, for each
 * event in order, evaluate; on a match run that predicate's actions in order,
 * each to completion before the next.
 *
 * Failure isolation:
 *   - A predicate error is reported and skips only that (predicate, event)
 *   - An action error is reported; remaining actions still run
 *   - Broadcast itself never returns an error
 *
 * A Swap during a Broadcast does not affect the Broadcast in flight; the
 * next Broadcast sees the new table.
 */

// DefaultTimeout bounds a single predicate or action call.
const DefaultTimeout = 30 * time.Second

// Engine dispatches events to the active rule table.
type Engine struct {
	table atomic.Pointer[Table]

	caps      *Capabilities
	logger    *zap.Logger
	commenter Commenter
	timeout   time.Duration
	observer  Observer
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout sets the per-call deadline. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithCommenter sets where reporters post story comments.
func WithCommenter(c Commenter) Option {
	return func(e *Engine) { e.commenter = c }
}

// WithObserver sets the outcome observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// NewEngine creates an engine with an empty table. caps is the frozen
// capability snapshot handed to every rule.
func NewEngine(caps *Capabilities, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		caps:    caps,
		logger:  logger,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.table.Store(EmptyTable())
	return e
}

// Table returns the active table.
func (e *Engine) Table() *Table {
	return e.table.Load()
}

// Swap publishes t as the active table and returns the previous one.
func (e *Engine) Swap(t *Table) *Table {
	if t == nil {
		t = EmptyTable()
	}
	getMetrics().rules.Set(float64(t.Len()))
	return e.table.Swap(t)
}

// Broadcast dispatches events against the active table.
func (e *Engine) Broadcast(ctx context.Context, events []types.Event, payload *types.Payload) {
	table := e.table.Load()
	m := getMetrics()

	for i := range events {
		m.eventsTotal.WithLabelValues(events[i].EntityType).Inc()
	}

	for _, ent := range table.entries {
		for i := range events {
			if ctx.Err() != nil {
				return
			}
			event := &events[i]

			reporter := NewReporter(ctx, ent.pred.Provenance, e.logger, e.commenter)
			call := Call{Event: event, Payload: payload, Reporter: reporter, Caps: e.caps}

			start := time.Now()
			matched, result, err := evaluate(ctx, e.timeout, ent.pred, call)
			e.record(ctx, payload, event, ent.pred.Provenance, PhasePredicate, result, err, start)
			if err != nil {
				reporter.Error(fmt.Sprintf("Condition `%s` failed on %s %d.", ent.pred.Provenance.Condition, event.EntityType, event.ID), err)
				continue
			}
			if !matched {
				continue
			}

			for _, act := range ent.actions {
				reporter := NewReporter(ctx, act.Provenance, e.logger, e.commenter)
				call := Call{Event: event, Payload: payload, Reporter: reporter, Caps: e.caps}

				start := time.Now()
				result, err := execute(ctx, e.timeout, act, call)
				e.record(ctx, payload, event, act.Provenance, PhaseAction, result, err, start)
				if err != nil {
					reporter.Error(fmt.Sprintf("Action failed on %s %d.", event.EntityType, event.ID), err)
				}
			}
		}
	}
}

func (e *Engine) record(ctx context.Context, payload *types.Payload, event *types.Event, prov Provenance, phase Phase, result Result, err error, start time.Time) {
	elapsed := time.Since(start)
	m := getMetrics()

	m.duration.WithLabelValues(string(phase)).Observe(elapsed.Seconds())
	if phase == PhasePredicate {
		m.predicateTotal.WithLabelValues(string(result)).Inc()
	} else {
		m.actionTotal.WithLabelValues(string(result)).Inc()
	}

	if e.observer == nil {
		return
	}
	o := Outcome{
		EventID:    event.ID,
		EntityType: event.EntityType,
		Provenance: prov,
		Phase:      phase,
		Result:     result,
		Err:        err,
		StartedAt:  start,
		Duration:   elapsed,
	}
	if payload != nil {
		o.DeliveryID = payload.ID
	}
	e.observer.Observe(ctx, o)
}
