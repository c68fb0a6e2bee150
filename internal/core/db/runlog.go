package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/solatis/gears/internal/rules"
	"github.com/solatis/gears/internal/types"
)

// Run is one row of the rule run log.
type Run struct {
	RunID      string    `db:"run_id" json:"run_id"`
	DeliveryID string    `db:"delivery_id" json:"delivery_id"`
	EventID    int64     `db:"event_id" json:"event_id"`
	EntityType string    `db:"entity_type" json:"entity_type"`
	StoryID    int64     `db:"story_id" json:"story_id"`
	RuleName   string    `db:"rule_name" json:"rule_name"`
	Phase      string    `db:"phase" json:"phase"`
	Result     string    `db:"result" json:"result"`
	Error      string    `db:"error" json:"error,omitempty"`
	StartedAt  time.Time `db:"started_at" json:"started_at"`
	DurationMs int64     `db:"duration_ms" json:"duration_ms"`
}

// RunLog persists dispatch outcomes. It implements rules.Observer.
// Predicate misses are not recorded unless RecordMisses is set: every tick
// evaluates every predicate.
type RunLog struct {
	q            *Queries
	logger       *zap.Logger
	RecordMisses bool
}

// NewRunLog creates a run log writing through q.
func NewRunLog(q *Queries, logger *zap.Logger) *RunLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunLog{q: q, logger: logger}
}

var _ rules.Observer = (*RunLog)(nil)

// Observe records o. Write failures are logged and otherwise ignored.
func (l *RunLog) Observe(ctx context.Context, o rules.Outcome) {
	if o.Result == rules.ResultMiss && !l.RecordMisses {
		return
	}

	var errText string
	if o.Err != nil {
		errText = o.Err.Error()
	}

	_, err := l.q.Exec(ctx, "insert-rule-run",
		types.NewRunID(),
		o.DeliveryID,
		o.EventID,
		o.EntityType,
		o.Provenance.StoryID,
		o.Provenance.Name,
		string(o.Phase),
		string(o.Result),
		errText,
		o.StartedAt.UTC(),
		o.Duration.Milliseconds(),
	)
	if err != nil {
		l.logger.Warn("recording rule run failed", zap.Error(err), zap.String("rule", o.Provenance.Name))
	}
}

// Recent returns the newest runs first.
func (l *RunLog) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []Run
	if err := l.q.Select(ctx, "list-recent-rule-runs", &runs, limit); err != nil {
		return nil, fmt.Errorf("list rule runs: %w", err)
	}
	return runs, nil
}

// ForDelivery returns the runs one delivery caused, oldest first.
func (l *RunLog) ForDelivery(ctx context.Context, deliveryID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []Run
	if err := l.q.Select(ctx, "list-rule-runs-by-delivery", &runs, deliveryID, limit); err != nil {
		return nil, fmt.Errorf("list runs for delivery %s: %w", deliveryID, err)
	}
	return runs, nil
}

// Prune deletes runs started before cutoff and returns how many were removed.
func (l *RunLog) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.q.Exec(ctx, "delete-rule-runs-before", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune rule runs: %w", err)
	}
	return res.RowsAffected()
}
