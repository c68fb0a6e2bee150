// internal/reload/loader.go
package reload

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/solatis/gears/internal/recordsource"
	"github.com/solatis/gears/internal/rules"
	"github.com/solatis/gears/internal/types"
)

/*
 * Rule reload loop.
 *
 * Rules live in the story tracker, so the loader periodically pages through
 * every non-archived story carrying the rules label, compiles them, and
 * swaps a freshly built table into the engine. The built-in refresh rule is
 * always the first table entry: when a webhook shows a rule story being
 * edited, it triggers a reload, so edits take effect without waiting for the
 * next interval.
 *
 * Reload semantics:
 *   - Reloads are serialised; a trigger during a reload queues exactly one more
 *   - A record source error aborts the reload and keeps the current table
 *   - Compile failures are reported on the story and only drop that rule
 */

// DefaultInterval is the periodic reload interval.
const DefaultInterval = 5 * time.Minute

// DefaultLabel marks rule-defining stories.
const DefaultLabel = "gears"

// Config controls the loader.
type Config struct {
	Label    string
	Interval time.Duration
}

// Loader keeps the engine's table in sync with the record source.
type Loader struct {
	src      recordsource.Source
	compiler *rules.Compiler
	engine   *rules.Engine
	label    string
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	trigger chan struct{}
	known   atomic.Pointer[map[int64]struct{}]
	refresh *rules.Rule

	readyOnce sync.Once
	ready     chan struct{}
	lastLoad  atomic.Pointer[Snapshot]
}

// Snapshot describes the most recent successful reload.
type Snapshot struct {
	At      time.Time
	Stories int
	Rules   int
}

// New creates a loader. The refresh rule is created once so its identity is
// stable across reloads.
func New(src recordsource.Source, compiler *rules.Compiler, engine *rules.Engine, cfg Config, logger *zap.Logger) *Loader {
	if cfg.Label == "" {
		cfg.Label = DefaultLabel
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loader{
		src:      src,
		compiler: compiler,
		engine:   engine,
		label:    cfg.Label,
		interval: cfg.Interval,
		logger:   logger.Named("reload"),
		trigger:  make(chan struct{}, 1),
		ready:    make(chan struct{}),
	}
	empty := map[int64]struct{}{}
	l.known.Store(&empty)
	l.refresh = l.refreshRule()
	return l
}

// Ready is closed after the first successful reload.
func (l *Loader) Ready() <-chan struct{} {
	return l.ready
}

// Last returns the most recent successful reload, or nil.
func (l *Loader) Last() *Snapshot {
	return l.lastLoad.Load()
}

// Trigger requests a reload without blocking. Requests made while one is
// pending collapse into it.
func (l *Loader) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// Reload fetches, compiles and swaps in the current rule set.
func (l *Loader) Reload(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	m := getMetrics()
	start := time.Now()

	stories, err := recordsource.All(ctx, l.src, l.label)
	if err != nil {
		m.reloadTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("reload rules: %w", err)
	}

	compiled := l.compiler.CompileAll(ctx, stories)

	b := rules.NewBuilder()
	b.Add(l.refresh)
	for _, r := range compiled {
		b.Add(r)
	}

	known := make(map[int64]struct{}, len(stories))
	for _, s := range stories {
		known[s.ID] = struct{}{}
	}

	l.engine.Swap(b.Build())
	l.known.Store(&known)

	snap := &Snapshot{At: time.Now(), Stories: len(stories), Rules: len(compiled)}
	l.lastLoad.Store(snap)
	l.readyOnce.Do(func() { close(l.ready) })

	m.reloadTotal.WithLabelValues("ok").Inc()
	m.reloadDuration.Observe(time.Since(start).Seconds())
	l.logger.Info("rules reloaded",
		zap.Int("stories", snap.Stories),
		zap.Int("rules", snap.Rules),
		zap.Duration("took", time.Since(start)))
	return nil
}

// Run reloads immediately, then on every interval and trigger until ctx is
// cancelled. Reload errors are logged and retried on the next cycle.
func (l *Loader) Run(ctx context.Context) error {
	l.reloadAndLog(ctx, "startup")

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.reloadAndLog(ctx, "interval")
		case <-l.trigger:
			l.reloadAndLog(ctx, "trigger")
		}
	}
}

func (l *Loader) reloadAndLog(ctx context.Context, reason string) {
	if err := l.Reload(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		l.logger.Error("rule reload failed", zap.String("reason", reason), zap.Error(err))
	}
}

func (l *Loader) isKnown(id int64) bool {
	_, ok := (*l.known.Load())[id]
	return ok
}

// RefreshRule returns the built-in rule that triggers reloads.
func (l *Loader) RefreshRule() *rules.Rule {
	return l.refresh
}

// ruleFields are the story fields whose change can alter the rule set.
var ruleFields = []string{"name", "description", "label_ids", "archived"}

func (l *Loader) refreshRule() *rules.Rule {
	prov := rules.Provenance{Name: "refresh rules", Condition: "rule story changed"}
	return &rules.Rule{
		Predicate: rules.NewPredicate(prov, func(_ context.Context, c rules.Call) (bool, error) {
			return l.affectsRules(c.Event, c.Payload), nil
		}),
		Action: rules.NewAction(prov, func(_ context.Context, c rules.Call) error {
			c.Reporter.Logf("story %d changed, reloading rules", c.Event.ID)
			l.Trigger()
			return nil
		}),
	}
}

// affectsRules reports whether a story event may change the rule set.
func (l *Loader) affectsRules(e *types.Event, p *types.Payload) bool {
	if e == nil || e.EntityType != types.EntityStory {
		return false
	}
	switch e.Action {
	case "create":
		return rules.IsRuleTitle(e.Name)
	case "delete":
		return l.isKnown(e.ID)
	}
	if !e.Changed(ruleFields...) {
		return false
	}
	return l.isKnown(e.ID) || rules.IsRuleTitle(e.Name) || l.labelTouched(e, p)
}

// labelTouched reports whether the event adds or removes the rules label.
func (l *Loader) labelTouched(e *types.Event, p *types.Payload) bool {
	ch := e.Changes["label_ids"]
	if ch == nil || p == nil {
		return false
	}
	ids := make([]any, 0, len(ch.Adds)+len(ch.Removes))
	ids = append(ids, ch.Adds...)
	ids = append(ids, ch.Removes...)
	for _, id := range ids {
		if ref, ok := p.Reference(id); ok && ref["name"] == l.label {
			return true
		}
	}
	return false
}
