// internal/rules/compile.go
package rules

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/solatis/gears/internal/types"
)

/*
 * Rule compilation.
 *
 * Compiles a story into a Rule: the title's condition becomes the body of a
 * When function, the description's code blocks become the body of a Then
 * function, both interpreted in the sandbox. The first compile freezes the
 * capability registry.
 *
 * Compilation workflow:
 *   1. Extract condition and action from title and description
 *   2. Render the interpreter program (inferred imports, event locals)
 *   3. Evaluate in a fresh interpreter; syntax and type errors surface here
 *   4. Resolve main.When and main.Then as host-callable functions
 *
 * Each rule gets its own interpreter so a rule's package-level state is
 * private to it. Calls into one interpreter are serialised: a call that
 * outlives its timeout keeps the rule busy until it returns, and calls
 * queued behind it time out without running.
 */

type whenFunc = func(context.Context, *types.Event, *types.Payload, *Reporter, *Capabilities) bool
type thenFunc = func(context.Context, *types.Event, *types.Payload, *Reporter, *Capabilities) error

// Compiler turns rule stories into Rules.
type Compiler struct {
	registry  *Registry
	logger    *zap.Logger
	commenter Commenter

	once    sync.Once
	sb      *sandbox
	sbError error
}

// NewCompiler creates a compiler. commenter receives compile failures for
// CompileAll and may be nil.
func NewCompiler(registry *Registry, logger *zap.Logger, commenter Commenter) *Compiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compiler{registry: registry, logger: logger, commenter: commenter}
}

// Compile builds a rule from a story. Returns types.ErrNotARule when the
// title is not shaped when(...).
func (c *Compiler) Compile(story types.Story) (*Rule, error) {
	condition, action, ok := Extract(story.Name, story.Description)
	if !ok {
		return nil, fmt.Errorf("story %d: %w", story.ID, types.ErrNotARule)
	}

	if c.registry != nil {
		c.registry.Freeze()
	}

	prog, err := c.build(condition, action)
	if err != nil {
		return nil, fmt.Errorf("story %d: %w", story.ID, err)
	}

	prov := Provenance{
		StoryID:   story.ID,
		Name:      story.Name,
		AppURL:    story.AppURL,
		Condition: condition,
		Source:    action,
	}

	return &Rule{
		Predicate: NewPredicate(prov, prog.eval),
		Action:    NewAction(prov, prog.run),
	}, nil
}

// Check compiles a condition and action without producing a rule.
func (c *Compiler) Check(condition, action string) error {
	_, err := c.build(condition, action)
	return err
}

// CompileAll compiles every rule story. Stories whose title is not a rule
// title are skipped; compile failures are reported against the story and
// dropped.
func (c *Compiler) CompileAll(ctx context.Context, stories []types.Story) []*Rule {
	compiled := make([]*Rule, 0, len(stories))
	for _, story := range stories {
		if !IsRuleTitle(story.Name) {
			continue
		}
		rule, err := c.Compile(story)
		if err != nil {
			reporter := NewReporter(ctx, Provenance{StoryID: story.ID, Name: story.Name, AppURL: story.AppURL}, c.logger, c.commenter)
			getMetrics().compileFailures.Inc()
			reporter.Error("This rule could not be compiled and is disabled until fixed.", err)
			continue
		}
		compiled = append(compiled, rule)
	}
	return compiled
}

type program struct {
	sem  *semaphore.Weighted
	when whenFunc
	then thenFunc
}

func (c *Compiler) build(condition, action string) (*program, error) {
	c.once.Do(func() {
		c.sb, c.sbError = newSandbox()
	})
	if c.sbError != nil {
		return nil, c.sbError
	}

	i, err := c.sb.interpreter()
	if err != nil {
		return nil, err
	}

	if _, err := i.Eval(c.sb.program(condition, action)); err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	whenV, err := i.Eval("main.When")
	if err != nil {
		return nil, fmt.Errorf("resolve When: %w", err)
	}
	thenV, err := i.Eval("main.Then")
	if err != nil {
		return nil, fmt.Errorf("resolve Then: %w", err)
	}

	when, err := asWhen(whenV)
	if err != nil {
		return nil, err
	}
	then, err := asThen(thenV)
	if err != nil {
		return nil, err
	}
	return &program{sem: semaphore.NewWeighted(1), when: when, then: then}, nil
}

// A caller queued behind a hung call gives up when its context ends, so a
// hung rule pins at most one goroutine.
func (p *program) eval(ctx context.Context, call Call) (bool, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer p.sem.Release(1)
	return p.when(ctx, call.Event, call.Payload, call.Reporter, call.Caps), nil
}

func (p *program) run(ctx context.Context, call Call) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return p.then(ctx, call.Event, call.Payload, call.Reporter, call.Caps)
}

// asWhen and asThen accept either a directly typed function or any
// reflect function value with the right shape.
func asWhen(v reflect.Value) (whenFunc, error) {
	if fn, ok := v.Interface().(whenFunc); ok {
		return fn, nil
	}
	if err := checkShape(v, "When", reflect.TypeOf(false)); err != nil {
		return nil, err
	}
	return func(ctx context.Context, e *types.Event, p *types.Payload, r *Reporter, c *Capabilities) bool {
		return v.Call(callValues(ctx, e, p, r, c))[0].Bool()
	}, nil
}

func asThen(v reflect.Value) (thenFunc, error) {
	if fn, ok := v.Interface().(thenFunc); ok {
		return fn, nil
	}
	if err := checkShape(v, "Then", errorType); err != nil {
		return nil, err
	}
	return func(ctx context.Context, e *types.Event, p *types.Payload, r *Reporter, c *Capabilities) error {
		out := v.Call(callValues(ctx, e, p, r, c))[0]
		if out.IsNil() {
			return nil
		}
		return out.Interface().(error)
	}, nil
}

func checkShape(v reflect.Value, name string, result reflect.Type) error {
	if v.Kind() != reflect.Func || v.Type().NumIn() != 5 || v.Type().NumOut() != 1 || v.Type().Out(0) != result {
		return fmt.Errorf("%s has unexpected type %s", name, v.Type())
	}
	return nil
}

var contextType = reflect.TypeOf((*context.Context)(nil)).Elem()

func callValues(ctx context.Context, e *types.Event, p *types.Payload, r *Reporter, c *Capabilities) []reflect.Value {
	ctxV := reflect.New(contextType).Elem()
	if ctx != nil {
		ctxV.Set(reflect.ValueOf(ctx))
	}
	return []reflect.Value{ctxV, reflect.ValueOf(e), reflect.ValueOf(p), reflect.ValueOf(r), reflect.ValueOf(c)}
}
