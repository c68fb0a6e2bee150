// internal/rules/evaluate.go
package rules

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/solatis/gears/internal/types"
)

/*
 * Guarded invocation of rule code.
 *
 * Predicates and actions run on their own goroutine under a deadline. The
 * caller waits for whichever comes first: the result, a recovered panic, or
 * the deadline. On timeout the rule's goroutine is abandoned; it sees its
 * context cancelled and is expected to return, but nothing forces it to.
 *
 * Result classification:
 *   - predicate: match, miss, error, timeout, panic
 *   - action:    ok, error, timeout, panic
 */

// Result labels outcomes in metrics and the run log.
type Result string

const (
	ResultMatch   Result = "match"
	ResultMiss    Result = "miss"
	ResultOK      Result = "ok"
	ResultError   Result = "error"
	ResultTimeout Result = "timeout"
	ResultPanic   Result = "panic"
)

// PanicError is a panic recovered from rule code.
type PanicError struct {
	Value any
	stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%v: %v", types.ErrRulePanic, e.Value)
}

func (e *PanicError) Unwrap() error {
	return types.ErrRulePanic
}

// Stack returns the goroutine stack at the point of the panic.
func (e *PanicError) Stack() string {
	return string(e.stack)
}

// guard runs fn with a deadline, converting panics and timeouts to errors.
func guard(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &PanicError{Value: r, stack: debug.Stack()}
			}
		}()
		done <- fn(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	// a call still queued behind a hung one fails with the deadline too
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		return fmt.Errorf("%w after %s", types.ErrRuleTimeout, timeout)
	}
	return err
}

func evaluate(ctx context.Context, timeout time.Duration, p *Predicate, call Call) (bool, Result, error) {
	var matched bool
	err := guard(ctx, timeout, func(ctx context.Context) error {
		var err error
		matched, err = p.Eval(ctx, call)
		return err
	})
	if err != nil {
		return false, classify(err), err
	}
	if matched {
		return true, ResultMatch, nil
	}
	return false, ResultMiss, nil
}

func execute(ctx context.Context, timeout time.Duration, a *Action, call Call) (Result, error) {
	if err := guard(ctx, timeout, func(ctx context.Context) error {
		return a.Run(ctx, call)
	}); err != nil {
		return classify(err), err
	}
	return ResultOK, nil
}

func classify(err error) Result {
	switch {
	case errors.Is(err, types.ErrRuleTimeout):
		return ResultTimeout
	case errors.Is(err, types.ErrRulePanic):
		return ResultPanic
	default:
		return ResultError
	}
}
