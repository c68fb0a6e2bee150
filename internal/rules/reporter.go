package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"go.uber.org/zap"
)

// Commenter posts a comment on a story. The record source implements it.
type Commenter interface {
	AddComment(ctx context.Context, storyID int64, text string) error
}

const warningPrefix = ":warning: "

// Reporter is the per-invocation diagnostic channel handed to rule code.
// Every message is logged; messages from story-defined rules are also
// posted as a comment on the defining story.
type Reporter struct {
	ctx       context.Context
	prov      Provenance
	logger    *zap.Logger
	commenter Commenter
}

// NewReporter binds a reporter to a rule's provenance. commenter may be nil.
func NewReporter(ctx context.Context, prov Provenance, logger *zap.Logger, commenter Commenter) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		ctx:       ctx,
		prov:      prov,
		logger:    logger.With(zap.String("rule", prov.Name), zap.Int64("story_id", prov.StoryID)),
		commenter: commenter,
	}
}

// Log records informational output from a rule.
func (r *Reporter) Log(args ...any) {
	r.logger.Info("rule log", zap.String("message", plainText(args)))
	r.comment(formatComment(args))
}

// Error records a failure.
func (r *Reporter) Error(args ...any) {
	r.logger.Error("rule error", zap.String("message", plainText(args)))
	r.comment(warningPrefix + formatComment(args))
}

// Logf is Log with a format string.
func (r *Reporter) Logf(format string, args ...any) {
	r.Log(fmt.Sprintf(format, args...))
}

func (r *Reporter) comment(text string) {
	if r.prov.StoryID == 0 || r.commenter == nil {
		return
	}
	if err := r.commenter.AddComment(r.ctx, r.prov.StoryID, text); err != nil {
		r.logger.Warn("posting rule comment failed", zap.Error(err))
	}
}

func plainText(args []any) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = fmt.Sprint(arg)
	}
	return strings.Join(parts, " ")
}

// formatComment renders strings verbatim and everything else as a fenced
// debug dump. Errors dump their message rather than their struct.
func formatComment(args []any) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case string:
			parts[i] = v
		case error:
			parts[i] = fenced(errorText(v))
		default:
			parts[i] = fenced(strings.TrimRight(spew.Sdump(v), "\n"))
		}
	}
	return strings.Join(parts, "\n\n")
}

func fenced(s string) string {
	return fence + "\n" + s + "\n" + fence
}

func errorText(err error) string {
	var panicErr interface{ Stack() string }
	if errors.As(err, &panicErr) {
		return err.Error() + "\n" + panicErr.Stack()
	}
	return err.Error()
}
