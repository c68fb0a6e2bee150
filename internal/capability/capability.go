// Package capability provides the built-in host functions registered for
// rules. Each Register function adds function-valued capabilities that rule
// code invokes with caps.Call(name, args...).
package capability

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/solatis/gears/internal/recordsource"
	"github.com/solatis/gears/internal/rules"
	"github.com/solatis/gears/internal/types"
)

// Capability names.
const (
	Log            = "log"
	Stories        = "stories"
	StoriesComment = "stories.comment"
	StoriesSearch  = "stories.search"
	HTTPGet        = "http.get"
	HTTPPostJSON   = "http.post_json"
)

const maxResponseBytes = 1 << 20

// RegisterLog adds "log": func(msg string, keysAndValues ...any).
func RegisterLog(reg *rules.Registry, logger *zap.Logger) error {
	sugar := logger.Named("rule").Sugar()
	return reg.Register(Log, func(msg string, keysAndValues ...any) {
		sugar.Infow(msg, keysAndValues...)
	})
}

// RegisterStories adds the record source itself as "stories" plus
// "stories.comment" and "stories.search" for interpreted rules.
func RegisterStories(reg *rules.Registry, src recordsource.Source) error {
	if err := reg.Register(Stories, src); err != nil {
		return err
	}
	if err := reg.Register(StoriesComment, func(ctx context.Context, storyID int64, text string) error {
		return src.AddComment(ctx, storyID, text)
	}); err != nil {
		return err
	}
	return reg.Register(StoriesSearch, func(ctx context.Context, label string) ([]types.Story, error) {
		return recordsource.All(ctx, src, label)
	})
}

// RegisterHTTP adds "http.get" and "http.post_json". Both return the
// response body and fail on non-2xx responses.
func RegisterHTTP(reg *rules.Registry, client *http.Client) error {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if err := reg.Register(HTTPGet, func(ctx context.Context, url string) (string, error) {
		return doHTTP(ctx, client, http.MethodGet, url, "")
	}); err != nil {
		return err
	}
	return reg.Register(HTTPPostJSON, func(ctx context.Context, url, body string) (string, error) {
		return doHTTP(ctx, client, http.MethodPost, url, body)
	})
}

func doHTTP(ctx context.Context, client *http.Client, method, url, body string) (string, error) {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", method, url, err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%s %s: reading body: %w", method, url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return string(data), fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
	}
	return string(data), nil
}
