// Package shortcut implements recordsource.Source against the hosted story
// tracker REST API.
package shortcut

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/solatis/gears/internal/recordsource"
	"github.com/solatis/gears/internal/types"
)

const (
	// DefaultBaseURL is the public API root.
	DefaultBaseURL = "https://api.app.shortcut.com/api/v3"

	tokenHeader     = "Shortcut-Token"
	defaultPageSize = 25
	maxErrorBody    = 4 << 10
	defaultRetries  = 3
)

// ErrNoToken indicates a client constructed without an API token.
var ErrNoToken = errors.New("shortcut API token not configured")

// APIError is a non-2xx response from the API.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// retryable reports whether the request may be sent again. A rate limit
// means it was not processed; a 5xx on a POST may have been, so only
// idempotent methods retry those.
func (e *APIError) retryable() bool {
	if e.Status == http.StatusTooManyRequests {
		return true
	}
	return e.Status >= 500 && idempotent(e.Method)
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// Client talks to the story tracker API.
type Client struct {
	base       *url.URL
	token      string
	httpClient *http.Client
	logger     *zap.Logger
	newBackOff func() backoff.BackOff
	pageSize   int
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root.
func WithBaseURL(raw string) Option {
	return func(c *Client) {
		if u, err := url.Parse(strings.TrimRight(raw, "/")); err == nil {
			c.base = u
		}
	}
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for retry notices.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithBackOff sets the retry policy factory. Each request gets a fresh policy.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = f }
}

// WithPageSize sets the search page size.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// New creates a client authenticating with token.
func New(token string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	base, _ := url.Parse(DefaultBaseURL)
	c := &Client{
		base:       base,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zap.NewNop(),
		pageSize:   defaultPageSize,
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), defaultRetries)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

var _ recordsource.Source = (*Client)(nil)

// Search returns one page of non-archived stories carrying q.Label.
func (c *Client) Search(ctx context.Context, q recordsource.SearchQuery) (*types.StoryPage, error) {
	var target *url.URL
	if q.Next != "" {
		next, err := url.Parse(q.Next)
		if err != nil {
			return nil, fmt.Errorf("invalid page token: %w", err)
		}
		target = c.base.ResolveReference(next)
	} else {
		target = c.endpoint("search", "stories")
		params := url.Values{}
		params.Set("query", fmt.Sprintf("label:%q !is:archived", q.Label))
		params.Set("detail", "full")
		params.Set("page_size", strconv.Itoa(c.pageSize))
		target.RawQuery = params.Encode()
	}

	var page types.StoryPage
	if err := c.do(ctx, http.MethodGet, target, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// AddComment posts text as a comment on the story.
func (c *Client) AddComment(ctx context.Context, storyID int64, text string) error {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("encode comment: %w", err)
	}
	target := c.endpoint("stories", strconv.FormatInt(storyID, 10), "comments")
	return c.do(ctx, http.MethodPost, target, body, nil)
}

func (c *Client) endpoint(segments ...string) *url.URL {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(segments, "/")
	return &u
}

func (c *Client) do(ctx context.Context, method string, target *url.URL, body []byte, out any) error {
	op := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set(tokenHeader, c.token)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if !idempotent(method) {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			apiErr := &APIError{Method: method, Path: target.Path, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
			if apiErr.retryable() {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}

		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s %s: %w", method, target.Path, err))
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("story tracker request failed, retrying",
			zap.String("method", method),
			zap.String("path", target.Path),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	return backoff.RetryNotify(op, backoff.WithContext(c.newBackOff(), ctx), notify)
}
