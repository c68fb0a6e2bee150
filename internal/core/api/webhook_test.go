package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/gears/internal/core/auth"
	"github.com/solatis/gears/internal/types"
)

const testSecret = "test-secret"

type recordingDispatcher struct {
	mu       sync.Mutex
	events   []types.Event
	payloads []*types.Payload
	ctxErr   error
}

func (d *recordingDispatcher) Broadcast(ctx context.Context, events []types.Event, payload *types.Payload) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, events...)
	d.payloads = append(d.payloads, payload)
	d.ctxErr = ctx.Err()
}

func newTestRouter(t *testing.T, d Dispatcher, archive *Archive, maxBody int64) http.Handler {
	t.Helper()
	return NewRouter(RouterConfig{
		Verifier:     auth.NewVerifier(testSecret),
		Handler:      NewWebhookHandler(d, archive, nil),
		MaxBodyBytes: maxBody,
		Ready:        func() bool { return true },
	})
}

func signedRequest(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Clubhouse-Signature", auth.Sign([]byte(testSecret), []byte(body)))
	return req
}

const storyDelivery = `{
	"id": "0190b8e4-0000-7000-8000-000000000001",
	"member_id": "m-1",
	"actions": [{
		"id": 42,
		"entity_type": "story",
		"action": "update",
		"name": "Fix login",
		"changes": {"workflow_state_id": {"old": 500, "new": 501}}
	}],
	"references": [
		{"id": 500, "entity_type": "workflow-state", "name": "To Do"},
		{"id": 501, "entity_type": "workflow-state", "name": "Done"}
	]
}`

func TestWebhook_DispatchesVerifiedDelivery(t *testing.T) {
	d := &recordingDispatcher{}
	router := newTestRouter(t, d, nil, 0)

	for _, path := range []string{"/", "/webhook"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, signedRequest(path, storyDelivery))
		require.Equal(t, http.StatusOK, rr.Code, path)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	require.Len(t, d.events, 2)
	ev := d.events[0]
	assert.Equal(t, int64(42), ev.ID)
	assert.Equal(t, "m-1", ev.AuthorID)

	ch := ev.Changes["workflow_state_id"]
	require.NotNil(t, ch)
	newRef, ok := ch.New.(types.Reference)
	require.True(t, ok, "change should resolve to reference, got %T", ch.New)
	assert.Equal(t, "Done", newRef["name"])
	assert.NoError(t, d.ctxErr)
}

func TestWebhook_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		request  func() *http.Request
		maxBody  int64
		wantCode int
		wantMsg  string
	}{
		{
			name: "missing signature",
			request: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(storyDelivery))
			},
			wantCode: http.StatusUnauthorized,
			wantMsg:  "You are unauthorized.",
		},
		{
			name: "wrong signature",
			request: func() *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(storyDelivery))
				req.Header.Set("Clubhouse-Signature", auth.Sign([]byte("other"), []byte(storyDelivery)))
				return req
			},
			wantCode: http.StatusUnauthorized,
			wantMsg:  "You are unauthorized.",
		},
		{
			name:     "malformed json",
			request:  func() *http.Request { return signedRequest("/", "{not json") },
			wantCode: http.StatusBadRequest,
			wantMsg:  "You sent an invalid body.",
		},
		{
			name:     "too large",
			request:  func() *http.Request { return signedRequest("/", storyDelivery) },
			maxBody:  16,
			wantCode: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &recordingDispatcher{}
			rr := httptest.NewRecorder()
			newTestRouter(t, d, nil, tt.maxBody).ServeHTTP(rr, tt.request())

			require.Equal(t, tt.wantCode, rr.Code)
			if tt.wantMsg != "" {
				var body errorBody
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
				assert.Equal(t, tt.wantMsg, body.Message)
			}
			assert.Empty(t, d.payloads, "rejected delivery must not be dispatched")
		})
	}
}

func TestWebhook_ShortcutSignatureHeader(t *testing.T) {
	d := &recordingDispatcher{}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(storyDelivery))
	req.Header.Set("Shortcut-Signature", auth.Sign([]byte(testSecret), []byte(storyDelivery)))

	rr := httptest.NewRecorder()
	newTestRouter(t, d, nil, 0).ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRouter_Healthz(t *testing.T) {
	ready := false
	router := NewRouter(RouterConfig{
		Verifier: auth.NewVerifier(testSecret),
		Handler:  NewWebhookHandler(&recordingDispatcher{}, nil, nil),
		Ready:    func() bool { return ready },
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	ready = true
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRouter_Metrics(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter(t, &recordingDispatcher{}, nil, 0).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}
