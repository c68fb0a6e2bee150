// Package api serves the webhook ingress and the admin gRPC service.
package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/solatis/gears/internal/types"
)

// DefaultMaxBodyBytes caps a webhook body when no limit is configured.
const DefaultMaxBodyBytes = 1024 * 1024

// Dispatcher receives verified, parsed deliveries. *rules.Engine implements it.
type Dispatcher interface {
	Broadcast(ctx context.Context, events []types.Event, payload *types.Payload)
}

// Verifier checks a delivery's signature against its raw body.
type Verifier interface {
	Verify(r *http.Request, body []byte) error
}

// ReadyFunc reports whether the process is ready to serve.
type ReadyFunc func() bool

// WebhookHandler parses verified deliveries and dispatches them.
type WebhookHandler struct {
	dispatcher Dispatcher
	archive    *Archive
	logger     *zap.Logger
}

// NewWebhookHandler creates a handler. archive may be nil.
func NewWebhookHandler(dispatcher Dispatcher, archive *Archive, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{dispatcher: dispatcher, archive: archive, logger: logger.Named("webhook")}
}

// ServeHTTP responds only after every rule has seen the delivery. Dispatch is
// detached from the request context so a client hanging up does not cut
// actions short.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "WEBHOOK_BAD_REQUEST", msgInvalidBody)
		return
	}

	payload, err := types.ParsePayload(body)
	if err != nil {
		h.logger.Warn("could not parse delivery", zap.Error(err), zap.ByteString("body", truncate(body, 2048)))
		writeJSONError(w, http.StatusBadRequest, "WEBHOOK_BAD_REQUEST", msgInvalidBody)
		return
	}

	if err := h.archive.Append(payload.ID, body); err != nil {
		h.logger.Warn("archiving delivery failed", zap.String("delivery_id", payload.ID), zap.Error(err))
	}

	h.logger.Debug("delivery received",
		zap.String("delivery_id", payload.ID),
		zap.Int("events", len(payload.Actions)),
		zap.Int("references", len(payload.References)),
	)

	h.dispatcher.Broadcast(context.WithoutCancel(r.Context()), payload.Actions, payload)

	writeJSON(w, http.StatusOK, map[string]any{
		"delivery_id": payload.ID,
		"events":      len(payload.Actions),
	})
}

// Middleware verifies signatures and enforces the body limit before next runs.
// The body is restored so next can read it again.
func Middleware(verifier Verifier, maxBodyBytes int64, logger *zap.Logger) mux.MiddlewareFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := readAndRestoreBody(r, maxBodyBytes)
			if err != nil {
				if errors.Is(err, errBodyTooLarge) {
					writeJSONError(w, http.StatusRequestEntityTooLarge, "WEBHOOK_PAYLOAD_TOO_LARGE", msgTooLarge)
					return
				}
				writeJSONError(w, http.StatusBadRequest, "WEBHOOK_BAD_REQUEST", msgInvalidBody)
				return
			}

			if err := verifier.Verify(r, body); err != nil {
				logger.Info("rejected delivery", zap.String("remote", r.RemoteAddr), zap.Error(err))
				writeJSONError(w, http.StatusUnauthorized, "WEBHOOK_UNAUTHORIZED", msgUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

var errBodyTooLarge = errors.New("webhook payload too large")

func readAndRestoreBody(r *http.Request, maxBytes int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, errBodyTooLarge
	}

	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Verifier     Verifier
	Handler      *WebhookHandler
	MaxBodyBytes int64
	Ready        ReadyFunc
	Logger       *zap.Logger
}

// NewRouter serves deliveries on / and /webhook, prometheus metrics on
// /metrics and readiness on /healthz.
func NewRouter(cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if cfg.Ready != nil && !cfg.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "loading"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	hooks := router.NewRoute().Subrouter()
	hooks.Use(Middleware(cfg.Verifier, cfg.MaxBodyBytes, cfg.Logger))
	hooks.Handle("/", cfg.Handler).Methods(http.MethodPost)
	hooks.Handle("/webhook", cfg.Handler).Methods(http.MethodPost)

	return router
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
