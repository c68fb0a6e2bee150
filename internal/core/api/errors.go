package api

import (
	"encoding/json"
	"net/http"
	"strings"
)

// HTTP errors are JSON envelopes with a stable code and a human message.
// Admin gRPC errors map as follows:
//   - record source failures during Reload map to UNAVAILABLE
//   - a missing run log maps to FAILED_PRECONDITION
//   - bad arguments map to INVALID_ARGUMENT

const (
	msgUnauthorized = "You are unauthorized."
	msgInvalidBody  = "You sent an invalid body."
	msgTooLarge     = "The body is too large."
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	if strings.TrimSpace(code) == "" {
		code = "WEBHOOK_ERROR"
	}
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
