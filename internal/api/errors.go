package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/thoughtstream/thoughtstream/internal/errors"
	"github.com/thoughtstream/thoughtstream/internal/observability"
)

type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

// writeError serializes err as the JSON error envelope. Internal errors are
// logged with their cause and returned with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, status, msg := errors.PublicMessage(err, credentialFrom(r))
	log := observability.LoggerFromContext(r.Context())
	if status >= 500 {
		log.Error("request failed", "code", code, "error", err)
	} else {
		log.Debug("request rejected", "code", code, "message", msg)
	}
	writeJSON(w, status, errorBody{Error: errorPayload{Code: code, Message: msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observability.Logger().Error("failed to encode response", "error", err)
	}
}

func credentialFrom(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > len("Bearer ") && strings.EqualFold(h[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return strings.TrimSpace(h)
}
