package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/thoughtstream/thoughtstream/internal/core"
	"github.com/thoughtstream/thoughtstream/internal/errors"
	"github.com/thoughtstream/thoughtstream/internal/store"
)

const maxBodyBytes = 1 << 20

// Services are the core services the HTTP layer dispatches to.
type Services struct {
	Thoughts *core.ThoughtService
	Chat     *core.ChatService
	Search   *core.SearchService
	Graph    *core.GraphService
	Sync     *core.SyncService
	Store    *store.SQLiteStore
}

type APIHandler struct {
	svc       Services
	jwtSecret string
}

func NewAPIHandler(svc Services, jwtSecret string) *APIHandler {
	return &APIHandler{svc: svc, jwtSecret: jwtSecret}
}

// decodeBody reads a JSON body. Decoder errors name Go types, so the caller
// only ever sees a generic message.
func decodeBody(r *http.Request, v any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if err == io.EOF {
			return errors.NewValidation("request body is required")
		}
		return errors.NewValidation("request body is not valid JSON")
	}
	return nil
}

// decodeOptionalBody is decodeBody for endpoints where an empty body is fine.
func decodeOptionalBody(r *http.Request, v any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil && err != io.EOF {
		return errors.NewValidation("request body is not valid JSON")
	}
	return nil
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *APIHandler) CaptureHandler(w http.ResponseWriter, r *http.Request) {
	var req core.CaptureInput
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.Thoughts.Capture(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *APIHandler) ListThoughtsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ListFilter{
		Type:   q.Get("type"),
		Tag:    q.Get("tag"),
		Cursor: q.Get("cursor"),
	}
	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, r, errors.NewValidation("limit must be an integer"))
			return
		}
		f.Limit = limit
	}
	page, err := h.svc.Thoughts.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *APIHandler) GetThoughtHandler(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Thoughts.Get(r.Context(), chi.URLParam(r, "thoughtID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *APIHandler) UpdateThoughtHandler(w http.ResponseWriter, r *http.Request) {
	var req core.UpdateInput
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := h.svc.Thoughts.Update(r.Context(), chi.URLParam(r, "thoughtID"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *APIHandler) DeleteThoughtHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Thoughts.Delete(r.Context(), chi.URLParam(r, "thoughtID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) RelatedHandler(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Graph.Related(r.Context(), chi.URLParam(r, "thoughtID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *APIHandler) CreateConversationHandler(w http.ResponseWriter, r *http.Request) {
	var req core.CreateConversationInput
	if err := decodeOptionalBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.svc.Chat.CreateConversation(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *APIHandler) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	includeArchived, _ := strconv.ParseBool(r.URL.Query().Get("includeArchived"))
	list, err := h.svc.Chat.ListConversations(r.Context(), includeArchived)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": list})
}

func (h *APIHandler) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Chat.GetConversation(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type appendMessagesRequest struct {
	Messages []core.MessageInput `json:"messages"`
}

func (h *APIHandler) AppendMessagesHandler(w http.ResponseWriter, r *http.Request) {
	var req appendMessagesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	msgs, err := h.svc.Chat.AppendMessages(r.Context(), chi.URLParam(r, "conversationID"), req.Messages)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"messages": msgs})
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *APIHandler) SetConversationStatusHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	var req statusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.Chat.SetStatus(r.Context(), id, req.Status); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.EqualFold(strings.TrimSpace(req.Status), store.StatusDeleted) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	c, err := h.svc.Chat.GetConversation(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *APIHandler) DeleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Chat.DeleteConversation(r.Context(), chi.URLParam(r, "conversationID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) AskHandler(w http.ResponseWriter, r *http.Request) {
	var req core.AskInput
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ConversationID != "" && !canWrite(r.Context()) {
		writeError(w, r, errors.NewForbidden("token lacks the write scope"))
		return
	}
	res, err := h.svc.Search.Ask(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *APIHandler) GraphHandler(w http.ResponseWriter, r *http.Request) {
	g, err := h.svc.Graph.Graph(r.Context(), r.URL.Query().Get("month"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *APIHandler) ExportHandler(w http.ResponseWriter, r *http.Request) {
	var since int64
	if s := r.URL.Query().Get("since"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(w, r, errors.NewValidation("since must be an integer timestamp in milliseconds"))
			return
		}
		since = v
	}
	res, err := h.svc.Sync.Export(r.Context(), since)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
