package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtstream/thoughtstream/internal/auth"
	"github.com/thoughtstream/thoughtstream/internal/core"
	"github.com/thoughtstream/thoughtstream/internal/store"
)

const testSecret = "api-test-secret"

type testServer struct {
	handler  http.Handler
	store    *store.SQLiteStore
	enricher *core.Enricher
	write    string
	read     string
}

func setupTest(t *testing.T) *testServer {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	oracle := core.NewLocalOracle()
	svc := Services{
		Thoughts: core.NewThoughtService(st, 8000),
		Chat:     core.NewChatService(st, 8000),
		Search:   core.NewSearchService(st, oracle, oracle, core.SearchConfig{TopK: 5, MinSimilarity: 0.2, KeywordWeight: 1, VectorWeight: 3}),
		Graph:    core.NewGraphService(st, core.GraphConfig{RelatedMinSimilarity: 0.2, EdgeThreshold: 0.75}),
		Sync:     core.NewSyncService(st),
		Store:    st,
	}

	write, err := auth.GenerateJWT(testSecret, "tester", []string{auth.ScopeRead, auth.ScopeWrite}, time.Hour)
	require.NoError(t, err)
	read, err := auth.GenerateJWT(testSecret, "reader", []string{auth.ScopeRead}, time.Hour)
	require.NoError(t, err)

	return &testServer{
		handler:  NewRouter(NewAPIHandler(svc, testSecret)),
		store:    st,
		enricher: core.NewEnricher(st, oracle, oracle, core.EnrichmentConfig{MaxAttempts: 3, BackoffBase: time.Second, BackoffMax: time.Minute}),
		write:    write,
		read:     read,
	}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth_IsPublic(t *testing.T) {
	s := setupTest(t)
	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuth(t *testing.T) {
	s := setupTest(t)

	rec := s.do(t, http.MethodGet, "/thoughts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", string(decode[errorBody](t, rec).Error.Code))

	rec = s.do(t, http.MethodGet, "/thoughts", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/thoughts", s.read, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/thoughts", s.read, map[string]any{"text": "read-only token"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", string(decode[errorBody](t, rec).Error.Code))

	rec = s.do(t, http.MethodPost, "/ask", s.read, map[string]any{"query": "anything"})
	assert.Equal(t, http.StatusOK, rec.Code, "ask without a conversation is a read")

	rec = s.do(t, http.MethodPost, "/ask", s.read, map[string]any{"query": "anything", "conversationId": "conv_x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestThoughtLifecycle(t *testing.T) {
	s := setupTest(t)

	rec := s.do(t, http.MethodPost, "/thoughts", s.write, map[string]any{
		"text": "Use Redis for the caching layer",
		"type": "decision",
		"tags": []string{"infra"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[core.CaptureResult](t, rec)
	require.NotEmpty(t, created.ID)

	rec = s.do(t, http.MethodGet, "/thoughts/"+created.ID, s.write, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[store.Thought](t, rec)
	assert.Equal(t, created.SmartID, got.SmartID)
	assert.Equal(t, "decision", got.Type)

	rec = s.do(t, http.MethodPut, "/thoughts/"+created.ID, s.write, map[string]any{"tags": []string{"infra", "cache"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"infra", "cache"}, decode[store.Thought](t, rec).Tags)

	rec = s.do(t, http.MethodGet, "/thoughts?tag=cache&limit=5", s.write, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[store.ThoughtPage](t, rec)
	require.Len(t, page.Items, 1)

	_, err := s.enricher.Drain(context.Background())
	require.NoError(t, err)

	rec = s.do(t, http.MethodGet, "/thoughts/"+created.ID+"/related", s.write, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decode[core.RelatedResult](t, rec).ThoughtID)

	rec = s.do(t, http.MethodPost, "/ask", s.write, map[string]any{"query": "redis caching"})
	require.Equal(t, http.StatusOK, rec.Code)
	ask := decode[core.AskResult](t, rec)
	require.Len(t, ask.Citations, 1)
	assert.Equal(t, created.ID, ask.Citations[0].ID)

	rec = s.do(t, http.MethodGet, "/graph", s.write, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[core.Graph](t, rec).Nodes, 1)

	rec = s.do(t, http.MethodDelete, "/thoughts/"+created.ID, s.write, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/thoughts/"+created.ID, s.write, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", string(decode[errorBody](t, rec).Error.Code))

	rec = s.do(t, http.MethodGet, "/export?since=0", s.write, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	export := decode[core.ExportResult](t, rec)
	assert.Empty(t, export.Thoughts)
	require.Len(t, export.Deleted, 1)
	assert.Equal(t, created.ID, export.Deleted[0])
	assert.Contains(t, rec.Body.String(), `"deleted":["`+created.ID+`"]`)
}

func TestConversationRoutes(t *testing.T) {
	s := setupTest(t)

	rec := s.do(t, http.MethodPost, "/conversations", s.write, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	conv := decode[store.Conversation](t, rec)

	rec = s.do(t, http.MethodPost, "/conversations/"+conv.ID+"/messages", s.write, map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "what is on my plate"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/conversations/"+conv.ID, s.write, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[store.Conversation](t, rec)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "what is on my plate", got.Title)

	rec = s.do(t, http.MethodPatch, "/conversations/"+conv.ID, s.write, map[string]string{"status": "archived"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.StatusArchived, decode[store.Conversation](t, rec).Status)

	rec = s.do(t, http.MethodGet, "/conversations?includeArchived=true", s.write, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]store.Conversation](t, rec)["conversations"], 1)

	rec = s.do(t, http.MethodDelete, "/conversations/"+conv.ID, s.write, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, "/conversations/"+conv.ID, s.write, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidationErrors(t *testing.T) {
	s := setupTest(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"empty text", http.MethodPost, "/thoughts", map[string]any{"text": ""}},
		{"wrong json type", http.MethodPost, "/thoughts", map[string]any{"text": 42}},
		{"bad limit", http.MethodGet, "/thoughts?limit=abc", nil},
		{"bad cursor", http.MethodGet, "/thoughts?cursor=bm90LWEtY3Vyc29y", nil},
		{"bad month", http.MethodGet, "/graph?month=2024-13", nil},
		{"bad since", http.MethodGet, "/export?since=yesterday", nil},
		{"blank query", http.MethodPost, "/ask", map[string]any{"query": " "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, s.write, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			body := decode[errorBody](t, rec)
			assert.Equal(t, "validation_error", string(body.Error.Code))
			assert.NotContains(t, body.Error.Message, "Go struct")
			assert.NotContains(t, body.Error.Message, "core.")
		})
	}
}

func TestErrorsNeverEchoCredential(t *testing.T) {
	s := setupTest(t)

	// A path segment crafted to contain the caller's own token.
	rec := s.do(t, http.MethodGet, "/thoughts/"+s.write, s.write, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), s.write)
	assert.NotContains(t, rec.Body.String(), "eyJ")
}
