package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/thoughtstream/thoughtstream/internal/core"
	"github.com/thoughtstream/thoughtstream/internal/errors"
	"github.com/thoughtstream/thoughtstream/internal/observability"
)

// Handlers dispatches tool calls to the core services.
type Handlers struct {
	thoughts *core.ThoughtService
	search   *core.SearchService
	graph    *core.GraphService
}

func NewHandlers(thoughts *core.ThoughtService, search *core.SearchService, graph *core.GraphService) *Handlers {
	return &Handlers{thoughts: thoughts, search: search, graph: graph}
}

type idRequest struct {
	ID string `json:"id"`
}

func (h *Handlers) HandleCapture(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[core.CaptureInput](req)
	if err != nil {
		return errorResult(errors.NewValidation("arguments do not match the tool schema")), nil
	}
	res, err := h.thoughts.Capture(ctx, input)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultJSON(res)
}

func (h *Handlers) HandleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[idRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation("arguments do not match the tool schema")), nil
	}
	t, err := h.thoughts.Get(ctx, input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultJSON(t)
}

func (h *Handlers) HandleAsk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[core.AskInput](req)
	if err != nil {
		return errorResult(errors.NewValidation("arguments do not match the tool schema")), nil
	}
	res, err := h.search.Ask(ctx, input)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultJSON(res)
}

func (h *Handlers) HandleRelated(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[idRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation("arguments do not match the tool schema")), nil
	}
	res, err := h.graph.Related(ctx, input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultJSON(res)
}

// errorResult renders err with the same envelope and sanitization as the
// HTTP API.
func errorResult(err error) *mcp.CallToolResult {
	code, status, msg := errors.PublicMessage(err, "")
	if status >= 500 {
		observability.Logger().Error("tool call failed", "code", code, "error", err)
	}
	payload := map[string]any{
		"error": map[string]any{"code": code, "message": msg},
	}
	content, _ := json.Marshal(payload)
	return mcp.NewToolResultError(string(content))
}
