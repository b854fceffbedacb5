package mcp

import "github.com/mark3labs/mcp-go/mcp"

var captureToolDef = mcp.NewTool("thought_capture",
	mcp.WithDescription("Capture a thought. It is stored immediately and enriched with a summary, tags and an embedding in the background."),
	mcp.WithTitleAnnotation("Capture Thought"),
	mcp.WithReadOnlyHintAnnotation(false),
	mcp.WithDestructiveHintAnnotation(false),
	mcp.WithIdempotentHintAnnotation(false),
	mcp.WithOpenWorldHintAnnotation(false),
	mcp.WithString("text",
		mcp.Required(),
		mcp.Description("The thought itself"),
	),
	mcp.WithString("type",
		mcp.Description("One of: note, decision, insight, code, todo, link (default note)"),
	),
	mcp.WithArray("tags",
		mcp.Description("User tags"),
		mcp.WithStringItems(),
	),
	mcp.WithObject("context",
		mcp.Description("Where the thought came from"),
		mcp.Properties(map[string]any{
			"app":    map[string]any{"type": "string", "description": "Client application"},
			"repo":   map[string]any{"type": "string", "description": "Repository name"},
			"file":   map[string]any{"type": "string", "description": "File path within the repository"},
			"branch": map[string]any{"type": "string", "description": "Branch name"},
		}),
	),
)

var getToolDef = mcp.NewTool("thought_get",
	mcp.WithDescription("Fetch a thought by id, including enrichment results when available."),
	mcp.WithTitleAnnotation("Get Thought"),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithIdempotentHintAnnotation(true),
	mcp.WithOpenWorldHintAnnotation(false),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Thought id (t_...)"),
	),
)

var askToolDef = mcp.NewTool("thought_ask",
	mcp.WithDescription("Ask a question over captured thoughts. Returns an answer with cited thoughts and a confidence score."),
	mcp.WithTitleAnnotation("Ask Thoughts"),
	mcp.WithReadOnlyHintAnnotation(false),
	mcp.WithDestructiveHintAnnotation(false),
	mcp.WithOpenWorldHintAnnotation(true),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("Natural-language question"),
	),
	mcp.WithString("timeWindow",
		mcp.Description("Look-back window such as 36h, 7d or 2w"),
	),
	mcp.WithArray("tags",
		mcp.Description("Only consider thoughts carrying all of these tags"),
		mcp.WithStringItems(),
	),
	mcp.WithString("conversationId",
		mcp.Description("Append the question and answer to this conversation"),
	),
)

var relatedToolDef = mcp.NewTool("thought_related",
	mcp.WithDescription("List thoughts semantically related to the given thought."),
	mcp.WithTitleAnnotation("Related Thoughts"),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithIdempotentHintAnnotation(true),
	mcp.WithOpenWorldHintAnnotation(false),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Thought id (t_...)"),
	),
)
