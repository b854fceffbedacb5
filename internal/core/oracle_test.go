package core

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/thoughtstream/thoughtstream/internal/errors"
	"github.com/thoughtstream/thoughtstream/internal/utils"
)

func TestParseAnalysis_ValidatesFieldsIndependently(t *testing.T) {
	raw := "```json\n" + `{
		"summary": "Pick Redis for the cache",
		"category": "Engineering",
		"intent": "conquer",
		"autoTags": ["Cache", "cache", "", "redis"],
		"entities": "not a list"
	}` + "\n```"

	a, err := ParseAnalysis(raw)
	require.NoError(t, err)
	assert.Equal(t, "Pick Redis for the cache", a.Summary)
	assert.Equal(t, "engineering", a.Category)
	assert.Empty(t, a.Intent, "unknown intent is dropped")
	assert.Equal(t, []string{"cache", "redis"}, a.AutoTags)
	assert.Empty(t, a.Entities, "malformed entities are dropped")
}

func TestParseAnalysis_Limits(t *testing.T) {
	var tags []string
	for i := 0; i < 12; i++ {
		tags = append(tags, fmt.Sprintf(`"tag%d"`, i))
	}
	raw := fmt.Sprintf(`{"summary": %q, "autoTags": [%s, %q]}`,
		strings.Repeat("x", maxSummaryRunes+1),
		strings.Join(tags, ","),
		strings.Repeat("y", maxAutoTagRunes+1),
	)

	a, err := ParseAnalysis(raw)
	require.NoError(t, err)
	assert.Empty(t, a.Summary)
	assert.Len(t, a.AutoTags, maxAutoTags)
	assert.Equal(t, "tag0", a.AutoTags[0])
}

func TestParseAnalysis_NotAnObject(t *testing.T) {
	_, err := ParseAnalysis("Sure! Here is the analysis you asked for.")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInternal))
}

func TestClassifyUpstream(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"http 429", &googleapi.Error{Code: 429}, true},
		{"http 503", &googleapi.Error{Code: 503}, true},
		{"http 400", &googleapi.Error{Code: 400}, false},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), true},
		{"grpc resource exhausted", status.Error(codes.ResourceExhausted, "quota"), true},
		{"grpc invalid argument", status.Error(codes.InvalidArgument, "bad"), false},
		{"plain transport error", stderrors.New("connection reset by peer"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyUpstream("embedding", tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.transient, errors.IsTransient(err))
		})
	}

	assert.NoError(t, classifyUpstream("embedding", nil))

	v := errors.NewValidation("bad input")
	assert.Same(t, v, classifyUpstream("embedding", v))
}

func TestLocalOracle_SimilarTextsAreCloser(t *testing.T) {
	o := NewLocalOracle()
	ctx := context.Background()

	a, _ := o.EmbedDocument(ctx, "use redis for the caching layer")
	b, _ := o.EmbedDocument(ctx, "redis caching layer decision")
	c, _ := o.EmbedDocument(ctx, "buy groceries and walk the dog")

	require.Len(t, a, localDims)
	assert.Greater(t, utils.Similarity(a, b), utils.Similarity(a, c))
}

func TestLocalOracle_Analyze(t *testing.T) {
	a, err := NewLocalOracle().Analyze(context.Background(), "Should we move billing to Stripe? The invoices are slow.")
	require.NoError(t, err)
	assert.Equal(t, "Should we move billing to Stripe?", a.Summary)
	assert.Equal(t, "question", a.Intent)
	assert.Contains(t, a.Entities, "Stripe")
}

func TestMarkdownEntities(t *testing.T) {
	src := "See [the docs](https://www.example.com/guide) and https://go.dev/doc.\n\n" +
		"```go\nfmt.Println(1)\n```\n"

	got := MarkdownEntities(src)
	assert.ElementsMatch(t, []string{"example.com", "go.dev", "go"}, got)

	merged := mergeEntities([]string{"Go", "Redis"}, got)
	assert.Equal(t, []string{"Go", "Redis", "example.com", "go.dev"}, merged)
}
