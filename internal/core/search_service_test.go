package core

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtstream/thoughtstream/internal/errors"
	"github.com/thoughtstream/thoughtstream/internal/store"
)

func TestAsk_RanksRelevantThoughtsFirst(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	redis := p.capture(t, "We decided to use Redis for the session cache", "infra")
	p.capture(t, "Buy groceries on the way home")
	p.capture(t, "Postgres handles the billing ledger", "infra")
	p.drain(t)

	res, err := p.search.Ask(ctx, AskInput{Query: "what did we decide about the redis cache?"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Citations)
	assert.Equal(t, redis.ID, res.Citations[0].ID)
	assert.Equal(t, "generated: what did we decide about the redis cache?", res.Answer)
	assert.Greater(t, res.Confidence, 0.0)
	assert.LessOrEqual(t, res.Confidence, 1.0)
	assert.GreaterOrEqual(t, res.ProcessingTime, int64(0))

	for i := 1; i < len(res.Citations); i++ {
		assert.GreaterOrEqual(t, res.Citations[i-1].Score, res.Citations[i].Score)
	}
}

func TestAsk_NoMatch(t *testing.T) {
	p := newPipeline(t)

	res, err := p.search.Ask(context.Background(), AskInput{Query: "anything at all"})
	require.NoError(t, err)
	assert.Equal(t, NoMatchAnswer, res.Answer)
	assert.Empty(t, res.Citations)
	assert.Zero(t, res.Confidence)
}

func TestAsk_KeywordOnlyWhenQueryEmbeddingFails(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	res := p.capture(t, "Kubernetes upgrade checklist for the staging cluster")
	p.drain(t)
	p.oracle.queryErr = stderrors.New("embedding backend down")

	got, err := p.search.Ask(ctx, AskInput{Query: "kubernetes checklist"})
	require.NoError(t, err)
	require.Len(t, got.Citations, 1)
	assert.Equal(t, res.ID, got.Citations[0].ID)
}

func TestAsk_ExtractiveFallback(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	res := p.capture(t, "The deploy key rotates every ninety days")
	p.drain(t)
	p.oracle.answerErr = stderrors.New("model overloaded")

	got, err := p.search.Ask(ctx, AskInput{Query: "deploy key rotation"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got.Answer, "From your notes:"))
	assert.Contains(t, got.Answer, res.ID)
}

func TestAsk_FiltersByTagAndWindow(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	old := p.capture(t, "Cache invalidation notes from the offsite", "infra")
	p.clock.Advance(10 * 24 * time.Hour)
	fresh := p.capture(t, "Cache warming job runs nightly", "ops")
	p.drain(t)

	got, err := p.search.Ask(ctx, AskInput{Query: "cache", Tags: []string{"INFRA"}})
	require.NoError(t, err)
	require.Len(t, got.Citations, 1)
	assert.Equal(t, old.ID, got.Citations[0].ID)

	got, err = p.search.Ask(ctx, AskInput{Query: "cache", TimeWindow: "7d"})
	require.NoError(t, err)
	require.Len(t, got.Citations, 1)
	assert.Equal(t, fresh.ID, got.Citations[0].ID)
}

func TestAsk_Validation(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	_, err := p.search.Ask(ctx, AskInput{Query: "   "})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = p.search.Ask(ctx, AskInput{Query: strings.Repeat("a", MaxQueryRunes+1)})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = p.search.Ask(ctx, AskInput{Query: "ok", TimeWindow: "yesterday"})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = p.search.Ask(ctx, AskInput{Query: "ok", ConversationID: "conv_missing"})
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestAsk_AppendsToConversation(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	p.capture(t, "Retro: the release slipped because of flaky tests")
	p.drain(t)

	conv, err := p.chat.CreateConversation(ctx, CreateConversationInput{})
	require.NoError(t, err)

	res, err := p.search.Ask(ctx, AskInput{Query: "why did the release slip", ConversationID: conv.ID})
	require.NoError(t, err)

	got, err := p.chat.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, store.RoleUser, got.Messages[0].Role)
	assert.Equal(t, "why did the release slip", got.Messages[0].Content)
	assert.Equal(t, store.RoleAssistant, got.Messages[1].Role)
	assert.Equal(t, res.Answer, got.Messages[1].Content)
	assert.Len(t, got.Messages[1].Citations, len(res.Citations))
	assert.Equal(t, "why did the release slip", got.Title)

	// The stored exchange is now searchable as a conversation hit.
	again, err := p.search.Ask(ctx, AskInput{Query: "release slip"})
	require.NoError(t, err)
	require.NotEmpty(t, again.ConversationHits)
	assert.Equal(t, conv.ID, again.ConversationHits[0].ConversationID)
}

func TestParseTimeWindow(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"36h", 36 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"0d", 0, true},
		{"-1h", 0, true},
		{"d", 0, true},
		{"soon", 0, true},
		{"36500d", 36500 * 24 * time.Hour, false},
		{"200000d", 0, true},
		{"9999999999999w", 0, true},
		{"2000000h", 0, true},
		{"9223372036854775807w", 0, true},
		{"-9223372036854775807d", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseTimeWindow(tt.in)
		if tt.wantErr {
			assert.True(t, errors.Is(err, errors.ErrValidation), tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestBM25_PrefersRareTerms(t *testing.T) {
	docs := [][]string{
		{"redis", "cache", "layer"},
		{"cache", "cache", "notes"},
		{"grocery", "list"},
	}
	ix := newBM25(docs)

	assert.Greater(t, ix.score(0, []string{"redis"}), ix.score(1, []string{"redis"}))
	assert.Zero(t, ix.score(2, []string{"cache"}))
	assert.Greater(t, ix.score(0, []string{"redis", "cache"}), ix.score(0, []string{"cache"}))
	assert.Equal(t, []string{"a", "b"}, uniqueTerms([]string{"a", "b", "a"}))
}

func TestSortCandidates_TieBreaks(t *testing.T) {
	mk := func(id string, createdAt int64, fused float64) *candidate {
		return &candidate{thought: &store.Thought{ID: id, CreatedAt: createdAt}, fused: fused}
	}
	c := []*candidate{mk("t_a", 1, 1), mk("t_b", 2, 1), mk("t_c", 2, 1), mk("t_d", 0, 2)}
	sortCandidates(c)

	var ids []string
	for _, x := range c {
		ids = append(ids, x.thought.ID)
	}
	assert.Equal(t, []string{"t_d", "t_c", "t_b", "t_a"}, ids)
}
