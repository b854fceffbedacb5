package core

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtstream/thoughtstream/internal/errors"
	"github.com/thoughtstream/thoughtstream/internal/store"
)

func TestChat_ConversationLifecycle(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	conv, err := p.chat.CreateConversation(ctx, CreateConversationInput{
		Messages: []MessageInput{{Content: "How should we shard the events table?"}},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(conv.ID, "conv_"))
	assert.Equal(t, store.StatusActive, conv.Status)
	assert.Equal(t, "How should we shard the events table?", conv.Title)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, store.RoleUser, conv.Messages[0].Role)

	added, err := p.chat.AppendMessages(ctx, conv.ID, []MessageInput{
		{Role: "assistant", Content: "By tenant id."},
	})
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.NotEmpty(t, added[0].ID)

	got, err := p.chat.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "By tenant id.", got.Messages[1].Content)

	require.NoError(t, p.chat.SetStatus(ctx, conv.ID, "Archived"))
	active, err := p.chat.ListConversations(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, active)
	all, err := p.chat.ListConversations(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, store.StatusArchived, all[0].Status)

	require.NoError(t, p.chat.DeleteConversation(ctx, conv.ID))
	_, err = p.chat.GetConversation(ctx, conv.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	_, err = p.chat.AppendMessages(ctx, conv.ID, []MessageInput{{Content: "late"}})
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestChat_Validation(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	_, err := p.chat.CreateConversation(ctx, CreateConversationInput{
		Messages: []MessageInput{{Role: "system", Content: "hi"}},
	})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = p.chat.CreateConversation(ctx, CreateConversationInput{
		Messages: []MessageInput{{Content: " "}},
	})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = p.chat.CreateConversation(ctx, CreateConversationInput{Title: strings.Repeat("x", maxTitleRunes+1)})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	conv, err := p.chat.CreateConversation(ctx, CreateConversationInput{Title: "Planning"})
	require.NoError(t, err)
	assert.Empty(t, conv.Messages)

	_, err = p.chat.AppendMessages(ctx, conv.ID, nil)
	assert.True(t, errors.Is(err, errors.ErrValidation))
	assert.True(t, errors.Is(p.chat.SetStatus(ctx, conv.ID, "paused"), errors.ErrValidation))
	assert.True(t, errors.Is(p.chat.SetStatus(ctx, "conv_missing", "archived"), errors.ErrNotFound))
}
