package core

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/thoughtstream/thoughtstream/internal/errors"
	"github.com/thoughtstream/thoughtstream/internal/ident"
	"github.com/thoughtstream/thoughtstream/internal/observability"
	"github.com/thoughtstream/thoughtstream/internal/store"
	"github.com/thoughtstream/thoughtstream/internal/utils"
)

const maxTitleRunes = 200

// ChatService manages conversations and their messages. Answers are written
// by SearchService.Ask; this service only stores what it is given.
type ChatService struct {
	store    *store.SQLiteStore
	maxChars int
}

func NewChatService(st *store.SQLiteStore, maxChars int) *ChatService {
	return &ChatService{store: st, maxChars: maxChars}
}

type MessageInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CreateConversationInput struct {
	Title    string         `json:"title,omitempty"`
	Messages []MessageInput `json:"messages,omitempty"`
}

func (s *ChatService) CreateConversation(ctx context.Context, in CreateConversationInput) (*store.Conversation, error) {
	title := strings.TrimSpace(utils.StripControl(in.Title))
	if utf8.RuneCountInString(title) > maxTitleRunes {
		return nil, errors.NewValidationf("title exceeds %d characters", maxTitleRunes)
	}
	msgs, err := s.messages(in.Messages)
	if err != nil {
		return nil, err
	}

	c := &store.Conversation{
		ID:       ident.NewConversationID(),
		Title:    title,
		Messages: msgs,
	}
	if err := s.store.CreateConversation(ctx, c); err != nil {
		return nil, err
	}
	observability.LoggerFromContext(ctx).Info("conversation created", "conversation_id", c.ID, "messages", len(msgs))
	return c, nil
}

func (s *ChatService) ListConversations(ctx context.Context, includeArchived bool) ([]store.Conversation, error) {
	return s.store.ListConversations(ctx, includeArchived)
}

func (s *ChatService) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	return s.store.GetConversation(ctx, id)
}

// AppendMessages adds at least one message to a live conversation.
func (s *ChatService) AppendMessages(ctx context.Context, id string, in []MessageInput) ([]store.Message, error) {
	if len(in) == 0 {
		return nil, errors.NewValidation("at least one message is required")
	}
	msgs, err := s.messages(in)
	if err != nil {
		return nil, err
	}
	return s.store.AppendMessages(ctx, id, msgs)
}

func (s *ChatService) SetStatus(ctx context.Context, id, status string) error {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case store.StatusActive, store.StatusArchived, store.StatusDeleted:
	default:
		return errors.NewValidationf("status must be one of %s, %s, %s", store.StatusActive, store.StatusArchived, store.StatusDeleted)
	}
	return s.store.SetConversationStatus(ctx, id, status)
}

func (s *ChatService) DeleteConversation(ctx context.Context, id string) error {
	_, err := s.store.DeleteConversation(ctx, id)
	return err
}

func (s *ChatService) messages(in []MessageInput) ([]store.Message, error) {
	out := make([]store.Message, 0, len(in))
	for i, m := range in {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if role == "" {
			role = store.RoleUser
		}
		if role != store.RoleUser && role != store.RoleAssistant {
			return nil, errors.NewValidationf("messages[%d].role must be %s or %s", i, store.RoleUser, store.RoleAssistant)
		}
		content := strings.TrimSpace(utils.StripControl(m.Content))
		if content == "" {
			return nil, errors.NewValidationf("messages[%d].content is required", i)
		}
		if utf8.RuneCountInString(content) > s.maxChars {
			return nil, errors.NewValidationf("messages[%d].content exceeds %d characters", i, s.maxChars)
		}
		out = append(out, store.Message{Role: role, Content: content})
	}
	return out, nil
}
