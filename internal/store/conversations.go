package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/thoughtstream/thoughtstream/internal/errors"
	"github.com/thoughtstream/thoughtstream/internal/ident"
	"github.com/thoughtstream/thoughtstream/internal/utils"
)

const titleRunes = 60

// CreateConversation inserts a conversation and its initial messages in one
// transaction. c.ID must already be assigned.
func (s *SQLiteStore) CreateConversation(ctx context.Context, c *Conversation) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		ts, err := s.stamp(ctx, tx)
		if err != nil {
			return err
		}
		if c.Status == "" {
			c.Status = StatusActive
		}
		if c.Title == "" && len(c.Messages) > 0 {
			c.Title = DefaultTitle(c.Messages[0].Content)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO conversations (id, title, status, created_at, updated_at, deleted_at)
			VALUES (?, ?, ?, ?, ?, NULL)`,
			c.ID, toNullString(c.Title), c.Status, ts, ts,
		)
		if err != nil {
			return errors.NewInternal(fmt.Errorf("failed to insert conversation: %w", err))
		}
		c.CreatedAt, c.UpdatedAt = ts, ts
		c.SmartID = ident.SmartIDFor(c.Title, c.ID)
		for i := range c.Messages {
			if err := s.insertMessage(ctx, tx, c.ID, i+1, ts, &c.Messages[i]); err != nil {
				return err
			}
		}
		if c.Messages == nil {
			c.Messages = []Message{}
		}
		return nil
	})
}

// AppendMessages adds messages to a live conversation and bumps its updatedAt.
// A missing title is filled from the first message.
func (s *SQLiteStore) AppendMessages(ctx context.Context, conversationID string, msgs []Message) ([]Message, error) {
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		var (
			title     sql.NullString
			status    string
			deletedAt sql.NullInt64
		)
		err := tx.QueryRowContext(ctx,
			`SELECT title, status, deleted_at FROM conversations WHERE id = ?`, conversationID,
		).Scan(&title, &status, &deletedAt)
		if err == sql.ErrNoRows || (err == nil && (deletedAt.Valid || status == StatusDeleted)) {
			return errors.NewNotFound("conversation", conversationID)
		}
		if err != nil {
			return errors.NewInternal(err)
		}

		var seq int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE conversation_id = ?`, conversationID,
		).Scan(&seq); err != nil {
			return errors.NewInternal(err)
		}

		ts, err := s.stamp(ctx, tx)
		if err != nil {
			return err
		}
		for i := range msgs {
			if err := s.insertMessage(ctx, tx, conversationID, seq+i+1, ts, &msgs[i]); err != nil {
				return err
			}
		}
		newTitle := title
		if !title.Valid && len(msgs) > 0 {
			newTitle = toNullString(DefaultTitle(msgs[0].Content))
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = ?, title = ? WHERE id = ?`, ts, newTitle, conversationID,
		); err != nil {
			return errors.NewInternal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *SQLiteStore) insertMessage(ctx context.Context, tx *sql.Tx, conversationID string, seq int, ts int64, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.ConversationID = conversationID
	m.CreatedAt = ts

	stored, err := s.sealer.Seal(m.Content)
	if err != nil {
		return errors.NewInternal(err)
	}
	var citations sql.NullString
	if len(m.Citations) > 0 {
		data, err := json.Marshal(m.Citations)
		if err != nil {
			return errors.NewInternal(err)
		}
		citations = sql.NullString{String: string(data), Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, seq, role, content, citations_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, conversationID, seq, m.Role, stored, citations, ts,
	)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("failed to insert message: %w", err))
	}
	return nil
}

// GetConversation loads a live conversation with all of its messages in clear text.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var c *Conversation
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		var err error
		c, err = scanConversation(tx.QueryRowContext(ctx, `
			SELECT id, title, status, created_at, updated_at, deleted_at
			FROM conversations WHERE id = ? AND deleted_at IS NULL`, id))
		if err == sql.ErrNoRows {
			return errors.NewNotFound("conversation", id)
		}
		if err != nil {
			return errors.NewInternal(err)
		}
		msgs, err := s.loadMessages(ctx, tx, []string{id})
		if err != nil {
			return err
		}
		c.Messages = msgs[id]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListConversations returns live conversations, most recently updated first,
// without their messages. Archived ones are included only when asked.
func (s *SQLiteStore) ListConversations(ctx context.Context, includeArchived bool) ([]Conversation, error) {
	query := `SELECT id, title, status, created_at, updated_at, deleted_at
		FROM conversations WHERE deleted_at IS NULL`
	if !includeArchived {
		query += ` AND status = 'active'`
	}
	query += ` ORDER BY updated_at DESC, id DESC`
	rows, err := s.ro.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	out := []Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		c.Messages = []Message{}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// SetConversationStatus moves a conversation between active and archived.
// StatusDeleted is routed to DeleteConversation.
func (s *SQLiteStore) SetConversationStatus(ctx context.Context, id, status string) error {
	if status == StatusDeleted {
		_, err := s.DeleteConversation(ctx, id)
		return err
	}
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		if err := requireLiveConversation(ctx, tx, id); err != nil {
			return err
		}
		ts, err := s.stamp(ctx, tx)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?`, status, ts, id)
		if err != nil {
			return errors.NewInternal(err)
		}
		return nil
	})
}

// DeleteConversation marks a conversation deleted and writes its tombstone.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) (int64, error) {
	var deletedAt int64
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		if err := requireLiveConversation(ctx, tx, id); err != nil {
			return err
		}
		ts, err := s.stamp(ctx, tx)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET status = 'deleted', deleted_at = ?, updated_at = ? WHERE id = ?`, ts, ts, id,
		); err != nil {
			return errors.NewInternal(err)
		}
		if err := insertTombstone(ctx, tx, id, KindConversation, ts); err != nil {
			return err
		}
		deletedAt = ts
		return nil
	})
	return deletedAt, err
}

func requireLiveConversation(ctx context.Context, tx *sql.Tx, id string) error {
	var deletedAt sql.NullInt64
	err := tx.QueryRowContext(ctx, `SELECT deleted_at FROM conversations WHERE id = ?`, id).Scan(&deletedAt)
	if err == sql.ErrNoRows || (err == nil && deletedAt.Valid) {
		return errors.NewNotFound("conversation", id)
	}
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// AllMessages returns every message of every live conversation, decrypted.
func (s *SQLiteStore) AllMessages(ctx context.Context) ([]Message, error) {
	rows, err := s.ro.QueryContext(ctx, `
		SELECT m.id, m.conversation_id, m.role, m.content, m.citations_json, m.created_at
		FROM messages m JOIN conversations c ON c.id = m.conversation_id
		WHERE c.deleted_at IS NULL
		ORDER BY m.conversation_id, m.seq`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return s.scanMessages(rows)
}

func (s *SQLiteStore) loadMessages(ctx context.Context, q queryer, ids []string) (map[string][]Message, error) {
	out := make(map[string][]Message, len(ids))
	for _, id := range ids {
		out[id] = []Message{}
	}
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, citations_json, created_at
		FROM messages WHERE conversation_id IN (`+placeholders(len(ids))+`)
		ORDER BY conversation_id, seq`, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	msgs, err := s.scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		out[m.ConversationID] = append(out[m.ConversationID], m)
	}
	return out, nil
}

func (s *SQLiteStore) scanMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var (
			m         Message
			stored    string
			citations sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &stored, &citations, &m.CreatedAt); err != nil {
			return nil, errors.NewInternal(fmt.Errorf("failed to scan message row: %w", err))
		}
		content, err := s.sealer.Open(stored)
		if err != nil {
			return nil, errors.NewInternal(fmt.Errorf("message %s: %w", m.ID, err))
		}
		m.Content = content
		if citations.Valid {
			_ = json.Unmarshal([]byte(citations.String), &m.Citations)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		c         Conversation
		title     sql.NullString
		deletedAt sql.NullInt64
	)
	if err := row.Scan(&c.ID, &title, &c.Status, &c.CreatedAt, &c.UpdatedAt, &deletedAt); err != nil {
		return nil, err
	}
	c.Title = title.String
	if deletedAt.Valid {
		c.DeletedAt = deletedAt.Int64
	}
	c.SmartID = ident.SmartIDFor(c.Title, c.ID)
	return &c, nil
}

// DefaultTitle derives a title from the opening message of a conversation.
func DefaultTitle(content string) string {
	return utils.Preview(content, titleRunes)
}
