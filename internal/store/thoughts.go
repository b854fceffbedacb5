package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/thoughtstream/thoughtstream/internal/errors"
	"github.com/thoughtstream/thoughtstream/internal/ident"
	"github.com/thoughtstream/thoughtstream/internal/utils"
)

const thoughtColumns = `
	t.id, t.text, t.type, t.tags_json, t.context_json,
	t.created_at, t.updated_at, t.deleted_at,
	d.summary, d.auto_tags_json, d.category, d.intent, d.entities_json,
	d.related_json, d.embedding, d.derived_at, d.updated_at`

const thoughtFrom = `FROM thoughts t LEFT JOIN derived d ON d.thought_id = t.id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThought(row rowScanner) (*Thought, error) {
	var (
		t           Thought
		tagsJSON    string
		contextJSON sql.NullString
		deletedAt   sql.NullInt64

		summary, autoTags, category, intent sql.NullString
		entities, related                   sql.NullString
		embedding                           []byte
		derivedAt, derivedUpdated           sql.NullInt64
	)
	if err := row.Scan(
		&t.ID, &t.Text, &t.Type, &tagsJSON, &contextJSON,
		&t.CreatedAt, &t.UpdatedAt, &deletedAt,
		&summary, &autoTags, &category, &intent, &entities,
		&related, &embedding, &derivedAt, &derivedUpdated,
	); err != nil {
		return nil, err
	}

	t.Tags = unmarshalList(sql.NullString{String: tagsJSON, Valid: true})
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if contextJSON.Valid && contextJSON.String != "" {
		var c Context
		if err := json.Unmarshal([]byte(contextJSON.String), &c); err == nil && !c.IsZero() {
			t.Context = &c
		}
	}
	if deletedAt.Valid {
		t.DeletedAt = deletedAt.Int64
	}

	if derivedAt.Valid {
		vec, err := utils.DecodeVector(embedding)
		if err != nil {
			return nil, fmt.Errorf("thought %s: %w", t.ID, err)
		}
		t.Derived = &Derived{
			Summary:    summary.String,
			AutoTags:   unmarshalList(autoTags),
			Category:   category.String,
			Intent:     intent.String,
			Entities:   unmarshalList(entities),
			RelatedIDs: unmarshalList(related),
			DerivedAt:  derivedAt.Int64,
			UpdatedAt:  derivedUpdated.Int64,
			Embedding:  vec,
		}
	}
	t.SmartID = ident.SmartIDFor(t.Text, t.ID)
	return &t, nil
}

func scanThoughts(rows *sql.Rows) ([]Thought, error) {
	defer rows.Close()
	var out []Thought
	for rows.Next() {
		t, err := scanThought(rows)
		if err != nil {
			return nil, errors.NewInternal(fmt.Errorf("failed to scan thought row: %w", err))
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

func encodeContext(c *Context) (sql.NullString, error) {
	if c.IsZero() {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	return string(data), err
}

// CreateThought persists t and fills in its timestamps and smart id.
// The ID must already be assigned.
func (s *SQLiteStore) CreateThought(ctx context.Context, t *Thought) error {
	tagsJSON, err := encodeTags(t.Tags)
	if err != nil {
		return errors.NewInternal(err)
	}
	contextJSON, err := encodeContext(t.Context)
	if err != nil {
		return errors.NewInternal(err)
	}

	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		ts, err := s.stamp(ctx, tx)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO thoughts (id, text, type, tags_json, context_json, created_at, updated_at, deleted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, NULL)`,
			t.ID, t.Text, t.Type, tagsJSON, contextJSON, ts, ts,
		)
		if err != nil {
			return errors.NewInternal(fmt.Errorf("failed to insert thought: %w", err))
		}
		t.CreatedAt, t.UpdatedAt = ts, ts
		t.SmartID = ident.SmartIDFor(t.Text, t.ID)
		return nil
	})
}

// GetThought loads a thought with its derived fields. Soft-deleted thoughts
// are NotFound unless includeDeleted is set.
func (s *SQLiteStore) GetThought(ctx context.Context, id string, includeDeleted bool) (*Thought, error) {
	query := `SELECT ` + thoughtColumns + ` ` + thoughtFrom + ` WHERE t.id = ?`
	if !includeDeleted {
		query += ` AND t.deleted_at IS NULL`
	}
	t, err := scanThought(s.ro.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("thought", id)
	}
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to get thought: %w", err))
	}
	return t, nil
}

// UpdateThought replaces the user-supplied fields of a live thought and bumps
// updatedAt. Derived fields are left for the enrichment worker.
func (s *SQLiteStore) UpdateThought(ctx context.Context, t *Thought) error {
	tagsJSON, err := encodeTags(t.Tags)
	if err != nil {
		return errors.NewInternal(err)
	}
	contextJSON, err := encodeContext(t.Context)
	if err != nil {
		return errors.NewInternal(err)
	}

	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		if err := requireLiveThought(ctx, tx, t.ID); err != nil {
			return err
		}
		ts, err := s.stamp(ctx, tx)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE thoughts SET text = ?, type = ?, tags_json = ?, context_json = ?, updated_at = ?
			WHERE id = ?`,
			t.Text, t.Type, tagsJSON, contextJSON, ts, t.ID,
		)
		if err != nil {
			return errors.NewInternal(fmt.Errorf("failed to update thought: %w", err))
		}
		t.UpdatedAt = ts
		t.SmartID = ident.SmartIDFor(t.Text, t.ID)
		return nil
	})
}

// DeleteThought soft-deletes a thought and records its tombstone in the same
// transaction.
func (s *SQLiteStore) DeleteThought(ctx context.Context, id string) (int64, error) {
	var deletedAt int64
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		if err := requireLiveThought(ctx, tx, id); err != nil {
			return err
		}
		ts, err := s.stamp(ctx, tx)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE thoughts SET deleted_at = ? WHERE id = ?`, ts, id); err != nil {
			return errors.NewInternal(fmt.Errorf("failed to delete thought: %w", err))
		}
		if err := insertTombstone(ctx, tx, id, KindThought, ts); err != nil {
			return err
		}
		deletedAt = ts
		return nil
	})
	return deletedAt, err
}

func requireLiveThought(ctx context.Context, tx *sql.Tx, id string) error {
	var deletedAt sql.NullInt64
	err := tx.QueryRowContext(ctx, `SELECT deleted_at FROM thoughts WHERE id = ?`, id).Scan(&deletedAt)
	if err == sql.ErrNoRows || (err == nil && deletedAt.Valid) {
		return errors.NewNotFound("thought", id)
	}
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ListThoughts returns one page of live thoughts ordered by createdAt desc, id desc.
func (s *SQLiteStore) ListThoughts(ctx context.Context, f ListFilter) (*ThoughtPage, error) {
	var (
		where = []string{"t.deleted_at IS NULL"}
		args  []any
	)
	if f.Type != "" {
		where = append(where, "t.type = ?")
		args = append(args, f.Type)
	}
	if f.Tag != "" {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(t.tags_json) WHERE value = ?)")
		args = append(args, f.Tag)
	}
	if f.Cursor != "" {
		createdAt, id, err := DecodeCursor(f.Cursor)
		if err != nil {
			return nil, err
		}
		where = append(where, "(t.created_at < ? OR (t.created_at = ? AND t.id < ?))")
		args = append(args, createdAt, createdAt, id)
	}
	args = append(args, f.Limit+1)

	query := `SELECT ` + thoughtColumns + ` ` + thoughtFrom +
		` WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY t.created_at DESC, t.id DESC LIMIT ?`
	rows, err := s.ro.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to list thoughts: %w", err))
	}
	items, err := scanThoughts(rows)
	if err != nil {
		return nil, err
	}

	page := &ThoughtPage{Items: items}
	if len(items) > f.Limit {
		page.Items = items[:f.Limit]
		page.HasMore = true
		last := page.Items[len(page.Items)-1]
		page.Cursor = EncodeCursor(last.CreatedAt, last.ID)
	}
	if page.Items == nil {
		page.Items = []Thought{}
	}
	return page, nil
}

// EncodeCursor builds the opaque keyset cursor for a list position.
func EncodeCursor(createdAt int64, id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(createdAt, 10) + ":" + id))
}

// DecodeCursor parses a cursor produced by EncodeCursor.
func DecodeCursor(cursor string) (int64, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, "", errors.NewValidation("invalid cursor")
	}
	ts, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return 0, "", errors.NewValidation("invalid cursor")
	}
	createdAt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || createdAt < 0 {
		return 0, "", errors.NewValidation("invalid cursor")
	}
	return createdAt, id, nil
}

// LoadCorpus returns live thoughts matching f, newest first, with embeddings.
func (s *SQLiteStore) LoadCorpus(ctx context.Context, f CorpusFilter) ([]Thought, error) {
	return loadCorpus(ctx, s.ro, f)
}

func loadCorpus(ctx context.Context, q queryer, f CorpusFilter) ([]Thought, error) {
	var (
		where = []string{"t.deleted_at IS NULL"}
		args  []any
	)
	if f.CreatedFrom > 0 {
		where = append(where, "t.created_at >= ?")
		args = append(args, f.CreatedFrom)
	}
	if f.CreatedUntil > 0 {
		where = append(where, "t.created_at < ?")
		args = append(args, f.CreatedUntil)
	}
	for _, tag := range f.Tags {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(t.tags_json) WHERE value = ?)")
		args = append(args, tag)
	}
	query := `SELECT ` + thoughtColumns + ` ` + thoughtFrom +
		` WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY t.created_at DESC, t.id DESC`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to load corpus: %w", err))
	}
	return scanThoughts(rows)
}

// ThoughtIDs lists live thought ids, optionally only those without derived fields.
func (s *SQLiteStore) ThoughtIDs(ctx context.Context, missingOnly bool) ([]string, error) {
	query := `SELECT t.id FROM thoughts t WHERE t.deleted_at IS NULL`
	if missingOnly {
		query += ` AND NOT EXISTS (SELECT 1 FROM derived d WHERE d.thought_id = t.id)`
	}
	query += ` ORDER BY t.created_at`
	rows, err := s.ro.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewInternal(err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
