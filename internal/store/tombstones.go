package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/thoughtstream/thoughtstream/internal/errors"
)

func insertTombstone(ctx context.Context, tx *sql.Tx, id, kind string, deletedAt int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tombstones (id, kind, deleted_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET deleted_at = excluded.deleted_at`,
		id, kind, deletedAt,
	)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("failed to write tombstone: %w", err))
	}
	return nil
}

// PruneTombstones removes tombstones recorded at or before the given
// checkpoint. Clients that have synced past it no longer need them.
func (s *SQLiteStore) PruneTombstones(ctx context.Context, before int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tombstones WHERE deleted_at <= ?`, before)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Snapshot reads everything that changed in (since, watermark] inside a
// single read transaction, where watermark is the change clock as seen by
// that transaction.
func (s *SQLiteStore) Snapshot(ctx context.Context, since int64) (*Snapshot, error) {
	snap := &Snapshot{Since: since}
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT last_change FROM sync_clock WHERE id = 1`).Scan(&snap.Watermark); err != nil {
			return errors.NewInternal(fmt.Errorf("read sync clock: %w", err))
		}
		wm := snap.Watermark

		rows, err := tx.QueryContext(ctx, `SELECT `+thoughtColumns+` `+thoughtFrom+`
			WHERE t.deleted_at IS NULL
			  AND MAX(t.updated_at, COALESCE(d.updated_at, 0)) > ?
			  AND MAX(t.updated_at, COALESCE(d.updated_at, 0)) <= ?
			ORDER BY t.created_at, t.id`, since, wm)
		if err != nil {
			return errors.NewInternal(fmt.Errorf("failed to read changed thoughts: %w", err))
		}
		if snap.Thoughts, err = scanThoughts(rows); err != nil {
			return err
		}

		crows, err := tx.QueryContext(ctx, `
			SELECT id, title, status, created_at, updated_at, deleted_at
			FROM conversations
			WHERE deleted_at IS NULL AND updated_at > ? AND updated_at <= ?
			ORDER BY created_at, id`, since, wm)
		if err != nil {
			return errors.NewInternal(fmt.Errorf("failed to read changed conversations: %w", err))
		}
		var ids []string
		for crows.Next() {
			c, err := scanConversation(crows)
			if err != nil {
				crows.Close()
				return errors.NewInternal(err)
			}
			snap.Conversations = append(snap.Conversations, *c)
			ids = append(ids, c.ID)
		}
		crows.Close()
		if err := crows.Err(); err != nil {
			return errors.NewInternal(err)
		}
		msgs, err := s.loadMessages(ctx, tx, ids)
		if err != nil {
			return err
		}
		for i := range snap.Conversations {
			snap.Conversations[i].Messages = msgs[snap.Conversations[i].ID]
		}

		trows, err := tx.QueryContext(ctx, `
			SELECT id, kind, deleted_at FROM tombstones
			WHERE deleted_at > ? AND deleted_at <= ?
			ORDER BY deleted_at, id`, since, wm)
		if err != nil {
			return errors.NewInternal(fmt.Errorf("failed to read tombstones: %w", err))
		}
		defer trows.Close()
		for trows.Next() {
			var ts Tombstone
			if err := trows.Scan(&ts.ID, &ts.Kind, &ts.DeletedAt); err != nil {
				return errors.NewInternal(err)
			}
			snap.Deleted = append(snap.Deleted, ts)
		}
		return trows.Err()
	})
	if err != nil {
		return nil, err
	}
	if snap.Thoughts == nil {
		snap.Thoughts = []Thought{}
	}
	if snap.Conversations == nil {
		snap.Conversations = []Conversation{}
	}
	if snap.Deleted == nil {
		snap.Deleted = []Tombstone{}
	}
	return snap, nil
}
