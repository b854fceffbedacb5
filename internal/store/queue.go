package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/thoughtstream/thoughtstream/internal/errors"
)

// Enqueue schedules enrichment for a thought. The enqueue timestamp comes
// from the queue clock, so a later enqueue for the same item always carries
// a strictly larger watermark than an earlier one.
func (s *SQLiteStore) Enqueue(ctx context.Context, itemID string) (*QueueMessage, error) {
	msg := &QueueMessage{ItemID: itemID}
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		ts, err := s.enqueueStamp(ctx, tx)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO enrichment_queue (item_id, enqueued_at, attempts, available_at)
			VALUES (?, ?, 0, ?)`,
			itemID, ts, s.NowMillis(),
		)
		if err != nil {
			return errors.NewInternal(fmt.Errorf("failed to enqueue %s: %w", itemID, err))
		}
		msg.Seq, _ = res.LastInsertId()
		msg.EnqueuedAt = ts
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Claim leases the oldest available message for lease. It returns nil when
// the queue has nothing ready. A message whose lease expires without an Ack
// becomes claimable again.
func (s *SQLiteStore) Claim(ctx context.Context, lease time.Duration) (*QueueMessage, error) {
	now := s.NowMillis()
	var msg QueueMessage
	err := s.db.QueryRowContext(ctx, `
		UPDATE enrichment_queue
		SET leased_until = ?, attempts = attempts + 1
		WHERE seq = (
			SELECT seq FROM enrichment_queue
			WHERE available_at <= ? AND (leased_until IS NULL OR leased_until <= ?)
			ORDER BY available_at, seq
			LIMIT 1
		)
		RETURNING seq, item_id, enqueued_at, attempts`,
		now+lease.Milliseconds(), now, now,
	).Scan(&msg.Seq, &msg.ItemID, &msg.EnqueuedAt, &msg.Attempts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to claim queue message: %w", err))
	}
	return &msg, nil
}

// Ack removes a processed message.
func (s *SQLiteStore) Ack(ctx context.Context, seq int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM enrichment_queue WHERE seq = ?`, seq); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// Retry releases the lease and makes the message available again after delay.
func (s *SQLiteStore) Retry(ctx context.Context, seq int64, delay time.Duration, lastErr string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE enrichment_queue
		SET leased_until = NULL, available_at = ?, last_error = ?
		WHERE seq = ?`,
		s.NowMillis()+delay.Milliseconds(), lastErr, seq,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// DeadLetter moves a message out of the queue with its last error.
func (s *SQLiteStore) DeadLetter(ctx context.Context, seq int64, lastErr string) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO dead_letters (seq, item_id, enqueued_at, attempts, last_error, failed_at)
			SELECT seq, item_id, enqueued_at, attempts, ?, ? FROM enrichment_queue WHERE seq = ?`,
			lastErr, s.NowMillis(), seq,
		)
		if err != nil {
			return errors.NewInternal(fmt.Errorf("failed to dead-letter %d: %w", seq, err))
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.NewNotFound("queue message", fmt.Sprint(seq))
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM enrichment_queue WHERE seq = ?`, seq); err != nil {
			return errors.NewInternal(err)
		}
		return nil
	})
}

// QueueDepth counts messages still waiting or in flight.
func (s *SQLiteStore) QueueDepth(ctx context.Context) (int, error) {
	var n int
	if err := s.ro.QueryRowContext(ctx, `SELECT COUNT(*) FROM enrichment_queue`).Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// ListDeadLetters returns dead letters, newest failure first.
func (s *SQLiteStore) ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	rows, err := s.ro.QueryContext(ctx, `
		SELECT seq, item_id, enqueued_at, attempts, last_error, failed_at
		FROM dead_letters ORDER BY failed_at DESC, seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()
	out := []DeadLetter{}
	for rows.Next() {
		var d DeadLetter
		if err := rows.Scan(&d.Seq, &d.ItemID, &d.EnqueuedAt, &d.Attempts, &d.LastError, &d.FailedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RequeueDeadLetters moves dead letters back onto the queue with a fresh
// attempt budget. The original enqueue timestamp is kept so the watermark
// rule still orders them against newer passes. No seqs means all.
func (s *SQLiteStore) RequeueDeadLetters(ctx context.Context, seqs []int64) (int64, error) {
	var moved int64
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		filter, args := "", []any{s.NowMillis()}
		if len(seqs) > 0 {
			filter = ` WHERE seq IN (` + placeholders(len(seqs)) + `)`
			for _, seq := range seqs {
				args = append(args, seq)
			}
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO enrichment_queue (item_id, enqueued_at, attempts, available_at)
			SELECT item_id, enqueued_at, 0, ? FROM dead_letters`+filter, args...)
		if err != nil {
			return errors.NewInternal(fmt.Errorf("failed to requeue dead letters: %w", err))
		}
		moved, _ = res.RowsAffected()
		if _, err := tx.ExecContext(ctx, `DELETE FROM dead_letters`+filter, args[1:]...); err != nil {
			return errors.NewInternal(err)
		}
		return nil
	})
	return moved, err
}
