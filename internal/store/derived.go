package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/thoughtstream/thoughtstream/internal/errors"
	"github.com/thoughtstream/thoughtstream/internal/utils"
)

// DerivedOutcome reports what ApplyDerived did.
type DerivedOutcome int

const (
	DerivedApplied DerivedOutcome = iota
	// DerivedStale means a pass with an equal or newer watermark already landed.
	DerivedStale
	// DerivedGone means the thought was deleted or never existed.
	DerivedGone
)

func (o DerivedOutcome) String() string {
	switch o {
	case DerivedApplied:
		return "applied"
	case DerivedStale:
		return "stale"
	default:
		return "gone"
	}
}

// ApplyDerived merges one enrichment pass into the derived row for id.
// The pass lands only when watermark is strictly newer than the stored
// derivedAt. Fields left empty in u keep their previous values. Deletion is
// re-checked inside the same transaction.
func (s *SQLiteStore) ApplyDerived(ctx context.Context, id string, watermark int64, u DerivedUpdate) (DerivedOutcome, error) {
	if len(u.Embedding) == 0 {
		return 0, errors.NewInternal(fmt.Errorf("derived update for %s has no embedding", id))
	}
	autoTags, err := marshalList(u.AutoTags)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	entities, err := marshalList(u.Entities)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	related, err := marshalList(u.RelatedIDs)
	if err != nil {
		return 0, errors.NewInternal(err)
	}

	outcome := DerivedGone
	err = s.withWriteTx(ctx, func(tx *sql.Tx) error {
		var deletedAt sql.NullInt64
		err := tx.QueryRowContext(ctx, `SELECT deleted_at FROM thoughts WHERE id = ?`, id).Scan(&deletedAt)
		if err == sql.ErrNoRows || (err == nil && deletedAt.Valid) {
			outcome = DerivedGone
			return nil
		}
		if err != nil {
			return errors.NewInternal(err)
		}

		var current sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT derived_at FROM derived WHERE thought_id = ?`, id).Scan(&current); err != nil && err != sql.ErrNoRows {
			return errors.NewInternal(err)
		}
		if current.Valid && watermark <= current.Int64 {
			outcome = DerivedStale
			return nil
		}

		ts, err := s.stamp(ctx, tx)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO derived (
				thought_id, summary, auto_tags_json, category, intent,
				entities_json, related_json, embedding, derived_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(thought_id) DO UPDATE SET
				summary        = COALESCE(excluded.summary, derived.summary),
				auto_tags_json = COALESCE(excluded.auto_tags_json, derived.auto_tags_json),
				category       = COALESCE(excluded.category, derived.category),
				intent         = COALESCE(excluded.intent, derived.intent),
				entities_json  = COALESCE(excluded.entities_json, derived.entities_json),
				related_json   = COALESCE(excluded.related_json, derived.related_json),
				embedding      = excluded.embedding,
				derived_at     = excluded.derived_at,
				updated_at     = excluded.updated_at
			WHERE excluded.derived_at > derived.derived_at`,
			id, toNullString(u.Summary), autoTags, toNullString(u.Category), toNullString(u.Intent),
			entities, related, utils.EncodeVector(u.Embedding), watermark, ts,
		)
		if err != nil {
			return errors.NewInternal(fmt.Errorf("failed to upsert derived fields: %w", err))
		}
		outcome = DerivedApplied
		return nil
	})
	return outcome, err
}
