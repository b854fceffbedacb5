package core

import (
	"context"

	"github.com/thoughtstream/thoughtstream/internal/errors"
	"github.com/thoughtstream/thoughtstream/internal/observability"
	"github.com/thoughtstream/thoughtstream/internal/store"
)

type ExportResult struct {
	Thoughts      []store.Thought      `json:"thoughts"`
	Conversations []store.Conversation `json:"conversations"`
	Deleted       []string             `json:"deleted"`
	SyncTimestamp int64                `json:"syncTimestamp"`
}

type SyncService struct {
	store *store.SQLiteStore
}

func NewSyncService(st *store.SQLiteStore) *SyncService {
	return &SyncService{store: st}
}

// Export returns everything that changed after since. Feeding the returned
// SyncTimestamp back as since yields only later changes.
func (s *SyncService) Export(ctx context.Context, since int64) (*ExportResult, error) {
	if since < 0 {
		return nil, errors.NewValidation("since must not be negative")
	}
	// A since past the server's clock is clamped. The change clock may run a
	// little ahead of wall time under bursts, so it counts as "now" too.
	if now := s.store.NowMillis(); since > now {
		last, err := s.store.LastChange(ctx)
		if err != nil {
			return nil, err
		}
		since = min(since, max(now, last))
	}

	snap, err := s.store.Snapshot(ctx, since)
	if err != nil {
		return nil, err
	}
	res := &ExportResult{
		Thoughts:      snap.Thoughts,
		Conversations: snap.Conversations,
		Deleted:       make([]string, 0, len(snap.Deleted)),
		SyncTimestamp: max(since, snap.Watermark),
	}
	for _, tomb := range snap.Deleted {
		res.Deleted = append(res.Deleted, tomb.ID)
	}
	observability.LoggerFromContext(ctx).Debug("export built",
		"since", since,
		"sync_timestamp", res.SyncTimestamp,
		"thoughts", len(res.Thoughts),
		"conversations", len(res.Conversations),
		"deleted", len(res.Deleted),
	)
	return res, nil
}
