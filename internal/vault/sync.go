package vault

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/thoughtstream/thoughtstream/internal/observability"
)

// Exporter is the source of the export feed.
type Exporter interface {
	Export(ctx context.Context, since int64) (*Feed, error)
}

// PullResult counts what one pull changed on disk.
type PullResult struct {
	Written       int   `json:"written"`
	Renamed       int   `json:"renamed"`
	Removed       int   `json:"removed"`
	SyncTimestamp int64 `json:"syncTimestamp"`
}

type Syncer struct {
	src Exporter
	dir string
}

func NewSyncer(src Exporter, dir string) *Syncer {
	return &Syncer{src: src, dir: dir}
}

// Pull applies every change since the last checkpoint. The checkpoint is
// saved only after all files are written, so an interrupted pull is redone
// in full next time.
func (s *Syncer) Pull(ctx context.Context) (*PullResult, error) {
	st, err := LoadState(s.dir)
	if err != nil {
		return nil, err
	}
	feed, err := s.src.Export(ctx, st.SyncTimestamp)
	if err != nil {
		return nil, err
	}
	log := observability.WithFields("vault", s.dir, "since", st.SyncTimestamp)

	// Resolve every new location first so links between notes in the same
	// page point at their final names.
	previous := make(map[string]string, len(feed.Thoughts)+len(feed.Conversations))
	for i := range feed.Thoughts {
		t := &feed.Thoughts[i]
		previous[t.ID] = st.Files[t.ID]
		st.Files[t.ID] = thoughtPath(t)
	}
	for i := range feed.Conversations {
		c := &feed.Conversations[i]
		previous[c.ID] = st.Files[c.ID]
		st.Files[c.ID] = conversationPath(c)
	}

	res := &PullResult{}
	for i := range feed.Thoughts {
		t := &feed.Thoughts[i]
		data, err := RenderThought(t, st.Files)
		if err != nil {
			return nil, err
		}
		if err := s.place(t.ID, previous[t.ID], st.Files[t.ID], data, res); err != nil {
			return nil, err
		}
	}
	for i := range feed.Conversations {
		c := &feed.Conversations[i]
		data, err := RenderConversation(c, st.Files)
		if err != nil {
			return nil, err
		}
		if err := s.place(c.ID, previous[c.ID], st.Files[c.ID], data, res); err != nil {
			return nil, err
		}
	}

	for _, id := range feed.Deleted {
		rel, ok := st.Files[id]
		if !ok {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, filepath.FromSlash(rel))); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove %s: %w", rel, err)
		}
		delete(st.Files, id)
		res.Removed++
	}

	st.SyncTimestamp = feed.SyncTimestamp
	if err := SaveState(s.dir, st); err != nil {
		return nil, err
	}
	res.SyncTimestamp = st.SyncTimestamp
	log.Info("vault pull complete", "written", res.Written, "renamed", res.Renamed, "removed", res.Removed, "sync_timestamp", res.SyncTimestamp)
	return res, nil
}

func (s *Syncer) place(id, oldRel, newRel string, data []byte, res *PullResult) error {
	full := filepath.Join(s.dir, filepath.FromSlash(newRel))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(newRel), err)
	}
	if err := writeAtomic(full, data); err != nil {
		return err
	}
	res.Written++
	if oldRel != "" && oldRel != newRel {
		if err := os.Remove(filepath.Join(s.dir, filepath.FromSlash(oldRel))); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", oldRel, err)
		}
		observability.Logger().Debug("note renamed", "item_id", id, "from", oldRel, "to", newRel)
		res.Renamed++
	}
	return nil
}
