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

const (
	MaxTags         = 20
	MaxTagRunes     = 64
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ThoughtService owns the capture path: validation, persistence and the
// hand-off to the enrichment queue.
type ThoughtService struct {
	store    *store.SQLiteStore
	maxChars int
}

func NewThoughtService(st *store.SQLiteStore, maxChars int) *ThoughtService {
	return &ThoughtService{store: st, maxChars: maxChars}
}

type CaptureInput struct {
	Text    string         `json:"text"`
	Type    string         `json:"type,omitempty"`
	Tags    []string       `json:"tags,omitempty"`
	Context *store.Context `json:"context,omitempty"`
}

type CaptureResult struct {
	ID        string `json:"id"`
	SmartID   string `json:"smartId"`
	CreatedAt int64  `json:"createdAt"`
}

// Capture validates and stores a thought, then enqueues it for enrichment.
// The thought is readable as soon as Capture returns. Enqueue failures are
// logged; reindex picks such thoughts up later.
func (s *ThoughtService) Capture(ctx context.Context, in CaptureInput) (*CaptureResult, error) {
	text, err := s.normalizeText(in.Text)
	if err != nil {
		return nil, err
	}
	typ, err := normalizeType(in.Type)
	if err != nil {
		return nil, err
	}
	tags, err := NormalizeTags(in.Tags)
	if err != nil {
		return nil, err
	}

	t := &store.Thought{
		ID:      ident.NewThoughtID(),
		Text:    text,
		Type:    typ,
		Tags:    tags,
		Context: cleanContext(in.Context),
	}
	if err := s.store.CreateThought(ctx, t); err != nil {
		return nil, err
	}
	s.enqueue(ctx, t.ID)

	return &CaptureResult{ID: t.ID, SmartID: t.SmartID, CreatedAt: t.CreatedAt}, nil
}

func (s *ThoughtService) enqueue(ctx context.Context, id string) {
	log := observability.LoggerFromContext(ctx)
	// Detached so a cancelled request does not drop the enqueue after commit.
	if _, err := s.store.Enqueue(context.WithoutCancel(ctx), id); err != nil {
		log.Error("failed to enqueue enrichment", "item_id", id, "error", err)
		return
	}
	log.Debug("enqueued enrichment", "item_id", id)
}

func (s *ThoughtService) Get(ctx context.Context, id string) (*store.Thought, error) {
	return s.store.GetThought(ctx, id, false)
}

// List returns one page, newest first. Limit defaults to DefaultPageSize and
// is capped at MaxPageSize.
func (s *ThoughtService) List(ctx context.Context, f store.ListFilter) (*store.ThoughtPage, error) {
	if f.Limit < 0 {
		return nil, errors.NewValidation("limit must not be negative")
	}
	if f.Limit == 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Type != "" {
		typ, err := normalizeType(f.Type)
		if err != nil {
			return nil, err
		}
		f.Type = typ
	}
	f.Tag = strings.ToLower(strings.TrimSpace(f.Tag))
	return s.store.ListThoughts(ctx, f)
}

// UpdateInput carries the fields to replace; nil means unchanged.
type UpdateInput struct {
	Text    *string        `json:"text,omitempty"`
	Type    *string        `json:"type,omitempty"`
	Tags    *[]string      `json:"tags,omitempty"`
	Context *store.Context `json:"context,omitempty"`
}

// Update replaces user-supplied fields. A text change enqueues re-enrichment;
// derived fields are recomputed by the worker, never patched here.
func (s *ThoughtService) Update(ctx context.Context, id string, in UpdateInput) (*store.Thought, error) {
	t, err := s.store.GetThought(ctx, id, false)
	if err != nil {
		return nil, err
	}

	textChanged := false
	if in.Text != nil {
		text, err := s.normalizeText(*in.Text)
		if err != nil {
			return nil, err
		}
		textChanged = text != t.Text
		t.Text = text
	}
	if in.Type != nil {
		typ, err := normalizeType(*in.Type)
		if err != nil {
			return nil, err
		}
		t.Type = typ
	}
	if in.Tags != nil {
		tags, err := NormalizeTags(*in.Tags)
		if err != nil {
			return nil, err
		}
		t.Tags = tags
	}
	if in.Context != nil {
		t.Context = cleanContext(in.Context)
	}

	if err := s.store.UpdateThought(ctx, t); err != nil {
		return nil, err
	}
	if textChanged {
		s.enqueue(ctx, t.ID)
	}
	return t, nil
}

// Delete soft-deletes a thought and records a tombstone for sync clients.
func (s *ThoughtService) Delete(ctx context.Context, id string) error {
	_, err := s.store.DeleteThought(ctx, id)
	return err
}

// Reindex enqueues enrichment for every live thought, or only for those that
// have no derived fields yet.
func (s *ThoughtService) Reindex(ctx context.Context, missingOnly bool) (int, error) {
	ids, err := s.store.ThoughtIDs(ctx, missingOnly)
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		if _, err := s.store.Enqueue(ctx, id); err != nil {
			return i, err
		}
	}
	return len(ids), nil
}

func (s *ThoughtService) normalizeText(raw string) (string, error) {
	if !utf8.ValidString(raw) {
		return "", errors.NewValidation("text must be valid UTF-8")
	}
	text := utils.StripControl(raw)
	if strings.TrimSpace(text) == "" {
		return "", errors.NewValidation("text is required")
	}
	if n := utf8.RuneCountInString(text); n > s.maxChars {
		return "", errors.NewValidationf("text exceeds %d characters", s.maxChars)
	}
	return text, nil
}

func normalizeType(raw string) (string, error) {
	typ := strings.ToLower(strings.TrimSpace(raw))
	if typ == "" {
		return store.TypeNote, nil
	}
	for _, t := range store.ThoughtTypes {
		if typ == t {
			return typ, nil
		}
	}
	return "", errors.NewValidationf("type must be one of %s", strings.Join(store.ThoughtTypes, ", "))
}

// NormalizeTags trims, lower-cases and de-duplicates tags, keeping first-seen order.
func NormalizeTags(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, tag := range raw {
		tag = strings.ToLower(strings.TrimSpace(utils.StripControl(tag)))
		if tag == "" || seen[tag] {
			continue
		}
		if utf8.RuneCountInString(tag) > MaxTagRunes {
			return nil, errors.NewValidationf("tags must be at most %d characters", MaxTagRunes)
		}
		seen[tag] = true
		out = append(out, tag)
	}
	if len(out) > MaxTags {
		return nil, errors.NewValidationf("at most %d tags are allowed", MaxTags)
	}
	return out, nil
}

func cleanContext(c *store.Context) *store.Context {
	if c.IsZero() {
		return nil
	}
	return &store.Context{
		App:    strings.TrimSpace(utils.StripControl(c.App)),
		Repo:   strings.TrimSpace(utils.StripControl(c.Repo)),
		File:   strings.TrimSpace(utils.StripControl(c.File)),
		Branch: strings.TrimSpace(utils.StripControl(c.Branch)),
	}
}
