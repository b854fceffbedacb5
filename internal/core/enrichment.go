package core

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thoughtstream/thoughtstream/internal/errors"
	"github.com/thoughtstream/thoughtstream/internal/observability"
	"github.com/thoughtstream/thoughtstream/internal/store"
	"github.com/thoughtstream/thoughtstream/internal/utils"
)

const maxRelatedAtEnrichment = 5

type EnrichmentConfig struct {
	Workers              int
	MaxAttempts          int
	BackoffBase          time.Duration
	BackoffMax           time.Duration
	Timeout              time.Duration
	Lease                time.Duration
	PollInterval         time.Duration
	RelatedMinSimilarity float64
}

// Enricher drains the enrichment queue. Delivery is at-least-once; the
// store's watermark check makes duplicate or reordered passes harmless, so
// workers take no locks.
type Enricher struct {
	store    *store.SQLiteStore
	embedder Embedder
	analyzer Analyzer
	cfg      EnrichmentConfig
}

func NewEnricher(st *store.SQLiteStore, embedder Embedder, analyzer Analyzer, cfg EnrichmentConfig) *Enricher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 2 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	return &Enricher{store: st, embedder: embedder, analyzer: analyzer, cfg: cfg}
}

// Run starts the worker pool and blocks until ctx is cancelled.
func (e *Enricher) Run(ctx context.Context) error {
	observability.Logger().Info("enrichment workers starting", "workers", e.cfg.Workers)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < e.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			return e.loop(ctx, worker)
		})
	}
	return g.Wait()
}

func (e *Enricher) loop(ctx context.Context, worker int) error {
	log := observability.WithFields("worker", worker)
	for {
		if ctx.Err() != nil {
			return nil
		}
		msg, err := e.store.Claim(ctx, e.cfg.Lease)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("failed to claim queue message", "error", err)
		}
		if msg == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(e.cfg.PollInterval):
			}
			continue
		}
		e.Process(ctx, msg)
	}
}

// Drain processes messages until nothing is ready to claim. It returns the
// number of messages handled.
func (e *Enricher) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		msg, err := e.store.Claim(ctx, e.cfg.Lease)
		if err != nil {
			return n, err
		}
		if msg == nil {
			return n, nil
		}
		e.Process(ctx, msg)
		n++
	}
}

// Process handles one claimed message: enrich, then ack, retry or dead-letter.
func (e *Enricher) Process(ctx context.Context, msg *store.QueueMessage) {
	log := observability.WithFields("item_id", msg.ItemID, "seq", msg.Seq, "attempt", msg.Attempts)

	pctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	outcome, err := e.Enrich(pctx, msg)
	cancel()

	if err == nil {
		if ackErr := e.store.Ack(ctx, msg.Seq); ackErr != nil {
			log.Error("failed to ack queue message", "error", ackErr)
			return
		}
		log.Info("enrichment finished", "outcome", outcome.String())
		return
	}

	if ctx.Err() != nil {
		// Shutting down: leave the lease to expire so the message is redelivered.
		log.Info("enrichment interrupted by shutdown")
		return
	}

	reason := utils.Preview(err.Error(), 500)
	if errors.IsTransient(err) && msg.Attempts < e.cfg.MaxAttempts {
		delay := e.backoff(msg.Attempts)
		log.Warn("enrichment failed, will retry", "error", err, "retry_in", delay.String())
		if rerr := e.store.Retry(ctx, msg.Seq, delay, reason); rerr != nil {
			log.Error("failed to schedule retry", "error", rerr)
		}
		return
	}

	log.Error("enrichment failed, moving to dead letters", "error", err)
	if derr := e.store.DeadLetter(ctx, msg.Seq, reason); derr != nil {
		log.Error("failed to dead-letter message", "error", derr)
	}
}

// backoff returns base * 2^(attempt-1), capped at BackoffMax.
func (e *Enricher) backoff(attempt int) time.Duration {
	d := e.cfg.BackoffBase
	for i := 1; i < attempt && d < e.cfg.BackoffMax; i++ {
		d *= 2
	}
	if d > e.cfg.BackoffMax {
		d = e.cfg.BackoffMax
	}
	return d
}

// Enrich computes and writes back the derived fields for one message. An
// embedding failure fails the message; an analysis failure only drops the
// text-derived fields.
func (e *Enricher) Enrich(ctx context.Context, msg *store.QueueMessage) (store.DerivedOutcome, error) {
	log := observability.WithFields("item_id", msg.ItemID, "seq", msg.Seq)

	t, err := e.store.GetThought(ctx, msg.ItemID, true)
	if errors.Is(err, errors.ErrNotFound) {
		return store.DerivedGone, nil
	}
	if err != nil {
		return 0, err
	}
	if t.DeletedAt != 0 {
		return store.DerivedGone, nil
	}
	if t.Derived != nil && t.Derived.DerivedAt >= msg.EnqueuedAt {
		return store.DerivedStale, nil
	}

	vec, err := e.embedder.EmbedDocument(ctx, t.Text)
	if err != nil {
		return 0, classifyUpstream("embedding", err)
	}
	if len(vec) == 0 {
		return 0, errors.NewInternal(errEmptyEmbedding)
	}

	analysis, err := e.analyzer.Analyze(ctx, t.Text)
	if err != nil {
		log.Warn("analysis failed, keeping embedding only", "error", err)
		analysis = &Analysis{}
	}

	related, err := e.related(ctx, t.ID, vec)
	if err != nil {
		log.Warn("related lookup failed", "error", err)
	}

	return e.store.ApplyDerived(ctx, t.ID, msg.EnqueuedAt, store.DerivedUpdate{
		Summary:    analysis.Summary,
		AutoTags:   analysis.AutoTags,
		Category:   analysis.Category,
		Intent:     analysis.Intent,
		Entities:   mergeEntities(analysis.Entities, MarkdownEntities(t.Text)),
		RelatedIDs: related,
		Embedding:  vec,
	})
}

func (e *Enricher) related(ctx context.Context, id string, vec []float32) ([]string, error) {
	corpus, err := e.store.LoadCorpus(ctx, store.CorpusFilter{})
	if err != nil {
		return nil, err
	}
	type scored struct {
		id  string
		sim float64
	}
	var hits []scored
	for _, c := range corpus {
		if c.ID == id || c.Derived == nil {
			continue
		}
		if sim := utils.Similarity(vec, c.Derived.Embedding); sim >= e.cfg.RelatedMinSimilarity {
			hits = append(hits, scored{c.ID, sim})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].sim != hits[j].sim {
			return hits[i].sim > hits[j].sim
		}
		return hits[i].id < hits[j].id
	})
	if len(hits) > maxRelatedAtEnrichment {
		hits = hits[:maxRelatedAtEnrichment]
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids, nil
}
