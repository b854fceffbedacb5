package main

import (
	"context"
	"fmt"

	"github.com/thoughtstream/thoughtstream/internal/api"
	"github.com/thoughtstream/thoughtstream/internal/config"
	"github.com/thoughtstream/thoughtstream/internal/core"
	"github.com/thoughtstream/thoughtstream/internal/mcp"
	"github.com/thoughtstream/thoughtstream/internal/store"
)

// app holds the store, the model oracle and every service built on them.
type app struct {
	cfg      *config.Config
	store    *store.SQLiteStore
	oracle   core.Oracle
	closers  []func()
	services api.Services
	enricher *core.Enricher
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	var opts []store.Option
	if len(cfg.ContentKeys) > 0 {
		sealer, err := store.NewSealer(cfg.ContentKeys)
		if err != nil {
			return nil, fmt.Errorf("invalid CONTENT_KEYS: %w", err)
		}
		opts = append(opts, store.WithSealer(sealer))
	}

	st, err := store.NewSQLiteStore(cfg.DatabaseURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a := &app{cfg: cfg, store: st, closers: []func(){func() { st.Close() }}}

	switch cfg.OracleProvider {
	case config.ProviderGemini:
		llm, err := core.NewLLMService(ctx, cfg.GeminiAPIKey, cfg.OracleRatePerMin)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.oracle = llm
		a.closers = append(a.closers, llm.Close)
	default:
		a.oracle = core.NewLocalOracle()
	}

	a.services = api.Services{
		Thoughts: core.NewThoughtService(st, cfg.MaxThoughtChars),
		Chat:     core.NewChatService(st, cfg.MaxThoughtChars),
		Search: core.NewSearchService(st, a.oracle, a.oracle, core.SearchConfig{
			TopK:          cfg.SearchTopK,
			MinSimilarity: cfg.SearchMinSimilarity,
			KeywordWeight: cfg.KeywordWeight,
			VectorWeight:  cfg.VectorWeight,
		}),
		Graph: core.NewGraphService(st, core.GraphConfig{
			RelatedMinSimilarity: cfg.RelatedMinSimilarity,
			EdgeThreshold:        cfg.GraphEdgeThreshold,
		}),
		Sync:  core.NewSyncService(st),
		Store: st,
	}
	a.enricher = core.NewEnricher(st, a.oracle, a.oracle, core.EnrichmentConfig{
		Workers:              cfg.EnrichWorkers,
		MaxAttempts:          cfg.EnrichMaxAttempts,
		BackoffBase:          cfg.EnrichBackoffBase,
		BackoffMax:           cfg.EnrichBackoffMax,
		Timeout:              cfg.EnrichTimeout,
		Lease:                cfg.QueueLease,
		PollInterval:         cfg.QueuePollInterval,
		RelatedMinSimilarity: cfg.RelatedMinSimilarity,
	})
	return a, nil
}

func (a *app) mcpHandlers() *mcp.Handlers {
	return mcp.NewHandlers(a.services.Thoughts, a.services.Search, a.services.Graph)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
