package core

import (
	"context"
	"encoding/base64"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thoughtstream/thoughtstream/internal/store"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, opts ...store.Option) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "core.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// scriptedOracle behaves like the local oracle unless a failure is queued.
type scriptedOracle struct {
	*LocalOracle

	mu         sync.Mutex
	embedErrs  []error
	queryErr   error
	analyzeErr error
	answerErr  error
	embedCalls int
}

func newScriptedOracle() *scriptedOracle {
	return &scriptedOracle{LocalOracle: NewLocalOracle()}
}

func (o *scriptedOracle) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	o.mu.Lock()
	o.embedCalls++
	var err error
	if len(o.embedErrs) > 0 {
		err, o.embedErrs = o.embedErrs[0], o.embedErrs[1:]
	}
	o.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return o.LocalOracle.EmbedDocument(ctx, text)
}

func (o *scriptedOracle) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if o.queryErr != nil {
		return nil, o.queryErr
	}
	return o.LocalOracle.EmbedQuery(ctx, query)
}

func (o *scriptedOracle) Analyze(ctx context.Context, text string) (*Analysis, error) {
	if o.analyzeErr != nil {
		return nil, o.analyzeErr
	}
	return o.LocalOracle.Analyze(ctx, text)
}

func (o *scriptedOracle) Answer(ctx context.Context, query string, sources []Source) (string, error) {
	if o.answerErr != nil {
		return "", o.answerErr
	}
	return "generated: " + query, nil
}

func testEnrichmentConfig() EnrichmentConfig {
	return EnrichmentConfig{
		Workers:              1,
		MaxAttempts:          3,
		BackoffBase:          time.Second,
		BackoffMax:           10 * time.Second,
		Timeout:              5 * time.Second,
		Lease:                time.Minute,
		PollInterval:         10 * time.Millisecond,
		RelatedMinSimilarity: 0.3,
	}
}

// pipeline wires the services the way the server does, on the offline oracle.
type pipeline struct {
	clock    *testClock
	store    *store.SQLiteStore
	oracle   *scriptedOracle
	thoughts *ThoughtService
	chat     *ChatService
	enricher *Enricher
	search   *SearchService
	graph    *GraphService
	sync     *SyncService
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	clock := newTestClock()
	st := newTestStore(t, store.WithClock(clock.Now))
	oracle := newScriptedOracle()
	return &pipeline{
		clock:    clock,
		store:    st,
		oracle:   oracle,
		thoughts: NewThoughtService(st, 8000),
		chat:     NewChatService(st, 8000),
		enricher: NewEnricher(st, oracle, oracle, testEnrichmentConfig()),
		search: NewSearchService(st, oracle, oracle, SearchConfig{
			TopK:          5,
			MinSimilarity: 0.2,
			KeywordWeight: 1,
			VectorWeight:  3,
		}),
		graph: NewGraphService(st, GraphConfig{RelatedMinSimilarity: 0.2, EdgeThreshold: 0.75}),
		sync:  NewSyncService(st),
	}
}

func (p *pipeline) capture(t *testing.T, text string, tags ...string) *CaptureResult {
	t.Helper()
	res, err := p.thoughts.Capture(context.Background(), CaptureInput{Text: text, Tags: tags})
	require.NoError(t, err)
	p.clock.Advance(time.Second)
	return res
}

func (p *pipeline) drain(t *testing.T) int {
	t.Helper()
	n, err := p.enricher.Drain(context.Background())
	require.NoError(t, err)
	return n
}

func encodeKey(k []byte) string {
	return base64.StdEncoding.EncodeToString(k)
}
