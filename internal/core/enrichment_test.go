package core

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/thoughtstream/thoughtstream/internal/store"
)

func TestEnricher_Drain(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	res := p.capture(t, "Use Redis for the caching layer. See https://redis.io/docs", "infra")

	assert.Equal(t, 1, p.drain(t))

	got, err := p.store.GetThought(ctx, res.ID, false)
	require.NoError(t, err)
	require.NotNil(t, got.Derived)
	assert.Len(t, got.Derived.Embedding, localDims)
	assert.Equal(t, "Use Redis for the caching layer.", got.Derived.Summary)
	assert.Equal(t, "decide", got.Derived.Intent)
	assert.Contains(t, got.Derived.Entities, "redis.io")

	depth, err := p.store.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestEnricher_RetriesTransientFailures(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	p.oracle.embedErrs = []error{stderrors.New("connection reset by peer")}
	res := p.capture(t, "retry me please")

	assert.Equal(t, 1, p.drain(t))
	got, err := p.store.GetThought(ctx, res.ID, false)
	require.NoError(t, err)
	assert.Nil(t, got.Derived, "capture stays readable without derived fields")

	// Not available again until the backoff has passed.
	assert.Equal(t, 0, p.drain(t))
	p.clock.Advance(time.Second)
	assert.Equal(t, 1, p.drain(t))

	got, err = p.store.GetThought(ctx, res.ID, false)
	require.NoError(t, err)
	require.NotNil(t, got.Derived)
	assert.Equal(t, 2, p.oracle.embedCalls)
}

func TestEnricher_DeadLettersAfterMaxAttempts(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	boom := stderrors.New("upstream timeout")
	p.oracle.embedErrs = []error{boom, boom, boom}
	res := p.capture(t, "never enriched")

	for i := 0; i < 3; i++ {
		p.drain(t)
		p.clock.Advance(time.Minute)
	}

	letters, err := p.store.ListDeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, res.ID, letters[0].ItemID)
	assert.Equal(t, 3, letters[0].Attempts)
	assert.Contains(t, letters[0].LastError, "upstream timeout")

	depth, err := p.store.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)

	got, err := p.store.GetThought(ctx, res.ID, false)
	require.NoError(t, err)
	assert.Nil(t, got.Derived)
}

func TestEnricher_NonTransientFailureDeadLettersImmediately(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	p.oracle.embedErrs = []error{&googleapi.Error{Code: 400, Message: "bad request"}}
	p.capture(t, "rejected by the model")

	assert.Equal(t, 1, p.drain(t))

	letters, err := p.store.ListDeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, 1, letters[0].Attempts)
}

func TestEnricher_AnalysisFailureKeepsEmbedding(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	p.oracle.analyzeErr = stderrors.New("model returned prose")
	res := p.capture(t, "analysis will fail for this one")

	p.drain(t)

	got, err := p.store.GetThought(ctx, res.ID, false)
	require.NoError(t, err)
	require.NotNil(t, got.Derived)
	assert.NotEmpty(t, got.Derived.Embedding)
	assert.Empty(t, got.Derived.Summary)
	assert.Empty(t, got.Derived.Category)
}

func TestEnricher_DeletedBeforeProcessing(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	res := p.capture(t, "short lived")
	require.NoError(t, p.thoughts.Delete(ctx, res.ID))

	msg, err := p.store.Claim(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, msg)

	outcome, err := p.enricher.Enrich(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, store.DerivedGone, outcome)
	assert.Zero(t, p.oracle.embedCalls)
}

func TestEnricher_OutOfOrderDeliveryDoesNotRegress(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	res := p.capture(t, "First draft of the plan.")

	newText := "Final plan: ship on Friday."
	_, err := p.thoughts.Update(ctx, res.ID, UpdateInput{Text: &newText})
	require.NoError(t, err)

	first, err := p.store.Claim(ctx, time.Minute)
	require.NoError(t, err)
	second, err := p.store.Claim(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.NotNil(t, second)
	require.Less(t, first.EnqueuedAt, second.EnqueuedAt)

	// The newer message lands first, then the older one is redelivered late.
	p.enricher.Process(ctx, second)
	p.enricher.Process(ctx, first)
	p.enricher.Process(ctx, second)

	got, err := p.store.GetThought(ctx, res.ID, false)
	require.NoError(t, err)
	require.NotNil(t, got.Derived)
	assert.Equal(t, "Final plan: ship on Friday.", got.Derived.Summary)
	assert.Equal(t, second.EnqueuedAt, got.Derived.DerivedAt)

	// The late older pass never reached the oracle.
	assert.Equal(t, 1, p.oracle.embedCalls)
}

func TestEnricher_Backoff(t *testing.T) {
	e := NewEnricher(nil, nil, nil, EnrichmentConfig{BackoffBase: time.Second, BackoffMax: 10 * time.Second})

	assert.Equal(t, time.Second, e.backoff(1))
	assert.Equal(t, 2*time.Second, e.backoff(2))
	assert.Equal(t, 4*time.Second, e.backoff(3))
	assert.Equal(t, 10*time.Second, e.backoff(5))
	assert.Equal(t, 10*time.Second, e.backoff(50))
}

func TestEnricher_RunStopsOnCancel(t *testing.T) {
	p := newPipeline(t)
	res := p.capture(t, "picked up by the worker pool")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.enricher.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, err := p.store.GetThought(context.Background(), res.ID, false)
		return err == nil && got.Derived != nil
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
