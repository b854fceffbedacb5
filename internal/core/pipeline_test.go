package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Capture through export with the offline oracle, the way a client sees it.
func TestPipeline_CaptureEnrichAskExport(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	decision := p.capture(t, "Decided to use Postgres logical replication for the analytics feed", "data")
	followUp := p.capture(t, "Postgres logical replication slot lag alerting", "data")
	p.capture(t, "Book dentist appointment")

	before, err := p.sync.Export(ctx, 0)
	require.NoError(t, err)
	for _, th := range before.Thoughts {
		assert.Nil(t, th.Derived, "nothing enriched yet")
	}

	assert.Equal(t, 3, p.drain(t))

	ask, err := p.search.Ask(ctx, AskInput{Query: "postgres logical replication", Tags: []string{"data"}})
	require.NoError(t, err)
	require.Len(t, ask.Citations, 2)
	ids := []string{ask.Citations[0].ID, ask.Citations[1].ID}
	assert.ElementsMatch(t, []string{decision.ID, followUp.ID}, ids)

	rel, err := p.graph.Related(ctx, decision.ID)
	require.NoError(t, err)
	require.NotEmpty(t, rel.Related)
	assert.Equal(t, followUp.ID, rel.Related[0].ID)

	after, err := p.sync.Export(ctx, before.SyncTimestamp)
	require.NoError(t, err)
	require.Len(t, after.Thoughts, 3)
	for _, th := range after.Thoughts {
		require.NotNil(t, th.Derived)
		if th.ID == followUp.ID {
			assert.Contains(t, th.Derived.RelatedIDs, decision.ID)
		}
	}
	assert.GreaterOrEqual(t, after.SyncTimestamp, before.SyncTimestamp)
}
