package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/keytrail/pkg/stats"
)

func TestContextHelpers(t *testing.T) {
	ctx := t.Context()
	assert.Nil(t, FromContext(ctx))
	require.NoError(t, RecordTyping(ctx, typing("a.go")))
	assert.False(t, ResolveSuggestion(ctx, "s1", stats.OutcomeAccept))

	c, _, _ := newTestClient(t, testConfig())
	ctx = WithClient(ctx, c)
	assert.Same(t, c, FromContext(ctx))

	require.NoError(t, RecordTyping(ctx, typing("a.go")))
	require.NoError(t, DisplaySuggestion(ctx, "s1", stats.SuggestionMeta{FilePath: "a.go"}))
	assert.True(t, ResolveSuggestion(ctx, "s1", stats.OutcomeAccept))
	assert.Equal(t, 2, c.QueueStats().Queued)
}
