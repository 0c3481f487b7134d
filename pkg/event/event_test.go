package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTyping(t *testing.T) {
	at := time.Unix(1700000000, 0).UTC()
	e := NewTyping(at, "main.go", "go", TypingPayload{CharactersAdded: 3, Line: 4})

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, KindKeystroke, e.Kind)
	assert.Equal(t, at, e.Timestamp)
	require.NotNil(t, e.Typing)
	assert.Equal(t, 3, e.Typing.CharactersAdded)
	assert.Nil(t, e.Completion)
}

func TestNewCompletion_UniqueIDs(t *testing.T) {
	a := NewCompletion(KindCompletionAccept, time.Now(), "a.go", "go", CompletionPayload{CompletionID: "s1"})
	b := NewCompletion(KindCompletionCancel, time.Now(), "a.go", "go", CompletionPayload{CompletionID: "s1", CancelReason: CancelExpired})

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, []string{a.ID, b.ID}, IDs([]Event{a, b}))
}

func TestEvent_JSONOmitsOtherPayload(t *testing.T) {
	e := NewCompletion(KindCompletionCancel, time.Unix(0, 0).UTC(), "a.go", "go", CompletionPayload{
		CompletionID: "s1",
		LatencyMs:    1200,
		CancelReason: CancelByUser,
	})

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.NotContains(t, m, "typing")
	assert.Equal(t, "completion_cancel", m["kind"])
	assert.Equal(t, "user", m["completion"].(map[string]any)["cancel_reason"])
}
