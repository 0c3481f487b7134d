package editor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/keytrail/pkg/queue"
	"github.com/docker/keytrail/pkg/stats"
	"github.com/docker/keytrail/pkg/telemetry"
)

type fakeProducer struct {
	mu        sync.Mutex
	typed     []stats.TypingInput
	displayed map[string]stats.SuggestionMeta
	resolved  []stats.Outcome
	maxAges   []time.Duration
	reports   int
	resets    int
	reportErr error
}

func newFakeProducer() *fakeProducer {
	return &fakeProducer{displayed: map[string]stats.SuggestionMeta{}}
}

func (f *fakeProducer) RecordTyping(in stats.TypingInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if in.FilePath == "" {
		return &stats.ValidationError{Field: "file_path", Reason: "must not be empty"}
	}
	f.typed = append(f.typed, in)
	return nil
}

func (f *fakeProducer) DisplaySuggestion(id string, meta stats.SuggestionMeta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.displayed[id] = meta
	return nil
}

func (f *fakeProducer) ResolveSuggestion(id string, outcome stats.Outcome) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.displayed[id]; !ok {
		return false
	}
	delete(f.displayed, id)
	f.resolved = append(f.resolved, outcome)
	return true
}

func (f *fakeProducer) CleanupStale(maxAge time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maxAges = append(f.maxAges, maxAge)
	return 2
}

func (f *fakeProducer) ReportNow(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports++
	return f.reportErr
}

func (f *fakeProducer) Snapshot() stats.Snapshot {
	return stats.Snapshot{Counters: map[string]int64{"total_keystrokes": 3}, Rates: map[string]float64{}}
}

func (f *fakeProducer) QueueStats() telemetry.QueueStats {
	return telemetry.QueueStats{Queued: 3, Dropped: queue.DropCounts{Primary: 1}}
}

func (f *fakeProducer) ResetAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func TestHandle(t *testing.T) {
	p := newFakeProducer()
	h := NewHandler(p, nil)
	ctx := t.Context()

	r := h.Handle(ctx, Command{Op: OpType, FilePath: "main.go", FileType: "go", CharactersAdded: 4, Line: 10, Column: 2})
	require.True(t, r.OK, r.Error)
	require.Len(t, p.typed, 1)
	assert.Equal(t, stats.TypingInput{FilePath: "main.go", FileType: "go", CharactersAdded: 4, Line: 10, Column: 2}, p.typed[0])

	r = h.Handle(ctx, Command{Op: OpDisplay, SuggestionID: "s1", ModelID: "m", PrefixLength: 3, CompletionLength: 12})
	require.True(t, r.OK, r.Error)
	assert.Equal(t, "m", p.displayed["s1"].ModelID)

	r = h.Handle(ctx, Command{Op: OpResolve, SuggestionID: "s1", Outcome: "accept"})
	require.True(t, r.OK, r.Error)
	require.NotNil(t, r.Resolved)
	assert.True(t, *r.Resolved)

	r = h.Handle(ctx, Command{Op: OpResolve, SuggestionID: "s1", Outcome: "cancel"})
	require.True(t, r.OK)
	assert.False(t, *r.Resolved)

	r = h.Handle(ctx, Command{Op: OpCleanup, MaxAge: "10s"})
	require.True(t, r.OK, r.Error)
	assert.Equal(t, 2, *r.Expired)

	r = h.Handle(ctx, Command{Op: OpCleanup})
	require.True(t, r.OK, r.Error)
	assert.Equal(t, []time.Duration{10 * time.Second, telemetry.DefaultConfig().SuggestionMaxAge}, p.maxAges)

	r = h.Handle(ctx, Command{Op: OpReport})
	require.True(t, r.OK, r.Error)
	assert.Equal(t, 1, p.reports)

	r = h.Handle(ctx, Command{Op: OpSnapshot})
	require.True(t, r.OK)
	assert.Equal(t, int64(3), r.Statistics.Counter("total_keystrokes"))
	assert.Equal(t, int64(1), r.Queue.Dropped.Primary)

	r = h.Handle(ctx, Command{Op: OpReset})
	require.True(t, r.OK)
	assert.Equal(t, 1, p.resets)
}

func TestHandle_Errors(t *testing.T) {
	p := newFakeProducer()
	p.reportErr = errors.New("collector unreachable")
	h := NewHandler(p, nil)

	tests := []struct {
		name    string
		cmd     Command
		wantErr string
	}{
		{"missing op", Command{}, "missing op"},
		{"unknown op", Command{Op: "explode"}, `unknown op "explode"`},
		{"validation", Command{Op: OpType}, "invalid file_path"},
		{"bad outcome", Command{Op: OpResolve, SuggestionID: "x", Outcome: "maybe"}, `invalid outcome "maybe"`},
		{"bad max age", Command{Op: OpCleanup, MaxAge: "soon"}, "invalid max_age"},
		{"negative max age", Command{Op: OpCleanup, MaxAge: "-1s"}, "must not be negative"},
		{"report failure", Command{Op: OpReport}, "collector unreachable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := h.Handle(t.Context(), tt.cmd)
			assert.False(t, r.OK)
			assert.Contains(t, r.Error, tt.wantErr)
		})
	}
}

func TestPipe_OneReplyPerCommand(t *testing.T) {
	p := newFakeProducer()
	var out strings.Builder
	pipe := NewPipe(NewHandler(p, nil), &out)

	in := strings.Join([]string{
		`{"id":1,"op":"type","file_path":"a.go","characters_added":1}`,
		``,
		`not json`,
		`{"id":"two","op":"display","suggestion_id":"s1"}`,
		`{"id":3,"op":"resolve","suggestion_id":"s1","outcome":"accept"}`,
		`{"id":4,"op":"snapshot"}`,
	}, "\n")

	require.NoError(t, pipe.Serve(t.Context(), strings.NewReader(in)))

	var replies []Reply
	scanner := bufio.NewScanner(strings.NewReader(out.String()))
	for scanner.Scan() {
		var r Reply
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		replies = append(replies, r)
	}
	require.Len(t, replies, 5)

	assert.JSONEq(t, `1`, string(replies[0].ID))
	assert.True(t, replies[0].OK)

	assert.False(t, replies[1].OK)
	assert.Contains(t, replies[1].Error, "malformed command")
	assert.Empty(t, replies[1].ID)

	assert.JSONEq(t, `"two"`, string(replies[2].ID))
	assert.True(t, replies[2].OK)

	assert.True(t, *replies[3].Resolved)

	assert.Equal(t, 3, replies[4].Queue.Queued)
}

func TestPipe_StopsOnContextCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	pipe := NewPipe(NewHandler(newFakeProducer(), nil), io.Discard)
	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan error, 1)
	go func() { done <- pipe.Serve(ctx, r) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	_ = r.Close()
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestPipe_WriteError(t *testing.T) {
	pipe := NewPipe(NewHandler(newFakeProducer(), nil), failingWriter{})
	err := pipe.Serve(t.Context(), strings.NewReader(`{"op":"reset"}`+"\n"))
	require.ErrorContains(t, err, "broken pipe")
}
