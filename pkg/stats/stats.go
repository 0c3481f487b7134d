// Package stats accumulates rolling interaction statistics between reports.
//
// An Accumulator is not safe for concurrent use. The telemetry client owns one
// and serializes every call under its own lock.
package stats

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/coder/quartz"

	"github.com/docker/keytrail/pkg/event"
)

// Counter names.
const (
	Keystrokes       = "total_keystrokes"
	CharactersTyped  = "total_characters_typed"
	LinesTyped       = "total_lines_typed"
	SuggestionsShown = "total_suggestions_shown"
	Accepts          = "total_accepts"
	Cancels          = "total_cancels"
	Sessions         = "sessions"
)

// Rate names.
const (
	AcceptRate = "accept_rate"
	CancelRate = "cancel_rate"
)

var counterNames = []string{
	Keystrokes, CharactersTyped, LinesTyped, SuggestionsShown, Accepts, Cancels, Sessions,
}

// DefaultSessionGap is the idle time after which activity counts as a new session.
const DefaultSessionGap = 30 * time.Minute

// Outcome is how a displayed suggestion was resolved.
type Outcome string

const (
	OutcomeAccept Outcome = "accept"
	OutcomeCancel Outcome = "cancel"
)

// ValidationError reports producer input that was rejected before accumulation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TypingInput is one manual edit observed by the editor.
type TypingInput struct {
	FilePath        string
	FileType        string
	CharactersAdded int
	LinesAdded      int
	Line            int
	Column          int
}

func (in TypingInput) validate() error {
	switch {
	case in.FilePath == "":
		return &ValidationError{Field: "file_path", Reason: "must not be empty"}
	case in.CharactersAdded < 0:
		return &ValidationError{Field: "characters_added", Reason: "must not be negative"}
	case in.LinesAdded < 0:
		return &ValidationError{Field: "lines_added", Reason: "must not be negative"}
	case in.Line < 0 || in.Column < 0:
		return &ValidationError{Field: "position", Reason: "must not be negative"}
	}
	return nil
}

// SuggestionMeta describes a suggestion at display time.
type SuggestionMeta struct {
	FilePath         string
	FileType         string
	ModelID          string
	Provider         string
	PrefixLength     int
	CompletionLength int
}

// PendingSuggestion is a displayed suggestion that has not been resolved yet.
type PendingSuggestion struct {
	ID          string
	DisplayedAt time.Time
	Meta        SuggestionMeta
}

// Snapshot is an immutable copy of the accumulated statistics.
type Snapshot struct {
	Counters     map[string]int64   `json:"counters"`
	Rates        map[string]float64 `json:"rates"`
	LastActivity time.Time          `json:"last_activity,omitzero"`
}

// Counter returns the value of the named counter, or 0.
func (s Snapshot) Counter(name string) int64 {
	return s.Counters[name]
}

// Rate returns the value of the named rate, or 0.
func (s Snapshot) Rate(name string) float64 {
	return s.Rates[name]
}

// Accumulator holds running counters and pending-suggestion bookkeeping.
type Accumulator struct {
	clock      quartz.Clock
	sessionGap time.Duration

	counters     map[string]int64
	rates        map[string]float64
	lastActivity time.Time
	pending      map[string]*PendingSuggestion
}

type Option func(*Accumulator)

// WithClock sets the clock used for timestamps and latencies.
func WithClock(clock quartz.Clock) Option {
	return func(a *Accumulator) {
		a.clock = clock
	}
}

// WithSessionGap sets the idle time after which a new session is counted.
func WithSessionGap(gap time.Duration) Option {
	return func(a *Accumulator) {
		a.sessionGap = gap
	}
}

// New creates an empty accumulator.
func New(opts ...Option) *Accumulator {
	a := &Accumulator{
		clock:      quartz.NewReal(),
		sessionGap: DefaultSessionGap,
		pending:    make(map[string]*PendingSuggestion),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.zero()
	return a
}

// SetSessionGap changes the session gap of a live accumulator.
func (a *Accumulator) SetSessionGap(gap time.Duration) {
	a.sessionGap = gap
}

func (a *Accumulator) zero() {
	a.counters = make(map[string]int64, len(counterNames))
	for _, name := range counterNames {
		a.counters[name] = 0
	}
	a.rates = map[string]float64{AcceptRate: 0, CancelRate: 0}
}

// touch updates the last activity timestamp, counting a new session when the
// previous activity is older than the session gap.
func (a *Accumulator) touch(now time.Time) {
	if a.lastActivity.IsZero() || (a.sessionGap > 0 && now.Sub(a.lastActivity) > a.sessionGap) {
		a.counters[Sessions]++
	}
	a.lastActivity = now
}

// Record accumulates a manual edit and returns the event to queue.
func (a *Accumulator) Record(in TypingInput) (event.Event, error) {
	if err := in.validate(); err != nil {
		return event.Event{}, err
	}

	now := a.clock.Now("stats", "record")
	a.touch(now)
	a.counters[Keystrokes]++
	a.counters[CharactersTyped] += int64(in.CharactersAdded)
	a.counters[LinesTyped] += int64(in.LinesAdded)

	return event.NewTyping(now, in.FilePath, in.FileType, event.TypingPayload{
		CharactersAdded: in.CharactersAdded,
		LinesAdded:      in.LinesAdded,
		Line:            in.Line,
		Column:          in.Column,
	}), nil
}

// DisplaySuggestion registers a suggestion as shown. Displaying an id that is
// already pending refreshes its metadata without counting it twice.
func (a *Accumulator) DisplaySuggestion(id string, meta SuggestionMeta) error {
	if id == "" {
		return &ValidationError{Field: "completion_id", Reason: "must not be empty"}
	}
	if meta.PrefixLength < 0 || meta.CompletionLength < 0 {
		return &ValidationError{Field: "length", Reason: "must not be negative"}
	}

	now := a.clock.Now("stats", "display")
	a.touch(now)
	if _, ok := a.pending[id]; !ok {
		a.counters[SuggestionsShown]++
	}
	a.pending[id] = &PendingSuggestion{ID: id, DisplayedAt: now, Meta: meta}
	return nil
}

// Resolve records the outcome of a pending suggestion. It returns false, and
// changes nothing, when id is not pending.
func (a *Accumulator) Resolve(id string, outcome Outcome) (event.Event, bool) {
	p, ok := a.pending[id]
	if !ok {
		return event.Event{}, false
	}
	if outcome != OutcomeAccept && outcome != OutcomeCancel {
		return event.Event{}, false
	}

	now := a.clock.Now("stats", "resolve")
	a.touch(now)
	reason := event.CancelByUser
	if outcome == OutcomeAccept {
		reason = ""
	}
	return a.resolve(p, outcome, now, reason), true
}

func (a *Accumulator) resolve(p *PendingSuggestion, outcome Outcome, now time.Time, reason event.CancelReason) event.Event {
	delete(a.pending, p.ID)

	kind := event.KindCompletionCancel
	if outcome == OutcomeAccept {
		kind = event.KindCompletionAccept
		a.counters[Accepts]++
	} else {
		a.counters[Cancels]++
	}
	a.recomputeRates()

	return event.NewCompletion(kind, now, p.Meta.FilePath, p.Meta.FileType, event.CompletionPayload{
		CompletionID:     p.ID,
		ModelID:          p.Meta.ModelID,
		Provider:         p.Meta.Provider,
		PrefixLength:     p.Meta.PrefixLength,
		CompletionLength: p.Meta.CompletionLength,
		LatencyMs:        now.Sub(p.DisplayedAt).Milliseconds(),
		CancelReason:     reason,
	})
}

// CleanupStale converts suggestions pending for longer than maxAge into cancel
// events, oldest first.
func (a *Accumulator) CleanupStale(maxAge time.Duration) []event.Event {
	now := a.clock.Now("stats", "cleanup")

	var stale []*PendingSuggestion
	for _, p := range a.pending {
		if now.Sub(p.DisplayedAt) > maxAge {
			stale = append(stale, p)
		}
	}
	slices.SortFunc(stale, func(x, y *PendingSuggestion) int {
		return x.DisplayedAt.Compare(y.DisplayedAt)
	})

	events := make([]event.Event, 0, len(stale))
	for _, p := range stale {
		events = append(events, a.resolve(p, OutcomeCancel, now, event.CancelExpired))
	}
	return events
}

func (a *Accumulator) recomputeRates() {
	accepts, cancels := a.counters[Accepts], a.counters[Cancels]
	total := accepts + cancels
	if total == 0 {
		a.rates[AcceptRate] = 0
		a.rates[CancelRate] = 0
		return
	}
	a.rates[AcceptRate] = float64(accepts) / float64(total)
	a.rates[CancelRate] = float64(cancels) / float64(total)
}

// Pending returns the number of suggestions awaiting resolution.
func (a *Accumulator) Pending() int {
	return len(a.pending)
}

// Snapshot returns a copy of the current statistics.
func (a *Accumulator) Snapshot() Snapshot {
	return Snapshot{
		Counters:     maps.Clone(a.counters),
		Rates:        maps.Clone(a.rates),
		LastActivity: a.lastActivity,
	}
}

// ResetAfterReport removes the counts carried by a delivered snapshot and
// recomputes the rates. Activity recorded after the snapshot was taken is
// kept for the next report, as are the last activity timestamp and pending
// suggestions.
func (a *Accumulator) ResetAfterReport(delivered Snapshot) {
	for name, value := range delivered.Counters {
		if _, ok := a.counters[name]; !ok {
			continue
		}
		a.counters[name] = max(a.counters[name]-value, 0)
	}
	a.recomputeRates()
}

// ResetAll zeroes everything, including the last activity timestamp and the
// pending suggestions.
func (a *Accumulator) ResetAll() {
	a.zero()
	a.lastActivity = time.Time{}
	clear(a.pending)
}
