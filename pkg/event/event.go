// Package event defines the interaction records produced by the editor
// integration and carried through the telemetry pipeline.
//
// Events are values: once created they are never mutated. The queue copies
// them in and out, and delivery serializes them as-is.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies what an event observed.
type Kind string

const (
	KindKeystroke        Kind = "keystroke"
	KindCompletionAccept Kind = "completion_accept"
	KindCompletionCancel Kind = "completion_cancel"
)

// CancelReason explains why a suggestion was cancelled.
type CancelReason string

const (
	CancelByUser  CancelReason = "user"
	CancelExpired CancelReason = "expired"
)

// TypingPayload describes manual input.
type TypingPayload struct {
	CharactersAdded int `json:"characters_added"`
	LinesAdded      int `json:"lines_added"`
	Line            int `json:"line"`
	Column          int `json:"column"`
}

// CompletionPayload describes the resolution of an autocomplete suggestion.
type CompletionPayload struct {
	CompletionID     string       `json:"completion_id"`
	ModelID          string       `json:"model_id,omitempty"`
	Provider         string       `json:"provider,omitempty"`
	PrefixLength     int          `json:"prefix_length"`
	CompletionLength int          `json:"completion_length"`
	LatencyMs        int64        `json:"latency_ms"`
	CancelReason     CancelReason `json:"cancel_reason,omitempty"`
}

// Event is one observed user interaction.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	FilePath  string    `json:"file_path,omitempty"`
	FileType  string    `json:"file_type,omitempty"`

	Typing     *TypingPayload     `json:"typing,omitempty"`
	Completion *CompletionPayload `json:"completion,omitempty"`
}

// NewTyping creates a keystroke event.
func NewTyping(at time.Time, filePath, fileType string, p TypingPayload) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      KindKeystroke,
		Timestamp: at,
		FilePath:  filePath,
		FileType:  fileType,
		Typing:    &p,
	}
}

// NewCompletion creates an accept or cancel event for a suggestion.
func NewCompletion(kind Kind, at time.Time, filePath, fileType string, p CompletionPayload) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		Timestamp:  at,
		FilePath:   filePath,
		FileType:   fileType,
		Completion: &p,
	}
}

// IDs returns the identifiers of the given events, in order.
func IDs(events []Event) []string {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	return ids
}
