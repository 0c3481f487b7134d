package telemetry

import (
	"context"

	"github.com/docker/keytrail/pkg/stats"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	clientContextKey contextKey = "telemetry_client"
)

// WithClient adds a telemetry client to the context
func WithClient(ctx context.Context, client *Client) context.Context {
	return context.WithValue(ctx, clientContextKey, client)
}

// FromContext retrieves the telemetry client from context
func FromContext(ctx context.Context) *Client {
	if client, ok := ctx.Value(clientContextKey).(*Client); ok {
		return client
	}
	return nil
}

func RecordTyping(ctx context.Context, in stats.TypingInput) error {
	if client := FromContext(ctx); client != nil {
		return client.RecordTyping(in)
	}
	return nil
}

func DisplaySuggestion(ctx context.Context, id string, meta stats.SuggestionMeta) error {
	if client := FromContext(ctx); client != nil {
		return client.DisplaySuggestion(id, meta)
	}
	return nil
}

func ResolveSuggestion(ctx context.Context, id string, outcome stats.Outcome) bool {
	if client := FromContext(ctx); client != nil {
		return client.ResolveSuggestion(id, outcome)
	}
	return false
}
