// Package editor connects editor integrations to the telemetry client.
//
// Two adapters are provided: a newline-delimited JSON pipe for any editor that
// can spawn a process, and a Neovim RPC host. Both translate editor commands
// into calls on a Producer and never block on delivery unless the editor asks
// for a report explicitly.
package editor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/keytrail/pkg/stats"
	"github.com/docker/keytrail/pkg/telemetry"
)

// Operations understood by Handle.
const (
	OpType     = "type"
	OpDisplay  = "display"
	OpResolve  = "resolve"
	OpCleanup  = "cleanup"
	OpReport   = "report"
	OpSnapshot = "snapshot"
	OpReset    = "reset"
)

// Producer is the part of *telemetry.Client the editor adapters drive.
type Producer interface {
	RecordTyping(in stats.TypingInput) error
	DisplaySuggestion(id string, meta stats.SuggestionMeta) error
	ResolveSuggestion(id string, outcome stats.Outcome) bool
	CleanupStale(maxAge time.Duration) int
	ReportNow(ctx context.Context) error
	Snapshot() stats.Snapshot
	QueueStats() telemetry.QueueStats
	ResetAll()
}

var _ Producer = (*telemetry.Client)(nil)

// Command is one request from the editor. Fields not used by Op are ignored.
type Command struct {
	ID json.RawMessage `json:"id,omitempty"`
	Op string          `json:"op"`

	FilePath string `json:"file_path,omitempty"`
	FileType string `json:"file_type,omitempty"`

	CharactersAdded int `json:"characters_added,omitempty"`
	LinesAdded      int `json:"lines_added,omitempty"`
	Line            int `json:"line,omitempty"`
	Column          int `json:"column,omitempty"`

	SuggestionID     string `json:"suggestion_id,omitempty"`
	ModelID          string `json:"model_id,omitempty"`
	Provider         string `json:"provider,omitempty"`
	PrefixLength     int    `json:"prefix_length,omitempty"`
	CompletionLength int    `json:"completion_length,omitempty"`
	Outcome          string `json:"outcome,omitempty"`

	// MaxAge is a Go duration string, e.g. "30s".
	MaxAge string `json:"max_age,omitempty"`
}

// Reply answers exactly one Command.
type Reply struct {
	ID    json.RawMessage `json:"id,omitempty"`
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`

	Resolved   *bool                 `json:"resolved,omitempty"`
	Expired    *int                  `json:"expired,omitempty"`
	Statistics *stats.Snapshot       `json:"statistics,omitempty"`
	Queue      *telemetry.QueueStats `json:"queue,omitempty"`
}

// Handler executes commands against a Producer.
type Handler struct {
	producer Producer
	logger   *slog.Logger
}

func NewHandler(p Producer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{producer: p, logger: logger}
}

// Handle runs cmd and builds its reply. Errors are reported in the reply, so
// one bad command never ends a session.
func (h *Handler) Handle(ctx context.Context, cmd Command) Reply {
	reply, err := h.handle(ctx, cmd)
	reply.ID = cmd.ID
	if err != nil {
		h.logger.Debug("Editor command failed", "op", cmd.Op, "error", err)
		reply.OK = false
		reply.Error = err.Error()
		return reply
	}
	reply.OK = true
	return reply
}

func (h *Handler) handle(ctx context.Context, cmd Command) (Reply, error) {
	switch cmd.Op {
	case OpType:
		return Reply{}, h.producer.RecordTyping(stats.TypingInput{
			FilePath:        cmd.FilePath,
			FileType:        cmd.FileType,
			CharactersAdded: cmd.CharactersAdded,
			LinesAdded:      cmd.LinesAdded,
			Line:            cmd.Line,
			Column:          cmd.Column,
		})

	case OpDisplay:
		return Reply{}, h.producer.DisplaySuggestion(cmd.SuggestionID, stats.SuggestionMeta{
			FilePath:         cmd.FilePath,
			FileType:         cmd.FileType,
			ModelID:          cmd.ModelID,
			Provider:         cmd.Provider,
			PrefixLength:     cmd.PrefixLength,
			CompletionLength: cmd.CompletionLength,
		})

	case OpResolve:
		outcome, err := parseOutcome(cmd.Outcome)
		if err != nil {
			return Reply{}, err
		}
		resolved := h.producer.ResolveSuggestion(cmd.SuggestionID, outcome)
		return Reply{Resolved: &resolved}, nil

	case OpCleanup:
		maxAge, err := parseMaxAge(cmd.MaxAge)
		if err != nil {
			return Reply{}, err
		}
		expired := h.producer.CleanupStale(maxAge)
		return Reply{Expired: &expired}, nil

	case OpReport:
		return Reply{}, h.producer.ReportNow(ctx)

	case OpSnapshot:
		snap := h.producer.Snapshot()
		qs := h.producer.QueueStats()
		return Reply{Statistics: &snap, Queue: &qs}, nil

	case OpReset:
		h.producer.ResetAll()
		return Reply{}, nil

	case "":
		return Reply{}, errors.New("missing op")
	default:
		return Reply{}, fmt.Errorf("unknown op %q", cmd.Op)
	}
}

func parseOutcome(s string) (stats.Outcome, error) {
	switch o := stats.Outcome(s); o {
	case stats.OutcomeAccept, stats.OutcomeCancel:
		return o, nil
	default:
		return "", fmt.Errorf("invalid outcome %q: want %q or %q", s, stats.OutcomeAccept, stats.OutcomeCancel)
	}
}

// parseMaxAge defaults to telemetry.DefaultConfig().SuggestionMaxAge.
func parseMaxAge(s string) (time.Duration, error) {
	if s == "" {
		return telemetry.DefaultConfig().SuggestionMaxAge, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid max_age: %w", err)
	}
	if d < 0 {
		return 0, errors.New("invalid max_age: must not be negative")
	}
	return d, nil
}
