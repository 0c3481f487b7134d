package editor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/neovim/go-client/nvim"
)

// Neovim RPC method names. The Lua side calls them with a single table
// argument whose keys match the Command fields.
const (
	MethodType     = "keytrail_type"
	MethodDisplay  = "keytrail_display"
	MethodResolve  = "keytrail_resolve"
	MethodReport   = "keytrail_report"
	MethodSnapshot = "keytrail_snapshot"
)

var nvimMethods = map[string]string{
	MethodType:     OpType,
	MethodDisplay:  OpDisplay,
	MethodResolve:  OpResolve,
	MethodReport:   OpReport,
	MethodSnapshot: OpSnapshot,
}

// Host exposes a Handler as a Neovim remote plugin.
type Host struct {
	ctx     context.Context
	handler *Handler
	logger  *slog.Logger
}

func NewHost(ctx context.Context, h *Handler, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{ctx: ctx, handler: h, logger: logger}
}

// Register installs the keytrail_* handlers on v.
func (h *Host) Register(v *nvim.Nvim) error {
	for method, op := range nvimMethods {
		if err := v.RegisterHandler(method, h.method(op)); err != nil {
			return fmt.Errorf("failed to register %s: %w", method, err)
		}
	}
	return nil
}

func (h *Host) method(op string) func(args map[string]any) (map[string]any, error) {
	return func(args map[string]any) (map[string]any, error) {
		cmd, err := decodeArgs(args)
		if err != nil {
			return nil, err
		}
		cmd.Op = op
		return toMap(h.handler.Handle(h.ctx, cmd))
	}
}

// decodeArgs maps the Lua table onto a Command. msgpack numbers arrive as
// int64 or uint64, which the JSON round trip folds into plain ints.
func decodeArgs(args map[string]any) (Command, error) {
	var cmd Command
	if len(args) == 0 {
		return cmd, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return cmd, fmt.Errorf("invalid arguments: %w", err)
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, fmt.Errorf("invalid arguments: %w", err)
	}
	return cmd, nil
}

func toMap(reply Reply) (map[string]any, error) {
	data, err := json.Marshal(reply)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ServeNvim hosts h over the msgpack-rpc stream (r, w) until the peer
// disconnects or ctx is done.
func ServeNvim(ctx context.Context, h *Host, r io.Reader, w io.WriteCloser) error {
	v, err := nvim.New(r, w, w, func(format string, args ...any) {
		h.logger.Debug(fmt.Sprintf(format, args...))
	})
	if err != nil {
		return fmt.Errorf("failed to create nvim connection: %w", err)
	}
	defer v.Close()
	if err := h.Register(v); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			v.Close()
		case <-done:
		}
	}()

	h.logger.Debug("Serving Neovim RPC")
	if err := v.Serve(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("nvim rpc: %w", err)
	}
	return nil
}
