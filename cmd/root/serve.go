package root

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/docker/keytrail/pkg/editor"
)

type serveFlags struct {
	pipelineFlags
	drainTimeout time.Duration
}

func newServeCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Read editor events as NDJSON on stdin",
		Long: `Run the telemetry pipeline for an editor that talks newline-delimited JSON.

Each input line is one command and gets exactly one reply line on stdout:
  {"id":1,"op":"type","file_path":"main.go","characters_added":1}
  {"id":2,"op":"display","suggestion_id":"s1","model_id":"m"}
  {"id":3,"op":"resolve","suggestion_id":"s1","outcome":"accept"}
  {"id":4,"op":"cleanup","max_age":"30s"}
  {"id":5,"op":"report"}
  {"id":6,"op":"snapshot"}
  {"id":7,"op":"reset"}

The pipeline stops when stdin is closed.`,
		GroupID: "core",
		Args:    cobra.NoArgs,
		RunE:    flags.runServeCommand,
	}

	flags.register(cmd)
	cmd.Flags().DurationVar(&flags.drainTimeout, "drain-timeout", 5*time.Second, "How long to try delivering queued events on exit (0 to skip)")

	return cmd
}

func (f *serveFlags) runServeCommand(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	p, err := startPipeline(ctx, f.pipelineFlags)
	if err != nil {
		return err
	}
	defer p.Close()

	pipe := editor.NewPipe(editor.NewHandler(p.client, nil), cmd.OutOrStdout())
	if err := pipe.Serve(ctx, cmd.InOrStdin()); err != nil {
		return RuntimeError{Err: err}
	}

	if f.drainTimeout > 0 {
		p.drain(ctx, f.drainTimeout)
	}
	return nil
}
