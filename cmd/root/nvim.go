package root

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/docker/keytrail/pkg/editor"
)

func newNvimCmd() *cobra.Command {
	var flags pipelineFlags

	cmd := &cobra.Command{
		Use:   "nvim",
		Short: "Run as a Neovim remote plugin over stdio",
		Long: `Host the telemetry pipeline as a Neovim RPC plugin.

Start it from Lua with jobstart({"keytrail", "nvim"}, {rpc = true}) and call
the keytrail_type, keytrail_display, keytrail_resolve, keytrail_report and
keytrail_snapshot methods with a single table argument.`,
		GroupID: "core",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			p, err := startPipeline(ctx, flags)
			if err != nil {
				return err
			}
			defer p.Close()

			host := editor.NewHost(ctx, editor.NewHandler(p.client, nil), nil)
			if err := editor.ServeNvim(ctx, host, cmd.InOrStdin(), stdoutCloser(cmd.OutOrStdout())); err != nil {
				return RuntimeError{Err: err}
			}
			return nil
		},
	}

	flags.register(cmd)

	return cmd
}

// stdoutCloser never closes the process stdout.
func stdoutCloser(w io.Writer) io.WriteCloser {
	if w == os.Stdout {
		return nopWriteCloser{w}
	}
	if wc, ok := w.(io.WriteCloser); ok {
		return wc
	}
	return nopWriteCloser{w}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
