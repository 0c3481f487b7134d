package root

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/docker/keytrail/pkg/cli"
	"github.com/docker/keytrail/pkg/journal"
	"github.com/docker/keytrail/pkg/userconfig"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent flush outcomes from the journal",
		Long: `List recent flush outcomes recorded in the local journal, newest first.

The journal only exists when it is enabled:
  keytrail config set journal.enabled true`,
		GroupID: "advanced",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			config, err := userconfig.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			path := config.JournalPath()
			if path == "" {
				return errors.New("the journal is disabled; enable it with: keytrail config set journal.enabled true")
			}
			if _, err := os.Stat(path); os.IsNotExist(err) {
				cli.NewPrinter(cmd.OutOrStdout()).Println("No flushes recorded yet.")
				return nil
			}

			store, err := journal.Open(ctx, path)
			if err != nil {
				return RuntimeError{Err: err}
			}
			defer store.Close()

			entries, err := store.List(ctx, limit)
			if err != nil {
				return RuntimeError{Err: err}
			}
			if jsonOut {
				return printJSON(cmd, entries)
			}
			printHistory(cli.NewPrinter(cmd.OutOrStdout()), entries, time.Now())
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "number", "n", journal.DefaultLimit, "Number of entries to show")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print entries as JSON")

	return cmd
}

func printHistory(out *cli.Printer, entries []journal.Entry, now time.Time) {
	if len(entries) == 0 {
		out.Println("No flushes recorded yet.")
		return
	}

	var buf tabwriterBuffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tTRIGGER\tEVENTS\tATTEMPTS\tOUTCOME\tERROR")
	for _, e := range entries {
		outcome := e.Outcome
		if e.Discarded > 0 {
			outcome = fmt.Sprintf("%s (%d discarded)", outcome, e.Discarded)
		}
		fmt.Fprintf(w, "%s ago\t%s\t%d\t%d\t%s\t%s\n",
			units.HumanDuration(now.Sub(e.Time)), e.Trigger, e.BatchSize, e.Attempts, outcome, e.Error)
	}
	_ = w.Flush()

	// Color is applied after alignment so escape codes do not skew the columns.
	for i, line := range buf.lines {
		switch {
		case i == 0:
			out.Println(out.Bold(line))
		case entries[i-1].Outcome == journal.OutcomeFailed:
			out.Println(out.Failure(line))
		default:
			out.Println(line)
		}
	}
}

// tabwriterBuffer collects tabwriter output line by line.
type tabwriterBuffer struct {
	lines   []string
	partial []byte
}

func (b *tabwriterBuffer) Write(p []byte) (int, error) {
	for _, c := range p {
		if c == '\n' {
			b.lines = append(b.lines, string(b.partial))
			b.partial = b.partial[:0]
			continue
		}
		b.partial = append(b.partial, c)
	}
	return len(p), nil
}
