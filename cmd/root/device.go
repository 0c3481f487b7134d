package root

import (
	"github.com/spf13/cobra"

	"github.com/docker/keytrail/pkg/cli"
	"github.com/docker/keytrail/pkg/deviceid"
	"github.com/docker/keytrail/pkg/userconfig"
)

func newDeviceIDCmd() *cobra.Command {
	var showPath bool

	cmd := &cobra.Command{
		Use:     "device-id",
		Short:   "Print the identifier attached to reports from this install",
		GroupID: "advanced",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := userconfig.Load()
			if err != nil {
				return err
			}

			store := deviceid.Store{Dir: config.StateDir}
			out := cli.NewPrinter(cmd.OutOrStdout())
			if showPath {
				out.Println(store.Path())
				return nil
			}

			id, persisted := store.Load()
			out.Println(id)
			if !persisted {
				cli.NewPrinter(cmd.ErrOrStderr()).Println("warning: the identifier could not be saved and will change on the next run")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showPath, "path", false, "Print the location of the identifier file instead")

	return cmd
}
