package root

import (
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/docker/keytrail/pkg/cli"
	"github.com/docker/keytrail/pkg/telemetry"
	"github.com/docker/keytrail/pkg/userconfig"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage user configuration",
		Long:  "View and manage user-level keytrail configuration stored in ~/.config/keytrail/config.yaml",
		Example: `  # Show the current configuration
  keytrail config show

  # Show the settings the pipeline runs with, defaults and environment included
  keytrail config show --effective

  # Lower the batch size
  keytrail config set telemetry.batch_size 20`,
		GroupID: "advanced",
		RunE:    runConfigShowCommand,
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigSetCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current configuration",
		Long:  "Display the current user configuration in YAML format. The API key is masked.",
		Args:  cobra.NoArgs,
		RunE:  runConfigShowCommand,
	}
	cmd.Flags().Bool("effective", false, "Show the resolved telemetry settings instead of the file")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the path to the config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigPathCommand,
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one setting",
		Long:  "Change one setting. Valid keys:\n  " + strings.Join(userconfig.Keys(), "\n  "),
		Args:  cobra.ExactArgs(2),
		RunE:  runConfigSetCommand,
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 0 {
				return userconfig.Keys(), cobra.ShellCompDirectiveNoFileComp
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
	}
}

func runConfigShowCommand(cmd *cobra.Command, _ []string) error {
	out := cli.NewPrinter(cmd.OutOrStdout())

	config, err := userconfig.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var view any = maskSecrets(*config)
	if effective, _ := cmd.Flags().GetBool("effective"); effective {
		config.ApplyEnv()
		cfg, err := config.TelemetryConfig()
		if err != nil {
			return err
		}
		view = effectiveView(cfg)
	}

	data, err := yaml.MarshalWithOptions(view, yaml.IndentSequence(true), yaml.UseSingleQuote(false))
	if err != nil {
		return fmt.Errorf("failed to format config: %w", err)
	}

	out.Print(string(data))
	return nil
}

func maskSecrets(c userconfig.Config) userconfig.Config {
	if c.Collector.APIKey != "" {
		c.Collector.APIKey = "****"
	}
	return c
}

func effectiveView(c telemetry.Config) yaml.MapSlice {
	return yaml.MapSlice{
		{Key: "enabled", Value: c.Enabled},
		{Key: "report_enabled", Value: c.ReportEnabled},
		{Key: "report_interval", Value: c.ReportInterval.String()},
		{Key: "batch_size", Value: c.BatchSize},
		{Key: "retry_attempts", Value: c.RetryAttempts},
		{Key: "retry_delay", Value: c.RetryDelay.String()},
		{Key: "max_retry_delay", Value: c.MaxRetryDelay.String()},
		{Key: "request_timeout", Value: c.RequestTimeout.String()},
		{Key: "flush_delay", Value: c.FlushDelay.String()},
		{Key: "queue_capacity", Value: c.QueueCapacity},
		{Key: "failed_queue_multiplier", Value: c.FailedQueueMultiplier},
		{Key: "suggestion_max_age", Value: c.SuggestionMaxAge.String()},
		{Key: "session_gap", Value: c.SessionGap.String()},
	}
}

func runConfigPathCommand(cmd *cobra.Command, _ []string) error {
	out := cli.NewPrinter(cmd.OutOrStdout())
	out.Println(userconfig.Path())
	return nil
}

func runConfigSetCommand(cmd *cobra.Command, args []string) error {
	config, err := userconfig.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Set(args[0], args[1]); err != nil {
		return err
	}
	if err := config.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	out := cli.NewPrinter(cmd.OutOrStdout())
	out.Printf("%s = %s\n", args[0], args[1])
	return nil
}
