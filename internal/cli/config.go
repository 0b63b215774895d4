package cli

import (
	"github.com/spf13/cobra"
)

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults, the config file and LADYBUG_*
environment variables are applied. The text output is a valid config file.

Examples:
  ladybug config > .ladybug.yaml
  LADYBUG_STORAGE_TYPE=memory ladybug config --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(rootOpts, cmd)
		},
	}
}

func runConfig(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if opts.Format == "json" {
		return formatter.Success(cfg)
	}
	out, err := cfg.YAML()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to render configuration", err)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
