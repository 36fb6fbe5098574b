package cli

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tagsync/internal/config"
)

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		Long: `Print the configuration after defaults, the config file and flags are
applied. Text output is YAML and can be used as a config file.

Example:
  tagsync config --engine /opt/perftags/perftags > tagsync.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			file := config.FromConfig(rootOpts.Config)
			formatter := rootOpts.formatter(cmd)
			if formatter.Format == "json" {
				return formatter.Success(file)
			}

			encoder := yaml.NewEncoder(formatter.Writer)
			encoder.SetIndent(2)
			if err := encoder.Encode(file); err != nil {
				return WrapExitError(ExitFailure, "failed to render config", err)
			}
			return encoder.Close()
		},
	}
}
