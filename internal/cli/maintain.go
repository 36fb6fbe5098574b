package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewFlushCommand creates the flush command.
func NewFlushCommand(rootOpts *RootOptions) *cobra.Command {
	return newMaintenanceCommand(rootOpts, "flush", "Persist pending engine changes",
		func(ctx context.Context, s *session) error { return s.svc.Flush(ctx) })
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	return newMaintenanceCommand(rootOpts, "purge", "Flush, then drop taggables no tag references",
		func(ctx context.Context, s *session) error { return s.svc.Purge(ctx) })
}

func newMaintenanceCommand(rootOpts *RootOptions, name, short string, run func(context.Context, *session) error) *cobra.Command {
	return &cobra.Command{
		Use:           name,
		Short:         short,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			return withSession(cmd.Context(), rootOpts, true, func(s *session) error {
				if err := run(cmd.Context(), s); err != nil {
					return wrapOperationError(name+" failed", err)
				}
				return formatter.Success("✓ " + name + " complete")
			})
		},
	}
}
