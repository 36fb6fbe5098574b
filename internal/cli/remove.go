package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// RemovedResult is the output of delete-tags and delete-taggables.
type RemovedResult struct {
	Kind string   `json:"kind"`
	IDs  []uint64 `json:"ids"`
}

func (r RemovedResult) Text() string {
	return fmt.Sprintf("✓ deleted %d %s(s)\n", len(r.IDs), r.Kind)
}

// NewDeleteTagsCommand creates the delete-tags command.
func NewDeleteTagsCommand(rootOpts *RootOptions) *cobra.Command {
	return newRemoveCommand(rootOpts, "delete-tags", "tag",
		func(ctx context.Context, s *session, ids []uint64) error { return s.svc.DeleteTags(ctx, ids) })
}

// NewDeleteTaggablesCommand creates the delete-taggables command.
func NewDeleteTaggablesCommand(rootOpts *RootOptions) *cobra.Command {
	return newRemoveCommand(rootOpts, "delete-taggables", "taggable",
		func(ctx context.Context, s *session, ids []uint64) error { return s.svc.DeleteTaggables(ctx, ids) })
}

func newRemoveCommand(rootOpts *RootOptions, name, kind string, run func(context.Context, *session, []uint64) error) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <" + kind + ">...",
		Short: fmt.Sprintf("Remove %ss and every pairing that references them", kind),
		Long: fmt.Sprintf(`Remove %[1]ss from the relational store and the engine.

Their recorded pairing changes are dropped with them. The relational
rows and the engine command share one transaction.

Example:
  tagsync %[2]s 5 6`, kind, name),
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid "+kind, err)
			}
			formatter := rootOpts.formatter(cmd)

			return withSession(cmd.Context(), rootOpts, true, func(s *session) error {
				if err := run(cmd.Context(), s, ids); err != nil {
					return wrapOperationError(name+" failed", err)
				}
				return formatter.Success(RemovedResult{Kind: kind, IDs: ids})
			})
		},
	}
}
