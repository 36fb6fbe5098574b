package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tagsync/internal/tagging"
)

// HistoryEntry is one change in history output.
type HistoryEntry struct {
	Seq      int64      `json:"seq"`
	Op       tagging.Op `json:"op"`
	Tag      uint64     `json:"tag"`
	Taggable uint64     `json:"taggable"`
}

// HistoryResult is the output of history.
type HistoryResult []HistoryEntry

func (r HistoryResult) Text() string {
	if len(r) == 0 {
		return "No recorded changes\n"
	}
	var b strings.Builder
	for _, e := range r {
		fmt.Fprintf(&b, "%6d  %-6s  tag %d\n", e.Seq, e.Op, e.Tag)
	}
	return b.String()
}

// TagEntry is one tag in tags output.
type TagEntry struct {
	ID   uint64 `json:"id"`
	Name string `json:"name,omitempty"`
}

// TagsResult is the output of tags.
type TagsResult []TagEntry

func (r TagsResult) Text() string {
	if len(r) == 0 {
		return "No tags\n"
	}
	var b strings.Builder
	for _, t := range r {
		if t.Name == "" {
			fmt.Fprintf(&b, "%d\n", t.ID)
			continue
		}
		fmt.Fprintf(&b, "%d\t%s\n", t.ID, t.Name)
	}
	return b.String()
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <taggable>",
		Short: "Show recorded pairing changes for a taggable",
		Long: `Show every recorded pairing change touching a taggable, oldest first.

Only the relational store is read; the engine is not started.

Example:
  tagsync history 10`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil || len(ids) != 1 {
				return WrapExitError(ExitCommandError, "invalid taggable", err)
			}
			formatter := rootOpts.formatter(cmd)

			return withSession(cmd.Context(), rootOpts, false, func(s *session) error {
				changes, err := s.svc.History(cmd.Context(), ids[0])
				if err != nil {
					return wrapOperationError("history failed", err)
				}
				result := make(HistoryResult, 0, len(changes))
				for _, c := range changes {
					result = append(result, HistoryEntry(c))
				}
				return formatter.Success(result)
			})
		},
	}
}

// NewTagsCommand creates the tags command.
func NewTagsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "tags",
		Short:         "List registered tags",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			return withSession(cmd.Context(), rootOpts, false, func(s *session) error {
				tags, err := s.svc.Tags(cmd.Context())
				if err != nil {
					return wrapOperationError("listing tags failed", err)
				}
				result := make(TagsResult, 0, len(tags))
				for _, t := range tags {
					result = append(result, TagEntry(t))
				}
				return formatter.Success(result)
			})
		},
	}
}

// NewNameCommand creates the name command.
func NewNameCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "name <tag> <name>",
		Short: "Set a tag's display name",
		Long: `Set a tag's display name, registering the tag if needed.

Names live in the relational store only; the engine is not started.

Example:
  tagsync name 5 holiday`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args[:1])
			if err != nil || len(ids) != 1 {
				return WrapExitError(ExitCommandError, "invalid tag", err)
			}
			name := strings.TrimSpace(args[1])
			if name == "" {
				return NewExitError(ExitCommandError, "tag name cannot be empty")
			}
			formatter := rootOpts.formatter(cmd)

			return withSession(cmd.Context(), rootOpts, false, func(s *session) error {
				if err := s.svc.NameTag(cmd.Context(), ids[0], name); err != nil {
					return wrapOperationError("naming tag failed", err)
				}
				return formatter.Success(TagEntry{ID: ids[0], Name: name})
			})
		},
	}
}

func (t TagEntry) Text() string {
	return fmt.Sprintf("✓ tag %d is now %q\n", t.ID, t.Name)
}
