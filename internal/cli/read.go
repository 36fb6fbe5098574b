package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// TaggableTags lists the tags of one taggable.
type TaggableTags struct {
	Taggable uint64   `json:"taggable"`
	Tags     []uint64 `json:"tags"`
}

// ReadResult is the output of read.
type ReadResult []TaggableTags

func (r ReadResult) Text() string {
	var b strings.Builder
	for _, t := range r {
		fmt.Fprintf(&b, "%d:", t.Taggable)
		for _, tag := range t.Tags {
			fmt.Fprintf(&b, " %d", tag)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// NewReadCommand creates the read command.
func NewReadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "read <taggable>...",
		Short: "Print the tags of each taggable",
		Long: `Ask the engine for the tags currently paired with each taggable.

Example:
  tagsync read 10 11
  tagsync read --format json 10,11,12`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := parseIDs(args)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid taggable", err)
			}
			formatter := rootOpts.formatter(cmd)

			return withSession(cmd.Context(), rootOpts, true, func(s *session) error {
				pairings, err := s.svc.TagsOf(cmd.Context(), files)
				if err != nil {
					return wrapOperationError("read failed", err)
				}
				result := make(ReadResult, 0, len(pairings))
				for _, p := range pairings {
					tags := p.Taggables
					if tags == nil {
						tags = []uint64{}
					}
					result = append(result, TaggableTags{Taggable: p.Tag, Tags: tags})
				}
				return formatter.Success(result)
			})
		},
	}
}
