package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tagsync/internal/codec"
	"github.com/roach88/tagsync/internal/tagging"
)

// PairingResult is the output of insert, toggle and delete.
type PairingResult struct {
	Op        tagging.Op `json:"op"`
	Tags      int        `json:"tags"`
	Taggables int        `json:"taggables"`
	Pairs     int        `json:"pairs"`
}

func (r PairingResult) Text() string {
	return fmt.Sprintf("✓ %s: %d pair(s) across %d tag(s) and %d taggable(s)\n", r.Op, r.Pairs, r.Tags, r.Taggables)
}

// newPairingCommand creates insert, toggle or delete.
func newPairingCommand(rootOpts *RootOptions, name, short string) *cobra.Command {
	op, err := tagging.ParseOp(name)
	if err != nil {
		panic(err)
	}
	var extraTags []string

	cmd := &cobra.Command{
		Use:   name + " <tag> <taggable>...",
		Short: short,
		Long: fmt.Sprintf(`%s for the given tag and taggables.

The relational rows and the engine command share one transaction. Extra
tags can be given with --tag; each tag is paired with every taggable.

Example:
  tagsync %s 5 10 11
  tagsync %s --tag 6 --tag 7 5 10`, short, name, name),
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			tags, err := parseIDs(append([]string{args[0]}, extraTags...))
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid tag", err)
			}
			files, err := parseIDs(args[1:])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid taggable", err)
			}
			return runPairing(cmd, rootOpts, op, buildPairings(tags, files))
		},
	}

	cmd.Flags().StringArrayVar(&extraTags, "tag", nil, "additional tag id (repeatable)")

	return cmd
}

func runPairing(cmd *cobra.Command, opts *RootOptions, op tagging.Op, p codec.Pairings) error {
	formatter := opts.formatter(cmd)
	formatter.VerboseLog("Applying %s: %d pair(s) across %d tag(s)", op, p.Len(), len(p))

	return withSession(cmd.Context(), opts, true, func(s *session) error {
		if err := s.svc.Apply(cmd.Context(), op, p); err != nil {
			return wrapOperationError(fmt.Sprintf("%s failed", op), err)
		}
		pairs := 0
		for _, pairing := range p {
			pairs += len(pairing.Taggables)
		}
		return formatter.Success(PairingResult{
			Op:        op,
			Tags:      len(p.Tags()),
			Taggables: len(p.Taggables()),
			Pairs:     pairs,
		})
	})
}

// buildPairings pairs every tag with every file, skipping repeated tags.
func buildPairings(tags, files []uint64) codec.Pairings {
	seen := make(map[uint64]bool, len(tags))
	p := make(codec.Pairings, 0, len(tags))
	for _, tag := range tags {
		if seen[tag] {
			continue
		}
		seen[tag] = true
		p = append(p, codec.Pairing{Tag: tag, Taggables: files})
	}
	return p
}

func parseIDs(args []string) ([]uint64, error) {
	ids := make([]uint64, 0, len(args))
	for _, arg := range args {
		for _, field := range strings.Split(arg, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			id, err := strconv.ParseUint(field, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not an unsigned 64-bit id", field)
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no ids given")
	}
	return ids, nil
}
