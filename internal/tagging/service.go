package tagging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/tagsync/internal/codec"
	"github.com/roach88/tagsync/internal/store"
)

// ErrEngineTimeout is wrapped by every error reporting an engine command
// that did not answer in time, transaction boundaries included.
var ErrEngineTimeout = store.ErrEngineTimeout

// rowsPerStatement keeps multi-row inserts under SQLite's variable limit.
const rowsPerStatement = 300

// Op is a kind of pairing change.
type Op string

const (
	OpInsert Op = "insert"
	OpToggle Op = "toggle"
	OpDelete Op = "delete"
)

// ParseOp returns the Op named by s.
func ParseOp(s string) (Op, error) {
	switch op := Op(s); op {
	case OpInsert, OpToggle, OpDelete:
		return op, nil
	}
	return "", fmt.Errorf("unknown pairing op %q", s)
}

// Engine is the tag index engine surface the service drives.
// *perftags.Client satisfies it.
type Engine interface {
	store.TagEngine
	InsertFiles(ctx context.Context, ids []uint64) (bool, error)
	InsertTags(ctx context.Context, ids []uint64) (bool, error)
	InsertTagPairings(ctx context.Context, p codec.Pairings) (bool, error)
	ToggleTagPairings(ctx context.Context, p codec.Pairings) (bool, error)
	DeleteTagPairings(ctx context.Context, p codec.Pairings) (bool, error)
	DeleteTags(ctx context.Context, ids []uint64) (bool, error)
	DeleteTaggables(ctx context.Context, ids []uint64) (bool, error)
	ReadFilesTags(ctx context.Context, files []uint64) (codec.Pairings, bool, error)
	FlushFiles(ctx context.Context) (bool, error)
	PurgeUnusedFiles(ctx context.Context) (bool, error)
}

// Service applies pairing changes through a shared store.Handle.
type Service struct {
	h      store.Handle
	engine Engine
	logger *slog.Logger
}

// New returns a Service issuing statements through h and engine commands
// through engine. h must carry engine as its transaction partner.
func New(h store.Handle, engine Engine) *Service {
	return &Service{
		h:      h,
		engine: engine,
		logger: slog.Default().With("component", "tagging"),
	}
}

// Apply records p under op in the relational store and sends the matching
// command to the engine, all within one transaction scope.
//
// Tags and taggables are registered with both stores before an insert or
// toggle so the engine never sees an unknown id.
func (s *Service) Apply(ctx context.Context, op Op, p codec.Pairings) error {
	if p.Len() == 0 {
		return nil
	}
	tags, files := p.Tags(), p.Taggables()

	err := store.WithTransaction(ctx, s.h, func(tx store.Handle) error {
		if err := insertIDs(ctx, tx, "tags", tags); err != nil {
			return fmt.Errorf("record tags: %w", err)
		}
		if err := insertIDs(ctx, tx, "taggables", files); err != nil {
			return fmt.Errorf("record taggables: %w", err)
		}
		if err := recordChanges(ctx, tx, op, p); err != nil {
			return fmt.Errorf("record %s changes: %w", op, err)
		}

		if op != OpDelete {
			if err := s.call(ctx, "insert_files", func() (bool, error) {
				return s.engine.InsertFiles(ctx, files)
			}); err != nil {
				return err
			}
			if err := s.call(ctx, "insert_tags", func() (bool, error) {
				return s.engine.InsertTags(ctx, tags)
			}); err != nil {
				return err
			}
		}

		switch op {
		case OpInsert:
			return s.call(ctx, "insert_tag_pairings", func() (bool, error) {
				return s.engine.InsertTagPairings(ctx, p)
			})
		case OpToggle:
			return s.call(ctx, "toggle_tag_pairings", func() (bool, error) {
				return s.engine.ToggleTagPairings(ctx, p)
			})
		case OpDelete:
			return s.call(ctx, "delete_tag_pairings", func() (bool, error) {
				return s.engine.DeleteTagPairings(ctx, p)
			})
		}
		return fmt.Errorf("unknown pairing op %q", op)
	})
	if err != nil {
		return fmt.Errorf("apply %s: %w", op, err)
	}

	s.logger.Debug("pairings applied", "op", op, "tags", len(tags), "taggables", len(files))
	return nil
}

// DeleteTags removes tags from both stores. Their change history goes with
// them, and the engine drops every pairing that references them.
func (s *Service) DeleteTags(ctx context.Context, tags []uint64) error {
	if len(tags) == 0 {
		return nil
	}
	err := store.WithTransaction(ctx, s.h, func(tx store.Handle) error {
		if err := deleteIDs(ctx, tx, "pairing_changes", "tag_id", tags); err != nil {
			return fmt.Errorf("drop history: %w", err)
		}
		if err := deleteIDs(ctx, tx, "tags", "id", tags); err != nil {
			return fmt.Errorf("drop tags: %w", err)
		}
		return s.call(ctx, "delete_tags", func() (bool, error) {
			return s.engine.DeleteTags(ctx, tags)
		})
	})
	if err != nil {
		return fmt.Errorf("delete tags: %w", err)
	}
	s.logger.Debug("tags deleted", "tags", len(tags))
	return nil
}

// DeleteTaggables is DeleteTags for taggables.
func (s *Service) DeleteTaggables(ctx context.Context, files []uint64) error {
	if len(files) == 0 {
		return nil
	}
	err := store.WithTransaction(ctx, s.h, func(tx store.Handle) error {
		if err := deleteIDs(ctx, tx, "pairing_changes", "taggable_id", files); err != nil {
			return fmt.Errorf("drop history: %w", err)
		}
		if err := deleteIDs(ctx, tx, "taggables", "id", files); err != nil {
			return fmt.Errorf("drop taggables: %w", err)
		}
		return s.call(ctx, "delete_taggables", func() (bool, error) {
			return s.engine.DeleteTaggables(ctx, files)
		})
	})
	if err != nil {
		return fmt.Errorf("delete taggables: %w", err)
	}
	s.logger.Debug("taggables deleted", "taggables", len(files))
	return nil
}

// TagsOf returns the tags of each taggable in files, keyed by taggable.
func (s *Service) TagsOf(ctx context.Context, files []uint64) (codec.Pairings, error) {
	var out codec.Pairings
	err := s.call(ctx, "read_files_tags", func() (bool, error) {
		var (
			ok  bool
			err error
		)
		out, ok, err = s.engine.ReadFilesTags(ctx, files)
		return ok, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Flush asks the engine to persist pending changes.
func (s *Service) Flush(ctx context.Context) error {
	return s.call(ctx, "flush_files", func() (bool, error) {
		return s.engine.FlushFiles(ctx)
	})
}

// Purge flushes and then drops taggables no tag references.
func (s *Service) Purge(ctx context.Context) error {
	return s.call(ctx, "purge_unused_files", func() (bool, error) {
		return s.engine.PurgeUnusedFiles(ctx)
	})
}

// call runs an engine command and turns an unanswered command into an error.
func (s *Service) call(ctx context.Context, command string, fn func() (bool, error)) error {
	ok, err := fn()
	if err != nil {
		return fmt.Errorf("%s: %w", command, err)
	}
	if !ok {
		s.logger.WarnContext(ctx, "engine command timed out", "command", command)
		return fmt.Errorf("%s: %w", command, ErrEngineTimeout)
	}
	return nil
}

func insertIDs(ctx context.Context, h store.Handle, table string, ids []uint64) error {
	for start := 0; start < len(ids); start += rowsPerStatement {
		chunk := ids[start:min(start+rowsPerStatement, len(ids))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = toSQL(id)
		}
		query := fmt.Sprintf("INSERT OR IGNORE INTO %s (id) VALUES %s", table, store.Tuples(len(chunk), 1))
		if err := h.Exec(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

func deleteIDs(ctx context.Context, h store.Handle, table, column string, ids []uint64) error {
	for start := 0; start < len(ids); start += rowsPerStatement {
		chunk := ids[start:min(start+rowsPerStatement, len(ids))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = toSQL(id)
		}
		query := fmt.Sprintf("DELETE FROM %s WHERE %s IN %s", table, column, store.Placeholders(len(chunk)))
		if err := h.Exec(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

func recordChanges(ctx context.Context, h store.Handle, op Op, p codec.Pairings) error {
	args := make([]any, 0, 3*rowsPerStatement)
	flush := func() error {
		if len(args) == 0 {
			return nil
		}
		query := "INSERT INTO pairing_changes (op, tag_id, taggable_id) VALUES " + store.Tuples(len(args)/3, 3)
		err := h.Exec(ctx, query, args...)
		args = args[:0]
		return err
	}
	for _, pairing := range p {
		for _, file := range pairing.Taggables {
			args = append(args, string(op), toSQL(pairing.Tag), toSQL(file))
			if len(args) == 3*rowsPerStatement {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	return flush()
}

// SQLite integers are signed; ids keep their bit pattern.
func toSQL(id uint64) int64 { return int64(id) }

func fromSQL(v any) uint64 {
	n, _ := v.(int64)
	return uint64(n)
}
