package tagging

import (
	"context"
	"fmt"
)

// Change is one entry of the pairing change log.
type Change struct {
	Seq      int64
	Op       Op
	Tag      uint64
	Taggable uint64
}

// Tag is a registered tag.
type Tag struct {
	ID   uint64
	Name string
}

// History returns every recorded change touching taggable, oldest first.
func (s *Service) History(ctx context.Context, taggable uint64) ([]Change, error) {
	rows, err := s.h.All(ctx, `
		SELECT seq, op, tag_id, taggable_id
		FROM pairing_changes
		WHERE taggable_id = ?
		ORDER BY seq
	`, toSQL(taggable))
	if err != nil {
		return nil, fmt.Errorf("history of %d: %w", taggable, err)
	}
	changes := make([]Change, 0, len(rows))
	for _, row := range rows {
		seq, _ := row["seq"].(int64)
		op, _ := row["op"].(string)
		changes = append(changes, Change{
			Seq:      seq,
			Op:       Op(op),
			Tag:      fromSQL(row["tag_id"]),
			Taggable: fromSQL(row["taggable_id"]),
		})
	}
	return changes, nil
}

// NameTag registers tag if needed and sets its display name. The engine
// only knows ids, so no engine command is issued.
func (s *Service) NameTag(ctx context.Context, tag uint64, name string) error {
	err := s.h.Exec(ctx, `
		INSERT INTO tags (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, toSQL(tag), name)
	if err != nil {
		return fmt.Errorf("name tag %d: %w", tag, err)
	}
	return nil
}

// Tags lists registered tags ordered by id. It reads without the
// transaction mutex and may observe a transaction in progress.
func (s *Service) Tags(ctx context.Context) ([]Tag, error) {
	rows, err := s.h.AllSelect(ctx, "SELECT id, name FROM tags ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	tags := make([]Tag, 0, len(rows))
	for _, row := range rows {
		name, _ := row["name"].(string)
		tags = append(tags, Tag{ID: fromSQL(row["id"]), Name: name})
	}
	return tags, nil
}
