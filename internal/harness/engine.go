package harness

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/roach88/tagsync/internal/codec"
)

// MemoryEngine is an in-process tag index engine. It satisfies
// tagging.Engine and records every command in a trace.
type MemoryEngine struct {
	mu      sync.Mutex
	seq     int64
	trace   []TraceEvent
	tags    map[uint64]*roaring64.Bitmap // taggable -> tags
	silence map[string]bool
}

// NewMemoryEngine returns an empty engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		tags:    make(map[uint64]*roaring64.Bitmap),
		silence: make(map[string]bool),
	}
}

// Silence makes the given commands go unanswered until Unsilence.
func (e *MemoryEngine) Silence(commands ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range commands {
		e.silence[c] = true
	}
}

// Unsilence answers every command again.
func (e *MemoryEngine) Unsilence() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.silence)
}

// Trace returns a copy of the recorded commands.
func (e *MemoryEngine) Trace() []TraceEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]TraceEvent(nil), e.trace...)
}

// TagsOf returns the tags of taggable in ascending order without recording
// a command.
func (e *MemoryEngine) TagsOf(taggable uint64) []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return tagsOf(e.tags[taggable])
}

func tagsOf(b *roaring64.Bitmap) []uint64 {
	if b == nil || b.IsEmpty() {
		return []uint64{}
	}
	return b.ToArray()
}

// record appends a trace event and reports whether the command is answered.
// Callers hold e.mu.
func (e *MemoryEngine) record(command string, payload []byte) bool {
	e.seq++
	answered := !e.silence[command]
	e.trace = append(e.trace, TraceEvent{
		Seq:      e.seq,
		Command:  command,
		Payload:  hex.EncodeToString(payload),
		Answered: answered,
	})
	return answered
}

func (e *MemoryEngine) command(command string, payload []byte) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record(command, payload), nil
}

func (e *MemoryEngine) pairingCommand(command string, p codec.Pairings, apply func(b *roaring64.Bitmap, tag uint64)) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	answered := e.record(command, codec.EncodePairings(p))
	for _, pairing := range p {
		for _, taggable := range pairing.Taggables {
			b, ok := e.tags[taggable]
			if !ok {
				b = roaring64.New()
				e.tags[taggable] = b
			}
			apply(b, pairing.Tag)
		}
	}
	return answered, nil
}

func (e *MemoryEngine) BeginTransaction(context.Context) (bool, error) {
	return e.command("begin_transaction", nil)
}

func (e *MemoryEngine) EndTransaction(context.Context) (bool, error) {
	return e.command("end_transaction", nil)
}

func (e *MemoryEngine) InsertFiles(_ context.Context, ids []uint64) (bool, error) {
	return e.command("insert_files", codec.EncodeIDs(ids))
}

func (e *MemoryEngine) InsertTags(_ context.Context, ids []uint64) (bool, error) {
	return e.command("insert_tags", codec.EncodeIDs(ids))
}

func (e *MemoryEngine) InsertTagPairings(_ context.Context, p codec.Pairings) (bool, error) {
	return e.pairingCommand("insert_tag_pairings", p, func(b *roaring64.Bitmap, tag uint64) {
		b.Add(tag)
	})
}

func (e *MemoryEngine) ToggleTagPairings(_ context.Context, p codec.Pairings) (bool, error) {
	return e.pairingCommand("toggle_tag_pairings", p, func(b *roaring64.Bitmap, tag uint64) {
		if !b.CheckedAdd(tag) {
			b.Remove(tag)
		}
	})
}

func (e *MemoryEngine) DeleteTagPairings(_ context.Context, p codec.Pairings) (bool, error) {
	return e.pairingCommand("delete_tag_pairings", p, func(b *roaring64.Bitmap, tag uint64) {
		b.Remove(tag)
	})
}

// DeleteTags drops tags from every taggable.
func (e *MemoryEngine) DeleteTags(_ context.Context, ids []uint64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	answered := e.record("delete_tags", codec.EncodeIDs(ids))
	drop := roaring64.BitmapOf(ids...)
	for _, b := range e.tags {
		b.AndNot(drop)
	}
	return answered, nil
}

// DeleteTaggables forgets taggables and their tags.
func (e *MemoryEngine) DeleteTaggables(_ context.Context, ids []uint64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	answered := e.record("delete_taggables", codec.EncodeIDs(ids))
	for _, id := range ids {
		delete(e.tags, id)
	}
	return answered, nil
}

// ReadFilesTags answers with one record per requested file, keyed by file.
func (e *MemoryEngine) ReadFilesTags(_ context.Context, files []uint64) (codec.Pairings, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.record("read_files_tags", codec.EncodeIDs(files)) {
		return nil, false, nil
	}
	out := make(codec.Pairings, 0, len(files))
	for _, file := range files {
		out = append(out, codec.Pairing{Tag: file, Taggables: tagsOf(e.tags[file])})
	}
	return out, true, nil
}

func (e *MemoryEngine) FlushFiles(context.Context) (bool, error) {
	return e.command("flush_files", nil)
}

// PurgeUnusedFiles flushes, then drops taggables with no tags.
func (e *MemoryEngine) PurgeUnusedFiles(context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.record("flush_files", nil) {
		return false, nil
	}
	answered := e.record("purge_unused_files", nil)
	for taggable, b := range e.tags {
		if b.IsEmpty() {
			delete(e.tags, taggable)
		}
	}
	return answered, nil
}
