// Package tagging applies tag pairing changes to the relational store and
// the tag index engine as one unit.
//
// Every mutation runs inside store.WithTransaction, so the SQLite rows and
// the engine command share a single cross-store transaction. The engine
// layer reports an unanswered command as a false result; this package turns
// that into an error wrapping ErrEngineTimeout so callers cannot ignore it.
//
// The relational side records tags, taggables and an append-only log of
// pairing changes. The pairing sets themselves live only in the engine.
package tagging
