// Package store provides SQLite-backed relational storage and the access
// layer that keeps it consistent with the perftags engine.
//
// SQLite is reached through one dedicated connection that must never see
// overlapping calls. Every statement goes through a Handle, which
// serializes callers with two FIFO mutexes:
//
//   - statement mutex: held for the duration of each driver call
//   - transaction mutex: held from the outermost Begin to the matching End,
//     and around every statement issued outside a transaction
//
// Lock order is always transaction mutex, then statement mutex.
//
// # Nested transactions
//
// Begin and End are reentrant. Only the outermost pair acquires the
// transaction mutex and issues BEGIN/COMMIT to SQLite together with
// begin_transaction/end_transaction to the engine. Inner pairs only adjust
// the depth carried by the returned Handle, which is why callers must keep
// using the Handle returned by Begin for the rest of that scope.
//
// # Schema
//
// Open runs in WAL mode with foreign keys enforced, so a pairing change can
// only name known tags and taggables and must be dropped before either is
// deleted. Upgrades are keyed on PRAGMA user_version.
package store
