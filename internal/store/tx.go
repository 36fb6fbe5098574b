package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Begin opens a transaction scope and returns the Handle to use inside it.
//
// Inside an existing transaction Begin only increments the depth. At depth
// 0 it acquires the transaction mutex, issues BEGIN to SQLite and
// begin_transaction to the engine. If the engine fails or does not
// acknowledge, end_transaction is still sent so the engine never holds an
// unmatched begin, the SQLite transaction is rolled back, the mutex released
// and ErrEngineTimeout (or the engine error) returned.
func (h Handle) Begin(ctx context.Context) (Handle, error) {
	if h.depth > 0 {
		h.depth++
		return h, nil
	}

	if err := h.txMu.Acquire(ctx, 1); err != nil {
		return h, fmt.Errorf("begin transaction: %w", err)
	}
	tx := h
	tx.depth = 1

	if err := tx.Exec(ctx, "BEGIN TRANSACTION;"); err != nil {
		h.txMu.Release(1)
		return h, fmt.Errorf("begin transaction: %w", err)
	}

	if h.engine != nil {
		ok, err := h.engine.BeginTransaction(ctx)
		if err == nil && !ok {
			err = ErrEngineTimeout
		}
		if err != nil {
			bg := context.WithoutCancel(ctx)
			if ok, endErr := h.engine.EndTransaction(bg); endErr != nil || !ok {
				slog.Warn("end after failed engine begin", "answered", ok, "error", endErr)
			}
			if rbErr := tx.Exec(bg, "ROLLBACK;"); rbErr != nil {
				slog.Error("rollback after failed engine begin", "error", rbErr)
			}
			h.txMu.Release(1)
			return h, fmt.Errorf("begin transaction: engine: %w", err)
		}
	}

	slog.Debug("transaction opened")
	return tx, nil
}

// End closes the scope h belongs to and returns the Handle for the
// enclosing scope.
//
// Above depth 1 End only decrements. At depth 1 it issues
// end_transaction to the engine, COMMIT to SQLite and releases the
// transaction mutex. The engine cannot roll back, so COMMIT is issued even
// when the engine reports a failure; that failure is still returned.
func (h Handle) End(ctx context.Context) (Handle, error) {
	switch {
	case h.depth == 0:
		return h, ErrNoTransaction
	case h.depth > 1:
		h.depth--
		return h, nil
	}

	outer := h
	outer.depth = 0
	defer h.txMu.Release(1)

	// Boundaries run to completion regardless of caller cancellation.
	ctx = context.WithoutCancel(ctx)

	var engineErr error
	if h.engine != nil {
		ok, err := h.engine.EndTransaction(ctx)
		if err == nil && !ok {
			err = ErrEngineTimeout
		}
		if err != nil {
			engineErr = fmt.Errorf("end transaction: engine: %w", err)
		}
	}

	var commitErr error
	if err := h.Exec(ctx, "COMMIT;"); err != nil {
		commitErr = fmt.Errorf("end transaction: %w", err)
	}

	slog.Debug("transaction committed", "engine_error", engineErr, "commit_error", commitErr)
	return outer, errors.Join(engineErr, commitErr)
}

// WithTransaction runs fn inside a transaction scope derived from h. The
// scope is always ended, even when fn fails, because the engine side has
// no rollback; fn's error and any End error are both returned.
func WithTransaction(ctx context.Context, h Handle, fn func(tx Handle) error) error {
	tx, err := h.Begin(ctx)
	if err != nil {
		return err
	}
	fnErr := fn(tx)
	_, endErr := tx.End(ctx)
	return errors.Join(fnErr, endErr)
}
