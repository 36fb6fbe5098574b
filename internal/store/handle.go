package store

import (
	"context"
	"database/sql"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Conn is the driver surface a Handle needs. *sql.Conn satisfies it.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// TagEngine is the engine side of a cross-store transaction.
// *perftags.Client satisfies it. A false result means the engine did not
// acknowledge the boundary in time.
type TagEngine interface {
	BeginTransaction(ctx context.Context) (bool, error)
	EndTransaction(ctx context.Context) (bool, error)
}

// Row is one result row keyed by column name.
type Row map[string]any

// Handle is the context threaded through every data-access call.
//
// A Handle is a small value. Copies share the connection, both mutexes and
// the engine; only the transaction depth is per-copy. Begin and End return
// new Handles and the caller must use those for the rest of the scope.
type Handle struct {
	conn   Conn
	stmtMu *semaphore.Weighted
	txMu   *semaphore.Weighted
	engine TagEngine
	depth  int
}

// NewHandle returns a root Handle over conn with no open transaction.
// Exactly one root should exist per connection.
func NewHandle(conn Conn, engine TagEngine) Handle {
	return Handle{
		conn:   conn,
		stmtMu: semaphore.NewWeighted(1),
		txMu:   semaphore.NewWeighted(1),
		engine: engine,
	}
}

// Depth reports the transaction nesting depth; 0 means none is open.
func (h Handle) Depth() int {
	return h.depth
}

// InTransaction reports whether h carries an open transaction.
func (h Handle) InTransaction() bool {
	return h.depth > 0
}

// Engine returns the engine bundled with h, or nil.
func (h Handle) Engine() TagEngine {
	return h.engine
}

// Exec runs a statement that returns no rows.
func (h Handle) Exec(ctx context.Context, query string, args ...any) error {
	return h.gate(ctx, true, query, args, func(ctx context.Context) error {
		_, err := h.conn.ExecContext(ctx, query, args...)
		return err
	})
}

// Get returns the first row of query, or nil when there is none.
func (h Handle) Get(ctx context.Context, query string, args ...any) (Row, error) {
	return h.get(ctx, true, query, args)
}

// All returns every row of query.
func (h Handle) All(ctx context.Context, query string, args ...any) ([]Row, error) {
	return h.all(ctx, true, query, args)
}

// GetSelect is Get without the transaction mutex: outside a transaction it
// may observe another caller's uncommitted writes.
func (h Handle) GetSelect(ctx context.Context, query string, args ...any) (Row, error) {
	return h.get(ctx, false, query, args)
}

// AllSelect is All without the transaction mutex. See GetSelect.
func (h Handle) AllSelect(ctx context.Context, query string, args ...any) ([]Row, error) {
	return h.all(ctx, false, query, args)
}

func (h Handle) get(ctx context.Context, transactional bool, query string, args []any) (Row, error) {
	var row Row
	err := h.gate(ctx, transactional, query, args, func(ctx context.Context) error {
		rows, err := h.conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		if rows.Next() {
			if row, err = scanRow(rows); err != nil {
				return err
			}
		}
		return rows.Err()
	})
	return row, err
}

func (h Handle) all(ctx context.Context, transactional bool, query string, args []any) ([]Row, error) {
	var out []Row
	err := h.gate(ctx, transactional, query, args, func(ctx context.Context) error {
		rows, err := h.conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			row, err := scanRow(rows)
			if err != nil {
				return err
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	return out, err
}

// gate runs call under the statement mutex and, for transactional calls
// outside a transaction, under the transaction mutex as well. ctx bounds
// the wait for the mutexes only; once acquired the driver call runs to
// completion.
func (h Handle) gate(ctx context.Context, transactional bool, query string, args []any, call func(context.Context) error) error {
	if transactional && h.depth == 0 {
		if err := h.txMu.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("acquire transaction mutex: %w", err)
		}
		defer h.txMu.Release(1)
	}
	if err := h.stmtMu.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire statement mutex: %w", err)
	}
	defer h.stmtMu.Release(1)

	if err := call(context.WithoutCancel(ctx)); err != nil {
		return newStatementError(query, args, err)
	}
	return nil
}

func scanRow(rows *sql.Rows) (Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	row := make(Row, len(cols))
	for i, col := range cols {
		if b, ok := values[i].([]byte); ok {
			values[i] = append([]byte(nil), b...)
		}
		row[col] = values[i]
	}
	return row, nil
}
