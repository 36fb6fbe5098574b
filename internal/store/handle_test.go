package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// recordingConn records every statement that reaches the driver.
type recordingConn struct {
	Conn

	mu      sync.Mutex
	queries []string
}

func (r *recordingConn) record(query string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, query)
}

func (r *recordingConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	r.record(query)
	return r.Conn.ExecContext(ctx, query, args...)
}

func (r *recordingConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	r.record(query)
	return r.Conn.QueryContext(ctx, query, args...)
}

func (r *recordingConn) count(query string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, q := range r.queries {
		if q == query {
			n++
		}
	}
	return n
}

// newTestHandle opens a fresh database and returns a root Handle over a
// recording wrapper of its pinned connection.
func newTestHandle(t *testing.T, engine TagEngine) (Handle, *recordingConn) {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	conn, err := s.db.Conn(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	rec := &recordingConn{Conn: conn}
	return NewHandle(rec, engine), rec
}

func countTags(t *testing.T, h Handle) int64 {
	t.Helper()
	row, err := h.Get(context.Background(), "SELECT COUNT(*) AS n FROM tags")
	require.NoError(t, err)
	return row["n"].(int64)
}

func TestExecGetAll(t *testing.T) {
	h, _ := newTestHandle(t, nil)
	ctx := context.Background()

	require.NoError(t, h.Exec(ctx, "INSERT INTO tags (id, name) VALUES (?, ?), (?, ?)", 1, "red", 2, "blue"))

	row, err := h.Get(ctx, "SELECT id, name FROM tags WHERE id = ?", 2)
	require.NoError(t, err)
	assert.Equal(t, Row{"id": int64(2), "name": "blue"}, row)

	rows, err := h.All(ctx, "SELECT id FROM tags ORDER BY id")
	require.NoError(t, err)
	assert.Equal(t, []Row{{"id": int64(1)}, {"id": int64(2)}}, rows)
}

func TestGet_NoRows(t *testing.T) {
	h, _ := newTestHandle(t, nil)

	row, err := h.Get(context.Background(), "SELECT id FROM tags WHERE id = ?", 42)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestStatementError(t *testing.T) {
	h, _ := newTestHandle(t, nil)
	query := "SELECT * FROM no_such_table /*" + strings.Repeat("x", 2*maxQueryText) + "*/"

	err := h.Exec(context.Background(), query, 7)
	require.Error(t, err)

	var stmtErr *StatementError
	require.ErrorAs(t, err, &stmtErr)
	assert.Len(t, stmtErr.Query, maxQueryText)
	assert.True(t, strings.HasPrefix(query, stmtErr.Query))
	assert.Equal(t, []any{7}, stmtErr.Args)
	assert.NotEmpty(t, stmtErr.Stack)
	assert.Contains(t, stmtErr.Error(), "no_such_table")
}

func TestStatementError_ReleasesMutexes(t *testing.T) {
	h, _ := newTestHandle(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.Error(t, h.Exec(ctx, "NOT SQL"))
	_, err := h.All(ctx, "NOT SQL EITHER")
	require.Error(t, err)

	// Both mutexes must be free again.
	assert.NoError(t, h.Exec(ctx, "INSERT INTO tags (id) VALUES (1)"))
}

func TestBareStatement_WaitsForOpenTransaction(t *testing.T) {
	h, _ := newTestHandle(t, nil)
	ctx := context.Background()

	tx, err := h.Begin(ctx)
	require.NoError(t, err)

	started := make(chan struct{})
	finished := make(chan time.Time, 1)
	go func() {
		close(started)
		if err := h.Exec(ctx, "INSERT INTO tags (id) VALUES (2)"); err != nil {
			t.Errorf("bare exec: %v", err)
		}
		finished <- time.Now()
	}()
	<-started

	require.NoError(t, tx.Exec(ctx, "INSERT INTO tags (id) VALUES (1)"))
	time.Sleep(100 * time.Millisecond)
	select {
	case <-finished:
		t.Fatal("bare statement ran while a transaction was open")
	default:
	}

	endStarted := time.Now()
	_, err = tx.End(ctx)
	require.NoError(t, err)

	select {
	case done := <-finished:
		assert.True(t, done.After(endStarted), "bare statement finished before the transaction ended")
	case <-time.After(5 * time.Second):
		t.Fatal("bare statement never ran")
	}
	assert.Equal(t, int64(2), countTags(t, h))
}

func TestSelectVariants_SkipTransactionMutex(t *testing.T) {
	h, _ := newTestHandle(t, nil)
	ctx := context.Background()

	tx, err := h.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Exec(ctx, "INSERT INTO tags (id) VALUES (1)"))

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	row, err := h.GetSelect(waitCtx, "SELECT COUNT(*) AS n FROM tags")
	require.NoError(t, err)
	assert.Equal(t, int64(1), row["n"])

	rows, err := h.AllSelect(waitCtx, "SELECT id FROM tags")
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = tx.End(ctx)
	require.NoError(t, err)
}

func TestGate_ContextCancelledWhileWaiting(t *testing.T) {
	h, _ := newTestHandle(t, nil)
	ctx := context.Background()

	tx, err := h.Begin(ctx)
	require.NoError(t, err)
	defer tx.End(ctx)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err = h.Exec(waitCtx, "INSERT INTO tags (id) VALUES (1)")
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestGate_ConcurrentCallers(t *testing.T) {
	h, _ := newTestHandle(t, nil)
	ctx := context.Background()

	var g errgroup.Group
	for i := 1; i <= 20; i++ {
		id := i
		g.Go(func() error {
			if id%2 == 0 {
				return h.Exec(ctx, "INSERT INTO tags (id) VALUES (?)", id)
			}
			return WithTransaction(ctx, h, func(tx Handle) error {
				if err := tx.Exec(ctx, "INSERT INTO tags (id) VALUES (?)", id); err != nil {
					return err
				}
				_, err := tx.All(ctx, "SELECT id FROM tags")
				return err
			})
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(20), countTags(t, h))
}

func TestTransaction_PreservesStatementOrder(t *testing.T) {
	h, _ := newTestHandle(t, nil)
	ctx := context.Background()

	err := WithTransaction(ctx, h, func(tx Handle) error {
		if err := tx.Exec(ctx, "INSERT INTO tags (id) VALUES (1), (2)"); err != nil {
			return err
		}
		if err := tx.Exec(ctx, "INSERT INTO taggables (id) VALUES (9)"); err != nil {
			return err
		}
		for _, tag := range []int{2, 1, 2} {
			if err := tx.Exec(ctx, "INSERT INTO pairing_changes (op, tag_id, taggable_id) VALUES ('toggle', ?, 9)", tag); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	rows, err := h.All(ctx, "SELECT tag_id FROM pairing_changes ORDER BY seq")
	require.NoError(t, err)
	assert.Equal(t, []Row{{"tag_id": int64(2)}, {"tag_id": int64(1)}, {"tag_id": int64(2)}}, rows)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "(?)", Placeholders(1))
	assert.Equal(t, "(?,?,?)", Placeholders(3))
	assert.Panics(t, func() { Placeholders(0) })
}

func TestTuples(t *testing.T) {
	assert.Equal(t, "(?,?),(?,?),(?,?)", Tuples(3, 2))
	assert.Equal(t, "(?)", Tuples(1, 0))
}
