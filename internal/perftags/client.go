package perftags

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/tagsync/internal/codec"
)

// Command keywords understood by the engine.
const (
	cmdInsertFiles       = "insert_files"
	cmdInsertTags        = "insert_tags"
	cmdInsertTagPairings = "insert_tag_pairings"
	cmdToggleTagPairings = "toggle_tag_pairings"
	cmdDeleteTagPairings = "delete_tag_pairings"
	cmdDeleteTags        = "delete_tags"
	cmdDeleteTaggables   = "delete_taggables"
	cmdReadFilesTags     = "read_files_tags"
	cmdFlushFiles        = "flush_files"
	cmdPurgeUnusedFiles  = "purge_unused_files"
	cmdBeginTransaction  = "begin_transaction"
	cmdEndTransaction    = "end_transaction"
	cmdExit              = "exit"
)

// ExitCodeFatal is the status the default fatal handler exits with.
const ExitCodeFatal = 70

// Client is a handle on a running engine process.
// All methods are safe for concurrent use; commands are executed one at a time.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	session string

	cmd   *exec.Cmd
	stdin io.WriteCloser

	requests chan *request
	done     chan struct{}

	onFatal func(error)

	listenersMu sync.Mutex
	listeners   []func([]byte)

	expectingError atomic.Bool
	closing        atomic.Bool

	closeOnce  sync.Once
	closeClean bool
	closeErr   error
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for lifecycle and diagnostic messages.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithFatalHandler replaces the handler invoked when the engine exits
// unexpectedly. The default logs the failure and terminates the process
// with ExitCodeFatal.
func WithFatalHandler(fn func(error)) Option {
	return func(c *Client) {
		c.onFatal = fn
	}
}

// Start launches the engine described by cfg. Zero fields in cfg take
// their defaults.
func Start(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()

	c := &Client{
		cfg:      cfg,
		logger:   slog.Default(),
		session:  uuid.Must(uuid.NewV7()).String(),
		requests: make(chan *request),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "perftags", "session", c.session)
	if c.onFatal == nil {
		logger := c.logger
		c.onFatal = func(err error) {
			logger.Error("engine and relational store may have diverged, aborting", "error", err)
			os.Exit(ExitCodeFatal)
		}
	}

	cmd := exec.Command(cfg.EnginePath, cfg.InputPath, cfg.OutputPath, cfg.DatabaseDir)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("start engine: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("start engine: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("start engine: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start engine %q: %w", cfg.EnginePath, err)
	}
	c.cmd = cmd
	c.stdin = stdin

	s := newSupervisor(c)
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		pump(stdout, s.stdout, s.errs)
	}()
	go func() {
		defer readers.Done()
		c.forwardStderr(stderr)
	}()
	go func() {
		// Wait closes the pipes, so it must not run before the readers drain them.
		readers.Wait()
		s.exit <- cmd.Wait()
	}()
	go s.run()

	c.logger.Info("engine started",
		"path", cfg.EnginePath,
		"pid", cmd.Process.Pid,
		"database_dir", cfg.DatabaseDir,
	)
	return c, nil
}

// Done is closed once the engine process has exited and the supervisor has stopped.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Session identifies this engine run in logs and archives.
func (c *Client) Session() string {
	return c.session
}

// AddStderrListener registers fn to receive every chunk the engine writes to stderr.
func (c *Client) AddStderrListener(fn func([]byte)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// InsertFiles registers taggable ids with the engine.
func (c *Client) InsertFiles(ctx context.Context, ids []uint64) (bool, error) {
	return c.write(ctx, cmdInsertFiles, codec.EncodeIDs(ids), c.cfg.Timeouts.Insert)
}

// InsertTags registers tag ids with the engine.
func (c *Client) InsertTags(ctx context.Context, ids []uint64) (bool, error) {
	return c.write(ctx, cmdInsertTags, codec.EncodeIDs(ids), c.cfg.Timeouts.Insert)
}

// InsertTagPairings adds every (tag, taggable) pair in p.
func (c *Client) InsertTagPairings(ctx context.Context, p codec.Pairings) (bool, error) {
	return c.write(ctx, cmdInsertTagPairings, codec.EncodePairings(p), c.cfg.Timeouts.Pairing)
}

// ToggleTagPairings flips the presence of every (tag, taggable) pair in p.
func (c *Client) ToggleTagPairings(ctx context.Context, p codec.Pairings) (bool, error) {
	return c.write(ctx, cmdToggleTagPairings, codec.EncodePairings(p), c.cfg.Timeouts.Pairing)
}

// DeleteTagPairings removes every (tag, taggable) pair in p.
func (c *Client) DeleteTagPairings(ctx context.Context, p codec.Pairings) (bool, error) {
	return c.write(ctx, cmdDeleteTagPairings, codec.EncodePairings(p), c.cfg.Timeouts.Pairing)
}

// DeleteTags removes tags and every pairing that references them.
func (c *Client) DeleteTags(ctx context.Context, ids []uint64) (bool, error) {
	return c.write(ctx, cmdDeleteTags, codec.EncodeIDs(ids), c.cfg.Timeouts.Flush)
}

// DeleteTaggables removes taggables and every pairing that references them.
func (c *Client) DeleteTaggables(ctx context.Context, ids []uint64) (bool, error) {
	return c.write(ctx, cmdDeleteTaggables, codec.EncodeIDs(ids), c.cfg.Timeouts.Flush)
}

// ReadFilesTags returns the tags of each requested file. Records are keyed
// by file: each Pairing's Tag field holds the file id and Taggables holds
// its tags. Use Pairings.Invert for a tag-keyed view.
//
// When the token does not arrive in time the result is nil and ok is false.
func (c *Client) ReadFilesTags(ctx context.Context, files []uint64) (codec.Pairings, bool, error) {
	resp, err := c.do(ctx, &request{
		op:      cmdReadFilesTags,
		payload: codec.EncodeIDs(files),
		read:    true,
		timeout: c.cfg.Timeouts.Read,
	})
	if err != nil || !resp.ok {
		return nil, resp.ok, err
	}
	pairings, err := codec.DecodePairings(resp.output)
	if err != nil {
		return nil, true, fmt.Errorf("%s: %w", cmdReadFilesTags, err)
	}
	return pairings, true, nil
}

// FlushFiles asks the engine to persist pending changes.
func (c *Client) FlushFiles(ctx context.Context) (bool, error) {
	resp, err := c.do(ctx, &request{op: cmdFlushFiles, timeout: c.cfg.Timeouts.Flush})
	return resp.ok, err
}

// PurgeUnusedFiles flushes, then drops files no tag references any more.
func (c *Client) PurgeUnusedFiles(ctx context.Context) (bool, error) {
	ok, err := c.FlushFiles(ctx)
	if err != nil || !ok {
		return ok, err
	}
	resp, err := c.do(ctx, &request{op: cmdPurgeUnusedFiles, timeout: c.cfg.Timeouts.Flush})
	return resp.ok, err
}

// BeginTransaction opens an engine-side transaction.
func (c *Client) BeginTransaction(ctx context.Context) (bool, error) {
	resp, err := c.do(ctx, &request{op: cmdBeginTransaction, timeout: c.cfg.Timeouts.Transaction})
	return resp.ok, err
}

// EndTransaction commits the engine-side transaction. Changes made since
// the last flush are flushed before it returns; a failed flush is logged
// and left to the periodic flush.
func (c *Client) EndTransaction(ctx context.Context) (bool, error) {
	resp, err := c.do(ctx, &request{op: cmdEndTransaction, timeout: c.cfg.Timeouts.Transaction})
	return resp.ok, err
}

// Close performs the exit handshake and waits for the process to terminate.
// It reports whether a clean exit was observed. Later calls return the
// result of the first.
func (c *Client) Close(ctx context.Context) (bool, error) {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		resp, err := c.do(ctx, &request{op: cmdExit, timeout: c.cfg.Timeouts.Close})
		c.closeClean, c.closeErr = resp.ok, err
		if err == nil {
			c.logger.Info("engine closed", "clean", resp.ok)
		}
	})
	return c.closeClean, c.closeErr
}

// ExpectError marks the next exit as anticipated so it is not treated as fatal.
func (c *Client) ExpectError() {
	c.expectingError.Store(true)
}

// Kill terminates the engine without the exit handshake. The resulting
// exit is expected and does not invoke the fatal handler.
func (c *Client) Kill() error {
	c.ExpectError()
	if err := c.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill engine: %w", err)
	}
	return nil
}

func (c *Client) write(ctx context.Context, op string, payload []byte, timeout time.Duration) (bool, error) {
	resp, err := c.do(ctx, &request{op: op, payload: payload, mutates: true, timeout: timeout})
	return resp.ok, err
}

// do hands req to the supervisor. Waiting for the supervisor honors ctx;
// once accepted the command runs to completion or timeout.
func (c *Client) do(ctx context.Context, req *request) (response, error) {
	req.reply = make(chan response, 1)
	select {
	case c.requests <- req:
	case <-c.done:
		return response{}, fmt.Errorf("%s: %w", req.op, ErrClosed)
	case <-ctx.Done():
		return response{}, fmt.Errorf("%s: %w", req.op, ctx.Err())
	}
	resp := <-req.reply
	return resp, resp.err
}

func (c *Client) forwardStderr(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.listenersMu.Lock()
			listeners := append([]func([]byte){}, c.listeners...)
			c.listenersMu.Unlock()
			for _, fn := range listeners {
				fn(chunk)
			}
			c.logger.Debug("engine stderr", "data", string(chunk))
		}
		if err != nil {
			return
		}
	}
}

// pump forwards r to out until EOF, then closes out. Read failures other
// than EOF are reported on errs.
func pump(r io.Reader, out chan<- []byte, errs chan<- error) {
	defer close(out)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			out <- chunk
		}
		if err != nil {
			if err != io.EOF {
				errs <- fmt.Errorf("read engine stdout: %w", err)
			}
			return
		}
	}
}
