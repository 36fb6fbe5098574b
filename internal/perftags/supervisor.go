package perftags

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
)

// Replies the engine writes to stdout besides the completion token.
const (
	replyOK          = "OK!"
	replyBadCommand  = "BAD COMMAND!"
	replyMaintenance = "DO MAINTENANCE?"
)

type request struct {
	op      string
	payload []byte // written to the input exchange file when non-nil
	read    bool   // read the output exchange file after the token
	mutates bool
	timeout time.Duration
	reply   chan response
}

type response struct {
	ok     bool
	output []byte
	err    error
}

type awaitResult int

const (
	awaitTimeout awaitResult = iota
	awaitToken
	awaitBadCommand
	awaitExited
)

// supervisor owns the engine's stdin, the accumulated stdout and all
// process state. Everything below runs on the supervisor goroutine.
type supervisor struct {
	c *Client

	stdout chan []byte
	errs   chan error
	exit   chan error

	buf        []byte
	token      []byte
	badCommand []byte
	prompt     []byte

	exited     bool
	exitErr    error
	errorCount int
	inTx       bool
	dirty      bool
	writes     int
}

func newSupervisor(c *Client) *supervisor {
	nl := c.cfg.Newline
	return &supervisor{
		c:          c,
		stdout:     make(chan []byte),
		errs:       make(chan error, 4),
		exit:       make(chan error, 1),
		token:      []byte(replyOK + nl),
		badCommand: []byte(replyBadCommand + nl),
		prompt:     []byte(replyMaintenance + nl),
	}
}

func (s *supervisor) run() {
	defer close(s.c.done)

	var tick <-chan time.Time
	if s.c.cfg.FlushInterval > 0 {
		ticker := time.NewTicker(s.c.cfg.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for !s.exited {
		select {
		case req := <-s.c.requests:
			req.reply <- s.serve(req)
		case chunk, ok := <-s.stdout:
			if !ok {
				s.stdout = nil
				continue
			}
			s.buf = append(s.buf, chunk...)
		case err := <-s.errs:
			s.errorEvent(err)
		case err := <-s.exit:
			s.exitEvent(err)
		case <-tick:
			s.periodicFlush()
		}
	}
}

func (s *supervisor) serve(req *request) response {
	if req.op == cmdExit {
		return s.serveExit(req)
	}
	if s.exited {
		return response{err: fmt.Errorf("%s: %w", req.op, ErrClosed)}
	}

	if req.payload != nil {
		if err := s.writeInput(req.payload); err != nil {
			return response{err: fmt.Errorf("%s: %w", req.op, err)}
		}
	}
	if err := s.writeLine(req.op); err != nil {
		return response{err: fmt.Errorf("%s: %w", req.op, err)}
	}
	if req.mutates {
		s.dirty = true
	}

	switch s.await(req.timeout) {
	case awaitToken:
	case awaitBadCommand:
		return response{err: fmt.Errorf("%s: %w", req.op, ErrBadCommand)}
	default:
		s.c.logger.Warn("no completion token", "op", req.op, "timeout", req.timeout)
		return response{}
	}

	switch req.op {
	case cmdBeginTransaction:
		s.inTx = true
	case cmdEndTransaction:
		s.inTx = false
		s.flushIfDirty("end of transaction")
	case cmdFlushFiles:
		s.dirty = false
	}

	if !req.read {
		return response{ok: true}
	}
	output, err := os.ReadFile(s.c.cfg.OutputPath)
	if err != nil {
		return response{ok: true, err: fmt.Errorf("%s: read output: %w", req.op, err)}
	}
	return response{ok: true, output: output}
}

// serveExit runs the exit handshake: exit, token, then the process exit.
func (s *supervisor) serveExit(req *request) response {
	if s.exited {
		return response{err: fmt.Errorf("%s: %w", req.op, ErrClosed)}
	}
	if err := s.writeLine(cmdExit); err != nil {
		return response{err: fmt.Errorf("%s: %w", req.op, err)}
	}
	if s.await(req.timeout) != awaitToken {
		s.c.logger.Warn("no completion token for exit", "timeout", req.timeout)
	}
	return response{ok: s.awaitCleanExit(s.c.cfg.Timeouts.Exit)}
}

// await waits for the completion token at the head of the stdout buffer.
// The matched token is consumed so later waits do not see it again.
func (s *supervisor) await(timeout time.Duration) awaitResult {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		switch {
		case bytes.HasPrefix(s.buf, s.token):
			s.buf = s.buf[len(s.token):]
			return awaitToken
		case bytes.HasPrefix(s.buf, s.badCommand):
			s.buf = s.buf[len(s.badCommand):]
			return awaitBadCommand
		case bytes.HasPrefix(s.buf, s.prompt):
			s.buf = s.buf[len(s.prompt):]
			answer := "NO"
			if s.c.cfg.Maintenance {
				answer = "OK"
			}
			s.c.logger.Info("engine requested maintenance", "answer", answer)
			if err := s.writeLine(answer); err != nil {
				return awaitExited
			}
			continue
		case s.exited:
			return awaitExited
		}

		select {
		case chunk, ok := <-s.stdout:
			if !ok {
				s.stdout = nil
				continue
			}
			s.buf = append(s.buf, chunk...)
		case err := <-s.errs:
			s.errorEvent(err)
		case err := <-s.exit:
			s.exitEvent(err)
		case <-timer.C:
			return awaitTimeout
		}
	}
}

// awaitCleanExit waits for the process to exit. An error event resolves
// the wait immediately as unclean.
func (s *supervisor) awaitCleanExit(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for !s.exited {
		if s.errorCount > 0 {
			return false
		}
		select {
		case chunk, ok := <-s.stdout:
			if !ok {
				s.stdout = nil
				continue
			}
			s.buf = append(s.buf, chunk...)
		case err := <-s.errs:
			s.errorEvent(err)
		case err := <-s.exit:
			s.exitEvent(err)
		case <-timer.C:
			return false
		}
	}
	return s.exitErr == nil && s.errorCount == 0
}

func (s *supervisor) errorEvent(err error) {
	s.errorCount++
	s.c.logger.Warn("engine error event", "error", err, "count", s.errorCount)
}

func (s *supervisor) exitEvent(err error) {
	s.exited = true
	s.exitErr = err
	if s.c.closing.Load() || s.c.expectingError.Load() {
		s.c.logger.Info("engine exited", "error", err)
		return
	}
	s.c.onFatal(&ExitError{Err: err})
}

func (s *supervisor) periodicFlush() {
	if s.inTx {
		return
	}
	s.flushIfDirty("periodic")
}

// flushIfDirty issues flush_files when a mutating command has run since the
// last successful flush.
func (s *supervisor) flushIfDirty(reason string) {
	if !s.dirty || s.exited {
		return
	}
	resp := s.serve(&request{op: cmdFlushFiles, timeout: s.c.cfg.Timeouts.Flush})
	if resp.err != nil || !resp.ok {
		s.c.logger.Warn("flush failed", "reason", reason, "answered", resp.ok, "error", resp.err)
	}
}

func (s *supervisor) writeInput(payload []byte) error {
	path := s.c.cfg.InputPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create input dir: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("write input: %w", err)
	}
	return nil
}

func (s *supervisor) writeLine(line string) error {
	s.writes++
	if s.c.cfg.ArchiveDir != "" {
		if err := s.archive(line); err != nil {
			s.c.logger.Warn("archive command failed", "error", err)
		}
	}
	if _, err := s.c.stdin.Write([]byte(line + s.c.cfg.Newline)); err != nil {
		err = fmt.Errorf("write stdin: %w", err)
		s.errorEvent(err)
		return err
	}
	return nil
}

// archive copies the command line and the current input payload into
// <ArchiveDir>/<session>/, numbered by stdin write.
func (s *supervisor) archive(line string) error {
	dir := filepath.Join(s.c.cfg.ArchiveDir, s.c.session)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("command-%05d.txt", s.writes)
	if err := os.WriteFile(filepath.Join(dir, name), []byte(line+s.c.cfg.Newline), 0o644); err != nil {
		return err
	}
	input, err := os.ReadFile(s.c.cfg.InputPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, fmt.Sprintf("input-%05d.bin", s.writes)), input, 0o644)
}
