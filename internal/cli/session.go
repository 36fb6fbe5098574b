package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/tagsync/internal/perftags"
	"github.com/roach88/tagsync/internal/store"
	"github.com/roach88/tagsync/internal/tagging"
)

// Engine is the engine surface the CLI drives. *perftags.Client satisfies it.
type Engine interface {
	tagging.Engine
	Close(ctx context.Context) (bool, error)
}

// EngineStarter launches an engine for cfg.
type EngineStarter func(ctx context.Context, cfg perftags.Config) (Engine, error)

func startPerftags(_ context.Context, cfg perftags.Config) (Engine, error) {
	client, err := perftags.Start(cfg, perftags.WithLogger(slog.Default()))
	if err != nil {
		return nil, err
	}
	return client, nil
}

// session bundles the open store, the engine (if started) and the service
// built on their shared Handle.
type session struct {
	store  *store.Store
	engine Engine
	svc    *tagging.Service
}

// openSession opens the configured database and, when withEngine is set,
// starts the engine and pairs it with the store's Handle.
func openSession(ctx context.Context, opts *RootOptions, withEngine bool) (*session, error) {
	slog.Debug("opening database", "path", opts.Config.Database)
	st, err := store.Open(opts.Config.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	s := &session{store: st}
	var partner store.TagEngine
	if withEngine {
		start := opts.StartEngine
		if start == nil {
			start = startPerftags
		}
		s.engine, err = start(ctx, opts.Config.Engine)
		if err != nil {
			st.Close()
			return nil, WrapExitError(ExitCommandError, "failed to start engine", err)
		}
		partner = s.engine
	}

	h, err := st.Handle(ctx, partner)
	if err != nil {
		s.close(ctx)
		return nil, WrapExitError(ExitCommandError, "failed to attach database", err)
	}
	var engine tagging.Engine
	if s.engine != nil {
		engine = s.engine
	}
	s.svc = tagging.New(h, engine)
	return s, nil
}

// close shuts the engine down, then the store. It runs to completion even
// if ctx is already cancelled.
func (s *session) close(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	var engineErr error
	if s.engine != nil {
		clean, err := s.engine.Close(ctx)
		switch {
		case err != nil:
			engineErr = fmt.Errorf("close engine: %w", err)
		case !clean:
			slog.Warn("engine did not exit cleanly")
		}
	}
	if err := s.store.Close(); err != nil {
		return errors.Join(engineErr, fmt.Errorf("close database: %w", err))
	}
	return engineErr
}

// withSession runs fn against a fresh session and always closes it.
func withSession(ctx context.Context, opts *RootOptions, withEngine bool, fn func(*session) error) error {
	s, err := openSession(ctx, opts, withEngine)
	if err != nil {
		return err
	}
	fnErr := fn(s)
	if closeErr := s.close(ctx); closeErr != nil {
		if fnErr == nil {
			return WrapExitError(ExitFailure, "shutdown failed", closeErr)
		}
		slog.Error("shutdown failed", "error", closeErr)
	}
	return fnErr
}
