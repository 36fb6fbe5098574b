package perftags

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tagsync/internal/codec"
)

type fakeEngine struct {
	client *Client
	cfg    Config
	fatals chan error
}

// startFake launches the test binary as an engine in the given mode.
func startFake(t *testing.T, mode string, mutate func(*Config)) *fakeEngine {
	t.Helper()
	t.Setenv(fakeEngineEnv, "1")
	t.Setenv(fakeModeEnv, mode)

	dir := t.TempDir()
	cfg := Config{
		EnginePath:    os.Args[0],
		InputPath:     filepath.Join(dir, "exchange", "perf-input.txt"),
		OutputPath:    filepath.Join(dir, "perf-output.txt"),
		DatabaseDir:   filepath.Join(dir, "tag-pairings"),
		FlushInterval: 0,
		Timeouts: Timeouts{
			Insert:  5 * time.Second,
			Pairing: 5 * time.Second,
			Read:    5 * time.Second,
			Exit:    5 * time.Second,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	f := &fakeEngine{cfg: cfg, fatals: make(chan error, 1)}
	c, err := Start(cfg,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithFatalHandler(func(err error) { f.fatals <- err }),
	)
	require.NoError(t, err)
	f.client = c
	t.Cleanup(func() {
		select {
		case <-c.Done():
		default:
			_ = c.Kill()
			<-c.Done()
		}
	})
	return f
}

// commands returns the lines the fake engine logged so far.
func (f *fakeEngine) commands(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.cfg.DatabaseDir, "commands.log"))
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestStart_MissingBinary(t *testing.T) {
	_, err := Start(Config{EnginePath: filepath.Join(t.TempDir(), "does-not-exist")})
	assert.Error(t, err)
}

func TestInsertTagPairings_WritesPayloadAndCommand(t *testing.T) {
	f := startFake(t, modeNormal, func(cfg *Config) {
		cfg.Timeouts.Pairing = 100 * time.Millisecond
	})
	ctx := context.Background()

	ok, err := f.client.InsertTagPairings(ctx, codec.Pairings{{Tag: 5, Taggables: []uint64{10, 11}}})
	require.NoError(t, err)
	assert.True(t, ok)

	payload, err := os.ReadFile(f.cfg.InputPath)
	require.NoError(t, err)
	assert.Equal(t, codec.EncodeIDs([]uint64{5, 2, 10, 11}), payload)
	assert.Len(t, payload, 32)

	assert.Equal(t, []string{cmdInsertTagPairings + " " + hex.EncodeToString(payload)}, f.commands(t))
}

func TestReadFilesTags_ReflectsMutations(t *testing.T) {
	f := startFake(t, modeNormal, nil)
	ctx := context.Background()

	ok, err := f.client.InsertTagPairings(ctx, codec.Pairings{
		{Tag: 1, Taggables: []uint64{100, 200}},
		{Tag: 2, Taggables: []uint64{100}},
	})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.client.ToggleTagPairings(ctx, codec.Pairings{{Tag: 2, Taggables: []uint64{100, 200}}})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.client.DeleteTagPairings(ctx, codec.Pairings{{Tag: 1, Taggables: []uint64{200}}})
	require.NoError(t, err)
	require.True(t, ok)

	got, ok, err := f.client.ReadFilesTags(ctx, []uint64{100, 200, 300})
	require.NoError(t, err)
	require.True(t, ok)

	want := codec.Pairings{
		{Tag: 100, Taggables: []uint64{1}},
		{Tag: 200, Taggables: []uint64{2}},
		{Tag: 300, Taggables: []uint64{}},
	}
	assert.Equal(t, want, got)
}

func TestAllCommands_UseEngineKeywords(t *testing.T) {
	f := startFake(t, modeNormal, nil)
	ctx := context.Background()

	steps := []func() (bool, error){
		func() (bool, error) { return f.client.InsertFiles(ctx, []uint64{1}) },
		func() (bool, error) { return f.client.InsertTags(ctx, []uint64{2}) },
		func() (bool, error) { return f.client.FlushFiles(ctx) },
		func() (bool, error) { return f.client.BeginTransaction(ctx) },
		func() (bool, error) { return f.client.EndTransaction(ctx) },
		func() (bool, error) { return f.client.DeleteTags(ctx, []uint64{2}) },
		func() (bool, error) { return f.client.DeleteTaggables(ctx, []uint64{1}) },
		func() (bool, error) { return f.client.PurgeUnusedFiles(ctx) },
	}
	for i, step := range steps {
		ok, err := step()
		require.NoError(t, err, "step %d", i)
		require.True(t, ok, "step %d", i)
	}

	var ops []string
	for _, line := range f.commands(t) {
		ops = append(ops, strings.Fields(line)[0])
	}
	assert.Equal(t, []string{
		cmdInsertFiles,
		cmdInsertTags,
		cmdFlushFiles,
		cmdBeginTransaction,
		cmdEndTransaction,
		cmdDeleteTags,
		cmdDeleteTaggables,
		cmdFlushFiles,
		cmdPurgeUnusedFiles,
	}, ops)
}

func TestDeleteTagsAndTaggables(t *testing.T) {
	f := startFake(t, modeNormal, nil)
	ctx := context.Background()

	ok, err := f.client.InsertTagPairings(ctx, codec.Pairings{
		{Tag: 1, Taggables: []uint64{100, 200}},
		{Tag: 2, Taggables: []uint64{100, 200}},
	})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.client.DeleteTags(ctx, []uint64{1})
	require.NoError(t, err)
	require.True(t, ok)
	payload, err := os.ReadFile(f.cfg.InputPath)
	require.NoError(t, err)
	assert.Equal(t, codec.EncodeIDs([]uint64{1}), payload)

	ok, err = f.client.DeleteTaggables(ctx, []uint64{200})
	require.NoError(t, err)
	require.True(t, ok)

	got, ok, err := f.client.ReadFilesTags(ctx, []uint64{100, 200})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, codec.Pairings{
		{Tag: 100, Taggables: []uint64{2}},
		{Tag: 200, Taggables: []uint64{}},
	}, got)
}

func TestEndTransaction_FlushesPendingChanges(t *testing.T) {
	f := startFake(t, modeNormal, nil)
	ctx := context.Background()

	for _, step := range []func() (bool, error){
		func() (bool, error) { return f.client.BeginTransaction(ctx) },
		func() (bool, error) { return f.client.EndTransaction(ctx) },
		func() (bool, error) { return f.client.BeginTransaction(ctx) },
		func() (bool, error) { return f.client.InsertFiles(ctx, []uint64{1}) },
		func() (bool, error) { return f.client.EndTransaction(ctx) },
	} {
		ok, err := step()
		require.NoError(t, err)
		require.True(t, ok)
	}

	var ops []string
	for _, line := range f.commands(t) {
		ops = append(ops, strings.Fields(line)[0])
	}
	assert.Equal(t, []string{
		cmdBeginTransaction,
		cmdEndTransaction,
		cmdBeginTransaction,
		cmdInsertFiles,
		cmdEndTransaction,
		cmdFlushFiles,
	}, ops)
}

func TestAwait_TimesOutWithFalse(t *testing.T) {
	const timeout = 100 * time.Millisecond
	f := startFake(t, modeSilent, func(cfg *Config) {
		cfg.Timeouts.Pairing = timeout
	})

	start := time.Now()
	ok, err := f.client.InsertTagPairings(context.Background(), codec.Pairings{{Tag: 1, Taggables: []uint64{1}}})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+2*time.Second)
}

func TestReadFilesTags_TimeoutSkipsOutput(t *testing.T) {
	f := startFake(t, modeSilent, func(cfg *Config) {
		cfg.Timeouts.Read = 50 * time.Millisecond
	})

	got, ok, err := f.client.ReadFilesTags(context.Background(), []uint64{1})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestBadCommand(t *testing.T) {
	f := startFake(t, modeReject, nil)

	ok, err := f.client.InsertFiles(context.Background(), []uint64{1})
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrBadCommand)
}

func TestClose_CleanExit(t *testing.T) {
	f := startFake(t, modeNormal, nil)
	ctx := context.Background()

	clean, err := f.client.Close(ctx)
	require.NoError(t, err)
	assert.True(t, clean)

	select {
	case <-f.client.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop after close")
	}
	select {
	case err := <-f.fatals:
		t.Fatalf("close triggered fatal handler: %v", err)
	default:
	}

	// Close is idempotent.
	clean, err = f.client.Close(ctx)
	require.NoError(t, err)
	assert.True(t, clean)

	_, err = f.client.InsertFiles(ctx, []uint64{1})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClose_ExitWaitIsBounded(t *testing.T) {
	f := startFake(t, modeLinger, func(cfg *Config) {
		cfg.Timeouts.Exit = 100 * time.Millisecond
	})

	start := time.Now()
	clean, err := f.client.Close(context.Background())
	require.NoError(t, err)
	assert.False(t, clean)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestClose_MaintenanceHandshake(t *testing.T) {
	for _, tt := range []struct {
		maintenance bool
		answer      string
	}{
		{true, "OK"},
		{false, "NO"},
	} {
		t.Run(tt.answer, func(t *testing.T) {
			f := startFake(t, modeMaintenance, func(cfg *Config) {
				cfg.Maintenance = tt.maintenance
			})

			clean, err := f.client.Close(context.Background())
			require.NoError(t, err)
			assert.True(t, clean)
			assert.Contains(t, f.commands(t), "maintenance "+tt.answer)
		})
	}
}

func TestUnexpectedExit_InvokesFatalHandler(t *testing.T) {
	f := startFake(t, modeCrash, nil)

	ok, err := f.client.InsertFiles(context.Background(), []uint64{1})
	require.NoError(t, err)
	assert.False(t, ok)

	select {
	case err := <-f.fatals:
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Contains(t, err.Error(), "before close")
	case <-time.After(5 * time.Second):
		t.Fatal("fatal handler was not invoked")
	}
}

func TestUnexpectedExit_DefaultHandlerAbortsHost(t *testing.T) {
	cmd := exec.Command(os.Args[0])
	cmd.Env = append(os.Environ(), fatalHostEnv+"=1")
	err := cmd.Run()

	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "host exited cleanly: %v", err)
	assert.Equal(t, ExitCodeFatal, exitErr.ExitCode())
}

func TestKill_SuppressesFatalHandler(t *testing.T) {
	f := startFake(t, modeNormal, nil)

	require.NoError(t, f.client.Kill())
	select {
	case <-f.client.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop after kill")
	}

	select {
	case err := <-f.fatals:
		t.Fatalf("kill triggered fatal handler: %v", err)
	default:
	}

	_, err := f.client.InsertFiles(context.Background(), []uint64{1})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStderrListener(t *testing.T) {
	var mu sync.Mutex
	var got bytes.Buffer

	f := startFake(t, modeNormal, nil)
	f.client.AddStderrListener(func(chunk []byte) {
		mu.Lock()
		defer mu.Unlock()
		got.Write(chunk)
	})

	ok, err := f.client.InsertFiles(context.Background(), []uint64{1})
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return strings.Contains(got.String(), "handled "+cmdInsertFiles)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestArchive_RecordsCommandsAndPayloads(t *testing.T) {
	archive := t.TempDir()
	f := startFake(t, modeNormal, func(cfg *Config) {
		cfg.ArchiveDir = archive
	})

	ok, err := f.client.InsertTags(context.Background(), []uint64{7})
	require.NoError(t, err)
	require.True(t, ok)

	dir := filepath.Join(archive, f.client.Session())
	command, err := os.ReadFile(filepath.Join(dir, "command-00001.txt"))
	require.NoError(t, err)
	assert.Equal(t, cmdInsertTags+DefaultNewline, string(command))

	input, err := os.ReadFile(filepath.Join(dir, "input-00001.bin"))
	require.NoError(t, err)
	assert.Equal(t, codec.EncodeIDs([]uint64{7}), input)
}

func TestPeriodicFlush(t *testing.T) {
	f := startFake(t, modeNormal, func(cfg *Config) {
		cfg.FlushInterval = 20 * time.Millisecond
		cfg.Timeouts.Flush = 5 * time.Second
	})

	ok, err := f.client.InsertFiles(context.Background(), []uint64{1})
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(f.cfg.DatabaseDir, "commands.log"))
		return err == nil && strings.Contains(string(data), cmdFlushFiles)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPeriodicFlush_SkippedInsideTransaction(t *testing.T) {
	f := startFake(t, modeNormal, func(cfg *Config) {
		cfg.FlushInterval = 10 * time.Millisecond
		cfg.Timeouts.Transaction = 5 * time.Second
	})
	ctx := context.Background()

	ok, err := f.client.BeginTransaction(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = f.client.InsertFiles(ctx, []uint64{1})
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(100 * time.Millisecond)
	for _, line := range f.commands(t) {
		assert.NotEqual(t, cmdFlushFiles, strings.Fields(line)[0])
	}
}

func TestDo_ContextCancelledWhileQueued(t *testing.T) {
	f := startFake(t, modeSilent, func(cfg *Config) {
		cfg.Timeouts.Insert = time.Second
	})

	go func() { _, _ = f.client.InsertFiles(context.Background(), []uint64{1}) }()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.client.InsertFiles(ctx, []uint64{2})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
