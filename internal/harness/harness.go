package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/tagsync/internal/store"
	"github.com/roach88/tagsync/internal/tagging"
)

// Harness runs one scenario against a store and a MemoryEngine.
type Harness struct {
	engine  *MemoryEngine
	service *tagging.Service
	logger  *slog.Logger
	touched map[uint64]struct{}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation. Step
// failures and assertion failures are reported in the result; the returned
// error is reserved for setup failures.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	eng := NewMemoryEngine()
	h, err := st.Handle(ctx, eng)
	if err != nil {
		return nil, fmt.Errorf("failed to attach engine: %w", err)
	}

	hs := &Harness{
		engine:  eng,
		service: tagging.New(h, eng),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		touched: make(map[uint64]struct{}),
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if msg := hs.executeStep(ctx, step); msg != "" {
			result.AddError(fmt.Sprintf("step %d (%s): %s", i, step.Op, msg))
		}
	}

	result.Trace = eng.Trace()
	for taggable := range hs.touched {
		result.Tags[taggable] = eng.TagsOf(taggable)
	}

	actx := &AssertionContext{
		Ctx:     ctx,
		Engine:  eng,
		Service: hs.service,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

// executeStep runs one step and returns a failure message, or "" if the
// step behaved as expected.
func (hs *Harness) executeStep(ctx context.Context, step Step) string {
	hs.engine.Silence(step.Silence...)
	defer hs.engine.Unsilence()

	var err error
	switch step.Op {
	case OpRead:
		err = hs.read(ctx, step)
	case OpFlush:
		err = hs.service.Flush(ctx)
	case OpPurge:
		err = hs.service.Purge(ctx)
	case OpDeleteTags:
		err = hs.service.DeleteTags(ctx, step.Tags)
	case OpDeleteTaggables:
		err = hs.service.DeleteTaggables(ctx, step.Taggables)
	default:
		op, perr := tagging.ParseOp(step.Op)
		if perr != nil {
			return perr.Error()
		}
		p := step.pairings()
		for _, id := range p.Taggables() {
			hs.touched[id] = struct{}{}
		}
		err = hs.service.Apply(ctx, op, p)
	}
	hs.logger.Debug("step executed", "op", step.Op, "error", err)
	return checkStepError(step.ExpectError, err)
}

// read compares the engine's answer against step.Expect. A mismatch is
// reported as an error so it flows through checkStepError.
func (hs *Harness) read(ctx context.Context, step Step) error {
	got, err := hs.service.TagsOf(ctx, step.Taggables)
	if err != nil {
		return err
	}
	if step.Expect == nil {
		return nil
	}
	actual := make(map[uint64][]uint64, len(got))
	for _, rec := range got {
		tags := slices.Clone(rec.Taggables)
		slices.Sort(tags)
		actual[rec.Tag] = tags
	}
	if diff := cmp.Diff(normalize(step.Expect), normalize(actual)); diff != "" {
		return fmt.Errorf("read mismatch (-want +got):\n%s", diff)
	}
	return nil
}

func normalize(m map[uint64][]uint64) map[uint64][]uint64 {
	out := make(map[uint64][]uint64, len(m))
	for k, v := range m {
		if v == nil {
			v = []uint64{}
		}
		out[k] = v
	}
	return out
}

func checkStepError(expect string, err error) string {
	switch {
	case expect == "" && err == nil:
		return ""
	case expect == "":
		return fmt.Sprintf("unexpected error: %v", err)
	case err == nil:
		return fmt.Sprintf("expected error %q, got none", expect)
	case expect == ExpectEngineTimeout:
		if errors.Is(err, tagging.ErrEngineTimeout) {
			return ""
		}
		return fmt.Sprintf("expected engine timeout, got: %v", err)
	case strings.Contains(err.Error(), expect):
		return ""
	default:
		return fmt.Sprintf("expected error containing %q, got: %v", expect, err)
	}
}
