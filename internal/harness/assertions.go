package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/tagsync/internal/tagging"
)

// AssertionContext carries what state assertions need beyond the trace.
type AssertionContext struct {
	Ctx     context.Context
	Engine  *MemoryEngine
	Service *tagging.Service
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			mark := ""
			if !event.Answered {
				mark = " (unanswered)"
			}
			fmt.Fprintf(&buf, "  [%d] %s %s%s\n", event.Seq, event.Command, event.Payload, mark)
		}
	}

	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for _, a := range assertions {
		if err := evaluate(result.Trace, a, actx); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func evaluate(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(trace, a)
	case AssertTraceCount:
		return assertTraceCount(trace, a)
	case AssertFinalTags:
		return assertFinalTags(actx, a)
	case AssertHistoryCount:
		return assertHistoryCount(actx, a)
	}
	return fmt.Errorf("unknown assertion type: %s", a.Type)
}

// assertTraceContains checks if the trace contains the command, with the
// exact payload when one is given.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if event.Command == a.Command && (a.Payload == "" || event.Payload == a.Payload) {
			return nil
		}
	}

	expected := a.Command
	if a.Payload != "" {
		expected = fmt.Sprintf("%s with payload %s", a.Command, a.Payload)
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that commands appear in the given order.
// Commands don't need to be consecutive, and a repeated command matches a
// later occurrence.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	pos := 0
	for i, want := range a.Commands {
		found := false
		for pos < len(trace) {
			pos++
			if trace[pos-1].Command == want {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("commands in order: %v", a.Commands),
				Actual:   fmt.Sprintf("%s (#%d) not found after position %d", want, i+1, pos),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks if the command appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Command == a.Command {
			count++
		}
	}

	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Command),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalTags compares the engine's tags for a taggable.
func assertFinalTags(actx *AssertionContext, a Assertion) error {
	got := actx.Engine.TagsOf(a.Taggable)
	want := a.Tags
	if want == nil {
		want = []uint64{}
	}
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     AssertFinalTags,
			Expected: fmt.Sprintf("taggable %d tagged %v", a.Taggable, want),
			Actual:   fmt.Sprintf("tagged %v", got),
		}
	}
	return nil
}

// assertHistoryCount counts the recorded changes for a taggable.
func assertHistoryCount(actx *AssertionContext, a Assertion) error {
	changes, err := actx.Service.History(actx.Ctx, a.Taggable)
	if err != nil {
		return &AssertionError{
			Type:     AssertHistoryCount,
			Expected: fmt.Sprintf("history of taggable %d", a.Taggable),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	if len(changes) != a.Count {
		return &AssertionError{
			Type:     AssertHistoryCount,
			Expected: fmt.Sprintf("%d changes for taggable %d", a.Count, a.Taggable),
			Actual:   fmt.Sprintf("%d changes", len(changes)),
		}
	}
	return nil
}
