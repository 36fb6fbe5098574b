package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tagsync/internal/codec"
	"github.com/roach88/tagsync/internal/tagging"
)

// Scenario is a sequence of pairing operations plus checks on the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Steps run in order against one store and engine.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation.
type Step struct {
	// Op is insert, toggle, delete, delete_tags, delete_taggables, read,
	// flush or purge.
	Op string `yaml:"op"`

	// Pairings are the pairs to apply (insert, toggle, delete).
	Pairings []StepPairing `yaml:"pairings,omitempty"`

	// Tags are the tags to remove (delete_tags).
	Tags []uint64 `yaml:"tags,omitempty"`

	// Taggables are the taggables to read (read) or remove (delete_taggables).
	Taggables []uint64 `yaml:"taggables,omitempty"`

	// Expect maps each read taggable to its expected tags (read).
	Expect map[uint64][]uint64 `yaml:"expect,omitempty"`

	// Silence lists engine commands left unanswered during this step.
	Silence []string `yaml:"silence,omitempty"`

	// ExpectError is "engine_timeout" or a substring of the expected error.
	// Empty means the step must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// StepPairing is one tag and its taggables.
type StepPairing struct {
	Tag       uint64   `yaml:"tag"`
	Taggables []uint64 `yaml:"taggables"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Command is the engine command (trace_contains, trace_count).
	Command string `yaml:"command,omitempty"`

	// Payload is the exact hex payload (trace_contains, optional).
	Payload string `yaml:"payload,omitempty"`

	// Commands is the expected command order (trace_order).
	Commands []string `yaml:"commands,omitempty"`

	// Count is the expected number of occurrences (trace_count, history_count).
	Count int `yaml:"count,omitempty"`

	// Taggable selects the taggable (final_tags, history_count).
	Taggable uint64 `yaml:"taggable,omitempty"`

	// Tags are the expected tags in ascending order (final_tags).
	Tags []uint64 `yaml:"tags,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalTags     = "final_tags"
	AssertHistoryCount  = "history_count"
)

// Step op constants beyond the tagging ops.
const (
	OpRead            = "read"
	OpFlush           = "flush"
	OpPurge           = "purge"
	OpDeleteTags      = "delete_tags"
	OpDeleteTaggables = "delete_taggables"
)

// ExpectEngineTimeout matches any error wrapping tagging.ErrEngineTimeout.
const ExpectEngineTimeout = "engine_timeout"

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}

	for i, step := range s.Steps {
		switch step.Op {
		case string(tagging.OpInsert), string(tagging.OpToggle), string(tagging.OpDelete):
			if len(step.Pairings) == 0 {
				return fmt.Errorf("step %d (%s): pairings are required", i, step.Op)
			}
		case OpRead, OpDeleteTaggables:
			if len(step.Taggables) == 0 {
				return fmt.Errorf("step %d (%s): taggables are required", i, step.Op)
			}
		case OpDeleteTags:
			if len(step.Tags) == 0 {
				return fmt.Errorf("step %d (delete_tags): tags are required", i)
			}
		case OpFlush, OpPurge:
		default:
			return fmt.Errorf("step %d: unknown op %q", i, step.Op)
		}
	}

	for i, a := range s.Assertions {
		switch a.Type {
		case AssertTraceContains, AssertTraceCount:
			if a.Command == "" {
				return fmt.Errorf("assertion %d (%s): command is required", i, a.Type)
			}
		case AssertTraceOrder:
			if len(a.Commands) < 2 {
				return fmt.Errorf("assertion %d (trace_order): at least two commands are required", i)
			}
		case AssertFinalTags, AssertHistoryCount:
		default:
			return fmt.Errorf("assertion %d: unknown type %q", i, a.Type)
		}
	}
	return nil
}

// pairings converts the step pairings in order.
func (s Step) pairings() codec.Pairings {
	p := make(codec.Pairings, 0, len(s.Pairings))
	for _, sp := range s.Pairings {
		p = append(p, codec.Pairing{Tag: sp.Tag, Taggables: sp.Taggables})
	}
	return p
}
