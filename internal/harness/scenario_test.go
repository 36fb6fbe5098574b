package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_Valid(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/insert_then_read.yaml")
	require.NoError(t, err)

	assert.Equal(t, "insert_then_read", s.Name)
	require.Len(t, s.Steps, 2)
	assert.Equal(t, "insert", s.Steps[0].Op)
	assert.Equal(t, []StepPairing{{Tag: 5, Taggables: []uint64{10}}}, s.Steps[0].Pairings)
	assert.Equal(t, map[uint64][]uint64{10: {5}}, s.Steps[1].Expect)
	require.Len(t, s.Assertions, 4)
	assert.Equal(t, AssertTraceOrder, s.Assertions[0].Type)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: typo
steps:
  - op: flush
    pairngs: []
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing name", "steps:\n  - op: flush\n", "name is required"},
		{"no steps", "name: x\n", "at least one step"},
		{"unknown op", "name: x\nsteps:\n  - op: rename\n", `unknown op "rename"`},
		{"insert without pairings", "name: x\nsteps:\n  - op: insert\n", "pairings are required"},
		{"read without taggables", "name: x\nsteps:\n  - op: read\n", "taggables are required"},
		{"delete_tags without tags", "name: x\nsteps:\n  - op: delete_tags\n    taggables: [1]\n", "tags are required"},
		{"delete_taggables without taggables", "name: x\nsteps:\n  - op: delete_taggables\n    tags: [1]\n", "taggables are required"},
		{"unknown assertion", "name: x\nsteps:\n  - op: flush\nassertions:\n  - type: final_state\n", `unknown type "final_state"`},
		{"count without command", "name: x\nsteps:\n  - op: flush\nassertions:\n  - type: trace_count\n", "command is required"},
		{"short order", "name: x\nsteps:\n  - op: flush\nassertions:\n  - type: trace_order\n    commands: [flush_files]\n", "at least two commands"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestAllScenarioFilesParse(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		require.NoError(t, err)
		_, err = ParseScenario(data)
		assert.NoError(t, err, f)
	}
}
