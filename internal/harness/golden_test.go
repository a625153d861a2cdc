package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/ir"
)

func TestScenarioGoldens(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestTraceSnapshotCanonical(t *testing.T) {
	s := TraceSnapshot{
		ScenarioName: "x",
		ClientID:     "c",
		Trace: []TraceEvent{
			{Seq: 1, Kind: KindMutate, Name: "inc", Args: ir.Object{"key": ir.String("k")}, Pending: []uint64{}},
			{Seq: 2, Kind: KindPull, Error: "boom", Pending: []uint64{}},
		},
		State: map[string]ir.Value{"k": ir.Bool(true)},
	}
	b, err := ir.MarshalCanonical(s.toCanonical())
	require.NoError(t, err)
	assert.Equal(t,
		`{"client_id":"c","scenario_name":"x","state":{"k":true},"trace":[`+
			`{"args":{"key":"k"},"kind":"mutate","name":"inc","pending":[],"seq":1},`+
			`{"error":"boom","kind":"pull","pending":[],"seq":2}]}`,
		string(b))
}
