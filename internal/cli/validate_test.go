package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/compiler"
)

func writeMutators(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mutators.cue"), []byte(content), 0o644))
	return dir
}

func TestValidateCommand_Valid(t *testing.T) {
	stdout, _, err := execute(t, "validate", testMutators)
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ 5 mutator(s) valid")
	assert.Contains(t, stdout, "addTodo")
}

func TestValidateCommand_JSON(t *testing.T) {
	stdout, _, err := execute(t, "--format", "json", "validate", testMutators)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 2, resp.Data.Files)
	assert.ElementsMatch(t, []string{"inc", "set", "remove", "addTodo", "resetTodos"}, resp.Data.Mutators)
}

func TestValidateCommand_MutatorsFlag(t *testing.T) {
	stdout, _, err := execute(t, "--mutators", testMutators, "validate")
	require.NoError(t, err)
	assert.Contains(t, stdout, "valid in "+testMutators)
}

func TestValidateCommand_ValidationErrors(t *testing.T) {
	dir := writeMutators(t, `mutator: a: ops: [{op: "upsert", key: "k"}]`)

	stdout, _, err := execute(t, "validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "✗ 1 error(s)")

	stdout, _, err = execute(t, "--format", "json", "validate", dir)
	require.Error(t, err)

	var resp struct {
		Status string `json:"status"`
		Error  struct {
			Code    string           `json:"code"`
			Details ValidationResult `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeMutators, resp.Error.Code)
	require.Len(t, resp.Error.Details.Errors, 1)
	assert.Equal(t, compiler.ErrUnknownOp, resp.Error.Details.Errors[0].Code)
}

func TestValidateCommand_CommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing_dir", []string{"validate", filepath.Join(t.TempDir(), "none")}},
		{"empty_dir", []string{"validate", t.TempDir()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, stdout, "Error [E003]")
		})
	}
}
