package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/config"
)

const testMutators = "../compiler/testdata/mutators"

// replicaArgs prefixes args with the flags that select a replica at db.
func replicaArgs(backend, db string, args ...string) []string {
	base := []string{"--backend", backend, "--db", db, "--client-id", "c1", "--mutators", testMutators}
	return append(base, args...)
}

func writePull(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pull.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestReplicaLifecycle_SQLite(t *testing.T) {
	db := filepath.Join(t.TempDir(), "replica.db")
	run := func(args ...string) string {
		t.Helper()
		stdout, stderr, err := execute(t, replicaArgs("sqlite", db, args...)...)
		require.NoError(t, err, "stderr: %s", stderr)
		return stdout
	}

	out := run("init")
	assert.Contains(t, out, "Initialized sqlite replica")
	assert.Contains(t, out, "client ID: c1")

	// init is idempotent
	again := run("init")
	assert.Equal(t, out, again)

	assert.Contains(t, run("mutate", "inc", `{"key":"count","by":2}`), "inc committed as c1/1")
	assert.Contains(t, run("mutate", "inc", `{"key":"count","by":3}`), "inc committed as c1/2")
	assert.Equal(t, "count\t5\n", run("get", "count"))

	assert.Equal(t,
		"c1/1\tinc\t{\"by\":2,\"key\":\"count\"}\n"+
			"c1/2\tinc\t{\"by\":3,\"key\":\"count\"}\n",
		run("pending"))

	// The server confirms the first mutation and reports its result.
	pull := writePull(t, `{"cookie":1,"lastMutationIDChanges":{"c1":1},"patch":[{"op":"put","key":"count","value":2}]}`)
	out = run("pull", pull)
	assert.Contains(t, out, "Applied snapshot")
	assert.Contains(t, out, "cookie 1")
	assert.Contains(t, out, "dropped:  1")
	assert.Contains(t, out, "replayed: 1")

	assert.Equal(t, "count\t5\n", run("get", "count"))
	assert.Equal(t, "c1/2\tinc\t{\"by\":3,\"key\":\"count\"}\n", run("pending"))

	log := run("log")
	assert.Contains(t, log, "snapshot cookie=1 c1=1")
	assert.Contains(t, log, "local    c1/2 inc")
	assert.Len(t, strings.Split(strings.TrimSpace(run("log", "-n", "1")), "\n"), 1)

	// An older cookie is ignored.
	stale := writePull(t, `{"cookie":0,"lastMutationIDChanges":{},"patch":[{"op":"clear"}]}`)
	assert.Contains(t, run("pull", stale), "Ignored stale pull (cookie 0)")
	assert.Equal(t, "count\t5\n", run("get", "count"))

	assert.Contains(t, run("gc"), "Collected")
}

func TestReplicaScan(t *testing.T) {
	db := filepath.Join(t.TempDir(), "replica.db")
	run := func(args ...string) string {
		t.Helper()
		stdout, stderr, err := execute(t, replicaArgs("sqlite", db, args...)...)
		require.NoError(t, err, "stderr: %s", stderr)
		return stdout
	}

	run("init")
	for _, key := range []string{"todo/b", "todo/a", "user/x", "todo/c"} {
		run("mutate", "set", `{"key":"`+key+`","value":"`+key+`"}`)
	}

	assert.Equal(t, "todo/a\t\"todo/a\"\ntodo/b\t\"todo/b\"\ntodo/c\t\"todo/c\"\n",
		run("scan", "--prefix", "todo/"))
	assert.Equal(t, "todo/b\t\"todo/b\"\n",
		run("scan", "--prefix", "todo/", "--start", "todo/b", "--limit", "1"))

	out := run("--format", "json", "scan", "--prefix", "user/")
	var resp struct {
		Status string     `json:"status"`
		Data   ScanOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Entries, 1)
	assert.Equal(t, "user/x", resp.Data.Entries[0].Key)
}

func TestReplicaErrors(t *testing.T) {
	db := filepath.Join(t.TempDir(), "replica.db")

	t.Run("not_initialized", func(t *testing.T) {
		stdout, _, err := execute(t, replicaArgs("sqlite", db, "get", "count")...)
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, stdout, "Error [E004]")
	})

	_, _, err := execute(t, replicaArgs("sqlite", db, "init")...)
	require.NoError(t, err)

	tests := []struct {
		name     string
		args     []string
		exitCode int
		code     string
	}{
		{"missing_key", []string{"get", "nope"}, ExitFailure, ErrCodeNotFound},
		{"unknown_mutator", []string{"mutate", "nope"}, ExitCommandError, ErrCodeNotFound},
		{"invalid_args", []string{"mutate", "inc", "{"}, ExitCommandError, ErrCodeInvalidInput},
		{"negative_limit", []string{"scan", "--limit", "-1"}, ExitCommandError, ErrCodeInvalidInput},
		{"missing_pull_file", []string{"pull", filepath.Join(t.TempDir(), "none.json")}, ExitCommandError, ErrCodeNotFound},
		{"bad_pull_json", []string{"pull", writePull(t, `{"cookie":`)}, ExitCommandError, ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, _, err := execute(t, replicaArgs("sqlite", db, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, tt.exitCode, GetExitCode(err))
			assert.Contains(t, stdout, "Error ["+tt.code+"]")
		})
	}

	t.Run("mutator_failure", func(t *testing.T) {
		_, _, err := execute(t, replicaArgs("sqlite", db, "mutate", "set", `{"key":"name","value":"ada"}`)...)
		require.NoError(t, err)

		stdout, _, err := execute(t, replicaArgs("sqlite", db, "--format", "json", "mutate", "inc", `{"key":"name","by":1}`)...)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))

		var resp CLIResponse
		require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
		assert.Equal(t, "error", resp.Status)
		require.NotNil(t, resp.Error)
		assert.Equal(t, ErrCodeMutation, resp.Error.Code)
		assert.Contains(t, resp.Error.Message, "holds string, not an int")
	})

	t.Run("mutation_id_regressed", func(t *testing.T) {
		ok := writePull(t, `{"cookie":5,"lastMutationIDChanges":{"other":4},"patch":[]}`)
		_, _, err := execute(t, replicaArgs("sqlite", db, "pull", ok)...)
		require.NoError(t, err)

		bad := writePull(t, `{"cookie":6,"lastMutationIDChanges":{"other":2},"patch":[]}`)
		stdout, _, err := execute(t, replicaArgs("sqlite", db, "pull", bad)...)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, stdout, "Error [E007]")
		assert.Contains(t, stdout, "MUTATION_ID_REGRESSED")
	})
}

func TestReplicaLifecycle_Badger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "badger")
	run := func(args ...string) string {
		t.Helper()
		stdout, stderr, err := execute(t, replicaArgs("badger", dir, args...)...)
		require.NoError(t, err, "stderr: %s", stderr)
		return stdout
	}

	assert.Contains(t, run("init"), "Initialized badger replica")
	assert.Contains(t, run("mutate", "set", `{"key":"k","value":{"n":1}}`), "set committed as c1/1")
	assert.Equal(t, "k\t{\"n\":1}\n", run("get", "k"))
	assert.Contains(t, run("pending"), "c1/1\tset")
}

func TestReplicaMemoryBackend(t *testing.T) {
	// Nothing outlives the process, so every command starts uninitialized.
	stdout, _, err := execute(t, "--backend", "memory", "--client-id", "c1", "init")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Initialized memory replica")

	_, _, err = execute(t, "--backend", "memory", "get", "k")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestInitSavesGeneratedClientID(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "replica.toml")
	db := filepath.Join(dir, "replica.db")
	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"backend = \"sqlite\"\npath = \""+filepath.ToSlash(db)+"\"\nhead = \"main\"\nlog_level = \"warn\"\nmax_retries = 4\n",
	), 0o644))

	stdout, stderr, err := execute(t, "--config", cfgPath, "--format", "json", "init")
	require.NoError(t, err, "stderr: %s", stderr)

	var resp struct {
		Data InitResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.NotEmpty(t, resp.Data.ClientID)
	assert.Equal(t, cfgPath, resp.Data.ConfigSaved)

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, resp.Data.ClientID, cfg.ClientID)
	assert.Equal(t, 4, cfg.MaxRetries)

	// Later commands reuse the saved ID.
	stdout, stderr, err = execute(t, "--config", cfgPath, "--mutators", testMutators, "mutate", "inc", `{"key":"n","by":1}`)
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, resp.Data.ClientID+"/1")
}

func TestMutateRequiresClientID(t *testing.T) {
	db := filepath.Join(t.TempDir(), "replica.db")
	_, _, err := execute(t, "--db", db, "init")
	require.NoError(t, err)

	stdout, _, err := execute(t, "--db", db, "--mutators", testMutators, "mutate", "inc", `{"key":"n","by":1}`)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stdout, "Error [E008]")
}
