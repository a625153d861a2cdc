package compiler

import (
	"context"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/ir"
)

func compileOne(t *testing.T, src, path string) (*MutatorSpec, error) {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	require.NoError(t, v.Err())
	return CompileMutator(v.LookupPath(cue.ParsePath(path)))
}

func TestCompileMutatorBasic(t *testing.T) {
	spec, err := compileOne(t, `
		mutator: inc: {
			description: "add by to key"
			ops: [{op: "inc", key: "args.key", by: "args.by"}]
		}
	`, "mutator.inc")
	require.NoError(t, err)

	assert.Equal(t, "inc", spec.Name)
	assert.Equal(t, "add by to key", spec.Description)
	require.Len(t, spec.Ops, 1)
	assert.Equal(t, OpInc, spec.Ops[0].Kind)
	assert.Equal(t, Operand{Arg: "key"}, spec.Ops[0].Key)
	assert.Equal(t, Operand{Arg: "by"}, spec.Ops[0].By)
	assert.False(t, spec.Ops[0].Value.IsSet())
}

func TestCompileMutatorLiterals(t *testing.T) {
	spec, err := compileOne(t, `
		mutator: seed: ops: [
			{op: "put", key: "config", value: {enabled: true, limit: 10, tags: ["a", "b"], none: null}},
			{op: "put", key: "greeting", value: "hello"},
		]
	`, "mutator.seed")
	require.NoError(t, err)
	require.Len(t, spec.Ops, 2)

	want := ir.Object{
		"enabled": ir.Bool(true),
		"limit":   ir.Int(10),
		"tags":    ir.Array{ir.String("a"), ir.String("b")},
		"none":    ir.Null{},
	}
	assert.True(t, ir.Equal(want, spec.Ops[0].Value.Literal))
	assert.Equal(t, ir.String("config"), spec.Ops[0].Key.Literal)
	assert.Equal(t, ir.String("hello"), spec.Ops[1].Value.Literal)
	assert.Equal(t, `"hello"`, spec.Ops[1].Value.String())
}

func TestCompileMutatorErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		path    string
		wantMsg string
	}{
		{
			name:    "missing ops",
			src:     `mutator: bad: description: "nothing"`,
			path:    "mutator.bad",
			wantMsg: "ops are required",
		},
		{
			name:    "empty ops",
			src:     `mutator: bad: ops: []`,
			path:    "mutator.bad",
			wantMsg: "at least one op",
		},
		{
			name:    "missing op kind",
			src:     `mutator: bad: ops: [{key: "k"}]`,
			path:    "mutator.bad",
			wantMsg: "op is required",
		},
		{
			name:    "float literal",
			src:     `mutator: bad: ops: [{op: "put", key: "k", value: 1.5}]`,
			path:    "mutator.bad",
			wantMsg: "float values are forbidden",
		},
		{
			name:    "incomplete value",
			src:     `mutator: bad: ops: [{op: "put", key: "k", value: string}]`,
			path:    "mutator.bad",
			wantMsg: "must be concrete",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileOne(t, tt.src, tt.path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)

			var ce *CompileError
			assert.ErrorAs(t, err, &ce)
		})
	}
}

func TestCompileErrorFormat(t *testing.T) {
	err := &CompileError{Field: "ops", Message: "ops are required"}
	assert.Equal(t, "ops: ops are required", err.Error())
}

func TestLoadString(t *testing.T) {
	specs, err := LoadString(`
		mutator: a: ops: [{op: "del", key: "args.key"}]
		mutator: b: ops: [{op: "inc", key: "n"}]
	`)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "a", specs[0].Name)
	assert.Equal(t, "b", specs[1].Name)

	_, err = LoadString(`other: 1`)
	assert.Error(t, err)

	_, err = LoadString(`mutator: a: ops: [{op: "upsert", key: "k"}]`)
	require.Error(t, err)
	var ve *ValidationErrors
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, ErrUnknownOp, ve.Errors[0].Code)
}

func TestLoadDir(t *testing.T) {
	res, err := LoadDir("testdata/mutators")
	require.NoError(t, err)
	assert.Equal(t, 2, res.FileCount)

	names := make([]string, len(res.Mutators))
	for i, m := range res.Mutators {
		names[i] = m.Name
	}
	assert.ElementsMatch(t, []string{"inc", "set", "remove", "addTodo", "resetTodos"}, names)
}

func TestLoadDirErrors(t *testing.T) {
	_, err := LoadDir("testdata/does-not-exist")
	assert.Error(t, err)

	_, err = LoadDir(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no CUE files")
}

func TestMutatorRuns(t *testing.T) {
	ctx := context.Background()
	specs, err := LoadString(`
		mutator: inc: ops: [{op: "inc", key: "args.key", by: "args.by"}]
		mutator: set: ops: [{op: "put", key: "args.key", value: "args.value"}]
		mutator: remove: ops: [{op: "del", key: "args.key"}]
		mutator: tick: ops: [{op: "inc", key: "ticks"}]
	`)
	require.NoError(t, err)
	m := make(map[string]*MutatorSpec)
	for _, s := range specs {
		m[s.Name] = s
	}

	tx := newMapTx()
	require.NoError(t, m["inc"].Mutator().Mutate(ctx, tx, ir.Object{"key": ir.String("k"), "by": ir.Int(3)}))
	require.NoError(t, m["inc"].Mutator().Mutate(ctx, tx, ir.Object{"key": ir.String("k"), "by": ir.Int(-1)}))
	assert.Equal(t, ir.Int(2), tx.data["k"])

	require.NoError(t, m["tick"].Mutator().Mutate(ctx, tx, ir.Null{}))
	assert.Equal(t, ir.Int(1), tx.data["ticks"], "by defaults to 1")

	require.NoError(t, m["set"].Mutator().Mutate(ctx, tx, ir.Object{"key": ir.String("s"), "value": ir.Array{}}))
	assert.Equal(t, ir.Array{}, tx.data["s"])

	require.NoError(t, m["remove"].Mutator().Mutate(ctx, tx, ir.Object{"key": ir.String("s")}))
	_, ok := tx.data["s"]
	assert.False(t, ok)
}

func TestMutatorRuntimeErrors(t *testing.T) {
	ctx := context.Background()
	specs, err := LoadString(`
		mutator: inc: ops: [{op: "inc", key: "args.key", by: "args.by"}]
	`)
	require.NoError(t, err)
	inc := specs[0].Mutator()

	tests := []struct {
		name    string
		seed    map[string]ir.Value
		args    ir.Value
		wantMsg string
	}{
		{"args not object", nil, ir.Int(1), "args must be an object"},
		{"missing arg", nil, ir.Object{"key": ir.String("k")}, "args.by: missing from args"},
		{"key not string", nil, ir.Object{"key": ir.Int(1), "by": ir.Int(1)}, "key must be a string"},
		{"by not int", nil, ir.Object{"key": ir.String("k"), "by": ir.String("1")}, "by must be an int"},
		{"existing not int", map[string]ir.Value{"k": ir.Bool(true)}, ir.Object{"key": ir.String("k"), "by": ir.Int(1)}, "not an int"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := newMapTx()
			for k, v := range tt.seed {
				tx.data[k] = v
			}
			err := inc.Mutate(ctx, tx, tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}
