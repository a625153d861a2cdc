// Package compiler turns declarative CUE mutator definitions into
// registry entries.
//
// A definition lists ops applied in order against the mutation's write
// transaction:
//
//	mutator: inc: {
//		description: "add by to a counter"
//		ops: [{op: "inc", key: "args.key", by: "args.by"}]
//	}
//
// A string of the form "args.<field>" reads that field of the mutation's
// object args; every other value is a literal.
package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/replica/internal/ir"
)

// Op kinds.
const (
	OpPut = "put"
	OpDel = "del"
	OpInc = "inc"
)

const argPrefix = "args."

// MutatorSpec is a compiled mutator definition.
type MutatorSpec struct {
	Name        string
	Description string
	Ops         []Op
	Pos         token.Pos
}

// Op is one step of a mutator.
type Op struct {
	Kind  string
	Key   Operand
	Value Operand // put
	By    Operand // inc
	Pos   token.Pos
}

// Operand is either a reference to a field of the args object or a literal.
type Operand struct {
	// Arg names the args field; empty for literals.
	Arg string
	// Literal is the constant value when Arg is empty. Nil means the
	// operand was not given.
	Literal ir.Value
}

// IsSet reports whether the operand was given.
func (o Operand) IsSet() bool {
	return o.Arg != "" || o.Literal != nil
}

func (o Operand) String() string {
	if o.Arg != "" {
		return argPrefix + o.Arg
	}
	if o.Literal == nil {
		return "<unset>"
	}
	return string(ir.MustMarshalCanonical(o.Literal))
}

// CompileMutator parses a CUE value into a MutatorSpec.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the mutator struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`mutator: set: ops: [...]`)
//	spec, err := CompileMutator(v.LookupPath(cue.ParsePath("mutator.set")))
func CompileMutator(v cue.Value) (*MutatorSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &MutatorSpec{Pos: v.Pos()}

	// Name comes from the struct label (the path selector)
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = labels[len(labels)-1].Unquoted()
	}

	if descVal := v.LookupPath(cue.ParsePath("description")); descVal.Exists() {
		desc, err := descVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		spec.Description = desc
	}

	opsVal := v.LookupPath(cue.ParsePath("ops"))
	if !opsVal.Exists() {
		return nil, &CompileError{
			Field:   "ops",
			Message: "ops are required",
			Pos:     v.Pos(),
		}
	}
	iter, err := opsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for i := 0; iter.Next(); i++ {
		op, err := compileOp(iter.Value(), i)
		if err != nil {
			return nil, err
		}
		spec.Ops = append(spec.Ops, op)
	}
	if len(spec.Ops) == 0 {
		return nil, &CompileError{
			Field:   "ops",
			Message: "at least one op is required",
			Pos:     opsVal.Pos(),
		}
	}

	return spec, nil
}

func compileOp(v cue.Value, index int) (Op, error) {
	field := fmt.Sprintf("ops[%d]", index)
	op := Op{Pos: v.Pos()}

	kindVal := v.LookupPath(cue.ParsePath("op"))
	if !kindVal.Exists() {
		return op, &CompileError{Field: field + ".op", Message: "op is required", Pos: v.Pos()}
	}
	kind, err := kindVal.String()
	if err != nil {
		return op, formatCUEError(err)
	}
	op.Kind = kind

	operands := []struct {
		name string
		dst  *Operand
	}{
		{"key", &op.Key},
		{"value", &op.Value},
		{"by", &op.By},
	}
	for _, o := range operands {
		fv := v.LookupPath(cue.ParsePath(o.name))
		if !fv.Exists() {
			continue
		}
		operand, err := compileOperand(fv, field+"."+o.name)
		if err != nil {
			return op, err
		}
		*o.dst = operand
	}
	return op, nil
}

// compileOperand reads a concrete CUE value as an arg reference or literal.
func compileOperand(v cue.Value, field string) (Operand, error) {
	if s, err := v.String(); err == nil && strings.HasPrefix(s, argPrefix) {
		return Operand{Arg: strings.TrimPrefix(s, argPrefix)}, nil
	}
	lit, err := toIR(v, field)
	if err != nil {
		return Operand{}, err
	}
	return Operand{Literal: lit}, nil
}

// toIR converts a concrete CUE value to an ir.Value.
// Floats are forbidden: values must hash deterministically.
func toIR(v cue.Value, field string) (ir.Value, error) {
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, &CompileError{Field: field, Message: "value must be concrete", Pos: v.Pos()}
	}

	switch v.Kind() {
	case cue.NullKind:
		return ir.Null{}, nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.String(s), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Int(n), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Bool(b), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.Array{}
		for i := 0; iter.Next(); i++ {
			elem, err := toIR(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := ir.Object{}
		for iter.Next() {
			label := iter.Label()
			elem, err := toIR(iter.Value(), field+"."+label)
			if err != nil {
				return nil, err
			}
			obj[label] = elem
		}
		return obj, nil
	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{
			Field:   field,
			Message: "float values are forbidden - use int instead",
			Pos:     v.Pos(),
		}
	default:
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("unsupported value kind: %v", v.Kind()),
			Pos:     v.Pos(),
		}
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
