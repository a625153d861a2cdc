package compiler

import (
	"fmt"
	"regexp"

	"cuelang.org/go/cue/token"

	"github.com/roach88/replica/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrUnsupportedType = "E100" // unsupported type for validation

	// MutatorSpec errors (E101-E109)
	ErrMutatorNameInvalid = "E101" // name is empty or malformed
	ErrMutatorNoOps       = "E102" // at least one op required
	ErrDuplicateName      = "E105" // duplicate mutator name

	// Op errors (E110-E119)
	ErrUnknownOp       = "E110" // op is not put, del or inc
	ErrMissingKey      = "E111" // op has no key
	ErrInvalidKey      = "E112" // literal key is not a string
	ErrMissingValue    = "E113" // put has no value
	ErrInvalidBy       = "E114" // inc by is not an int
	ErrInvalidArgRef   = "E115" // args reference is malformed
	ErrUnexpectedField = "E116" // operand not used by the op
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate validates compiled mutators.
// Returns all errors found (does not fail-fast).
// Supports MutatorSpec and []*MutatorSpec.
func Validate(v any) []ValidationError {
	switch spec := v.(type) {
	case *MutatorSpec:
		return validateMutatorSpec(spec)
	case MutatorSpec:
		return validateMutatorSpec(&spec)
	case []*MutatorSpec:
		return validateMutatorSet(spec)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type: %T", v),
			Code:    ErrUnsupportedType,
		}}
	}
}

// namePattern matches mutator names and args fields.
var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

func validateMutatorSet(specs []*MutatorSpec) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool)
	for i, spec := range specs {
		// E105: duplicate name
		if seen[spec.Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("mutators[%d].name", i),
				Message: fmt.Sprintf("duplicate mutator name: %q", spec.Name),
				Code:    ErrDuplicateName,
				Line:    line(spec.Pos),
			})
		}
		seen[spec.Name] = true
		errs = append(errs, validateMutatorSpec(spec)...)
	}
	return errs
}

// validateMutatorSpec validates one mutator.
func validateMutatorSpec(spec *MutatorSpec) []ValidationError {
	var errs []ValidationError

	// E101: name must be usable as a registry key
	if !namePattern.MatchString(spec.Name) {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: fmt.Sprintf("invalid mutator name %q", spec.Name),
			Code:    ErrMutatorNameInvalid,
			Line:    line(spec.Pos),
		})
	}

	// E102: at least one op required
	if len(spec.Ops) == 0 {
		errs = append(errs, ValidationError{
			Field:   spec.Name + ".ops",
			Message: "at least one op is required",
			Code:    ErrMutatorNoOps,
			Line:    line(spec.Pos),
		})
	}

	for i, op := range spec.Ops {
		errs = append(errs, validateOp(op, fmt.Sprintf("%s.ops[%d]", spec.Name, i))...)
	}
	return errs
}

func validateOp(op Op, field string) []ValidationError {
	var errs []ValidationError
	add := func(f, code, format string, args ...any) {
		errs = append(errs, ValidationError{
			Field:   f,
			Message: fmt.Sprintf(format, args...),
			Code:    code,
			Line:    line(op.Pos),
		})
	}

	switch op.Kind {
	case OpPut, OpDel, OpInc:
	default:
		add(field+".op", ErrUnknownOp, "unknown op %q, must be \"put\", \"del\" or \"inc\"", op.Kind)
		return errs
	}

	// E111/E112: every op needs a string key
	switch {
	case !op.Key.IsSet():
		add(field+".key", ErrMissingKey, "%s requires a key", op.Kind)
	case op.Key.Literal != nil && ir.KindOf(op.Key.Literal) != "string":
		add(field+".key", ErrInvalidKey, "literal key must be a string, got %s", ir.KindOf(op.Key.Literal))
	}

	switch op.Kind {
	case OpPut:
		if !op.Value.IsSet() {
			add(field+".value", ErrMissingValue, "put requires a value")
		}
		if op.By.IsSet() {
			add(field+".by", ErrUnexpectedField, "put does not take by")
		}
	case OpDel:
		if op.Value.IsSet() {
			add(field+".value", ErrUnexpectedField, "del does not take a value")
		}
		if op.By.IsSet() {
			add(field+".by", ErrUnexpectedField, "del does not take by")
		}
	case OpInc:
		if op.Value.IsSet() {
			add(field+".value", ErrUnexpectedField, "inc does not take a value")
		}
		if op.By.Literal != nil && ir.KindOf(op.By.Literal) != "int" {
			add(field+".by", ErrInvalidBy, "by must be an int, got %s", ir.KindOf(op.By.Literal))
		}
	}

	// E115: args references must name a field
	for _, o := range []struct {
		name string
		op   Operand
	}{{"key", op.Key}, {"value", op.Value}, {"by", op.By}} {
		if o.op.Arg != "" && !namePattern.MatchString(o.op.Arg) {
			add(field+"."+o.name, ErrInvalidArgRef, "invalid args reference %q", argPrefix+o.op.Arg)
		}
	}
	return errs
}

func line(p token.Pos) int {
	if !p.IsValid() {
		return 0
	}
	return p.Line()
}
