package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// LoadResult contains the mutators compiled from a directory.
type LoadResult struct {
	Mutators  []*MutatorSpec
	FileCount int // Number of CUE files found
}

// LoadDir loads every CUE file in dir as one instance and compiles the
// structs under "mutator". It returns the first compile error; validation
// errors are returned together as a single error.
func LoadDir(dir string) (*LoadResult, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("mutators directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", formatCUEError(inst.Err))
	}
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("building CUE value: %w", formatCUEError(err))
	}

	specs, err := CompileAll(value)
	if err != nil {
		return nil, err
	}
	return &LoadResult{Mutators: specs, FileCount: len(files)}, nil
}

// LoadString compiles mutators from CUE source text.
func LoadString(src string) ([]*MutatorSpec, error) {
	v := cuecontext.New().CompileString(src)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return CompileAll(v)
}

// CompileAll compiles and validates every field of v's "mutator" struct.
func CompileAll(v cue.Value) ([]*MutatorSpec, error) {
	mv := v.LookupPath(cue.ParsePath("mutator"))
	if !mv.Exists() {
		return nil, &CompileError{Field: "mutator", Message: "no mutators defined", Pos: v.Pos()}
	}
	iter, err := mv.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var specs []*MutatorSpec
	for iter.Next() {
		spec, err := CompileMutator(iter.Value())
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}

	if errs := Validate(specs); len(errs) > 0 {
		return nil, &ValidationErrors{Errors: errs}
	}
	return specs, nil
}

// ValidationErrors wraps every problem Validate found.
type ValidationErrors struct {
	Errors []ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", e.Errors[0].Error(), len(e.Errors)-1)
}

// FindCUEFiles walks the directory and returns all .cue file paths, sorted.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}
