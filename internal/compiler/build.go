package compiler

import (
	"context"
	"fmt"

	"github.com/roach88/replica/internal/ir"
	"github.com/roach88/replica/internal/mutator"
)

// Mutator returns a mutator that applies the definition's ops in order.
func (s *MutatorSpec) Mutator() mutator.Mutator {
	return mutator.Func(func(ctx context.Context, tx mutator.Tx, args ir.Value) error {
		for i, op := range s.Ops {
			if err := op.apply(ctx, tx, args); err != nil {
				return fmt.Errorf("%s: op %d (%s): %w", s.Name, i, op.Kind, err)
			}
		}
		return nil
	})
}

func (op Op) apply(ctx context.Context, tx mutator.Tx, args ir.Value) error {
	key, err := op.key(args)
	if err != nil {
		return err
	}

	switch op.Kind {
	case OpPut:
		v, err := op.Value.resolve(args)
		if err != nil {
			return err
		}
		return tx.Put(ctx, key, v)

	case OpDel:
		_, err := tx.Del(ctx, key)
		return err

	case OpInc:
		by := ir.Value(ir.Int(1))
		if op.By.IsSet() {
			if by, err = op.By.resolve(args); err != nil {
				return err
			}
		}
		delta, ok := by.(ir.Int)
		if !ok {
			return fmt.Errorf("by must be an int, got %s", ir.KindOf(by))
		}

		var cur ir.Int
		v, found, err := tx.Get(ctx, key)
		if err != nil {
			return err
		}
		if found {
			if cur, ok = v.(ir.Int); !ok {
				return fmt.Errorf("key %q holds %s, not an int", key, ir.KindOf(v))
			}
		}
		return tx.Put(ctx, key, cur+delta)
	}
	return fmt.Errorf("unknown op %q", op.Kind)
}

func (op Op) key(args ir.Value) (string, error) {
	v, err := op.Key.resolve(args)
	if err != nil {
		return "", err
	}
	s, ok := v.(ir.String)
	if !ok {
		return "", fmt.Errorf("key must be a string, got %s", ir.KindOf(v))
	}
	return string(s), nil
}

// resolve returns the operand's value for one set of args.
func (o Operand) resolve(args ir.Value) (ir.Value, error) {
	if o.Arg == "" {
		if o.Literal == nil {
			return nil, fmt.Errorf("operand not set")
		}
		return o.Literal, nil
	}
	obj, ok := args.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("%s: args must be an object, got %s", o, ir.KindOf(args))
	}
	v, ok := obj[o.Arg]
	if !ok {
		return nil, fmt.Errorf("%s: missing from args", o)
	}
	return v, nil
}

// Register adds every spec to reg.
func Register(reg *mutator.Registry, specs []*MutatorSpec) error {
	for _, s := range specs {
		if err := reg.Register(s.Name, s.Mutator()); err != nil {
			return err
		}
	}
	return nil
}
