package engine

import "context"

// Work is a unit of work executed by the engine. Arguments are bound by the
// caller when the Work value is built; the engine only calls Run.
//
// Run must observe ctx: it is cancelled on Cancel, on Stop and when the
// attempt deadline passes.
type Work interface {
	Run(ctx context.Context) (any, error)
}

// WorkFunc adapts a plain function to Work.
type WorkFunc func(ctx context.Context) (any, error)

func (f WorkFunc) Run(ctx context.Context) (any, error) { return f(ctx) }

// Func adapts a function that produces no value.
func Func(fn func(ctx context.Context) error) Work {
	return WorkFunc(func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
}

// Typed adapts a function returning a concrete type. Read the value back
// with ValueAs.
func Typed[T any](fn func(ctx context.Context) (T, error)) Work {
	return WorkFunc(func(ctx context.Context) (any, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	})
}

// ValueAs returns the result value as T. It reports false for failed
// results or when the stored value has a different type.
func ValueAs[T any](r Result) (T, bool) {
	var zero T
	if !r.Success {
		return zero, false
	}
	v, ok := r.Value.(T)
	if !ok {
		return zero, false
	}
	return v, true
}
