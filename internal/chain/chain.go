// Package chain iterates ordered fallback strategies.
//
// A Step is one strategy: it either produces a value (ok == true), declines
// (ok == false, err == nil: "nothing here") or fails (err != nil). First
// runs steps strictly in order and stops at the first one that produces a
// value, so later steps are never called once an earlier one succeeded.
package chain

import "context"

// Step is one named strategy taking an argument of type A and producing T.
type Step[A, T any] struct {
	Name    string
	Attempt func(ctx context.Context, arg A) (T, bool, error)
}

// SkipFunc observes skipped steps. err is nil when the step declined.
type SkipFunc func(name string, err error)

// First runs steps in order and returns the first produced value together
// with the producing step's name. ok is false when every step was skipped
// or ctx ended; in that case the zero T is returned.
func First[A, T any](ctx context.Context, steps []Step[A, T], arg A, onSkip SkipFunc) (T, string, bool) {
	var zero T
	for _, step := range steps {
		if ctx.Err() != nil {
			return zero, "", false
		}
		v, ok, err := step.Attempt(ctx, arg)
		if err == nil && ok {
			return v, step.Name, true
		}
		if onSkip != nil {
			onSkip(step.Name, err)
		}
	}
	return zero, "", false
}
