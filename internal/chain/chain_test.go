package chain

import (
	"context"
	"errors"
	"testing"
)

func TestFirst(t *testing.T) {
	t.Parallel()

	var calls []string
	step := func(name string, v int, ok bool, err error) Step[string, int] {
		return Step[string, int]{
			Name: name,
			Attempt: func(_ context.Context, arg string) (int, bool, error) {
				calls = append(calls, name+":"+arg)
				return v, ok, err
			},
		}
	}

	var skipped []string
	steps := []Step[string, int]{
		step("empty", 0, false, nil),
		step("broken", 0, false, errors.New("boom")),
		step("winner", 42, true, nil),
		step("never", 7, true, nil),
	}

	v, name, ok := First(context.Background(), steps, "x", func(name string, err error) {
		skipped = append(skipped, name)
	})
	if !ok || v != 42 || name != "winner" {
		t.Fatalf("expected winner/42, got %s/%d ok=%v", name, v, ok)
	}
	if len(calls) != 3 {
		t.Errorf("expected exactly 3 attempts, got %v", calls)
	}
	if len(skipped) != 2 || skipped[0] != "empty" || skipped[1] != "broken" {
		t.Errorf("unexpected skipped steps %v", skipped)
	}
}

func TestFirstValueWithErrorIsSkipped(t *testing.T) {
	t.Parallel()

	steps := []Step[int, string]{
		{Name: "half", Attempt: func(context.Context, int) (string, bool, error) {
			return "partial", true, errors.New("truncated")
		}},
	}
	if _, _, ok := First(context.Background(), steps, 0, nil); ok {
		t.Error("a step returning an error must not win")
	}
}

func TestFirstStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	called := false
	steps := []Step[int, int]{
		{Name: "cancel", Attempt: func(context.Context, int) (int, bool, error) {
			cancel()
			return 0, false, nil
		}},
		{Name: "after", Attempt: func(context.Context, int) (int, bool, error) {
			called = true
			return 1, true, nil
		}},
	}
	if _, _, ok := First(ctx, steps, 0, nil); ok {
		t.Error("expected no result after cancellation")
	}
	if called {
		t.Error("no step may run after the context is cancelled")
	}
}
