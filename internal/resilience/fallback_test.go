package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestGroup() *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroup_PrimarySuccess(t *testing.T) {
	t.Parallel()
	fg := newTestGroup()

	var called []string
	err := fg.Execute(context.Background(), func(_ context.Context, v string) error {
		called = append(called, v)
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(called) != 1 || called[0] != "primary" {
		t.Fatalf("called = %v, want [primary]", called)
	}
}

func TestFallbackGroup_PrimaryFailFallbackSuccess(t *testing.T) {
	t.Parallel()
	fg := newTestGroup()

	got, err := Do(context.Background(), fg, func(_ context.Context, v string) (string, error) {
		if v == "primary" {
			return "", errTest
		}
		return "served by " + v, nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != "served by secondary" {
		t.Fatalf("result = %q", got)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	t.Parallel()
	fg := newTestGroup()

	err := fg.Execute(context.Background(), func(context.Context, string) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Errorf("err = %v, want it to wrap the last provider error", err)
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()
	fg := newTestGroup()

	// Trip the primary.
	_ = fg.Execute(context.Background(), func(_ context.Context, v string) error {
		if v == "primary" {
			return errTest
		}
		return nil
	})

	var called []string
	err := fg.Execute(context.Background(), func(_ context.Context, v string) error {
		called = append(called, v)
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(called) != 1 || called[0] != "secondary" {
		t.Fatalf("called = %v, want [secondary]", called)
	}
}

func TestFallbackGroup_StopsWhenContextDone(t *testing.T) {
	t.Parallel()
	fg := newTestGroup()
	ctx, cancel := context.WithCancel(context.Background())

	var called []string
	err := fg.Execute(ctx, func(ctx context.Context, v string) error {
		called = append(called, v)
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrAllFailed) {
		t.Error("cancellation should not be reported as ErrAllFailed")
	}
	if len(called) != 1 {
		t.Fatalf("called = %v, want only the primary", called)
	}
	if fg.Status()[0].State != "closed" {
		t.Error("cancellation tripped the primary breaker")
	}
}

func TestFallbackGroup_ContextAlreadyDone(t *testing.T) {
	t.Parallel()
	fg := newTestGroup()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := fg.Execute(ctx, func(context.Context, string) error { called = true; return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if called {
		t.Error("fn ran with a done context")
	}
}

func TestFallbackGroup_StatusAndAvailable(t *testing.T) {
	t.Parallel()
	fg := newTestGroup()

	if !fg.Available() {
		t.Fatal("fresh group should be available")
	}
	_ = fg.Execute(context.Background(), func(context.Context, string) error { return errTest })

	st := fg.Status()
	if len(st) != 2 {
		t.Fatalf("len(Status) = %d, want 2", len(st))
	}
	for i, want := range []string{"primary", "secondary"} {
		if st[i].Name != want || st[i].State != "open" {
			t.Errorf("Status[%d] = %+v, want %s/open", i, st[i], want)
		}
	}
	if fg.Available() {
		t.Error("group with every breaker open should not be available")
	}
}

func TestFallbackGroup_Primary(t *testing.T) {
	t.Parallel()
	if got := newTestGroup().Primary(); got != "primary" {
		t.Errorf("Primary() = %q", got)
	}
}
