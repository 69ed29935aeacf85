package resilience

import (
	"errors"
	"testing"
	"time"
)

var (
	errUnavailable = errors.New("sandbox provider unavailable")
	errMissing     = errors.New("sandbox not found")
)

func TestClosedStateAllowsCalls(t *testing.T) {
	b := NewBreaker(3, time.Second)
	called := false
	if err := b.Execute(func() error { called = true; return nil }); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Fatal("expected fn to be called")
	}
}

func TestExecuteReturnsCallError(t *testing.T) {
	b := NewBreaker(3, time.Second)
	if err := b.Execute(func() error { return errUnavailable }); !errors.Is(err, errUnavailable) {
		t.Fatalf("expected call error, got %v", err)
	}
}

func TestOpensAfterMaxFailures(t *testing.T) {
	b := NewBreaker(3, time.Second)

	for range 3 {
		_ = b.Execute(func() error { return errUnavailable })
	}

	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestHalfOpenProbeClosesOnSuccess(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, time.Second)
	b.now = func() time.Time { return now }

	for range 2 {
		_ = b.Execute(func() error { return errUnavailable })
	}
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	now = now.Add(2 * time.Second)

	called := false
	if err := b.Execute(func() error { called = true; return nil }); err != nil {
		t.Fatalf("expected probe to pass, got %v", err)
	}
	if !called {
		t.Fatal("expected probe to run")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateClosed {
		t.Fatalf("expected closed after successful probe, got %d", b.state)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker(1, time.Second)
	b.now = func() time.Time { return now }

	_ = b.Execute(func() error { return errUnavailable })
	now = now.Add(2 * time.Second)
	_ = b.Execute(func() error { return errUnavailable })

	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected reopened circuit, got %v", err)
	}
}

func TestIgnoredErrorsDoNotTrip(t *testing.T) {
	b := NewBreaker(2, time.Minute)
	b.IgnoreErrors(func(err error) bool { return errors.Is(err, errMissing) })

	for range 5 {
		if err := b.Execute(func() error { return errMissing }); !errors.Is(err, errMissing) {
			t.Fatalf("expected errMissing passthrough, got %v", err)
		}
	}

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected circuit closed after ignored errors, got %v", err)
	}
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	b := NewBreaker(2, time.Minute)

	_ = b.Execute(func() error { return errUnavailable })
	_ = b.Execute(func() error { return nil })
	_ = b.Execute(func() error { return errUnavailable })

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected closed circuit, got %v", err)
	}
}
