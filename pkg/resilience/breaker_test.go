package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *time.Time) {
	b := NewBreaker(BreakerOpts{FailThreshold: threshold, Cooldown: cooldown, HalfOpenMax: 1})
	now := time.Now()
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_StaysClosedOnSuccess(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)
	for i := 0; i < 10; i++ {
		if err := b.Call(context.Background(), succeed); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %v", b.State())
	}
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		if err := b.Call(context.Background(), fail); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: expected boom, got %v", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %v", b.State())
	}
	if err := b.Call(context.Background(), succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.Call(context.Background(), fail)
	b.Call(context.Background(), fail)
	b.Call(context.Background(), succeed)
	b.Call(context.Background(), fail)
	b.Call(context.Background(), fail)

	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %v", b.State())
	}
}

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	b, now := newTestBreaker(1, time.Second)

	b.Call(context.Background(), fail)
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %v", b.State())
	}

	*now = now.Add(2 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %v", b.State())
	}
	if err := b.Call(context.Background(), succeed); err != nil {
		t.Fatalf("probe should pass: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after probe, got %v", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(1, time.Second)

	b.Call(context.Background(), fail)
	*now = now.Add(2 * time.Second)

	if err := b.Call(context.Background(), fail); !errors.Is(err, errBoom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected reopened, got %v", b.State())
	}
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	b, now := newTestBreaker(1, time.Second)

	b.Call(context.Background(), fail)
	*now = now.Add(2 * time.Second)
	b.State() // force transition to half-open

	started := make(chan struct{})
	release := make(chan struct{})
	go b.Call(context.Background(), func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	if err := b.Call(context.Background(), succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second probe should be rejected, got %v", err)
	}
	close(release)
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d) = %q, want %q", tt.state, got, tt.want)
		}
	}
}
