package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:             "test",
		FailureThreshold: 3,
		Cooldown:         50 * time.Millisecond,
	}, zerolog.Nop())

	failing := func() (any, error) { return nil, errors.New("boom") }

	for i := 0; i < 3; i++ {
		if _, err := b.Execute(failing); err == nil {
			t.Fatalf("attempt %d: expected error", i)
		}
	}

	_, err := b.Execute(func() (any, error) { return "ok", nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after tripping, got %v", err)
	}
}

func TestBreakerRecoversAfterCooldown(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		Cooldown:         10 * time.Millisecond,
	}, zerolog.Nop())

	b.Execute(func() (any, error) { return nil, errors.New("boom") })

	time.Sleep(20 * time.Millisecond)

	v, err := b.Execute(func() (any, error) { return "ok", nil })
	if err != nil {
		t.Fatalf("expected half-open probe to succeed, got %v", err)
	}
	if v != "ok" {
		t.Fatalf("unexpected result %v", v)
	}
}

func TestDegradedControllerTransitions(t *testing.T) {
	d := NewDegradedController()
	if d.IsDegraded() {
		t.Fatal("expected normal mode initially")
	}
	if !d.Enter() {
		t.Fatal("expected first Enter to transition")
	}
	if d.Enter() {
		t.Fatal("expected second Enter to be a no-op")
	}
	if !d.Exit() {
		t.Fatal("expected Exit to transition back")
	}
	if d.IsDegraded() {
		t.Fatal("expected normal mode after Exit")
	}
}

func TestJitterBounds(t *testing.T) {
	base := 10 * time.Second
	for i := 0; i < 100; i++ {
		j := Jitter(base, 0.3)
		if j < 7*time.Second || j > 13*time.Second {
			t.Fatalf("jittered duration %v out of expected [7s,13s] bound", j)
		}
	}
}
