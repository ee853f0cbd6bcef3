package broker

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/surveillance/presurge/internal/broker/wire"
	"github.com/surveillance/presurge/internal/resilience"
)

func newTestStreamClient() *StreamClient {
	b := resilience.NewBreaker(resilience.BreakerConfig{
		Name:             "test-stream",
		FailureThreshold: 5,
		Cooldown:         time.Second,
	}, zerolog.Nop())

	return NewStreamClient(StreamConfig{
		URL:         "wss://example.invalid/stream",
		Breaker:     b,
		BackoffBase: time.Millisecond,
		BackoffCap:  10 * time.Millisecond,
		Jitter:      0.1,
		PacingDelay: time.Millisecond,
	}, zerolog.Nop())
}

func TestSubscribeRegistersSymbols(t *testing.T) {
	s := newTestStreamClient()
	go func() {
		// drain the send channel so Subscribe's send() doesn't block the test.
		for range s.sendCh {
		}
	}()

	if err := s.Subscribe(wire.ChannelTrades, []string{"NEXO", "QBIT"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	got := s.SubscribedSymbols(wire.ChannelTrades)
	if len(got) != 2 {
		t.Fatalf("expected 2 subscribed symbols, got %d: %v", len(got), got)
	}
}

func TestUnsubscribeRemovesSymbols(t *testing.T) {
	s := newTestStreamClient()
	go func() {
		for range s.sendCh {
		}
	}()

	s.Subscribe(wire.ChannelBook, []string{"NEXO", "QBIT"})
	s.Unsubscribe(wire.ChannelBook, []string{"NEXO"})

	got := s.SubscribedSymbols(wire.ChannelBook)
	if len(got) != 1 || got[0] != "QBIT" {
		t.Fatalf("expected [QBIT] remaining, got %v", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s := newTestStreamClient()
	s.Close()
	s.Close() // must not panic on double-close
}

func TestSubscribeRejectsOverCap(t *testing.T) {
	b := resilience.NewBreaker(resilience.BreakerConfig{
		Name:             "test-stream-cap",
		FailureThreshold: 5,
		Cooldown:         time.Second,
	}, zerolog.Nop())
	s := NewStreamClient(StreamConfig{
		URL:             "wss://example.invalid/stream",
		Breaker:         b,
		BackoffBase:     time.Millisecond,
		BackoffCap:      10 * time.Millisecond,
		Jitter:          0.1,
		PacingDelay:     time.Millisecond,
		SubscriptionCap: 3,
	}, zerolog.Nop())
	go func() {
		for range s.sendCh {
		}
	}()

	if err := s.Subscribe(wire.ChannelTrades, []string{"NEXO", "QBIT", "ACEL"}); err != nil {
		t.Fatalf("Subscribe at cap: %v", err)
	}
	if err := s.Subscribe(wire.ChannelTrades, []string{"DRFT"}); !errors.Is(err, ErrCapExceeded) {
		t.Fatalf("expected ErrCapExceeded, got %v", err)
	}

	got := s.SubscribedSymbols(wire.ChannelTrades)
	if len(got) != 3 {
		t.Fatalf("rejected subscribe must not partially apply, got %d symbols: %v", len(got), got)
	}
}

func TestSubscribeResubscribeWithinCapSucceeds(t *testing.T) {
	b := resilience.NewBreaker(resilience.BreakerConfig{
		Name:             "test-stream-cap-resub",
		FailureThreshold: 5,
		Cooldown:         time.Second,
	}, zerolog.Nop())
	s := NewStreamClient(StreamConfig{
		URL:             "wss://example.invalid/stream",
		Breaker:         b,
		BackoffBase:     time.Millisecond,
		BackoffCap:      10 * time.Millisecond,
		Jitter:          0.1,
		PacingDelay:     time.Millisecond,
		SubscriptionCap: 2,
	}, zerolog.Nop())
	go func() {
		for range s.sendCh {
		}
	}()

	if err := s.Subscribe(wire.ChannelTrades, []string{"NEXO", "QBIT"}); err != nil {
		t.Fatalf("Subscribe at cap: %v", err)
	}
	// re-subscribing an already-held symbol adds no new slot.
	if err := s.Subscribe(wire.ChannelTrades, []string{"NEXO"}); err != nil {
		t.Fatalf("expected re-subscribe of held symbol to succeed, got %v", err)
	}
}
