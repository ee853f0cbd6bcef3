package feature

import (
	"testing"
	"time"
)

func TestApplyRESTIsIdempotent(t *testing.T) {
	ts := NewTickerState("NEXO", 64, 180, 1_000_000)
	now := time.Now()

	ts.ApplyREST(now, 185.25, 500_000, 2_000_000, 1_500_000)
	first := ts.Snapshot()

	ts.ApplyREST(now, 185.25, 500_000, 2_000_000, 1_500_000)
	second := ts.Snapshot()

	if first.Price != second.Price || first.CumVolume != second.CumVolume {
		t.Fatalf("re-applying the same snapshot changed state: %+v vs %+v", first, second)
	}
}

func TestCumVolumeNeverDecreases(t *testing.T) {
	ts := NewTickerState("NEXO", 64, 180, 1_000_000)
	now := time.Now()

	ts.ApplyREST(now, 185, 500_000, 0, 0)
	ts.ApplyREST(now.Add(time.Second), 186, 400_000, 0, 0) // stale/regressed volume

	snap := ts.Snapshot()
	if snap.CumVolume != 500_000 {
		t.Fatalf("CumVolume regressed to %d, want 500000 retained", snap.CumVolume)
	}
}

func TestStoreEvictsUnderBudget(t *testing.T) {
	s := NewStore(16, 2)
	s.GetOrCreate("AAAA", 100, 1000)
	s.GetOrCreate("BBBB", 100, 1000)
	s.GetOrCreate("CCCC", 100, 1000) // evicts AAAA (least recently used)

	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	if s.Evictions() != 1 {
		t.Fatalf("Evictions() = %d, want 1", s.Evictions())
	}
	if _, ok := s.Get("AAAA"); ok {
		t.Fatal("expected AAAA to have been evicted")
	}
}

func TestStaleness(t *testing.T) {
	ts := NewTickerState("NEXO", 16, 100, 1000)
	now := time.Now()
	ts.ApplyREST(now.Add(-10*time.Second), 100, 0, 0, 0)

	snap := ts.Snapshot()
	if snap.Staleness(now) < 9*time.Second {
		t.Fatalf("staleness = %v, want >= 9s", snap.Staleness(now))
	}
}

func TestStalenessInfiniteWhenNeverUpdated(t *testing.T) {
	ts := NewTickerState("NEXO", 16, 100, 1000)
	snap := ts.Snapshot()
	if snap.Staleness(time.Now()) < time.Hour {
		t.Fatal("expected effectively-infinite staleness for never-updated ticker")
	}
}
