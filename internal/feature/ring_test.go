package feature

import (
	"testing"
	"time"
)

func TestRingPushWithinCapacity(t *testing.T) {
	r := NewRing(3)
	base := time.Now()
	r.Push(Sample{Timestamp: base, Price: 1})
	r.Push(Sample{Timestamp: base.Add(time.Second), Price: 2})

	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
	snap := r.Snapshot()
	if snap[0].Price != 1 || snap[1].Price != 2 {
		t.Fatalf("unexpected order: %+v", snap)
	}
}

func TestRingEvictsOldest(t *testing.T) {
	r := NewRing(2)
	base := time.Now()
	r.Push(Sample{Timestamp: base, Price: 1})
	r.Push(Sample{Timestamp: base.Add(time.Second), Price: 2})
	r.Push(Sample{Timestamp: base.Add(2 * time.Second), Price: 3})

	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
	snap := r.Snapshot()
	if snap[0].Price != 2 || snap[1].Price != 3 {
		t.Fatalf("expected [2,3], got %+v", snap)
	}
}

func TestRingLatestAndOldest(t *testing.T) {
	r := NewRing(2)
	if _, ok := r.Latest(); ok {
		t.Fatal("expected no latest on empty ring")
	}
	base := time.Now()
	r.Push(Sample{Timestamp: base, Price: 1})
	r.Push(Sample{Timestamp: base.Add(time.Second), Price: 2})

	latest, _ := r.Latest()
	oldest, _ := r.Oldest()
	if latest.Price != 2 || oldest.Price != 1 {
		t.Fatalf("latest=%v oldest=%v", latest, oldest)
	}
}
