package feature

import (
	"testing"
	"time"
)

func TestComputeOFIMaskedWhenDepthZero(t *testing.T) {
	now := time.Now()
	snap := Snapshot{
		Symbol:           "X",
		BidTotal:         0,
		AskTotal:         0,
		DepthValid:       true,
		StreamValid:      true,
		LastStreamUpdate: now,
	}
	v := Compute(snap, CalendarContext{Now: now, StalenessBound: time.Minute})
	if _, ok := v.Get(FieldOFI); ok {
		t.Fatal("expected OFI masked when bid_total == ask_total == 0")
	}
}

func TestComputeOFIPositiveImbalance(t *testing.T) {
	now := time.Now()
	snap := Snapshot{
		Symbol:           "X",
		BidTotal:         2_000_000,
		AskTotal:         500_000,
		DepthValid:       true,
		StreamValid:      true,
		LastStreamUpdate: now,
	}
	v := Compute(snap, CalendarContext{Now: now, StalenessBound: time.Minute})
	ofi, ok := v.Get(FieldOFI)
	if !ok {
		t.Fatal("expected OFI present")
	}
	want := (2_000_000.0 - 500_000.0) / (2_000_000.0 + 500_000.0)
	if diff := ofi - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("OFI = %v, want %v", ofi, want)
	}
}

func TestComputeMomentumMaskedOnEmptyWindow(t *testing.T) {
	now := time.Now()
	v := Compute(Snapshot{Symbol: "X"}, CalendarContext{Now: now, StalenessBound: time.Minute})
	if _, ok := v.Get(FieldMomentum5m); ok {
		t.Fatal("expected momentum masked with empty window")
	}
}

func TestComputeMomentumPresentAfterWarmup(t *testing.T) {
	now := time.Now()
	window := []Sample{
		{Timestamp: now.Add(-6 * time.Minute), Price: 100, Volume: 1000},
		{Timestamp: now.Add(-3 * time.Minute), Price: 105, Volume: 1500},
		{Timestamp: now, Price: 110, Volume: 2000},
	}
	v := Compute(Snapshot{Symbol: "X", Window: window}, CalendarContext{Now: now, StalenessBound: time.Minute})
	mom, ok := v.Get(FieldMomentum5m)
	if !ok {
		t.Fatal("expected momentum present once window spans 5 minutes")
	}
	if mom <= 0 {
		t.Fatalf("expected positive momentum for rising prices, got %v", mom)
	}
}

func TestComputeVolumeRatioMaskedWhenBaselineZero(t *testing.T) {
	now := time.Now()
	snap := Snapshot{Symbol: "X", CumVolume: 1000, Avg5SessionVolume: 0, LastRESTUpdate: now}
	v := Compute(snap, CalendarContext{Now: now, StalenessBound: time.Minute})
	if _, ok := v.Get(FieldVolumeRatio); ok {
		t.Fatal("expected volume ratio masked when baseline is zero")
	}
}

func TestComputeVolumeRatioMaskedWhenStale(t *testing.T) {
	now := time.Now()
	snap := Snapshot{
		Symbol:            "X",
		CumVolume:         900_000,
		Avg5SessionVolume: 1_000_000,
		LastRESTUpdate:    now.Add(-time.Hour),
	}
	v := Compute(snap, CalendarContext{Now: now, StalenessBound:5 * time.Second})
	if _, ok := v.Get(FieldVolumeRatio); ok {
		t.Fatal("expected volume ratio masked when REST channel is stale")
	}
}

func TestAllFieldsFiniteNeverNaNOrInf(t *testing.T) {
	now := time.Now()
	window := make([]Sample, 0, 40)
	price := 100.0
	for i := 40; i >= 0; i-- {
		window = append(window, Sample{
			Timestamp: now.Add(-time.Duration(i) * 30 * time.Second),
			Price:     price,
			Volume:    int64(1000 * (41 - i)),
		})
		price += 0.5
	}
	snap := Snapshot{
		Symbol:            "X",
		CumVolume:         900_000,
		Avg5SessionVolume: 1_000_000,
		BidTotal:          2_000_000,
		AskTotal:          500_000,
		DepthValid:        true,
		StreamValid:       true,
		LastRESTUpdate:    now,
		LastStreamUpdate:  now,
		Window:            window,
	}
	v := Compute(snap, CalendarContext{Now: now, StalenessBound: time.Minute})
	for i := 0; i < FieldCount; i++ {
		if val, ok := v.Get(i); ok {
			if !finite(val) {
				t.Fatalf("field %s = %v is not finite", FieldName(i), val)
			}
		}
	}
}
