package inference

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/surveillance/presurge/internal/alertsink"
	"github.com/surveillance/presurge/internal/broker"
	"github.com/surveillance/presurge/internal/feature"
	"github.com/surveillance/presurge/internal/history"
	"github.com/surveillance/presurge/internal/model"
)

type fakeDepthFetcher struct {
	depth *broker.Depth
	err   error
	calls int
}

func (f *fakeDepthFetcher) OrderBook(ctx context.Context, symbol string) (*broker.Depth, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.depth, nil
}

type recordingRecorder struct {
	records []history.Record
}

func (r *recordingRecorder) Enqueue(rec history.Record) {
	r.records = append(r.records, rec)
}

// stubLearner is a fixed-probability model.Learner test double.
type stubLearner struct {
	proba float64
	kind  string
}

func (s *stubLearner) Fit(x [][]float64, y []float64, w []float64) error { return nil }
func (s *stubLearner) PredictProba(x []float64) float64                  { return s.proba }
func (s *stubLearner) Kind() string                                      { return s.kind }
func (s *stubLearner) MarshalState() ([]byte, error)                     { return nil, nil }
func (s *stubLearner) UnmarshalState([]byte) error                       { return nil }

func testArtifact(schemaVersion int, proba, threshold float64) *model.Artifact {
	return &model.Artifact{
		Version:       1,
		SchemaVersion: schemaVersion,
		Learners: [3]model.Learner{
			&stubLearner{proba: proba, kind: model.KindGBTShallow},
			&stubLearner{proba: proba, kind: model.KindGBTDeep},
			&stubLearner{proba: proba, kind: model.KindBagging},
		},
		LearnerKinds: [3]string{model.KindGBTShallow, model.KindGBTDeep, model.KindBagging},
		Weights:      [3]float64{0.4, 0.3, 0.3},
		Threshold:    threshold,
	}
}

// fakeStore implements Store over an explicit ticker map.
type fakeStore struct {
	states map[string]*feature.TickerState
}

func (f *fakeStore) Symbols() []string {
	out := make([]string, 0, len(f.states))
	for k := range f.states {
		out = append(out, k)
	}
	return out
}

func (f *fakeStore) Get(symbol string) (*feature.TickerState, bool) {
	ts, ok := f.states[symbol]
	return ts, ok
}

func freshTickerState(symbol string) *feature.TickerState {
	ts := feature.NewTickerState(symbol, 64, 100.0, 1_000_000)
	now := time.Now()
	ts.ApplyREST(now, 105.0, 500_000, 10_000, 9_000)
	ts.ApplyTrade(now, 105.2, 500_100, 3.5, 0.6)
	var bids, asks [feature.DepthLevels]int64
	bids[0], asks[0] = 1000, 900
	ts.ApplyBook(now, 10_000, 9_000, bids, asks)
	return ts
}

func calendarNow() feature.CalendarContext {
	return feature.CalendarContext{Now: time.Now(), StalenessBound: time.Minute}
}

func TestRunTickEmitsDetectionAboveThreshold(t *testing.T) {
	store := &fakeStore{states: map[string]*feature.TickerState{"AAPL": freshTickerState("AAPL")}}
	handle := model.NewHandle(testArtifact(feature.SchemaVersion, 0.95, 0.5))
	sink := &recordingSink{}

	eng := New(store, handle, sink, Config{TickDeadline: time.Second, Calendar: calendarNow}, zerolog.Nop())
	n := eng.RunTick(context.Background())

	if n != 1 {
		t.Fatalf("expected 1 detection, got %d", n)
	}
	if sink.calls != 1 {
		t.Fatalf("expected sink called once, got %d", sink.calls)
	}
}

func TestRunTickSkipsBelowThreshold(t *testing.T) {
	store := &fakeStore{states: map[string]*feature.TickerState{"AAPL": freshTickerState("AAPL")}}
	handle := model.NewHandle(testArtifact(feature.SchemaVersion, 0.1, 0.5))
	sink := &recordingSink{}

	eng := New(store, handle, sink, Config{TickDeadline: time.Second, Calendar: calendarNow}, zerolog.Nop())
	n := eng.RunTick(context.Background())

	if n != 0 {
		t.Fatalf("expected 0 detections, got %d", n)
	}
	if sink.calls != 0 {
		t.Fatalf("expected sink not called, got %d calls", sink.calls)
	}
}

func TestRunTickSkipsOnSchemaMismatch(t *testing.T) {
	store := &fakeStore{states: map[string]*feature.TickerState{"AAPL": freshTickerState("AAPL")}}
	handle := model.NewHandle(testArtifact(feature.SchemaVersion+1, 0.99, 0.5))
	sink := &recordingSink{}

	eng := New(store, handle, sink, Config{TickDeadline: time.Second, Calendar: calendarNow}, zerolog.Nop())
	n := eng.RunTick(context.Background())

	if n != 0 {
		t.Fatalf("expected 0 detections on schema mismatch, got %d", n)
	}
	if eng.SchemaMismatches() != 1 {
		t.Fatalf("expected 1 recorded schema mismatch, got %d", eng.SchemaMismatches())
	}
}

func TestRunTickNoArtifactIsNoOp(t *testing.T) {
	store := &fakeStore{states: map[string]*feature.TickerState{"AAPL": freshTickerState("AAPL")}}
	handle := model.NewHandle(nil)
	sink := &recordingSink{}

	eng := New(store, handle, sink, Config{TickDeadline: time.Second, Calendar: calendarNow}, zerolog.Nop())
	n := eng.RunTick(context.Background())

	if n != 0 {
		t.Fatalf("expected 0 detections with no artifact, got %d", n)
	}
}

func TestRunTickRecordsHistoryEvenWithoutArtifact(t *testing.T) {
	store := &fakeStore{states: map[string]*feature.TickerState{"AAPL": freshTickerState("AAPL")}}
	handle := model.NewHandle(nil)
	sink := &recordingSink{}
	rec := &recordingRecorder{}

	eng := New(store, handle, sink, Config{TickDeadline: time.Second, Calendar: calendarNow, Recorder: rec}, zerolog.Nop())
	eng.RunTick(context.Background())

	if len(rec.records) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(rec.records))
	}
	if rec.records[0].Ticker != "AAPL" {
		t.Fatalf("expected ticker AAPL, got %q", rec.records[0].Ticker)
	}
}

func TestRunTickRecordsHistoryAlongsideDetection(t *testing.T) {
	store := &fakeStore{states: map[string]*feature.TickerState{"AAPL": freshTickerState("AAPL")}}
	handle := model.NewHandle(testArtifact(feature.SchemaVersion, 0.95, 0.5))
	sink := &recordingSink{}
	rec := &recordingRecorder{}

	eng := New(store, handle, sink, Config{TickDeadline: time.Second, Calendar: calendarNow, Recorder: rec}, zerolog.Nop())
	n := eng.RunTick(context.Background())

	if n != 1 {
		t.Fatalf("expected 1 detection, got %d", n)
	}
	if len(rec.records) != 1 {
		t.Fatalf("expected 1 history record alongside the detection, got %d", len(rec.records))
	}
}

func TestRunTickAttachesDepthOnDetection(t *testing.T) {
	store := &fakeStore{states: map[string]*feature.TickerState{"AAPL": freshTickerState("AAPL")}}
	handle := model.NewHandle(testArtifact(feature.SchemaVersion, 0.95, 0.5))
	sink := &recordingSink{}
	fetcher := &fakeDepthFetcher{depth: &broker.Depth{BidPrice: 185.2, AskPrice: 185.3}}

	eng := New(store, handle, sink, Config{TickDeadline: time.Second, Calendar: calendarNow, DepthFetcher: fetcher}, zerolog.Nop())
	n := eng.RunTick(context.Background())

	if n != 1 {
		t.Fatalf("expected 1 detection, got %d", n)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected OrderBook called once, got %d", fetcher.calls)
	}
	if len(sink.detections) != 1 || sink.detections[0].Depth == nil {
		t.Fatalf("expected detection with attached depth, got %+v", sink.detections)
	}
	if sink.detections[0].Depth.BidPrice != 185.2 {
		t.Fatalf("unexpected depth bid price: %+v", sink.detections[0].Depth)
	}
}

func TestRunTickSurvivesDepthFetchFailure(t *testing.T) {
	store := &fakeStore{states: map[string]*feature.TickerState{"AAPL": freshTickerState("AAPL")}}
	handle := model.NewHandle(testArtifact(feature.SchemaVersion, 0.95, 0.5))
	sink := &recordingSink{}
	fetcher := &fakeDepthFetcher{err: context.DeadlineExceeded}

	eng := New(store, handle, sink, Config{TickDeadline: time.Second, Calendar: calendarNow, DepthFetcher: fetcher}, zerolog.Nop())
	n := eng.RunTick(context.Background())

	if n != 1 {
		t.Fatalf("expected detection still emitted despite depth fetch failure, got %d", n)
	}
	if sink.detections[0].Depth != nil {
		t.Fatalf("expected nil depth on fetch failure, got %+v", sink.detections[0].Depth)
	}
}

type recordingSink struct {
	calls      int
	detections []alertsink.Detection
}

func (r *recordingSink) Emit(d alertsink.Detection) error {
	r.calls++
	r.detections = append(r.detections, d)
	return nil
}
