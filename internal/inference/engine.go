// Package inference runs the ensemble scorer over the feature store each
// polling cycle and emits detections through an alert sink.
package inference

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/surveillance/presurge/internal/alertsink"
	"github.com/surveillance/presurge/internal/broker"
	"github.com/surveillance/presurge/internal/feature"
	"github.com/surveillance/presurge/internal/history"
	"github.com/surveillance/presurge/internal/model"
)

// ErrSchemaMismatch is raised (and the ticker skipped, never scored) when
// the pipeline's schema version doesn't match the active artifact's.
var ErrSchemaMismatch = errors.New("inference: feature schema mismatch")

// Store is the subset of feature.Store the engine depends on.
type Store interface {
	Symbols() []string
	Get(symbol string) (*feature.TickerState, bool)
}

// Recorder receives a feature observation for every scored ticker on every
// tick, independent of whether a detection fired or a model is even loaded
// yet, so the history store keeps accumulating the population the Labeller
// and Trainer need. Satisfied by *history.Logger.
type Recorder interface {
	Enqueue(r history.Record)
}

// DepthFetcher fetches full order book depth for one symbol, used sparingly
// to enrich a detection right as it fires rather than on every tick.
// Satisfied by *broker.RESTClient.
type DepthFetcher interface {
	OrderBook(ctx context.Context, symbol string) (*broker.Depth, error)
}

// Engine scores every resident ticker against the active model artifact
// each tick, emitting a Detection when the ensemble probability clears
// the artifact's threshold.
type Engine struct {
	store    Store
	handle   *model.Handle
	sink     alertsink.Sink
	recorder Recorder
	depth    DepthFetcher
	cal      func() feature.CalendarContext
	log      zerolog.Logger

	tickDeadline time.Duration

	schemaMismatches int64
	ticksSkipped     int64
}

// Config configures an Engine.
type Config struct {
	TickDeadline time.Duration
	Calendar     func() feature.CalendarContext
	// Recorder is optional; when nil, ticks are scored but never logged to
	// history (useful for tests that don't care about training data).
	Recorder Recorder
	// DepthFetcher is optional; when nil, detections are emitted without
	// an order_book enrichment.
	DepthFetcher DepthFetcher
}

// New builds an Engine around a feature store and a model handle.
func New(store Store, handle *model.Handle, sink alertsink.Sink, cfg Config, log zerolog.Logger) *Engine {
	return &Engine{
		store:        store,
		handle:       handle,
		sink:         sink,
		recorder:     cfg.Recorder,
		depth:        cfg.DepthFetcher,
		cal:          cfg.Calendar,
		tickDeadline: cfg.TickDeadline,
		log:          log.With().Str("component", "inference").Logger(),
	}
}

// RunTick scores every resident ticker once, under the configured soft
// deadline: tickers not yet scored when the deadline elapses are skipped
// for this cycle and logged, not treated as an error.
func (e *Engine) RunTick(ctx context.Context) int {
	artifact := e.handle.Load()
	if artifact == nil {
		e.log.Debug().Msg("no active model artifact, feature observations still recorded for training")
	}

	deadline := time.Now().Add(e.tickDeadline)
	detections := 0
	cal := e.cal()

	for _, symbol := range e.store.Symbols() {
		if time.Now().After(deadline) {
			e.log.Warn().Msg("inference tick deadline exceeded, remaining tickers skipped this cycle")
			break
		}
		select {
		case <-ctx.Done():
			return detections
		default:
		}

		ts, ok := e.store.Get(symbol)
		if !ok {
			continue
		}

		snap := ts.Snapshot()
		vec := feature.Compute(snap, cal)
		e.record(snap, vec)

		if artifact == nil {
			continue
		}

		det, err := e.scoreVector(snap, vec, artifact)
		if err != nil {
			if errors.Is(err, ErrSchemaMismatch) {
				e.schemaMismatches++
				e.log.Error().Str("ticker", symbol).Msg("SCHEMA_MISMATCH: artifact/pipeline schema version differ, skipping ticker")
			}
			continue
		}
		if det == nil {
			continue
		}

		if e.depth != nil {
			if d, err := e.depth.OrderBook(ctx, symbol); err != nil {
				e.log.Warn().Err(err).Str("ticker", symbol).Msg("order book enrichment failed, emitting detection without it")
			} else {
				det.Depth = &alertsink.Depth{
					BidPrice: d.BidPrice,
					AskPrice: d.AskPrice,
					BidSizes: d.BidSizes,
					AskSizes: d.AskSizes,
				}
			}
		}

		if err := e.sink.Emit(*det); err != nil {
			e.log.Error().Err(err).Str("ticker", symbol).Msg("alert sink emit failed")
			continue
		}
		detections++
	}

	return detections
}

// record enqueues the tick's raw feature observation to history, regardless
// of scoring outcome, so the population available to the Labeller and
// Trainer isn't limited to tickers that happened to clear the detection
// threshold.
func (e *Engine) record(snap feature.Snapshot, vec *feature.Vector) {
	if e.recorder == nil {
		return
	}
	e.recorder.Enqueue(history.Record{
		Ticker:    snap.Symbol,
		Timestamp: time.Unix(0, vec.TimestampUnixNano),
		Price:     snap.Price,
		CumVolume: snap.CumVolume,
		Features:  vec.Values,
		Mask:      vec.Mask,
	})
}

func (e *Engine) scoreVector(snap feature.Snapshot, vec *feature.Vector, artifact *model.Artifact) (*alertsink.Detection, error) {
	if vec.SchemaVersion != artifact.SchemaVersion {
		return nil, ErrSchemaMismatch
	}

	x := make([]float64, feature.FieldCount)
	for i := 0; i < feature.FieldCount; i++ {
		v, ok := vec.Get(i)
		if ok {
			x[i] = v
		}
		// masked fields stay at the zero value, the neutral input the
		// learners were trained to tolerate for missing features.
	}

	p := artifact.Predict(x)
	if p < artifact.Threshold {
		return nil, nil
	}

	top := topFeatures(vec, artifact.Weights, artifact)

	return &alertsink.Detection{
		Timestamp:   time.Now(),
		Ticker:      snap.Symbol,
		Probability: p,
		Threshold:   artifact.Threshold,
		TopFeatures: top,
		Snapshot: alertsink.TickerSnapshot{
			Price:     snap.Price,
			CumVolume: snap.CumVolume,
			BidTotal:  snap.BidTotal,
			AskTotal:  snap.AskTotal,
		},
	}, nil
}

// topFeatures ranks the unmasked features by the absolute value of the
// feature itself and reports that magnitude as the contribution. The
// ensemble weights and the artifact's learners are not consulted, so the
// ranking is not a per-learner or per-tree attribution.
func topFeatures(vec *feature.Vector, weights [3]float64, artifact *model.Artifact) [3]alertsink.TopFeature {
	type scored struct {
		idx   int
		score float64
	}
	var candidates []scored
	for i := 0; i < feature.FieldCount; i++ {
		v, ok := vec.Get(i)
		if !ok {
			continue
		}
		mag := v
		if mag < 0 {
			mag = -mag
		}
		candidates = append(candidates, scored{idx: i, score: mag})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	var out [3]alertsink.TopFeature
	for i := 0; i < 3 && i < len(candidates); i++ {
		v, _ := vec.Get(candidates[i].idx)
		out[i] = alertsink.TopFeature{
			Name:         feature.FieldName(candidates[i].idx),
			Value:        v,
			Contribution: candidates[i].score,
		}
	}
	return out
}

// SchemaMismatches returns the cumulative count of schema-mismatch skips,
// exposed for daily reporting.
func (e *Engine) SchemaMismatches() int64 { return e.schemaMismatches }

// Run drives RunTick on a fixed interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n := e.RunTick(ctx)
			if n > 0 {
				e.log.Info().Int("detections", n).Msg("inference tick complete")
			}
		}
	}
}
