// Package alertsink defines the detection event contract and a default
// logging sink. The real delivery transport (Telegram/Slack/etc.) is an
// external collaborator outside this core's scope; anything implementing
// Sink can be wired in without touching the Inference Engine.
package alertsink

import (
	"time"

	"github.com/rs/zerolog"
)

// TopFeature names one of a detection's top features, ranked by the
// absolute value of the feature; Contribution holds that absolute value,
// not a weighted ensemble contribution.
type TopFeature struct {
	Name        string
	Value       float64
	Contribution float64
}

// TickerSnapshot is the subset of ticker state worth attaching to a
// detection for downstream triage, independent of the feature package's
// internal representation.
type TickerSnapshot struct {
	Price     float64
	CumVolume int64
	BidTotal  int64
	AskTotal  int64
}

// DepthLevels mirrors wire.DepthLevels; duplicated rather than imported,
// same rationale as feature.DepthLevels — this package has no business
// depending on the wire protocol's framing concerns.
const DepthLevels = 10

// Depth is an order_book snapshot attached to a detection for downstream
// triage. It is fetched sparingly (only when a detection actually fires),
// per spec.md's guidance that order_book calls are used sparingly relative
// to the lightweight quote_batch poll.
type Depth struct {
	BidPrice float64
	AskPrice float64
	BidSizes [DepthLevels]int64
	AskSizes [DepthLevels]int64
}

// Detection is the Inference Engine's output event: a scored, thresholded
// presurge candidate.
type Detection struct {
	Timestamp   time.Time
	Ticker      string
	Probability float64
	Threshold   float64
	TopFeatures [3]TopFeature
	Snapshot    TickerSnapshot
	// Depth is nil when no DepthFetcher was configured or the fetch
	// failed; a detection is still emitted either way.
	Depth *Depth
}

// Sink receives detection events. Implementations must not block the
// Inference Engine indefinitely; a sink wanting durable delivery should
// buffer internally and return quickly.
type Sink interface {
	Emit(Detection) error
}

// LogSink is the default Sink: structured-logs every detection. Useful
// standalone and as the fallback when no external transport is wired.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink builds a LogSink against the given logger.
func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "alertsink").Logger()}
}

// Emit logs the detection at warn level (presurge detections are
// operationally significant) and never errors.
func (s *LogSink) Emit(d Detection) error {
	event := s.log.Warn().
		Str("ticker", d.Ticker).
		Float64("probability", d.Probability).
		Float64("threshold", d.Threshold).
		Time("timestamp", d.Timestamp)

	for i, f := range d.TopFeatures {
		if f.Name == "" {
			continue
		}
		event = event.Str("top_feature_"+itoa(i+1), f.Name).Float64("top_feature_"+itoa(i+1)+"_value", f.Value)
	}
	if d.Depth != nil {
		event = event.Float64("depth_bid_price", d.Depth.BidPrice).Float64("depth_ask_price", d.Depth.AskPrice)
	}
	event.Msg("presurge detection")
	return nil
}

func itoa(i int) string {
	if i < 10 {
		return string(rune('0' + i))
	}
	return "many"
}

// MultiSink fans a detection out to several sinks, collecting the first
// error (if any) but still attempting every sink.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink builds a MultiSink over the given sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Emit delivers d to every wrapped sink.
func (m *MultiSink) Emit(d Detection) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Emit(d); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
