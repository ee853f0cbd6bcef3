package feature

import (
	"math"
	"time"
)

// CalendarContext carries the timing information the pipeline needs but
// that isn't part of ticker state: the current tick time and the
// staleness bound beyond which a channel's contribution is masked.
type CalendarContext struct {
	Now            time.Time
	StalenessBound time.Duration
}

const (
	rsiPeriod     = 14
	macdFast      = 12
	macdSlow      = 26
	macdSignal    = 9
	bollingerPeriod = 20
	maPeriod      = 20
)

// Compute derives a feature vector from a ticker state snapshot. It is a
// pure function: identical (snapshot, calendar context) always yields an
// identical vector. Every element is either finite or explicitly masked;
// no NaN or Inf value is ever written into Values.
func Compute(snap Snapshot, cal CalendarContext) *Vector {
	v := NewMaskedVector(snap.Symbol, cal.Now.UnixNano())

	restFresh := !snap.LastRESTUpdate.IsZero() && cal.Now.Sub(snap.LastRESTUpdate) <= cal.StalenessBound
	streamFresh := snap.StreamValid && !snap.LastStreamUpdate.IsZero() && cal.Now.Sub(snap.LastStreamUpdate) <= cal.StalenessBound

	computeOFI(v, snap, streamFresh)
	computeTradeIntensity(v, snap, streamFresh)
	computeVolumeRatio(v, snap, restFresh)
	computeMomentum(v, snap)
	computeRSI(v, snap)
	computeMACDHist(v, snap)
	computeBollinger(v, snap)
	computeMADistance(v, snap)
	computeVolumeAcceleration(v, snap)

	return v
}

func setIfFinite(v *Vector, field int, x float64) {
	if finite(x) {
		v.Set(field, x)
	}
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// computeOFI: (bid_total - ask_total) / (bid_total + ask_total), masked
// if the denominator is zero or depth hasn't been observed over the
// stream.
func computeOFI(v *Vector, snap Snapshot, streamFresh bool) {
	if !streamFresh || !snap.DepthValid {
		return
	}
	denom := float64(snap.BidTotal + snap.AskTotal)
	if denom == 0 {
		return
	}
	ofi := float64(snap.BidTotal-snap.AskTotal) / denom
	setIfFinite(v, FieldOFI, ofi)
}

// computeTradeIntensity: taken directly from the stream's aggregated
// field when present and fresh; else masked.
func computeTradeIntensity(v *Vector, snap Snapshot, streamFresh bool) {
	if !streamFresh {
		return
	}
	setIfFinite(v, FieldTradeIntensity, snap.TradeIntensity)
}

// computeVolumeRatio: current_cumvol / average_cumvol_over_prior_N_sessions,
// floored at 0, masked if the baseline is zero or the REST channel is
// stale.
func computeVolumeRatio(v *Vector, snap Snapshot, restFresh bool) {
	if !restFresh || snap.Avg5SessionVolume == 0 {
		return
	}
	ratio := float64(snap.CumVolume) / float64(snap.Avg5SessionVolume)
	if ratio < 0 {
		ratio = 0
	}
	setIfFinite(v, FieldVolumeRatio, ratio)
}

// computeMomentum: last price divided by the price five minutes earlier
// minus one; masked until the window has a sample at least 5 minutes old.
func computeMomentum(v *Vector, snap Snapshot) {
	latest, earliest, ok := windowBounds(snap.Window, 5*time.Minute)
	if !ok || earliest.Price == 0 {
		return
	}
	momentum := latest.Price/earliest.Price - 1
	setIfFinite(v, FieldMomentum5m, momentum)
}

// windowBounds returns the latest sample and the oldest sample that is at
// least `span` before it, i.e. the window is "full enough" to compute a
// span-relative feature. ok is false if the window doesn't yet cover span.
func windowBounds(window []Sample, span time.Duration) (latest, earliest Sample, ok bool) {
	if len(window) == 0 {
		return Sample{}, Sample{}, false
	}
	latest = window[len(window)-1]
	cutoff := latest.Timestamp.Add(-span)
	if window[0].Timestamp.After(cutoff) {
		return Sample{}, Sample{}, false // not enough history yet
	}
	for _, s := range window {
		if !s.Timestamp.After(cutoff) {
			earliest = s
		} else {
			break
		}
	}
	return latest, earliest, true
}

// closesFromWindow extracts the price series in chronological order.
func closesFromWindow(window []Sample) []float64 {
	out := make([]float64, len(window))
	for i, s := range window {
		out[i] = s.Price
	}
	return out
}

// computeRSI: standard 14-period relative strength index over the window's
// price series, masked until at least rsiPeriod+1 samples are available.
func computeRSI(v *Vector, snap Snapshot) {
	closes := closesFromWindow(snap.Window)
	if len(closes) < rsiPeriod+1 {
		return
	}
	var gainSum, lossSum float64
	for i := len(closes) - rsiPeriod; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum += -delta
		}
	}
	avgGain := gainSum / rsiPeriod
	avgLoss := lossSum / rsiPeriod
	if avgGain == 0 && avgLoss == 0 {
		setIfFinite(v, FieldRSI14, 50) // flat series: neutral RSI
		return
	}
	if avgLoss == 0 {
		setIfFinite(v, FieldRSI14, 100)
		return
	}
	rs := avgGain / avgLoss
	rsi := 100 - 100/(1+rs)
	setIfFinite(v, FieldRSI14, rsi)
}

// ema computes the exponential moving average series over closes with the
// given period, using a simple-average seed for the first value.
func ema(closes []float64, period int) []float64 {
	if len(closes) < period {
		return nil
	}
	out := make([]float64, len(closes))
	var sum float64
	for i := 0; i < period; i++ {
		sum += closes[i]
	}
	seed := sum / float64(period)
	out[period-1] = seed
	k := 2.0 / float64(period+1)
	for i := period; i < len(closes); i++ {
		out[i] = closes[i]*k + out[i-1]*(1-k)
	}
	return out
}

// computeMACDHist: MACD line (EMA12 - EMA26) minus its 9-period signal
// line, masked until enough samples exist for the slow EMA plus the
// signal smoothing.
func computeMACDHist(v *Vector, snap Snapshot) {
	closes := closesFromWindow(snap.Window)
	if len(closes) < macdSlow+macdSignal {
		return
	}
	fastEMA := ema(closes, macdFast)
	slowEMA := ema(closes, macdSlow)
	if fastEMA == nil || slowEMA == nil {
		return
	}

	macdLine := make([]float64, len(closes))
	start := macdSlow - 1
	for i := start; i < len(closes); i++ {
		macdLine[i] = fastEMA[i] - slowEMA[i]
	}

	signalSeries := ema(macdLine[start:], macdSignal)
	if signalSeries == nil {
		return
	}
	signal := signalSeries[len(signalSeries)-1]
	hist := macdLine[len(macdLine)-1] - signal
	setIfFinite(v, FieldMACDHist, hist)
}

// computeBollinger: %B position within a 20-period Bollinger Band,
// (price - lowerBand) / (upperBand - lowerBand), masked until the window
// has at least bollingerPeriod samples or the band has zero width.
func computeBollinger(v *Vector, snap Snapshot) {
	closes := closesFromWindow(snap.Window)
	if len(closes) < bollingerPeriod {
		return
	}
	window := closes[len(closes)-bollingerPeriod:]
	mean, stddev := meanStddev(window)
	upper := mean + 2*stddev
	lower := mean - 2*stddev
	width := upper - lower
	if width == 0 {
		return
	}
	pctB := (closes[len(closes)-1] - lower) / width
	setIfFinite(v, FieldBollingerPctB, pctB)
}

// computeMADistance: (price - SMA20) / SMA20, masked until the window has
// at least maPeriod samples.
func computeMADistance(v *Vector, snap Snapshot) {
	closes := closesFromWindow(snap.Window)
	if len(closes) < maPeriod {
		return
	}
	window := closes[len(closes)-maPeriod:]
	mean, _ := meanStddev(window)
	if mean == 0 {
		return
	}
	dist := (closes[len(closes)-1] - mean) / mean
	setIfFinite(v, FieldMADistance20, dist)
}

// computeVolumeAcceleration: last-5-minutes volume divided by
// prior-5-minutes volume, masked until the window spans at least 10
// minutes.
func computeVolumeAcceleration(v *Vector, snap Snapshot) {
	if len(snap.Window) == 0 {
		return
	}
	latest := snap.Window[len(snap.Window)-1]
	mid, ok1 := volumeAt(snap.Window, latest.Timestamp.Add(-5*time.Minute))
	old, ok2 := volumeAt(snap.Window, latest.Timestamp.Add(-10*time.Minute))
	if !ok1 || !ok2 {
		return
	}
	last5 := float64(latest.Volume - mid)
	prior5 := float64(mid - old)
	if prior5 == 0 {
		return
	}
	setIfFinite(v, FieldVolumeAcceleration, last5/prior5)
}

// volumeAt returns the cumulative volume at the last sample at-or-before
// cutoff, and whether the window covers that far back.
func volumeAt(window []Sample, cutoff time.Time) (int64, bool) {
	if len(window) == 0 || window[0].Timestamp.After(cutoff) {
		return 0, false
	}
	var vol int64
	found := false
	for _, s := range window {
		if s.Timestamp.After(cutoff) {
			break
		}
		vol = s.Volume
		found = true
	}
	return vol, found
}

func meanStddev(xs []float64) (mean, stddev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))

	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	stddev = math.Sqrt(sq / float64(len(xs)))
	return mean, stddev
}
