// Package history persists feature vectors to MongoDB for
// later labelling and training, buffering writes through a bounded queue
// the way the teacher's persist.Snapshotter batches simulator state.
package history

import "time"

// Record is one persisted observation: a ticker's feature vector and raw
// price/volume state at a point in time, later joined against forward
// returns by the labeller.
type Record struct {
	Ticker    string    `bson:"ticker"`
	Timestamp time.Time `bson:"timestamp"`
	Price     float64   `bson:"price"`
	CumVolume int64     `bson:"cum_volume"`
	Features  [9]float64 `bson:"features"`
	Mask      [9]bool    `bson:"mask"`

	// Label fields are absent (zero value) until the labeller backfills
	// them once the forward window has fully elapsed.
	Labelled     bool    `bson:"labelled"`
	Label        bool    `bson:"label"`
	PeakReturn   float64 `bson:"peak_return"`
}

// queueKey identifies the (ticker, second) bucket the queue dedupes on:
// only the newest sample for a given ticker within the same wall-clock
// second is kept, whether or not the queue is full.
type queueKey struct {
	ticker string
	second int64
}

func keyFor(r Record) queueKey {
	return queueKey{ticker: r.Ticker, second: r.Timestamp.Unix()}
}
