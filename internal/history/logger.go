package history

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/surveillance/presurge/internal/telemetry"
)

// inserter is the subset of Store the Logger depends on, narrowed so tests
// can substitute an in-memory fake instead of a real MongoDB connection.
type inserter interface {
	InsertBatch(ctx context.Context, records []Record) error
}

// Logger decouples feature-vector producers (the inference tick loop) from
// the MongoDB writer with a bounded in-memory queue, flushed in batches the
// way persist.Snapshotter batches simulator writes. The queue holds only the
// newest sample per (ticker, second); on overflow it drops the oldest queued
// bucket rather than blocking producers.
type Logger struct {
	store    inserter
	capacity int
	interval time.Duration
	metrics  *telemetry.Metrics
	log      zerolog.Logger

	mu      sync.Mutex
	pending map[queueKey]Record
	order   []queueKey
}

// Config configures a Logger.
type Config struct {
	QueueSize     int
	FlushInterval time.Duration
}

// NewLogger builds a Logger against a Store (or any inserter, for tests).
func NewLogger(store inserter, cfg Config, metrics *telemetry.Metrics, log zerolog.Logger) *Logger {
	capacity := cfg.QueueSize
	if capacity <= 0 {
		capacity = 10_000
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Logger{
		store:    store,
		capacity: capacity,
		interval: interval,
		metrics:  metrics,
		log:      log.With().Str("component", "history").Logger(),
		pending:  make(map[queueKey]Record, capacity),
	}
}

// Enqueue buffers a record for the next flush. Never blocks: under
// overflow it drops the oldest distinct (ticker, second) bucket and
// increments the overflow counter, keeping the newest sample for any
// bucket already queued.
func (l *Logger) Enqueue(r Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := keyFor(r)
	if _, exists := l.pending[key]; exists {
		l.pending[key] = r
		return
	}

	if len(l.pending) >= l.capacity {
		oldest := l.order[0]
		l.order = l.order[1:]
		delete(l.pending, oldest)
		if l.metrics != nil {
			l.metrics.HistoryOverflowDropped.Inc()
		}
	}

	l.pending[key] = r
	l.order = append(l.order, key)
	if l.metrics != nil {
		l.metrics.HistoryQueueDepth.Set(float64(len(l.pending)))
	}
}

// drain empties the queue and returns its contents as a slice.
func (l *Logger) drain() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pending) == 0 {
		return nil
	}
	out := make([]Record, 0, len(l.pending))
	for _, key := range l.order {
		out = append(out, l.pending[key])
	}
	l.pending = make(map[queueKey]Record, l.capacity)
	l.order = l.order[:0]
	if l.metrics != nil {
		l.metrics.HistoryQueueDepth.Set(0)
	}
	return out
}

// Flush writes the current queue contents to the store immediately,
// independent of the Run loop's interval.
func (l *Logger) Flush(ctx context.Context) error {
	batch := l.drain()
	if len(batch) == 0 {
		return nil
	}
	if err := l.store.InsertBatch(ctx, batch); err != nil {
		if l.metrics != nil {
			l.metrics.HistoryFlushErrors.Inc()
		}
		l.log.Error().Err(err).Int("batch_size", len(batch)).Msg("history flush failed")
		return err
	}
	l.log.Debug().Int("batch_size", len(batch)).Msg("history flush complete")
	return nil
}

// Run drives periodic flushing until ctx is cancelled, performing one
// final flush on shutdown so nothing queued is lost.
func (l *Logger) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := l.Flush(flushCtx); err != nil {
				l.log.Error().Err(err).Msg("final history flush failed")
			}
			cancel()
			return
		case <-ticker.C:
			l.Flush(ctx)
		}
	}
}
