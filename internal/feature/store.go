package feature

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DepthLevels mirrors wire.DepthLevels; duplicated here rather than
// importing the broker package, since the feature store has no business
// depending on the wire protocol's framing concerns.
const DepthLevels = 10

// TickerState is the mutable, per-ticker record both ingest channels
// funnel into. Depth fields are valid only while streaming is active (see
// DepthValid); REST-only tickers carry REST-reported BidTotal/AskTotal but
// zero BidSizes/AskSizes, and the pipeline masks OFI while DepthValid is
// false rather than reading those fields.
type TickerState struct {
	mu sync.RWMutex

	Symbol string

	// Scalars, most recently observed from either channel.
	Price        float64
	PrevClose    float64
	CumVolume    int64
	Avg5SessionVolume int64

	BidTotal int64
	AskTotal int64
	BidSizes [DepthLevels]int64
	AskSizes [DepthLevels]int64
	DepthValid bool

	TradeIntensity float64
	BuyRatio       float64
	StreamValid    bool

	LastRESTUpdate   time.Time
	LastStreamUpdate time.Time

	window *Ring
}

// NewTickerState creates a fresh ticker state with the given rolling
// window capacity. prevClose and avgVolume should be pre-loaded from
// prior-session metadata before the session opens.
func NewTickerState(symbol string, windowCapacity int, prevClose float64, avgVolume int64) *TickerState {
	return &TickerState{
		Symbol:            symbol,
		PrevClose:         prevClose,
		Avg5SessionVolume: avgVolume,
		window:            NewRing(windowCapacity),
	}
}

// ApplyREST merges a REST poll result into the state. cumVolume must be
// non-decreasing within a session; a regression is silently ignored (the
// stored value is kept) rather than corrupting the monotonicity invariant.
func (t *TickerState) ApplyREST(ts time.Time, price float64, cumVolume int64, bidTotal, askTotal int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cumVolume >= t.CumVolume {
		t.CumVolume = cumVolume
	}
	t.Price = price
	t.BidTotal = bidTotal
	t.AskTotal = askTotal
	t.LastRESTUpdate = ts

	t.window.Push(Sample{Timestamp: ts, Price: price, Volume: t.CumVolume})
}

// ApplyTrade merges a stream Trade frame into the state.
func (t *TickerState) ApplyTrade(ts time.Time, price float64, cumVolume int64, tradeIntensity, buyRatio float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cumVolume >= t.CumVolume {
		t.CumVolume = cumVolume
	}
	t.Price = price
	t.TradeIntensity = tradeIntensity
	t.BuyRatio = buyRatio
	t.StreamValid = true
	t.LastStreamUpdate = ts

	t.window.Push(Sample{Timestamp: ts, Price: price, Volume: t.CumVolume})
}

// ApplyBook merges a stream Book frame (absolute top-of-book state) into
// the state.
func (t *TickerState) ApplyBook(ts time.Time, bidTotal, askTotal int64, bidSizes, askSizes [DepthLevels]int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.BidTotal = bidTotal
	t.AskTotal = askTotal
	t.BidSizes = bidSizes
	t.AskSizes = askSizes
	t.DepthValid = true
	t.LastStreamUpdate = ts
}

// SeedPriorSession sets (or refreshes) the prior-session metadata a
// volume-ratio feature depends on. Unlike NewTickerState's constructor
// argument, this can be called against an already-resident ticker, which
// is what the overnight warm-up refresh needs.
func (t *TickerState) SeedPriorSession(prevClose float64, avgVolume int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.PrevClose = prevClose
	t.Avg5SessionVolume = avgVolume
}

// Snapshot returns a consistent, lock-held-during-copy view of the state
// for feature computation. The returned value owns its own window
// snapshot slice.
type Snapshot struct {
	Symbol            string
	Price             float64
	PrevClose         float64
	CumVolume         int64
	Avg5SessionVolume int64
	BidTotal          int64
	AskTotal          int64
	DepthValid        bool
	TradeIntensity    float64
	BuyRatio          float64
	StreamValid       bool
	LastRESTUpdate    time.Time
	LastStreamUpdate  time.Time
	Window            []Sample
}

// Snapshot copies out the fields the pipeline needs under a single read
// lock, so feature computation never observes a torn update.
func (t *TickerState) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		Symbol:            t.Symbol,
		Price:             t.Price,
		PrevClose:         t.PrevClose,
		CumVolume:         t.CumVolume,
		Avg5SessionVolume: t.Avg5SessionVolume,
		BidTotal:          t.BidTotal,
		AskTotal:          t.AskTotal,
		DepthValid:        t.DepthValid,
		TradeIntensity:    t.TradeIntensity,
		BuyRatio:          t.BuyRatio,
		StreamValid:       t.StreamValid,
		LastRESTUpdate:    t.LastRESTUpdate,
		LastStreamUpdate:  t.LastStreamUpdate,
		Window:            t.window.Snapshot(),
	}
}

// Staleness returns how long ago the freshest of either channel updated
// this ticker, relative to now.
func (s Snapshot) Staleness(now time.Time) time.Duration {
	last := s.LastRESTUpdate
	if s.LastStreamUpdate.After(last) {
		last = s.LastStreamUpdate
	}
	if last.IsZero() {
		return time.Duration(1<<63 - 1) // effectively infinite
	}
	return now.Sub(last)
}

// Store is the ticker-keyed feature store: a bounded-size map with
// per-ticker locking (embedded in TickerState itself) and LRU eviction
// once the resident ticker count exceeds budget.
type Store struct {
	windowCapacity int

	mu    sync.Mutex
	cache *lru.Cache[string, *TickerState]

	evictions int64
}

// NewStore builds a Store with the given per-ticker rolling window
// capacity and a bound on resident ticker states. When the budget is
// exceeded, the least-recently-used ticker is evicted.
func NewStore(windowCapacity, tickerBudget int) *Store {
	if tickerBudget <= 0 {
		tickerBudget = 1
	}
	s := &Store{windowCapacity: windowCapacity}
	cache, _ := lru.NewWithEvict[string, *TickerState](tickerBudget, func(_ string, _ *TickerState) {
		s.evictions++
	})
	s.cache = cache
	return s
}

// GetOrCreate returns the ticker state for symbol, creating it (with the
// given prior-session metadata) on first observation.
func (s *Store) GetOrCreate(symbol string, prevClose float64, avgVolume int64) *TickerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ts, ok := s.cache.Get(symbol); ok {
		return ts
	}
	ts := NewTickerState(symbol, s.windowCapacity, prevClose, avgVolume)
	s.cache.Add(symbol, ts)
	return ts
}

// SeedPriorSession sets prior-session metadata on symbol's ticker state,
// creating the state if it does not yet exist. Used both by the
// start-of-session warm-up (new tickers) and its overnight refresh
// (already-resident tickers, whose metadata GetOrCreate would otherwise
// never update after first observation).
func (s *Store) SeedPriorSession(symbol string, prevClose float64, avgVolume int64) {
	ts := s.GetOrCreate(symbol, prevClose, avgVolume)
	ts.SeedPriorSession(prevClose, avgVolume)
}

// Get returns the ticker state for symbol without creating it.
func (s *Store) Get(symbol string) (*TickerState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Get(symbol)
}

// Len returns the number of resident ticker states.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

// Evictions returns the cumulative count of tickers evicted under budget
// pressure.
func (s *Store) Evictions() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictions
}

// Symbols returns the resident ticker symbols.
func (s *Store) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Keys()
}

// Reset clears all resident ticker state, used at session-end archival.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Purge()
}
