// Command surveillor is the presurge surveillance core: it ingests a
// broker's REST and WebSocket feeds, scores the resident universe against
// an ensemble model every tick, and periodically relabels and retrains
// against its own history.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/spf13/cobra"

	"github.com/surveillance/presurge/internal/alertsink"
	"github.com/surveillance/presurge/internal/broker"
	"github.com/surveillance/presurge/internal/broker/wire"
	"github.com/surveillance/presurge/internal/config"
	"github.com/surveillance/presurge/internal/feature"
	"github.com/surveillance/presurge/internal/health"
	"github.com/surveillance/presurge/internal/history"
	"github.com/surveillance/presurge/internal/inference"
	"github.com/surveillance/presurge/internal/label"
	"github.com/surveillance/presurge/internal/model"
	"github.com/surveillance/presurge/internal/planner"
	"github.com/surveillance/presurge/internal/resilience"
	"github.com/surveillance/presurge/internal/scheduler"
	"github.com/surveillance/presurge/internal/telemetry"
	"github.com/surveillance/presurge/internal/train"
	"github.com/surveillance/presurge/internal/universe"
)

func main() {
	cfg := config.Load()

	root := &cobra.Command{
		Use:   "surveillor",
		Short: "Presurge equity-surveillance core",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the long-running ingestion, inference, and scheduling daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cfg)
		},
	}
	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Run one training pass and publish a new model artifact on success",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrainOnce(cfg)
		},
	}
	labelCmd := &cobra.Command{
		Use:   "label",
		Short: "Run one labelling pass over history records whose forward window has elapsed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLabelOnce(cfg)
		},
	}

	for _, c := range []*cobra.Command{runCmd, trainCmd, labelCmd} {
		c.Flags().AddGoFlagSet(flag.CommandLine)
	}
	root.AddCommand(runCmd, trainCmd, labelCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runLabelOnce wires just enough to connect to history and run the
// Labeller a single time, for cron-style invocation outside the daemon.
func runLabelOnce(cfg *config.Config) error {
	log := telemetry.NewLogger(cfg.LogLevel, cfg.LogPretty)
	ctx := context.Background()

	store, err := history.NewStore(ctx, cfg.MongoURI)
	if err != nil {
		return fmt.Errorf("connect history store: %w", err)
	}
	defer store.Close(context.Background())

	labeller := label.New(store.DB(), label.Config{
		ForwardWindow: cfg.ForwardWindow,
		Threshold:     cfg.LabelThreshold,
	}, log)

	n, err := labeller.Run(ctx)
	if err != nil {
		return fmt.Errorf("labelling pass: %w", err)
	}
	log.Info().Int("labelled", n).Msg("labelling pass complete")
	return nil
}

// runTrainOnce wires just enough to connect to history and model storage
// and run the Trainer a single time.
func runTrainOnce(cfg *config.Config) error {
	log := telemetry.NewLogger(cfg.LogLevel, cfg.LogPretty)
	ctx := context.Background()

	store, err := history.NewStore(ctx, cfg.MongoURI)
	if err != nil {
		return fmt.Errorf("connect history store: %w", err)
	}
	defer store.Close(context.Background())

	handle := model.NewHandle(loadExistingArtifact(cfg, log))
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())

	trainer := train.New(store.DB(), handle, cfg.ModelBaseDir, trainerConfig(cfg), metrics, log)

	version, err := trainer.Run(ctx)
	if err != nil {
		return fmt.Errorf("training run: %w", err)
	}
	log.Info().Str("version", version).Msg("training run complete")
	return nil
}

func trainerConfig(cfg *config.Config) train.Config {
	return train.Config{
		TrainingWindowDays: cfg.TrainingWindowDays,
		TrainingTrials:     cfg.TrainingTrials,
		ThresholdStrategy:  train.ThresholdStrategy(cfg.ThresholdStrategy),
		PrecisionTarget:    cfg.PrecisionTarget,
		ResampleMinRatio:   cfg.ResampleMinRatio,
		ResampleMaxRatio:   cfg.ResampleMaxRatio,
		SampleDecayPerDay:  cfg.SampleDecayPerDay,
		DriftAUCDropLimit:  cfg.DriftAUCDropLimit,
		ValidationAUCFloor: cfg.ValidationAUCFloor,
		Seed:               cfg.Seed,
	}
}

func loadExistingArtifact(cfg *config.Config, log zerolog.Logger) *model.Artifact {
	a, err := model.Load(cfg.ModelBaseDir)
	if err != nil {
		log.Warn().Err(err).Msg("no existing model artifact found, starting without one")
		return nil
	}
	log.Info().Int("version", a.Version).Msg("loaded existing model artifact")
	return a
}

func runDaemon(cfg *config.Config) error {
	log := telemetry.NewLogger(cfg.LogLevel, cfg.LogPretty)
	log.Info().Msg("presurge surveillance core starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	tickers := universe.Generate(cfg.UniverseSize)
	if err := universe.Validate(tickers); err != nil {
		return fmt.Errorf("universe: %w", err)
	}
	symbols := universe.Symbols(tickers)
	log.Info().Int("count", len(symbols)).Msg("universe generated")

	store, err := history.NewStore(ctx, cfg.MongoURI)
	if err != nil {
		return fmt.Errorf("connect history store: %w", err)
	}
	defer store.Close(context.Background())
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate history store: %w", err)
	}

	featureStore := feature.NewStore(int(cfg.RollingWindow/time.Second), cfg.TickerStateBudget)

	degraded := resilience.NewDegradedController()

	restBreaker := resilience.NewBreaker(resilience.BreakerConfig{
		Name:             "rest",
		FailureThreshold: uint32(cfg.CircuitFailureThreshold),
		Cooldown:         cfg.CircuitCooldown,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitState.WithLabelValues(name).Set(float64(to))
		},
	}, log)
	streamBreaker := resilience.NewBreaker(resilience.BreakerConfig{
		Name:             "stream",
		FailureThreshold: uint32(cfg.CircuitFailureThreshold),
		Cooldown:         cfg.CircuitCooldown,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitState.WithLabelValues(name).Set(float64(to))
		},
	}, log)

	tokenSource := broker.NewOAuthTokenSource(cfg.BrokerAuthURL, cfg.BrokerClientID, cfg.BrokerClientSecret, cfg.TokenRefreshTimeout)

	restClient := broker.NewRESTClient(broker.RESTConfig{
		BaseURL:     cfg.BrokerRESTBaseURL,
		QPS:         cfg.BrokerRESTQPS,
		Burst:       cfg.BrokerRESTBurst,
		Timeout:     cfg.RESTTimeout,
		RetryBudget: cfg.RESTRetryBudget,
		BackoffBase: cfg.BackoffBase,
		BackoffCap:  cfg.BackoffCap,
		Jitter:      cfg.BackoffJitter,
		Breaker:     restBreaker,
		TokenSource: tokenSource,
	}, log)

	streamClient := broker.NewStreamClient(broker.StreamConfig{
		URL:             cfg.BrokerStreamURL,
		Breaker:         streamBreaker,
		BackoffBase:     cfg.BackoffBase,
		BackoffCap:      cfg.BackoffCap,
		Jitter:          cfg.BackoffJitter,
		PacingDelay:     cfg.ResubPaceDelay,
		SubscriptionCap: cfg.SubscriptionCap,
	}, log)

	plan := planner.New(streamClient, planner.Config{
		TopK:             cfg.TopK,
		SubscriptionCap:  cfg.SubscriptionCap,
		UnsubSettleDelay: cfg.UnsubSettleDelay,
	}, log)

	handle := model.NewHandle(loadExistingArtifact(cfg, log))

	alertSink := alertsink.NewLogSink(log)

	historyLogger := history.NewLogger(store, history.Config{
		QueueSize:     cfg.HistoryQueueSize,
		FlushInterval: cfg.HistoryFlushInterval,
	}, metrics, log)
	go historyLogger.Run(ctx)
	go history.RunRetention(ctx, store, cfg.HistoryRetentionDays, log)
	if cfg.ArchiveDir != "" {
		archiver := history.New(store.DB(), cfg.ArchiveDir, cfg.ArchiveMaxGB, cfg.ArchiveIntervalHours, cfg.ArchiveAfterHours, log)
		go archiver.Run(ctx)
	}

	staleness := time.Duration(cfg.StalenessMultiplier * float64(cfg.RESTPollInterval))
	engine := inference.New(featureStore, handle, alertSink, inference.Config{
		TickDeadline: cfg.InferenceTickDeadline,
		Calendar: func() feature.CalendarContext {
			return feature.CalendarContext{Now: time.Now(), StalenessBound: staleness}
		},
		Recorder:     historyLogger,
		DepthFetcher: restClient,
	}, log)

	restSource := newHeartbeat("rest")
	streamSource := newHeartbeat("stream")

	sHandler := newStreamHandler(featureStore, metrics, streamSource, degraded, log)

	if err := warmUp(ctx, restClient, symbols, featureStore, log); err != nil {
		log.Warn().Err(err).Msg("start-of-session warm-up incomplete, proceeding with partial prior-session metadata")
	}

	labeller := label.New(store.DB(), label.Config{
		ForwardWindow: cfg.ForwardWindow,
		Threshold:     cfg.LabelThreshold,
	}, log)
	trainer := train.New(store.DB(), handle, cfg.ModelBaseDir, trainerConfig(cfg), metrics, log)

	jobs := []scheduler.Job{
		{
			Name:     "warmup",
			Interval: cfg.WarmupInterval,
			Run: func(ctx context.Context) error {
				return warmUp(ctx, restClient, symbols, featureStore, log)
			},
		},
		{
			Name:     "planner",
			Interval: cfg.PlannerInterval,
			Run: func(ctx context.Context) error {
				candidates := rankCandidates(featureStore)
				ranked := plan.Rank(candidates)
				target := plan.Target(ranked)
				return plan.Reconcile(ctx, target)
			},
		},
		{
			Name:     "labelling",
			Interval: time.Hour,
			Run: func(ctx context.Context) error {
				n, err := labeller.Run(ctx)
				if err == nil {
					log.Info().Int("labelled", n).Msg("labelling pass complete")
				}
				return err
			},
		},
		{
			Name:     "training",
			Interval: 24 * time.Hour,
			Run: func(ctx context.Context) error {
				version, err := trainer.Run(ctx)
				if err == nil {
					log.Info().Str("version", version).Msg("training run complete")
				}
				return err
			},
		},
	}
	sched := scheduler.New(jobs, log)

	onFatal := func(err error, rapidFails int) {
		log.Error().Err(err).Int("rapid_fails", rapidFails).Msg("supervised loop exhausted its restart budget, shutting down")
		cancel()
	}
	supervisorCfg := scheduler.SupervisorConfig{BackoffBase: cfg.BackoffBase, BackoffCap: cfg.BackoffCap}

	go scheduler.Supervise(ctx, "stream", supervisorCfg, func(ctx context.Context) error {
		return streamClient.Run(ctx, sHandler)
	}, onFatal, log)

	go scheduler.Supervise(ctx, "rest-poller", supervisorCfg, func(ctx context.Context) error {
		return restPollLoop(ctx, cfg, restClient, symbols, featureStore, degraded, restSource, metrics, log)
	}, onFatal, log)

	go scheduler.Supervise(ctx, "inference", supervisorCfg, func(ctx context.Context) error {
		return engine.Run(ctx, cfg.InferenceInterval)
	}, onFatal, log)

	go scheduler.Supervise(ctx, "scheduler", supervisorCfg, func(ctx context.Context) error {
		sched.Run(ctx)
		return ctx.Err()
	}, onFatal, log)

	healthSrv := health.New(time.Duration(cfg.StalenessMultiplier*2*float64(cfg.RESTPollInterval)), degraded.IsDegraded)
	healthSrv.Register(restSource)
	healthSrv.Register(streamSource)

	mux := http.NewServeMux()
	healthSrv.RegisterHandlers(mux)

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer shutdownCancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Msg("health/metrics server listening")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}

	log.Info().Msg("presurge surveillance core stopped")
	return nil
}

// warmUp loads prior-session metadata (previous close, 5-session average
// volume) for the full universe via a single batched quote_batch call and
// seeds it into the feature store. It runs once synchronously before the
// daemon starts ingestion, and is re-run by the scheduler's recurring
// "warmup" job to refresh already-resident tickers overnight.
func warmUp(ctx context.Context, client *broker.RESTClient, symbols []string, store *feature.Store, log zerolog.Logger) error {
	quotes, errs := client.QuoteBatch(ctx, symbols)
	for _, err := range errs {
		log.Warn().Err(err).Msg("warm-up quote batch error")
	}
	for _, q := range quotes {
		store.SeedPriorSession(q.Symbol, q.PrevClose, q.AvgVolume)
	}
	log.Info().Int("seeded", len(quotes)).Int("requested", len(symbols)).Msg("prior-session warm-up complete")
	if len(errs) > 0 && len(quotes) == 0 {
		return fmt.Errorf("warm-up: all %d batch chunks failed", len(errs))
	}
	return nil
}

// rankCandidates derives planner candidates from the feature store's
// resident tickers: volume ratio (current cumulative volume over the
// trailing baseline) is the same signal the feature pipeline itself uses
// for FieldVolumeRatio, just read here straight off ticker state rather
// than a computed vector.
func rankCandidates(store *feature.Store) []planner.Candidate {
	symbols := store.Symbols()
	out := make([]planner.Candidate, 0, len(symbols))
	for _, symbol := range symbols {
		ts, ok := store.Get(symbol)
		if !ok {
			continue
		}
		snap := ts.Snapshot()
		ratio := 0.0
		if snap.Avg5SessionVolume > 0 {
			ratio = float64(snap.CumVolume) / float64(snap.Avg5SessionVolume)
		}
		out = append(out, planner.Candidate{Symbol: symbol, VolumeRatio: ratio})
	}
	return out
}

// heartbeat is a minimal health.Source backed by an atomically-updated
// timestamp, shared between an ingestion loop (which stamps it on every
// successful observation) and the health server (which reads it).
type heartbeat struct {
	name string
	last atomic.Int64 // unix nanoseconds
}

func newHeartbeat(name string) *heartbeat {
	return &heartbeat{name: name}
}

func (h *heartbeat) Name() string { return h.name }

func (h *heartbeat) LastSuccess() time.Time {
	ns := h.last.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (h *heartbeat) touch() {
	h.last.Store(time.Now().UnixNano())
}

// restPollLoop polls the full universe over REST on a fixed interval,
// shortened while the stream is degraded, feeding results into the
// feature store.
func restPollLoop(ctx context.Context, cfg *config.Config, client *broker.RESTClient, symbols []string, store *feature.Store, degraded *resilience.DegradedController, beat *heartbeat, metrics *telemetry.Metrics, log zerolog.Logger) error {
	interval := cfg.RESTPollInterval

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if degraded.IsDegraded() && interval != cfg.DegradedPollInterval {
				interval = cfg.DegradedPollInterval
				ticker.Reset(interval)
			} else if !degraded.IsDegraded() && interval != cfg.RESTPollInterval {
				interval = cfg.RESTPollInterval
				ticker.Reset(interval)
			}

			quotes, errs := client.PollUniverse(ctx, symbols)
			for _, err := range errs {
				log.Warn().Err(err).Msg("REST poll error")
				metrics.RESTPollErrors.WithLabelValues("poll").Inc()
			}
			for _, q := range quotes {
				// Prior-session metadata comes from warmUp, not here: a
				// symbol newly observed mid-session without a warm-up hit
				// stays masked until the next warmup job refreshes it.
				ts := store.GetOrCreate(q.Symbol, 0, 0)
				ts.ApplyREST(q.Timestamp, q.Price, q.Volume, q.BidSize, q.AskSize)
				metrics.RESTPollsTotal.WithLabelValues("ok").Inc()
			}
			if len(quotes) > 0 {
				beat.touch()
			}
		}
	}
}

// streamHandler adapts broker.StreamClient's callback interface onto the
// feature store, aggregating raw trade prints into the trade-intensity
// and buy-ratio signals the feature pipeline expects to already be
// computed (mirroring how a real broker feed would pre-aggregate these
// over a short trailing window before publishing them).
type streamHandler struct {
	store    *feature.Store
	metrics  *telemetry.Metrics
	beat     *heartbeat
	degraded *resilience.DegradedController
	log      zerolog.Logger

	agg map[string]*tradeAggregate
}

type tradeAggregate struct {
	windowStart time.Time
	count       float64
	buyCount    float64
	cumVolume   int64
}

const tradeAggWindow = 10 * time.Second

func newStreamHandler(store *feature.Store, metrics *telemetry.Metrics, beat *heartbeat, degraded *resilience.DegradedController, log zerolog.Logger) *streamHandler {
	return &streamHandler{
		store:    store,
		metrics:  metrics,
		beat:     beat,
		degraded: degraded,
		log:      log.With().Str("component", "stream-handler").Logger(),
		agg:      make(map[string]*tradeAggregate),
	}
}

func (h *streamHandler) OnTrade(t *wire.Trade) {
	ts := time.Unix(0, t.Timestamp)
	a, ok := h.agg[t.Symbol]
	if !ok {
		a = &tradeAggregate{windowStart: ts}
		h.agg[t.Symbol] = a
	} else if ts.Sub(a.windowStart) > tradeAggWindow {
		a.windowStart, a.count, a.buyCount = ts, 0, 0
	}
	a.count++
	a.cumVolume += t.Size
	if t.Side == 'B' {
		a.buyCount++
	}

	intensity := a.count / tradeAggWindow.Seconds()
	buyRatio := 0.5
	if a.count > 0 {
		buyRatio = a.buyCount / a.count
	}

	state := h.store.GetOrCreate(t.Symbol, 0, 0)
	state.ApplyTrade(ts, t.Price, a.cumVolume, intensity, buyRatio)

	h.metrics.StreamFramesTotal.WithLabelValues("trade").Inc()
	h.beat.touch()
}

func (h *streamHandler) OnBook(b *wire.Book) {
	var bidTotal, askTotal int64
	for i := 0; i < wire.DepthLevels; i++ {
		bidTotal += b.BidSizes[i]
		askTotal += b.AskSizes[i]
	}
	state := h.store.GetOrCreate(b.Symbol, 0, 0)
	state.ApplyBook(time.Unix(0, b.Timestamp), bidTotal, askTotal, b.BidSizes, b.AskSizes)

	h.metrics.StreamFramesTotal.WithLabelValues("book").Inc()
	h.beat.touch()
}

func (h *streamHandler) OnDisconnect(err error) {
	h.log.Warn().Err(err).Msg("stream disconnected")
	h.metrics.StreamReconnects.Inc()
	if h.degraded.Enter() {
		h.log.Warn().Msg("entering degraded mode: tightening REST poll interval")
	}
}

// OnReconnect fires once the stream has re-dialed and replayed its
// subscription registry; this is the point DEGRADED mode clears and REST
// polling reverts to its normal cadence.
func (h *streamHandler) OnReconnect() {
	if h.degraded.Exit() {
		h.log.Info().Msg("exiting degraded mode: stream recovered and replayed subscriptions")
	}
}
