// Package config loads runtime configuration for the surveillance core from
// flags and environment variables, following the same flag+env precedence
// the rest of the corpus uses for small services: a flag always wins when
// set explicitly, otherwise the environment variable, otherwise the default.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// ThresholdStrategy selects how the Trainer picks a decision threshold.
type ThresholdStrategy string

const (
	ThresholdF1Max          ThresholdStrategy = "f1_max"
	ThresholdPrecisionAtP   ThresholdStrategy = "precision_target"
)

// Config holds all surveillance-core configuration (spec.md §6).
type Config struct {
	// Universe / subscriptions
	UniverseSize     int
	TopK             int
	SubscriptionCap  int

	// Polling / streaming cadence
	RESTPollInterval     time.Duration
	DegradedPollInterval time.Duration
	PlannerInterval      time.Duration
	UnsubSettleDelay     time.Duration
	ResubPaceDelay       time.Duration
	WarmupInterval       time.Duration

	// Resilience
	CircuitFailureThreshold int
	CircuitCooldown         time.Duration
	BackoffBase             time.Duration
	BackoffCap              time.Duration
	BackoffJitter           float64
	RESTRetryBudget         int

	// Deadlines
	RESTTimeout        time.Duration
	StreamSendTimeout  time.Duration
	TokenRefreshTimeout time.Duration
	InferenceTickDeadline time.Duration
	ShutdownGrace      time.Duration

	// Feature store
	RollingWindow       time.Duration
	StalenessMultiplier float64
	TickerStateBudget   int

	// Labelling / training
	LabelThreshold      float64
	ForwardWindow       time.Duration
	TrainingWindowDays  int
	TrainingTrials      int
	ThresholdStrategy   ThresholdStrategy
	PrecisionTarget     float64
	ResampleMinRatio    float64
	ResampleMaxRatio    float64
	SampleDecayPerDay   float64
	DriftAUCDropLimit   float64
	ValidationAUCFloor  float64

	// History retention
	HistoryRetentionDays int
	ArchiveDir           string
	ArchiveMaxGB         int
	ArchiveIntervalHours int
	ArchiveAfterHours    int
	HistoryFlushInterval time.Duration
	HistoryQueueSize     int

	// Broker connectivity
	BrokerRESTBaseURL   string
	BrokerStreamURL     string
	BrokerAuthURL       string
	BrokerClientID      string
	BrokerClientSecret  string
	BrokerRESTQPS       float64
	BrokerRESTBurst     int

	// Storage
	MongoURI string

	// Model artifacts
	ModelBaseDir string

	// Ops
	HTTPAddr          string
	LogLevel          string
	LogPretty         bool
	InferenceInterval time.Duration
	Seed              int64
}

// Load parses flags (falling back to environment variables, then defaults)
// and returns a populated Config. Call once at process start, after
// flag.Parse() has not yet been invoked by anything else.
func Load() *Config {
	c := &Config{}

	flag.IntVar(&c.UniverseSize, "universe-size", envInt("UNIVERSE_SIZE", 300), "number of tickers polled over REST")
	flag.IntVar(&c.TopK, "top-k", envInt("TOP_K", 20), "top-K candidates promoted to stream subscriptions per channel")
	flag.IntVar(&c.SubscriptionCap, "subscription-cap", envInt("SUBSCRIPTION_CAP", 41), "broker session-wide subscription slot cap")

	flag.DurationVar(&c.RESTPollInterval, "rest-poll-interval", envDuration("REST_POLL_INTERVAL", 5*time.Second), "REST polling interval in normal mode")
	flag.DurationVar(&c.DegradedPollInterval, "degraded-poll-interval", envDuration("DEGRADED_POLL_INTERVAL", 1*time.Second), "REST polling interval while the stream is degraded")
	flag.DurationVar(&c.PlannerInterval, "planner-interval", envDuration("PLANNER_INTERVAL", 5*time.Minute), "subscription planner re-rank interval")
	flag.DurationVar(&c.UnsubSettleDelay, "unsub-settle-delay", envDuration("UNSUB_SETTLE_DELAY", 100*time.Millisecond), "pause between issuing unsubscribes and subscribes")
	flag.DurationVar(&c.ResubPaceDelay, "resub-pace-delay", envDuration("RESUB_PACE_DELAY", 100*time.Millisecond), "delay between replayed re-subscriptions after reconnect")
	flag.DurationVar(&c.WarmupInterval, "warmup-interval", envDuration("WARMUP_INTERVAL", 24*time.Hour), "interval between prior-session metadata warm-up refreshes")

	flag.IntVar(&c.CircuitFailureThreshold, "circuit-failure-threshold", envInt("CIRCUIT_FAILURE_THRESHOLD", 5), "consecutive failures before the circuit opens")
	flag.DurationVar(&c.CircuitCooldown, "circuit-cooldown", envDuration("CIRCUIT_COOLDOWN", 30*time.Second), "circuit breaker open-state cooldown")
	flag.DurationVar(&c.BackoffBase, "backoff-base", envDuration("BACKOFF_BASE", 1*time.Second), "reconnect/retry backoff base interval")
	flag.DurationVar(&c.BackoffCap, "backoff-cap", envDuration("BACKOFF_CAP", 60*time.Second), "reconnect/retry backoff cap")
	flag.Float64Var(&c.BackoffJitter, "backoff-jitter", envFloat("BACKOFF_JITTER", 0.30), "backoff jitter fraction")
	flag.IntVar(&c.RESTRetryBudget, "rest-retry-budget", envInt("REST_RETRY_BUDGET", 5), "max retry attempts for a REST request before surfacing the error")

	flag.DurationVar(&c.RESTTimeout, "rest-timeout", envDuration("REST_TIMEOUT", 5*time.Second), "per-request REST deadline")
	flag.DurationVar(&c.StreamSendTimeout, "stream-send-timeout", envDuration("STREAM_SEND_TIMEOUT", 2*time.Second), "per-send stream deadline")
	flag.DurationVar(&c.TokenRefreshTimeout, "token-refresh-timeout", envDuration("TOKEN_REFRESH_TIMEOUT", 10*time.Second), "auth token refresh deadline")
	flag.DurationVar(&c.InferenceTickDeadline, "inference-tick-deadline", envDuration("INFERENCE_TICK_DEADLINE", 2*time.Second), "soft deadline for scoring one inference tick")
	flag.DurationVar(&c.ShutdownGrace, "shutdown-grace", envDuration("SHUTDOWN_GRACE", 10*time.Second), "grace period for loops to unwind on shutdown")

	flag.DurationVar(&c.RollingWindow, "rolling-window", envDuration("ROLLING_WINDOW", 5*time.Minute), "ticker state rolling window span")
	flag.Float64Var(&c.StalenessMultiplier, "staleness-multiplier", envFloat("STALENESS_MULTIPLIER", 5.0), "staleness bound as a multiple of the REST poll interval")
	flag.IntVar(&c.TickerStateBudget, "ticker-state-budget", envInt("TICKER_STATE_BUDGET", 2000), "max resident ticker states before LRU eviction")

	flag.Float64Var(&c.LabelThreshold, "label-threshold", envFloat("LABEL_THRESHOLD", 0.05), "presurge qualifying return threshold θ")
	flag.DurationVar(&c.ForwardWindow, "forward-window", envDuration("FORWARD_WINDOW", 60*time.Minute), "forward look-ahead window T")
	flag.IntVar(&c.TrainingWindowDays, "training-window-days", envInt("TRAINING_WINDOW_DAYS", 30), "days of labelled history used for training")
	flag.IntVar(&c.TrainingTrials, "training-trials", envInt("TRAINING_TRIALS", 25), "hyperparameter search trials per base learner")
	flag.StringVar((*string)(&c.ThresholdStrategy), "threshold-strategy", envStr("THRESHOLD_STRATEGY", string(ThresholdF1Max)), "f1_max or precision_target")
	flag.Float64Var(&c.PrecisionTarget, "precision-target", envFloat("PRECISION_TARGET", 0.7), "minimum precision for the precision_target threshold strategy")
	flag.Float64Var(&c.ResampleMinRatio, "resample-min-ratio", envFloat("RESAMPLE_MIN_RATIO", 0.2), "minimum training-fold positive ratio after resampling")
	flag.Float64Var(&c.ResampleMaxRatio, "resample-max-ratio", envFloat("RESAMPLE_MAX_RATIO", 0.5), "maximum training-fold positive ratio after resampling")
	flag.Float64Var(&c.SampleDecayPerDay, "sample-decay-per-day", envFloat("SAMPLE_DECAY_PER_DAY", 0.95), "exponential time-decay factor applied per day-ago during training")
	flag.Float64Var(&c.DriftAUCDropLimit, "drift-auc-drop-limit", envFloat("DRIFT_AUC_DROP_LIMIT", 0.05), "7d-vs-30d AUC drop that triggers a drift alert")
	flag.Float64Var(&c.ValidationAUCFloor, "validation-auc-floor", envFloat("VALIDATION_AUC_FLOOR", 0.02), "max allowed AUC regression vs prior artifact before publication aborts")

	flag.IntVar(&c.HistoryRetentionDays, "history-retention-days", envInt("HISTORY_RETENTION_DAYS", 30), "history retention window in days (0 = keep forever)")
	flag.StringVar(&c.ArchiveDir, "archive-dir", envStr("ARCHIVE_DIR", ""), "local directory for cold-archived history (empty = disabled)")
	flag.IntVar(&c.ArchiveMaxGB, "archive-max-gb", envInt("ARCHIVE_MAX_GB", 50), "max size in GB on disk for archived history before oldest files rotate out")
	flag.IntVar(&c.ArchiveIntervalHours, "archive-interval-hours", envInt("ARCHIVE_INTERVAL_HOURS", 6), "hours between archive runs")
	flag.IntVar(&c.ArchiveAfterHours, "archive-after-hours", envInt("ARCHIVE_AFTER_HOURS", 24*7), "archive history partitions older than this many hours, ahead of hard deletion")
	flag.DurationVar(&c.HistoryFlushInterval, "history-flush-interval", envDuration("HISTORY_FLUSH_INTERVAL", 10*time.Second), "history logger batch flush interval")
	flag.IntVar(&c.HistoryQueueSize, "history-queue-size", envInt("HISTORY_QUEUE_SIZE", 8192), "bounded in-memory queue size ahead of the history flusher")

	flag.StringVar(&c.BrokerRESTBaseURL, "broker-rest-url", envStr("BROKER_REST_URL", "https://broker.example.com/api"), "broker REST base URL")
	flag.StringVar(&c.BrokerStreamURL, "broker-stream-url", envStr("BROKER_STREAM_URL", "wss://broker.example.com/stream"), "broker WebSocket stream URL")
	flag.StringVar(&c.BrokerAuthURL, "broker-auth-url", envStr("BROKER_AUTH_URL", "https://broker.example.com/oauth/token"), "broker token-issuance endpoint")
	flag.StringVar(&c.BrokerClientID, "broker-client-id", envStr("BROKER_CLIENT_ID", ""), "broker OAuth client ID")
	flag.StringVar(&c.BrokerClientSecret, "broker-client-secret", envStr("BROKER_CLIENT_SECRET", ""), "broker OAuth client secret")
	flag.Float64Var(&c.BrokerRESTQPS, "broker-rest-qps", envFloat("BROKER_REST_QPS", 8.0), "broker REST per-second quota")
	flag.IntVar(&c.BrokerRESTBurst, "broker-rest-burst", envInt("BROKER_REST_BURST", 8), "broker REST token bucket burst size")

	flag.StringVar(&c.MongoURI, "mongo-uri", envStr("MONGO_URI", "mongodb://localhost:27017/presurge"), "MongoDB connection URI")
	flag.StringVar(&c.ModelBaseDir, "model-base-dir", envStr("MODEL_BASE_DIR", "./models"), "base directory for versioned model artifacts")

	flag.StringVar(&c.HTTPAddr, "http-addr", envStr("HTTP_ADDR", ":8090"), "health/metrics HTTP listen address")
	flag.StringVar(&c.LogLevel, "log-level", envStr("LOG_LEVEL", "info"), "zerolog level (debug, info, warn, error)")
	flag.BoolVar(&c.LogPretty, "log-pretty", envBool("LOG_PRETTY", false), "use a human-readable console log writer instead of JSON")
	flag.DurationVar(&c.InferenceInterval, "inference-interval", envDuration("INFERENCE_INTERVAL", time.Second), "interval between inference ticks over the resident universe")
	flag.Int64Var(&c.Seed, "seed", envInt64("TRAIN_SEED", 0), "PRNG seed for resampling/hyperparameter search (0 = random)")

	return c
}

// Parse wires flag.Parse(); split out so callers building a cobra command
// tree can register these flags against their own FlagSet without the
// package forcing flag.Parse() on import.
func (c *Config) Parse() {
	flag.Parse()
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
