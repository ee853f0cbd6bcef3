// Package train implements the offline training pipeline: time-ordered
// split, class-imbalance resampling, per-learner hyperparameter search,
// ensemble weight and threshold optimisation, drift detection, and
// gated artifact publication.
package train

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/surveillance/presurge/internal/feature"
	"github.com/surveillance/presurge/internal/model"
	"github.com/surveillance/presurge/internal/telemetry"
)

// ThresholdStrategy selects how the decision threshold is chosen from the
// validation precision-recall curve.
type ThresholdStrategy string

const (
	ThresholdF1Max         ThresholdStrategy = "f1_max"
	ThresholdPrecisionAtP  ThresholdStrategy = "precision_target"
)

// Config bounds a single training run.
type Config struct {
	TrainingWindowDays int
	TrainingTrials     int
	ThresholdStrategy  ThresholdStrategy
	PrecisionTarget    float64
	ResampleMinRatio   float64
	ResampleMaxRatio   float64
	SampleDecayPerDay  float64
	DriftAUCDropLimit  float64
	ValidationAUCFloor float64
	Seed               int64
	WallClockCap       time.Duration
}

// Trainer runs the full pipeline against the history collection and
// publishes to a model.Handle on success.
type Trainer struct {
	db       *mongo.Database
	handle   *model.Handle
	baseDir  string
	cfg      Config
	metrics  *telemetry.Metrics
	log      zerolog.Logger
}

// New builds a Trainer.
func New(db *mongo.Database, handle *model.Handle, baseDir string, cfg Config, metrics *telemetry.Metrics, log zerolog.Logger) *Trainer {
	if cfg.TrainingWindowDays <= 0 {
		cfg.TrainingWindowDays = 30
	}
	if cfg.TrainingTrials <= 0 {
		cfg.TrainingTrials = 25
	}
	if cfg.ThresholdStrategy == "" {
		cfg.ThresholdStrategy = ThresholdF1Max
	}
	if cfg.PrecisionTarget <= 0 {
		cfg.PrecisionTarget = 0.7
	}
	if cfg.ResampleMinRatio <= 0 {
		cfg.ResampleMinRatio = 0.3
	}
	if cfg.ResampleMaxRatio <= 0 {
		cfg.ResampleMaxRatio = 0.6
	}
	if cfg.SampleDecayPerDay <= 0 {
		cfg.SampleDecayPerDay = 0.95
	}
	if cfg.DriftAUCDropLimit <= 0 {
		cfg.DriftAUCDropLimit = 0.05
	}
	if cfg.ValidationAUCFloor <= 0 {
		cfg.ValidationAUCFloor = 0.02
	}
	if cfg.WallClockCap <= 0 {
		cfg.WallClockCap = time.Hour
	}
	return &Trainer{db: db, handle: handle, baseDir: baseDir, cfg: cfg, metrics: metrics, log: log.With().Str("component", "train").Logger()}
}

// Run executes one end-to-end training cycle: load labelled history,
// split, resample, search, publish if the validation floor check passes.
// The drift check only logs a warning; it does not block publication.
// Returns the outcome string reported on the metrics.
func (t *Trainer) Run(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.WallClockCap)
	defer cancel()

	start := time.Now()
	defer func() {
		if t.metrics != nil {
			t.metrics.TrainingDuration.Observe(time.Since(start).Seconds())
		}
	}()

	examples, err := t.loadLabelledExamples(ctx)
	if err != nil {
		t.observeOutcome("failed")
		return "failed", fmt.Errorf("train: load examples: %w", err)
	}
	if len(examples) < 50 {
		t.observeOutcome("aborted")
		return "aborted", fmt.Errorf("train: insufficient labelled examples (%d)", len(examples))
	}

	rng := NewRNG(t.cfg.Seed)
	result, err := trainOnExamples(examples, t.cfg, rng)
	if err != nil {
		t.observeOutcome("failed")
		return "failed", fmt.Errorf("train: fit pipeline: %w", err)
	}

	priorAUC := 0.0
	if prior := t.handle.Load(); prior != nil {
		priorAUC = prior.Metadata.ValidationAUC
	}
	if prior := t.handle.Load(); prior != nil && result.validationAUC < priorAUC-t.cfg.ValidationAUCFloor {
		t.observeOutcome("aborted")
		return "aborted", fmt.Errorf("train: validation AUC %.4f below floor (prior %.4f - %.4f)", result.validationAUC, priorAUC, t.cfg.ValidationAUCFloor)
	}

	if drifted, delta := t.checkDrift(ctx); drifted {
		t.log.Warn().Float64("auc_drop", delta).Msg("drift alert: recent 7-day AUC below 30-day baseline")
	}

	version := model.NextVersion(t.baseDir)
	artifact := &model.Artifact{
		Version:       version,
		SchemaVersion: feature.SchemaVersion,
		Learners:      result.learners,
		LearnerKinds:  result.kinds,
		Weights:       result.weights,
		Threshold:     result.threshold,
		Metadata: model.Metadata{
			TrainingWindowStart: time.Now().AddDate(0, 0, -t.cfg.TrainingWindowDays),
			TrainingWindowEnd:   time.Now(),
			ClassRatio:          result.classRatio,
			ValidationAUC:     result.validationAUC,
			TrainAUC:          result.trainAUC,
			ThresholdStrategy: string(t.cfg.ThresholdStrategy),
		},
	}

	if err := model.Save(t.baseDir, artifact); err != nil {
		t.observeOutcome("failed")
		return "failed", fmt.Errorf("train: save artifact: %w", err)
	}
	t.handle.Swap(artifact)
	if t.metrics != nil {
		t.metrics.ModelAUC.WithLabelValues("validation").Set(result.validationAUC)
		t.metrics.ModelAUC.WithLabelValues("train").Set(result.trainAUC)
	}

	t.observeOutcome("published")
	t.log.Info().Int("version", version).Float64("validation_auc", result.validationAUC).Msg("training run published new artifact")
	return "published", nil
}

func (t *Trainer) observeOutcome(outcome string) {
	if t.metrics != nil {
		t.metrics.TrainingRunsTotal.WithLabelValues(outcome).Inc()
	}
}

type historyExample struct {
	Ticker     string    `bson:"ticker"`
	Timestamp  time.Time `bson:"timestamp"`
	Features   [9]float64 `bson:"features"`
	Mask       [9]bool    `bson:"mask"`
	Label      bool      `bson:"label"`
}

func (t *Trainer) loadLabelledExamples(ctx context.Context) ([]Example, error) {
	since := time.Now().AddDate(0, 0, -t.cfg.TrainingWindowDays)

	cursor, err := t.db.Collection("history").Find(ctx, bson.M{
		"labelled":  true,
		"timestamp": bson.M{"$gte": since},
	}, options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("query labelled history: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []historyExample
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode labelled history: %w", err)
	}

	now := time.Now()
	examples := make([]Example, len(rows))
	daysAgo := make([]float64, len(rows))
	for i, r := range rows {
		x := make([]float64, feature.FieldCount)
		for f := 0; f < feature.FieldCount; f++ {
			if !r.Mask[f] {
				x[f] = r.Features[f]
			}
		}
		y := 0.0
		if r.Label {
			y = 1.0
		}
		examples[i] = Example{X: x, Y: y, Weight: 1}
		daysAgo[i] = now.Sub(r.Timestamp).Hours() / 24
	}
	ApplyTimeDecay(examples, daysAgo, t.cfg.SampleDecayPerDay)
	return examples, nil
}

// checkDrift compares the last 7 days' validation AUC against the last 30
// days', using the history collection's already-labelled records scored
// against the currently active artifact.
func (t *Trainer) checkDrift(ctx context.Context) (bool, float64) {
	artifact := t.handle.Load()
	if artifact == nil {
		return false, 0
	}

	auc7, err7 := t.scoreWindow(ctx, artifact, 7)
	auc30, err30 := t.scoreWindow(ctx, artifact, 30)
	if err7 != nil || err30 != nil {
		return false, 0
	}
	if t.metrics != nil {
		t.metrics.ModelAUC.WithLabelValues("recent_7d").Set(auc7)
		t.metrics.ModelAUC.WithLabelValues("baseline_30d").Set(auc30)
	}

	drop := auc30 - auc7
	return drop >= t.cfg.DriftAUCDropLimit, drop
}

func (t *Trainer) scoreWindow(ctx context.Context, artifact *model.Artifact, days int) (float64, error) {
	since := time.Now().AddDate(0, 0, -days)
	cursor, err := t.db.Collection("history").Find(ctx, bson.M{
		"labelled":  true,
		"timestamp": bson.M{"$gte": since},
	})
	if err != nil {
		return 0, err
	}
	defer cursor.Close(ctx)

	var rows []historyExample
	if err := cursor.All(ctx, &rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("no rows in window")
	}

	labels := make([]float64, len(rows))
	scores := make([]float64, len(rows))
	for i, r := range rows {
		x := make([]float64, feature.FieldCount)
		for f := 0; f < feature.FieldCount; f++ {
			if !r.Mask[f] {
				x[f] = r.Features[f]
			}
		}
		scores[i] = artifact.Predict(x)
		if r.Label {
			labels[i] = 1
		}
	}
	return AUC(labels, scores), nil
}
