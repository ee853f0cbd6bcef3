// Package label runs the forward look-ahead labelling pass over the
// history collection after each session closes.
package label

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Config controls the labelling pass.
type Config struct {
	ForwardWindow time.Duration // default 60m
	Threshold     float64       // default 0.05
}

// Labeller scans unlabelled history records whose forward window has fully
// elapsed and backfills label/peak-return fields.
type Labeller struct {
	db  *mongo.Database
	cfg Config
	log zerolog.Logger
}

// New builds a Labeller against the history database.
func New(db *mongo.Database, cfg Config, log zerolog.Logger) *Labeller {
	if cfg.ForwardWindow <= 0 {
		cfg.ForwardWindow = 60 * time.Minute
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.05
	}
	return &Labeller{db: db, cfg: cfg, log: log.With().Str("component", "label").Logger()}
}

type candidateRecord struct {
	Ticker    string    `bson:"ticker"`
	Timestamp time.Time `bson:"timestamp"`
	Price     float64   `bson:"price"`
}

// Run labels every record old enough that [t, t+ForwardWindow] is fully in
// the past. Records already labelled are skipped by the labelled:false
// filter; no low-water-mark is persisted. Records whose window hasn't yet
// elapsed are deferred to the next run by construction: the horizon query
// excludes them.
func (l *Labeller) Run(ctx context.Context) (int, error) {
	horizon := time.Now().Add(-l.cfg.ForwardWindow)

	cursor, err := l.db.Collection("history").Find(ctx, bson.M{
		"labelled":  false,
		"timestamp": bson.M{"$lte": horizon},
	}, options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return 0, fmt.Errorf("label: query unlabelled records: %w", err)
	}
	defer cursor.Close(ctx)

	var candidates []candidateRecord
	if err := cursor.All(ctx, &candidates); err != nil {
		return 0, fmt.Errorf("label: decode candidates: %w", err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	labelled := 0
	for _, c := range candidates {
		peak, err := l.peakPrice(ctx, c.Ticker, c.Timestamp, c.Timestamp.Add(l.cfg.ForwardWindow))
		if err != nil {
			l.log.Error().Err(err).Str("ticker", c.Ticker).Msg("peak price lookup failed, deferring record")
			continue
		}
		if peak == nil {
			// No price data at all in the window (gap in ingestion):
			// defer rather than mislabel with an undefined peak.
			continue
		}

		peakReturn := *peak/c.Price - 1
		label := peakReturn >= l.cfg.Threshold

		_, err = l.db.Collection("history").UpdateOne(ctx,
			bson.M{"ticker": c.Ticker, "timestamp": c.Timestamp},
			bson.M{"$set": bson.M{
				"labelled":    true,
				"label":       label,
				"peak_return": peakReturn,
			}},
		)
		if err != nil {
			l.log.Error().Err(err).Str("ticker", c.Ticker).Msg("label update failed")
			continue
		}
		labelled++
	}

	l.log.Info().Int("labelled", labelled).Int("candidates", len(candidates)).Msg("labelling pass complete")
	return labelled, nil
}

// peakPrice returns the maximum observed price for ticker within [from, to],
// or nil if no records exist in that window.
func (l *Labeller) peakPrice(ctx context.Context, ticker string, from, to time.Time) (*float64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"ticker":    ticker,
			"timestamp": bson.M{"$gte": from, "$lte": to},
		}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "peak", Value: bson.M{"$max": "$price"}},
		}}},
	}

	cursor, err := l.db.Collection("history").Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate peak price: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Peak float64 `bson:"peak"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("decode peak price: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0].Peak, nil
}
