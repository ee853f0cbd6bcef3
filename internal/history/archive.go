package history

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Archiver periodically moves history records older than maxAge from
// MongoDB to local gzipped NDJSON files, deleting the oldest archive files
// once total size exceeds maxBytes. Directly adapted from the teacher's
// archive.Archiver, retargeted at the history collection.
type Archiver struct {
	db       *mongo.Database
	dir      string
	maxBytes int64
	interval time.Duration
	maxAge   time.Duration
	log      zerolog.Logger
}

// New creates a new Archiver. maxGB bounds total on-disk archive size,
// intervalHours how often a cycle runs, afterHours how old a record must
// be before it's eligible for archival.
func New(db *mongo.Database, dir string, maxGB, intervalHours, afterHours int, log zerolog.Logger) *Archiver {
	return &Archiver{
		db:       db,
		dir:      dir,
		maxBytes: int64(maxGB) * 1 << 30,
		interval: time.Duration(intervalHours) * time.Hour,
		maxAge:   time.Duration(afterHours) * time.Hour,
		log:      log.With().Str("component", "history.archive").Logger(),
	}
}

// Run starts the periodic archive loop. Blocks until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) {
	a.log.Info().Str("dir", a.dir).Int64("max_bytes", a.maxBytes).Dur("interval", a.interval).Dur("max_age", a.maxAge).Msg("history archiver starting")

	a.cycle(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.cycle(ctx)
		}
	}
}

func (a *Archiver) cycle(ctx context.Context) {
	cursor, err := a.loadCursor(ctx)
	if err != nil {
		a.log.Error().Err(err).Msg("load archive cursor failed")
		return
	}

	cutoff := time.Now().Add(-a.maxAge)
	if !cursor.Before(cutoff) {
		return
	}

	records, err := a.queryRecords(ctx, cursor, cutoff)
	if err != nil {
		a.log.Error().Err(err).Msg("query history for archival failed")
		return
	}
	if len(records) == 0 {
		a.saveCursor(ctx, cutoff)
		return
	}

	batches := groupByDay(records)
	for day, batch := range batches {
		if err := a.writeBatch(day, batch); err != nil {
			a.log.Error().Err(err).Str("day", day).Msg("write archive batch failed")
			return
		}
		if err := a.deleteBatch(ctx, batch); err != nil {
			a.log.Error().Err(err).Str("day", day).Msg("delete archived batch failed")
			return
		}
		a.log.Info().Int("count", len(batch)).Str("day", day).Msg("archived history batch")
	}

	a.saveCursor(ctx, cutoff)
	a.rotate()
}

func (a *Archiver) loadCursor(ctx context.Context) (time.Time, error) {
	var doc struct {
		ValueTime time.Time `bson:"value_time"`
	}
	err := a.db.Collection("sim_state").FindOne(ctx, bson.M{"key": "history_archive_cursor"}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return doc.ValueTime, nil
}

func (a *Archiver) saveCursor(ctx context.Context, t time.Time) {
	_, err := a.db.Collection("sim_state").UpdateOne(ctx,
		bson.M{"key": "history_archive_cursor"},
		bson.M{"$set": bson.M{
			"key":        "history_archive_cursor",
			"value_time": t,
			"updated_at": time.Now(),
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		a.log.Error().Err(err).Msg("save archive cursor failed")
	}
}

func (a *Archiver) queryRecords(ctx context.Context, from, to time.Time) ([]Record, error) {
	filter := bson.M{"timestamp": bson.M{"$gte": from, "$lt": to}}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})

	cur, err := a.db.Collection("history").Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find history records: %w", err)
	}
	defer cur.Close(ctx)

	var records []Record
	if err := cur.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode history records: %w", err)
	}
	return records, nil
}

func groupByDay(records []Record) map[string][]Record {
	batches := make(map[string][]Record)
	for _, r := range records {
		day := r.Timestamp.UTC().Format("2006/01/02")
		batches[day] = append(batches[day], r)
	}
	return batches
}

func (a *Archiver) writeBatch(day string, records []Record) error {
	path := filepath.Join(a.dir, "history", day+".jsonl.gz")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			gz.Close()
			return fmt.Errorf("encode: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("gzip close: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func (a *Archiver) deleteBatch(ctx context.Context, records []Record) error {
	var ors []bson.M
	for _, r := range records {
		ors = append(ors, bson.M{"ticker": r.Ticker, "timestamp": r.Timestamp})
	}
	if len(ors) == 0 {
		return nil
	}
	_, err := a.db.Collection("history").DeleteMany(ctx, bson.M{"$or": ors})
	if err != nil {
		return fmt.Errorf("delete archived records: %w", err)
	}
	return nil
}

// rotate deletes the oldest archive files until total size is under
// maxBytes, the same scheme as the teacher's Archiver.rotate.
func (a *Archiver) rotate() {
	root := filepath.Join(a.dir, "history")

	type entry struct {
		path string
		size int64
	}
	var files []entry
	var total int64

	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		files = append(files, entry{path: path, size: info.Size()})
		total += info.Size()
		return nil
	})

	if total <= a.maxBytes {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })

	for _, f := range files {
		if total <= a.maxBytes {
			break
		}
		if err := os.Remove(f.path); err != nil {
			a.log.Error().Err(err).Str("path", f.path).Msg("rotate remove failed")
			continue
		}
		total -= f.size
		a.log.Info().Str("path", f.path).Int64("bytes", f.size).Msg("rotated out archive file")
	}
}
