package history

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// RunRetention periodically deletes history records older than
// retentionDays, directly adapted from the teacher's persist.RunRetention.
// Pass retentionDays <= 0 to disable. When the Archiver is enabled with a
// shorter age threshold, older records have already been moved to disk;
// when it is disabled (no archive dir), this deletes them outright.
func RunRetention(ctx context.Context, store *Store, retentionDays int, log zerolog.Logger) {
	log = log.With().Str("component", "history.retention").Logger()
	if retentionDays <= 0 {
		log.Info().Msg("history retention disabled (keep forever)")
		return
	}

	interval := time.Hour
	log.Info().Int("retention_days", retentionDays).Dur("interval", interval).Msg("history retention loop starting")

	prune(ctx, store, retentionDays, log)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune(ctx, store, retentionDays, log)
		}
	}
}

func prune(ctx context.Context, store *Store, retentionDays int, log zerolog.Logger) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	result, err := store.db.Collection("history").DeleteMany(ctx, bson.M{
		"timestamp": bson.M{"$lt": cutoff},
	})
	if err != nil {
		log.Error().Err(err).Msg("history retention prune failed")
		return
	}
	if result.DeletedCount > 0 {
		log.Info().Int64("deleted", result.DeletedCount).Str("cutoff", cutoff.Format(time.DateOnly)).Msg("history retention pruned records")
	}
}
