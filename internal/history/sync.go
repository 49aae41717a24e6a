package history

import (
	"log/slog"
	"time"
)

// Reconcile brings the ledger in line with reality after a restart: runs left
// in the running state by a previous process are marked failed.
func Reconcile(db *DB, now time.Time, logger *slog.Logger) error {
	ids, err := db.runningIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := db.FailRun(id, "interrupted", now); err != nil {
			logger.Warn("history: reconcile failed", slog.String("run_id", id), slog.String("error", err.Error()))
			continue
		}
		logger.Info("history: marked interrupted run failed", slog.String("run_id", id))
	}
	return nil
}
