package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DeleteOlderThan deletes rows from all tables where the timestamp is before
// the given unix epoch. Returns the total number of deleted rows.
func (d *DB) DeleteOlderThan(before int64) (int64, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}

	var total int64
	// Table names are constants; placeholders cannot stand in for identifiers.
	for _, table := range []string{"transitions", "device_events"} {
		res, err := tx.Exec(
			fmt.Sprintf("DELETE FROM %s WHERE timestamp < ?", table),
			before,
		)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("delete from %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return total, nil
}

// RunCleanup deletes rows older than retention once immediately and then
// every interval until ctx is cancelled.
func (d *DB) RunCleanup(ctx context.Context, retention, interval time.Duration, logger *slog.Logger) {
	clean := func() {
		cutoff := time.Now().Add(-retention).Unix()
		n, err := d.DeleteOlderThan(cutoff)
		if err != nil {
			logger.Warn("history cleanup failed", "err", err)
			return
		}
		if n > 0 {
			logger.Info("history cleanup", "deleted", n, "cutoff", cutoff)
		}
	}

	clean()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			clean()
		}
	}
}
