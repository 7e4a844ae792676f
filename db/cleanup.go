package db

import (
	"context"
	"fmt"
	"time"
)

// PruneHistory deletes task_history rows older than retentionDays and
// returns the number removed. A non-positive retention keeps everything.
func (r *Repository) PruneHistory(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	conn, err := r.db.conn()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format("2006-01-02 15:04:05")
	result, err := conn.ExecContext(ctx,
		`DELETE FROM task_history WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune task history: %w", err)
	}
	return result.RowsAffected()
}

// StartPruner runs PruneHistory every interval until ctx is cancelled.
// onResult receives each outcome and may be nil.
func (r *Repository) StartPruner(ctx context.Context, retentionDays int, interval time.Duration, onResult func(int64, error)) {
	if retentionDays <= 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := r.PruneHistory(ctx, retentionDays)
				if onResult != nil {
					onResult(n, err)
				}
			}
		}
	}()
}
