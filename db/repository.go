package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TaskStatus values recorded in task_history.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusRejected  = "rejected"
	StatusCensored  = "censored"
)

// TaskRecord is one row of task_history.
type TaskRecord struct {
	ID          int64     `json:"id"`
	RequestID   string    `json:"request_id"`
	UserID      string    `json:"user_id,omitempty"`
	Operation   string    `json:"operation"`
	ServerIndex int       `json:"server_index"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// Repository provides typed access to the balances and task_history tables.
type Repository struct {
	db *Database
}

// NewRepository creates a repository over db.
func NewRepository(db *Database) *Repository {
	return &Repository{db: db}
}

// Balance returns the user's balance, creating the user at zero if unknown.
func (r *Repository) Balance(ctx context.Context, userID string) (int64, error) {
	conn, err := r.db.conn()
	if err != nil {
		return 0, err
	}

	if _, err := conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO balances (user_id, balance) VALUES (?, 0)`, userID); err != nil {
		return 0, fmt.Errorf("failed to ensure balance row: %w", err)
	}

	var balance int64
	err = conn.QueryRowContext(ctx,
		`SELECT balance FROM balances WHERE user_id = ?`, userID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to query balance: %w", err)
	}
	return balance, nil
}

// ErrBalanceTooLow is returned by Adjust when a debit would go below zero.
var ErrBalanceTooLow = errors.New("balance too low")

// Adjust adds delta to the user's balance inside a transaction and returns
// the new balance. A negative result is rejected with ErrBalanceTooLow and
// leaves the stored balance unchanged.
func (r *Repository) Adjust(ctx context.Context, userID string, delta int64) (int64, error) {
	conn, err := r.db.conn()
	if err != nil {
		return 0, err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM balances WHERE user_id = ?`, userID).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current = 0
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO balances (user_id, balance) VALUES (?, 0)`, userID); err != nil {
			return 0, fmt.Errorf("failed to create balance row: %w", err)
		}
	case err != nil:
		return 0, fmt.Errorf("failed to query balance: %w", err)
	}

	next := current + delta
	if next < 0 {
		return current, ErrBalanceTooLow
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE balances SET balance = ?, updated_at = CURRENT_TIMESTAMP WHERE user_id = ?`,
		next, userID); err != nil {
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit balance update: %w", err)
	}
	return next, nil
}

// InsertTask stores a task_history row and returns its id.
func (r *Repository) InsertTask(ctx context.Context, rec TaskRecord) (int64, error) {
	conn, err := r.db.conn()
	if err != nil {
		return 0, err
	}

	result, err := conn.ExecContext(ctx, `
		INSERT INTO task_history (
			request_id, user_id, operation, server_index, status, message, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID,
		nullString(rec.UserID),
		rec.Operation,
		rec.ServerIndex,
		rec.Status,
		nullString(rec.Message),
		rec.DurationMS,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert task record: %w", err)
	}
	return result.LastInsertId()
}

// RecentTasks returns up to limit task records, newest first.
func (r *Repository) RecentTasks(ctx context.Context, limit int) ([]TaskRecord, error) {
	conn, err := r.db.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT id, request_id, COALESCE(user_id, ''), operation, server_index,
		       status, COALESCE(message, ''), duration_ms, created_at
		FROM task_history
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query task history: %w", err)
	}
	defer rows.Close()

	var records []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		var createdAt string
		if err := rows.Scan(
			&rec.ID, &rec.RequestID, &rec.UserID, &rec.Operation, &rec.ServerIndex,
			&rec.Status, &rec.Message, &rec.DurationMS, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan task record: %w", err)
		}
		rec.CreatedAt = parseTimestamp(createdAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task records: %w", err)
	}
	return records, nil
}

// CountTasks returns the number of task_history rows.
func (r *Repository) CountTasks(ctx context.Context) (int64, error) {
	conn, err := r.db.conn()
	if err != nil {
		return 0, err
	}
	var count int64
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_history`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count task records: %w", err)
	}
	return count, nil
}

// HistoryHandler adapts the repository to an AsyncWriter handler that
// persists TaskRecord payloads.
func (r *Repository) HistoryHandler() WriteHandler {
	return func(op WriteOperation) error {
		rec, ok := op.Data.(TaskRecord)
		if !ok {
			return fmt.Errorf("unexpected history payload %T", op.Data)
		}
		_, err := r.InsertTask(context.Background(), rec)
		return err
	}
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func parseTimestamp(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339, "2006-01-02T15:04:05Z"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
