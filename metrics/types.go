// Package metrics tracks orchestrator activity: Prometheus series for
// scraping plus a small in-memory ring of recent tasks for the status API.
package metrics

import "time"

// Task status values.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusRejected = "rejected"
	StatusCensored = "censored"
)

// TaskRecord is one finished task.
type TaskRecord struct {
	ID        string        `json:"id"`
	Operation string        `json:"operation"`
	Server    int           `json:"server"`
	Status    string        `json:"status"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	ErrorMsg  string        `json:"error_msg,omitempty"`
}

// OperationStats aggregates tasks of one operation.
type OperationStats struct {
	Count           int64         `json:"count"`
	SuccessCount    int64         `json:"success_count"`
	AverageDuration time.Duration `json:"average_duration"`
}

// TaskMetrics summarizes everything recorded since start.
type TaskMetrics struct {
	Total       int64                     `json:"total"`
	Success     int64                     `json:"success"`
	Errors      int64                     `json:"errors"`
	Rejected    int64                     `json:"rejected"`
	Censored    int64                     `json:"censored"`
	ByOperation map[string]OperationStats `json:"by_operation"`
	Uptime      time.Duration             `json:"uptime"`
}
