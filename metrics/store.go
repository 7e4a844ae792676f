package metrics

import (
	"sync"
	"time"
)

// DefaultHistoryCapacity is the number of tasks kept by NewStore.
const DefaultHistoryCapacity = 200

// Store keeps aggregate counters and a circular buffer of recent tasks.
// It is safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	history []TaskRecord
	head    int
	size    int

	total, success, errors, rejected, censored int64
	byOp                                        map[string]*opStats

	startTime time.Time
}

type opStats struct {
	count         int64
	successCount  int64
	totalDuration time.Duration
}

// NewStore creates a store that retains up to capacity recent tasks.
func NewStore(capacity int, startTime time.Time) *Store {
	if capacity < 1 {
		capacity = DefaultHistoryCapacity
	}
	return &Store{
		history:   make([]TaskRecord, capacity),
		byOp:      make(map[string]*opStats),
		startTime: startTime,
	}
}

// Record adds a finished task.
func (s *Store) Record(task TaskRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[s.head] = task
	s.head = (s.head + 1) % len(s.history)
	if s.size < len(s.history) {
		s.size++
	}

	s.total++
	switch task.Status {
	case StatusSuccess:
		s.success++
	case StatusRejected:
		s.rejected++
	case StatusCensored:
		s.censored++
	default:
		s.errors++
	}

	st, ok := s.byOp[task.Operation]
	if !ok {
		st = &opStats{}
		s.byOp[task.Operation] = st
	}
	st.count++
	st.totalDuration += task.Duration
	if task.Status == StatusSuccess {
		st.successCount++
	}
}

// Summary returns the aggregate counters.
func (s *Store) Summary() TaskMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := TaskMetrics{
		Total:       s.total,
		Success:     s.success,
		Errors:      s.errors,
		Rejected:    s.rejected,
		Censored:    s.censored,
		ByOperation: make(map[string]OperationStats, len(s.byOp)),
		Uptime:      time.Since(s.startTime),
	}
	for op, st := range s.byOp {
		var avg time.Duration
		if st.count > 0 {
			avg = st.totalDuration / time.Duration(st.count)
		}
		m.ByOperation[op] = OperationStats{
			Count:           st.count,
			SuccessCount:    st.successCount,
			AverageDuration: avg,
		}
	}
	return m
}

// Recent returns up to limit tasks, newest first.
func (s *Store) Recent(limit int) []TaskRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || s.size == 0 {
		return []TaskRecord{}
	}
	if limit > s.size {
		limit = s.size
	}

	out := make([]TaskRecord, limit)
	n := len(s.history)
	for i := 0; i < limit; i++ {
		out[i] = s.history[(s.head-1-i+n)%n]
	}
	return out
}
