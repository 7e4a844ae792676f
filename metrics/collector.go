package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"sdgateway/logging"
)

// Namespace prefixes every series.
const Namespace = "sdgateway"

// Collector records task outcomes into Prometheus and the in-memory Store.
type Collector struct {
	tasksTotal           *prometheus.CounterVec
	taskDuration         *prometheus.HistogramVec
	activeTasks          prometheus.Gauge
	moderationRejections *prometheus.CounterVec
	backendErrors        *prometheus.CounterVec
	translations         *prometheus.CounterVec

	store  *Store
	logger *logging.Logger
}

// NewCollector registers the series on reg. Pass prometheus.NewRegistry()
// in tests to avoid clashing with the default registry.
func NewCollector(reg prometheus.Registerer, store *Store, logger *logging.Logger) *Collector {
	factory := promauto.With(reg)
	if store == nil {
		store = NewStore(DefaultHistoryCapacity, time.Now())
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Collector{
		tasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "tasks_total",
				Help:      "Total number of finished tasks",
			},
			[]string{"operation", "status"},
		),
		taskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "task_duration_seconds",
				Help:      "Task duration in seconds",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"operation", "server"},
		),
		activeTasks: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "active_tasks",
				Help:      "Tasks currently admitted",
			},
		),
		moderationRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "moderation_rejections_total",
				Help:      "Generated images that failed moderation",
			},
			[]string{"indicator"},
		),
		backendErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "backend_errors_total",
				Help:      "Failed backend calls",
			},
			[]string{"server", "path"},
		),
		translations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "translations_total",
				Help:      "Translation calls by outcome",
			},
			[]string{"status"},
		),
		store:  store,
		logger: logger.Named("metrics"),
	}
}

// RecordTask records a finished task.
func (c *Collector) RecordTask(task TaskRecord) {
	c.tasksTotal.WithLabelValues(task.Operation, task.Status).Inc()
	if task.Status != StatusRejected {
		c.taskDuration.WithLabelValues(task.Operation, serverLabel(task.Server)).Observe(task.Duration.Seconds())
	}
	c.store.Record(task)

	c.logger.Debug("task recorded",
		zap.String("id", task.ID),
		zap.String("operation", task.Operation),
		zap.String("status", task.Status),
		zap.Duration("duration", task.Duration))
}

// SetActive publishes the admission counter.
func (c *Collector) SetActive(n int64) {
	c.activeTasks.Set(float64(n))
}

// RecordModerationRejection counts a failed moderation verdict.
func (c *Collector) RecordModerationRejection(indicator string) {
	c.moderationRejections.WithLabelValues(indicator).Inc()
}

// RecordBackendError counts a failed backend call.
func (c *Collector) RecordBackendError(server int, path string) {
	c.backendErrors.WithLabelValues(serverLabel(server), path).Inc()
}

// RecordTranslation counts a translation attempt.
func (c *Collector) RecordTranslation(ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	c.translations.WithLabelValues(status).Inc()
}

// Store returns the in-memory store.
func (c *Collector) Store() *Store {
	return c.store
}

func serverLabel(index int) string {
	if index < 0 {
		return "none"
	}
	return strconv.Itoa(index)
}
