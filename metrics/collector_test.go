package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestCollector() *Collector {
	return NewCollector(prometheus.NewRegistry(), NewStore(10, time.Now()), nil)
}

func TestCollectorRecordTask(t *testing.T) {
	c := newTestCollector()

	c.RecordTask(TaskRecord{ID: "1", Operation: "sd", Server: 0, Status: StatusSuccess, Duration: time.Second})
	c.RecordTask(TaskRecord{ID: "2", Operation: "sd", Server: 1, Status: StatusSuccess, Duration: time.Second})
	c.RecordTask(TaskRecord{ID: "3", Operation: "sd", Server: -1, Status: StatusRejected})

	if got := testutil.ToFloat64(c.tasksTotal.WithLabelValues("sd", StatusSuccess)); got != 2 {
		t.Errorf("success counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.tasksTotal.WithLabelValues("sd", StatusRejected)); got != 1 {
		t.Errorf("rejected counter = %v, want 1", got)
	}
	if got := c.Store().Summary().Total; got != 3 {
		t.Errorf("store total = %d, want 3", got)
	}
}

func TestCollectorGaugesAndCounters(t *testing.T) {
	c := newTestCollector()

	c.SetActive(2)
	if got := testutil.ToFloat64(c.activeTasks); got != 2 {
		t.Errorf("active gauge = %v, want 2", got)
	}

	c.RecordModerationRejection("explicit")
	c.RecordModerationRejection("explicit")
	if got := testutil.ToFloat64(c.moderationRejections.WithLabelValues("explicit")); got != 2 {
		t.Errorf("moderation rejections = %v, want 2", got)
	}

	c.RecordBackendError(1, "/sdapi/v1/txt2img")
	if got := testutil.ToFloat64(c.backendErrors.WithLabelValues("1", "/sdapi/v1/txt2img")); got != 1 {
		t.Errorf("backend errors = %v, want 1", got)
	}

	c.RecordTranslation(false)
	if got := testutil.ToFloat64(c.translations.WithLabelValues("error")); got != 1 {
		t.Errorf("translation errors = %v, want 1", got)
	}
}

func TestServerLabel(t *testing.T) {
	tests := map[int]string{-1: "none", 0: "0", 12: "12"}
	for in, want := range tests {
		if got := serverLabel(in); got != want {
			t.Errorf("serverLabel(%d) = %q, want %q", in, got, want)
		}
	}
}
