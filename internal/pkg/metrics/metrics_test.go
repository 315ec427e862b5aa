package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.JobProcessed("completed", 1.5)
	m.JobProcessed("completed", 2)
	m.JobProcessed("rescheduled", 0.2)
	m.StrategyFailed("sitemap")
	m.Validated("ambiguous")
	m.JobEnqueued("api")
	m.WorkerStarted()
	m.WorkerStarted()
	m.WorkerFinished()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobsProcessedTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsProcessedTotal.WithLabelValues("rescheduled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StrategyFailures.WithLabelValues("sitemap")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValidationOutcomes.WithLabelValues("ambiguous")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsEnqueuedTotal.WithLabelValues("api")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkersBusy))
}

func TestMetrics_QueueDepthReset(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetQueueDepth(map[string]int64{"queued": 4, "failed": 1})
	m.SetQueueDepth(map[string]int64{"queued": 2})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueueDepth.WithLabelValues("queued")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.QueueDepth))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.JobProcessed("completed", 1)
		m.JobEnqueued("cron")
		m.SetQueueDepth(map[string]int64{"queued": 1})
		m.WorkerStarted()
		m.WorkerFinished()
		m.Discovered(3, 1)
		m.StrategyFailed("homepage")
		m.Validated("valid")
	})
}
