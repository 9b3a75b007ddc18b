package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics records batch runner activity.
type PipelineMetrics struct {
	batchDuration *prometheus.HistogramVec
	items         *prometheus.CounterVec
	modelLoads    *prometheus.CounterVec
}

// NewPipelineMetrics registers the pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	batchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "batch_duration_seconds",
		Help:    "Duration of batch runner invocations in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"trigger"})
	items := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "items_processed_total",
		Help: "Media items processed, labeled by outcome.",
	}, []string{"trigger", "outcome"})
	modelLoads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "model_loads_total",
		Help: "Model service load attempts, labeled by service and result.",
	}, []string{"service", "result"})
	reg.MustRegister(batchDuration, items, modelLoads)
	return &PipelineMetrics{
		batchDuration: batchDuration,
		items:         items,
		modelLoads:    modelLoads,
	}
}

// ObserveBatchDuration records how long a batch invocation took.
func (m *PipelineMetrics) ObserveBatchDuration(trigger string, duration time.Duration) {
	if m == nil || m.batchDuration == nil {
		return
	}
	m.batchDuration.WithLabelValues(trigger).Observe(duration.Seconds())
}

// IncSucceeded counts an item that completed analysis.
func (m *PipelineMetrics) IncSucceeded(trigger string) {
	m.incItem(trigger, "succeeded")
}

// IncFailed counts an item that failed analysis.
func (m *PipelineMetrics) IncFailed(trigger string) {
	m.incItem(trigger, "failed")
}

func (m *PipelineMetrics) incItem(trigger, outcome string) {
	if m == nil || m.items == nil {
		return
	}
	m.items.WithLabelValues(trigger, outcome).Inc()
}

// IncModelLoad counts a model service load attempt.
func (m *PipelineMetrics) IncModelLoad(service, result string) {
	if m == nil || m.modelLoads == nil {
		return
	}
	m.modelLoads.WithLabelValues(service, result).Inc()
}
