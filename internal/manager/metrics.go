package manager

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "manager",
			Name:      "loads_total",
			Help:      "Model instances loaded",
		},
		[]string{"model"},
	)

	loadFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "manager",
			Name:      "load_failures_total",
			Help:      "Model loads that failed",
		},
		[]string{"model"},
	)

	loadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "inferd",
			Subsystem: "manager",
			Name:      "load_duration_seconds",
			Help:      "Time to load a model instance",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		},
		[]string{"runtime"},
	)

	evictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "manager",
			Name:      "evictions_total",
			Help:      "Instances evicted to fit the VRAM budget",
		},
		[]string{"model"},
	)

	queueRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "manager",
			Name:      "queue_rejections_total",
			Help:      "Requests rejected by admission",
		},
		[]string{"model", "reason"},
	)

	statesSaved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "manager",
			Name:      "states_saved_total",
			Help:      "Context states persisted on unload or eviction",
		},
	)

	completionTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "completion",
			Name:      "tokens_total",
			Help:      "Tokens processed by completions",
		},
		[]string{"model", "kind"},
	)

	completionFinish = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "completion",
			Name:      "finished_total",
			Help:      "Completions by finish reason",
		},
		[]string{"model", "reason"},
	)

	completionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "completion",
			Name:      "errors_total",
			Help:      "Completions that returned an error",
		},
		[]string{"model"},
	)

	completionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "inferd",
			Subsystem: "completion",
			Name:      "duration_seconds",
			Help:      "Wall time of completions",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	embedInputs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "embed",
			Name:      "inputs_total",
			Help:      "Texts embedded",
		},
		[]string{"model"},
	)
)

func init() {
	prometheus.MustRegister(loadsTotal, loadFailures, loadDuration, evictionsTotal, queueRejections,
		statesSaved, completionTokens, completionFinish, completionErrors, completionDuration, embedInputs)
}

func observeCompletion(model string, r FinalResult, d time.Duration) {
	completionTokens.WithLabelValues(model, "prompt").Add(float64(r.Usage.PromptTokens))
	completionTokens.WithLabelValues(model, "completion").Add(float64(r.Usage.CompletionTokens))
	completionTokens.WithLabelValues(model, "cached").Add(float64(r.Usage.CachedTokens))
	completionFinish.WithLabelValues(model, r.FinishReason).Inc()
	completionDuration.WithLabelValues(model).Observe(d.Seconds())
}

// RegisterCacheGauge exposes the adapter's model-cache size as
// inferd_manager_cache_entries. Call once per process.
func (m *Manager) RegisterCacheGauge(reg prometheus.Registerer) error {
	cs, ok := m.adapter.(cacheStats)
	if !ok {
		return nil
	}
	return reg.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "inferd",
			Subsystem: "manager",
			Name:      "cache_entries",
			Help:      "Models held by the shared model cache",
		},
		func() float64 { return float64(cs.CacheEntries()) },
	))
}
