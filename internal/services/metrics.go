package services

import (
	"net/http"
	"time"

	"github.com/chat-omega/fundonboarding/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "fundonboarding"

// Metrics exports pipeline counters on its own registry. It satisfies
// cache.Observer.
type Metrics struct {
	registry *prometheus.Registry

	cacheHits        *prometheus.CounterVec
	cacheMisses      prometheus.Counter
	cacheEvictions   *prometheus.CounterVec
	stageTransitions *prometheus.CounterVec
	agentErrors      *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	actionDuration   *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	metrics := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache hits by tier.",
		}, []string{"tier"}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache misses.",
		}),
		cacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Entries evicted by tier.",
		}, []string{"tier"}),
		stageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "stage_transitions_total",
			Help:      "Session stage transitions.",
		}, []string{"from", "to"}),
		agentErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "agent",
			Name:      "errors_total",
			Help:      "Error messages emitted by agents.",
		}, []string{"agent", "code"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently held by the orchestrator.",
		}),
		actionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "action_duration_seconds",
			Help:      "Time to fully stream one session action.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"action"}),
	}

	metrics.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.cacheHits,
		metrics.cacheMisses,
		metrics.cacheEvictions,
		metrics.stageTransitions,
		metrics.agentErrors,
		metrics.activeSessions,
		metrics.actionDuration,
	)
	return metrics
}

func (metrics *Metrics) CacheHit(tier string) {
	metrics.cacheHits.WithLabelValues(tier).Inc()
}

func (metrics *Metrics) CacheMiss() {
	metrics.cacheMisses.Inc()
}

func (metrics *Metrics) CacheEviction(tier string, count int) {
	metrics.cacheEvictions.WithLabelValues(tier).Add(float64(count))
}

func (metrics *Metrics) StageTransition(from, to models.Stage) {
	metrics.stageTransitions.WithLabelValues(string(from), string(to)).Inc()
}

func (metrics *Metrics) AgentError(agent models.AgentType, code string) {
	if code == "" {
		code = "UNKNOWN"
	}
	metrics.agentErrors.WithLabelValues(string(agent), code).Inc()
}

func (metrics *Metrics) SessionOpened() {
	metrics.activeSessions.Inc()
}

func (metrics *Metrics) SessionClosed() {
	metrics.activeSessions.Dec()
}

func (metrics *Metrics) ObserveAction(action string, duration time.Duration) {
	metrics.actionDuration.WithLabelValues(action).Observe(duration.Seconds())
}

func (metrics *Metrics) Registry() *prometheus.Registry {
	return metrics.registry
}

func (metrics *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{})
}
