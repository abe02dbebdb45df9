package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes workflow counters and timings. All methods are safe on a
// nil receiver so instrumentation stays optional.
type Metrics struct {
	nodeExecutions  *prometheus.CounterVec
	nodeDuration    *prometheus.HistogramVec
	nodesInflight   prometheus.Gauge
	stagesExecuted  prometheus.Counter
	revisions       *prometheus.CounterVec
	checkpointSaves prometheus.Counter
	pausedThreads   prometheus.Gauge
	runsCompleted   *prometheus.CounterVec
}

// NewMetrics registers workflow metrics under the "maya" namespace.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		nodeExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "maya",
			Name:      "node_executions_total",
			Help:      "Node executions partitioned by outcome.",
		}, []string{"node_id", "status"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "maya",
			Name:      "node_duration_seconds",
			Help:      "Wall-clock node execution time.",
			Buckets:   []float64{.05, .25, 1, 5, 15, 60, 180, 600},
		}, []string{"node_id"}),
		nodesInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "maya",
			Name:      "nodes_inflight",
			Help:      "Nodes currently executing.",
		}),
		stagesExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "maya",
			Name:      "stages_executed_total",
			Help:      "Pipeline stages executed.",
		}),
		revisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "maya",
			Name:      "gate_revisions_total",
			Help:      "Revision loops triggered by gate rejections.",
		}, []string{"gate_id"}),
		checkpointSaves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "maya",
			Name:      "checkpoint_saves_total",
			Help:      "Checkpoints written to the store.",
		}),
		pausedThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "maya",
			Name:      "paused_threads",
			Help:      "Threads waiting on a gate decision.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "maya",
			Name:      "runs_finished_total",
			Help:      "Runs finished partitioned by final status.",
		}, []string{"status"}),
	}
	reg.MustRegister(
		m.nodeExecutions, m.nodeDuration, m.nodesInflight, m.stagesExecuted,
		m.revisions, m.checkpointSaves, m.pausedThreads, m.runsCompleted,
	)
	return m
}

func (m *Metrics) observeNode(nodeID string, d time.Duration, success bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !success {
		status = "error"
	}
	m.nodeExecutions.WithLabelValues(nodeID, status).Inc()
	m.nodeDuration.WithLabelValues(nodeID).Observe(d.Seconds())
}

func (m *Metrics) nodeStarted() {
	if m != nil {
		m.nodesInflight.Inc()
	}
}

func (m *Metrics) nodeFinished() {
	if m != nil {
		m.nodesInflight.Dec()
	}
}

func (m *Metrics) stageExecuted() {
	if m != nil {
		m.stagesExecuted.Inc()
	}
}

func (m *Metrics) revisionLooped(gateID string) {
	if m != nil {
		m.revisions.WithLabelValues(gateID).Inc()
	}
}

func (m *Metrics) checkpointSaved() {
	if m != nil {
		m.checkpointSaves.Inc()
	}
}

func (m *Metrics) threadPaused() {
	if m != nil {
		m.pausedThreads.Inc()
	}
}

func (m *Metrics) threadResumed() {
	if m != nil {
		m.pausedThreads.Dec()
	}
}

func (m *Metrics) runFinished(status RunStatus) {
	if m != nil {
		m.runsCompleted.WithLabelValues(string(status)).Inc()
	}
}
