package mining

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for scheduler activity. A nil *Metrics
// records nothing.
type Metrics struct {
	tasksActive   prometheus.Gauge
	tasksStarted  prometheus.Counter
	tasksFinished *prometheus.CounterVec
	instantBreaks prometheus.Counter
	broadcasts    *prometheus.CounterVec
	portFailures  *prometheus.CounterVec
	sweepDuration prometheus.Histogram
}

// MustNewMetrics registers the scheduler collectors with reg and panics on a
// registration conflict other than an identical collector already present.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		tasksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "digtick",
			Subsystem: "mining",
			Name:      "tasks_registered",
			Help:      "Mining tasks currently held by the scheduler.",
		}),
		tasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "digtick",
			Subsystem: "mining",
			Name:      "tasks_started_total",
			Help:      "Mining tasks created.",
		}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "digtick",
			Subsystem: "mining",
			Name:      "tasks_finished_total",
			Help:      "Mining tasks removed from the registry, by outcome.",
		}, []string{"outcome"}),
		instantBreaks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "digtick",
			Subsystem: "mining",
			Name:      "instant_breaks_total",
			Help:      "Targets committed without a task.",
		}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "digtick",
			Subsystem: "mining",
			Name:      "broadcasts_total",
			Help:      "Block damage broadcasts sent, by kind.",
		}, []string{"kind"}),
		portFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "digtick",
			Subsystem: "mining",
			Name:      "port_failures_total",
			Help:      "World port calls that returned an error, by operation.",
		}, []string{"op"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "digtick",
			Subsystem: "mining",
			Name:      "sweep_duration_seconds",
			Help:      "Time spent advancing every task once.",
			Buckets:   []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
	}

	register := func(c prometheus.Collector) prometheus.Collector {
		if err := reg.Register(c); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return already.ExistingCollector
			}
			panic(err)
		}
		return c
	}
	m.tasksActive = register(m.tasksActive).(prometheus.Gauge)
	m.tasksStarted = register(m.tasksStarted).(prometheus.Counter)
	m.tasksFinished = register(m.tasksFinished).(*prometheus.CounterVec)
	m.instantBreaks = register(m.instantBreaks).(prometheus.Counter)
	m.broadcasts = register(m.broadcasts).(*prometheus.CounterVec)
	m.portFailures = register(m.portFailures).(*prometheus.CounterVec)
	m.sweepDuration = register(m.sweepDuration).(prometheus.Histogram)
	return m
}

func (m *Metrics) setRegistered(n int) {
	if m == nil {
		return
	}
	m.tasksActive.Set(float64(n))
}

func (m *Metrics) incStarted() {
	if m == nil {
		return
	}
	m.tasksStarted.Inc()
}

func (m *Metrics) incFinished(outcome string) {
	if m == nil {
		return
	}
	m.tasksFinished.WithLabelValues(outcome).Inc()
}

func (m *Metrics) incInstant() {
	if m == nil {
		return
	}
	m.instantBreaks.Inc()
}

func (m *Metrics) incBroadcast(kind string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(kind).Inc()
}

func (m *Metrics) incPortFailure(op string) {
	if m == nil {
		return
	}
	m.portFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) observeSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
}
