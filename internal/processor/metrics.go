package processor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for task and phase activity.
type Metrics struct {
	taskDuration *prometheus.HistogramVec
	tasksTotal   *prometheus.CounterVec
	phasesActive prometheus.Gauge
}

// MustNewMetrics registers the collectors with reg, reusing collectors that
// are already registered. Any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	taskDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "autopilot",
			Subsystem: "processor",
			Name:      "task_duration_seconds",
			Help:      "Time spent executing one task.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"type", "status"},
	)
	tasksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autopilot",
			Subsystem: "processor",
			Name:      "tasks_total",
			Help:      "Tasks executed, by type and outcome status.",
		},
		[]string{"type", "status"},
	)
	phasesActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "autopilot",
			Subsystem: "processor",
			Name:      "phases_active",
			Help:      "Phases currently being processed.",
		},
	)

	collectors := []prometheus.Collector{taskDuration, tasksTotal, phasesActive}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			already, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				panic(err)
			}
			switch collector {
			case taskDuration:
				taskDuration = already.ExistingCollector.(*prometheus.HistogramVec)
			case tasksTotal:
				tasksTotal = already.ExistingCollector.(*prometheus.CounterVec)
			case phasesActive:
				phasesActive = already.ExistingCollector.(prometheus.Gauge)
			}
		}
	}

	return &Metrics{taskDuration: taskDuration, tasksTotal: tasksTotal, phasesActive: phasesActive}
}

// ObserveTask records one finished task.
func (m *Metrics) ObserveTask(taskType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.taskDuration.WithLabelValues(taskType, status).Observe(d.Seconds())
	m.tasksTotal.WithLabelValues(taskType, status).Inc()
}

func (m *Metrics) incPhases() {
	if m == nil {
		return
	}
	m.phasesActive.Inc()
}

func (m *Metrics) decPhases() {
	if m == nil {
		return
	}
	m.phasesActive.Dec()
}
