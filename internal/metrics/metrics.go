// internal/metrics/metrics.go
package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fawad-mazhar/genoflow/internal/models"
)

const Namespace = "genoflow"

// Metrics holds the controller's counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	submissions  *prometheus.CounterVec
	submitErrors *prometheus.CounterVec
	attempts     *prometheus.CounterVec
	pollUnknown  prometheus.Counter
	inFlight     prometheus.Gauge
}

// New creates the controller metrics and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "drm",
			Name:      "submissions_total",
			Help:      "Jobs accepted by the resource manager.",
		}, []string{"rule"}),
		submitErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "drm",
			Name:      "submission_errors_total",
			Help:      "Submissions rejected by the resource manager.",
		}, []string{"rule"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "controller",
			Name:      "attempts_finished_total",
			Help:      "Attempts that reached a terminal status.",
		}, []string{"rule", "status"}),
		pollUnknown: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "drm",
			Name:      "poll_unknown_total",
			Help:      "Polls that exhausted their retry budget.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "controller",
			Name:      "attempts_in_flight",
			Help:      "Attempts currently handed to the resource manager.",
		}),
	}
	reg.MustRegister(m.submissions, m.submitErrors, m.attempts, m.pollUnknown, m.inFlight)
	return m
}

func (m *Metrics) Submitted(rule string) {
	if m != nil {
		m.submissions.WithLabelValues(rule).Inc()
	}
}

func (m *Metrics) SubmitFailed(rule string) {
	if m != nil {
		m.submitErrors.WithLabelValues(rule).Inc()
	}
}

func (m *Metrics) AttemptFinished(rule string, status models.AttemptStatus) {
	if m != nil {
		m.attempts.WithLabelValues(rule, string(status)).Inc()
	}
}

func (m *Metrics) PollUnknown() {
	if m != nil {
		m.pollUnknown.Inc()
	}
}

func (m *Metrics) SetInFlight(n int) {
	if m != nil {
		m.inFlight.Set(float64(n))
	}
}

// StateCollector reports task counts by state at scrape time
type StateCollector struct {
	tasks  *prometheus.Desc
	counts func() map[models.TaskState]int
}

func NewStateCollector(counts func() map[models.TaskState]int) *StateCollector {
	return &StateCollector{
		tasks: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "workflow", "tasks"),
			"Tasks of the running workflow by state.",
			[]string{"state"},
			nil,
		),
		counts: counts,
	}
}

func (c *StateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.tasks
}

func (c *StateCollector) Collect(ch chan<- prometheus.Metric) {
	counts := c.counts()
	states := make([]string, 0, len(counts))
	for s := range counts {
		states = append(states, string(s))
	}
	sort.Strings(states)
	for _, s := range states {
		ch <- prometheus.MustNewConstMetric(c.tasks, prometheus.GaugeValue, float64(counts[models.TaskState(s)]), s)
	}
}
