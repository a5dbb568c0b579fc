// internal/metrics/metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tamzrod/qmb-monitor/internal/fault"
	"github.com/tamzrod/qmb-monitor/internal/poller"
	"github.com/tamzrod/qmb-monitor/internal/sink"
	"github.com/tamzrod/qmb-monitor/internal/status"
)

var allStates = []status.State{
	status.Idle, status.Scanning, status.Probing,
	status.Connected, status.Degraded, status.Reconnecting,
}

// Metrics owns a private registry so several engines (and tests) never
// collide on the global one.
type Metrics struct {
	reg *prometheus.Registry

	state       *prometheus.GaugeVec
	failures    prometheus.Gauge
	transitions prometheus.Counter
	polls       *prometheus.CounterVec
	exceptions  prometheus.Counter
	writes      *prometheus.CounterVec
	values      *prometheus.GaugeVec
	samples     *prometheus.GaugeVec
	usage       *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),

		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "qmb_session_state",
			Help: "1 for the current session state, 0 otherwise.",
		}, []string{"state"}),
		failures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qmb_consecutive_failures",
			Help: "Consecutive failed polls of the bound session.",
		}),
		transitions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qmb_state_transitions_total",
			Help: "Session state transitions.",
		}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qmb_polls_total",
			Help: "Poll cycles by result.",
		}, []string{"result"}),
		exceptions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qmb_register_exceptions_total",
			Help: "Registers answered with a device exception during polls.",
		}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qmb_writes_total",
			Help: "Write requests by result.",
		}, []string{"result"}),
		values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "qmb_register_value",
			Help: "Last scaled value of each numeric display register.",
		}, []string{"register"}),
		samples: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "qmb_sample_value",
			Help: "Last sample per channel.",
		}, []string{"channel"}),
		usage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "qmb_crystal_usage_percent",
			Help: "Estimated crystal wear per channel.",
		}, []string{"channel"}),
	}

	m.reg.MustRegister(
		m.state, m.failures, m.transitions, m.polls, m.exceptions,
		m.writes, m.values, m.samples, m.usage,
	)

	for _, s := range allStates {
		m.state.WithLabelValues(s.String()).Set(0)
	}
	return m
}

// Registry exposes the registry for scraping or tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveStatus records one state transition.
func (m *Metrics) ObserveStatus(s status.Snapshot) {
	for _, st := range allStates {
		v := 0.0
		if st == s.State {
			v = 1
		}
		m.state.WithLabelValues(st.String()).Set(v)
	}
	m.failures.Set(float64(s.Failures))
	m.transitions.Inc()
}

// ObservePoll records one poll cycle.
func (m *Metrics) ObservePoll(res poller.Result) {
	if res.Err != nil {
		m.polls.WithLabelValues("fail").Inc()
		return
	}
	m.polls.WithLabelValues("ok").Inc()
	m.exceptions.Add(float64(len(res.Exceptions)))

	for name, v := range res.Values {
		if v.Numeric {
			m.values.WithLabelValues(name).Set(v.Number)
		}
	}
	for _, s := range res.Samples {
		m.samples.WithLabelValues(string(s.Channel)).Set(s.Value)
	}
	for _, ch := range []sink.Channel{sink.CH1, sink.CH2} {
		m.usage.WithLabelValues(string(ch)).Set(poller.CrystalUsage(res, string(ch)))
	}
}

// ObserveWrite records one write result.
func (m *Metrics) ObserveWrite(err error) {
	switch {
	case err == nil:
		m.writes.WithLabelValues("ok").Inc()
	case fault.IsValidation(err, 0):
		m.writes.WithLabelValues("rejected").Inc()
	default:
		m.writes.WithLabelValues("failed").Inc()
	}
}
