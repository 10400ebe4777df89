// Package metrics exposes Prometheus collectors for the monitor controller.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "eventwatch"

// Metrics groups the controller's collectors.
type Metrics struct {
	activeSubscriptions prometheus.Gauge
	probeFailures       *prometheus.CounterVec
	resubscriptions     *prometheus.CounterVec
	subscribeErrors     prometheus.Counter
	eventsReceived      prometheus.Counter
	watchState          *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		activeSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_subscriptions",
			Help:      "Number of registered event-log subscriptions.",
		}),
		probeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_failures_total",
			Help:      "Reachability probes that reported a host down.",
		}, []string{"host"}),
		resubscriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resubscriptions_total",
			Help:      "Subscriptions re-established after a host recovered.",
		}, []string{"host"}),
		subscribeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscribe_errors_total",
			Help:      "Subscription attempts rejected by the event source.",
		}),
		eventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Matching events delivered to callbacks.",
		}),
		watchState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watch_state",
			Help:      "Current reachability watch state per host (0 active, 1 unreachable, 2 grace, 3 done).",
		}, []string{"host"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.activeSubscriptions,
			m.probeFailures,
			m.resubscriptions,
			m.subscribeErrors,
			m.eventsReceived,
			m.watchState,
		)
	}
	return m
}

func (m *Metrics) SetActiveSubscriptions(n int) {
	if m == nil {
		return
	}
	m.activeSubscriptions.Set(float64(n))
}

func (m *Metrics) IncProbeFailure(host string) {
	if m == nil {
		return
	}
	m.probeFailures.WithLabelValues(host).Inc()
}

func (m *Metrics) IncResubscription(host string) {
	if m == nil {
		return
	}
	m.resubscriptions.WithLabelValues(host).Inc()
}

func (m *Metrics) IncSubscribeError() {
	if m == nil {
		return
	}
	m.subscribeErrors.Inc()
}

func (m *Metrics) IncEventsReceived() {
	if m == nil {
		return
	}
	m.eventsReceived.Inc()
}

func (m *Metrics) SetWatchState(host string, state int) {
	if m == nil {
		return
	}
	m.watchState.WithLabelValues(host).Set(float64(state))
}

// ForgetHost drops per-host series once a host is no longer watched.
func (m *Metrics) ForgetHost(host string) {
	if m == nil {
		return
	}
	m.watchState.DeleteLabelValues(host)
}
