// Package metrics holds the session core's Prometheus instrumentation.
//
// All components accept a *Metrics which may be nil; the increment helpers
// are nil-safe so instrumentation never becomes a wiring requirement.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the counters the core components report into.
type Metrics struct {
	RefreshAttempts       prometheus.Counter
	RefreshFailures       prometheus.Counter
	GatewayRetries        prometheus.Counter
	ChannelReconnects     prometheus.Counter
	NotificationsReceived prometheus.Counter
}

// New creates the metric set and registers it with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RefreshAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "identitykit",
			Name:      "refresh_attempts_total",
			Help:      "Refresh-token exchanges started.",
		}),
		RefreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "identitykit",
			Name:      "refresh_failures_total",
			Help:      "Refresh-token exchanges that ended the session.",
		}),
		GatewayRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "identitykit",
			Name:      "gateway_retries_total",
			Help:      "Requests reissued after a 401 and refresh.",
		}),
		ChannelReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "identitykit",
			Name:      "channel_reconnects_total",
			Help:      "Notification channel reconnect attempts.",
		}),
		NotificationsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "identitykit",
			Name:      "notifications_received_total",
			Help:      "Push events received over the notification channel.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.RefreshAttempts,
			m.RefreshFailures,
			m.GatewayRetries,
			m.ChannelReconnects,
			m.NotificationsReceived,
		)
	}
	return m
}

// IncRefreshAttempts increments the refresh attempt counter.
func (m *Metrics) IncRefreshAttempts() {
	if m != nil {
		m.RefreshAttempts.Inc()
	}
}

// IncRefreshFailures increments the terminal refresh failure counter.
func (m *Metrics) IncRefreshFailures() {
	if m != nil {
		m.RefreshFailures.Inc()
	}
}

// IncGatewayRetries increments the post-refresh retry counter.
func (m *Metrics) IncGatewayRetries() {
	if m != nil {
		m.GatewayRetries.Inc()
	}
}

// IncChannelReconnects increments the reconnect counter.
func (m *Metrics) IncChannelReconnects() {
	if m != nil {
		m.ChannelReconnects.Inc()
	}
}

// IncNotificationsReceived increments the push event counter.
func (m *Metrics) IncNotificationsReceived() {
	if m != nil {
		m.NotificationsReceived.Inc()
	}
}
