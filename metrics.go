package identity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the identity counters. A nil *Metrics records nothing.
type Metrics struct {
	registrations *prometheus.CounterVec
	logins        *prometheus.CounterVec
	lockouts      prometheus.Counter
	approvals     *prometheus.CounterVec
	relationships *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// NewMetrics registers the counters on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_registrations_total",
			Help: "Account registrations by role and outcome",
		}, []string{"role", "outcome"}),
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_logins_total",
			Help: "Login attempts by outcome",
		}, []string{"outcome"}),
		lockouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "identity_lockouts_total",
			Help: "Accounts locked after repeated failed logins",
		}),
		approvals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_approval_changes_total",
			Help: "Approval flag changes by resulting value",
		}, []string{"approved"}),
		relationships: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_relationship_events_total",
			Help: "Relationship graph mutations by action",
		}, []string{"action"}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_notifications_total",
			Help: "Notification deliveries by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) registration(role Role, outcome string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(string(role), outcome).Inc()
}

func (m *Metrics) login(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) lockout() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}

func (m *Metrics) approval(approved bool) {
	if m == nil {
		return
	}
	label := "false"
	if approved {
		label = "true"
	}
	m.approvals.WithLabelValues(label).Inc()
}

func (m *Metrics) relationship(action string) {
	if m == nil {
		return
	}
	m.relationships.WithLabelValues(action).Inc()
}

func (m *Metrics) notification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}
