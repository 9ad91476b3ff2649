// Package metrics holds the Prometheus collectors shared by the socket server
// and the orchestrator. A nil *Metrics records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Command outcomes.
const (
	OutcomeOK             = "ok"
	OutcomeUnknownCommand = "unknown_command"
	OutcomeFailure        = "handler_failure"
	OutcomeTimeout        = "timeout"
)

type Metrics struct {
	connections      *prometheus.GaugeVec
	connectionsTotal *prometheus.CounterVec
	emitted          *prometheus.CounterVec
	commands         *prometheus.CounterVec
	commandDuration  prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "robotsock_connections",
			Help: "Currently connected sockets per namespace",
		}, []string{"namespace"}),
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "robotsock_connections_total",
			Help: "Total socket connections per namespace",
		}, []string{"namespace"}),
		emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "robotsock_messages_emitted_total",
			Help: "Messages emitted per namespace",
		}, []string{"namespace"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "robotsock_commands_total",
			Help: "Device command invocations by outcome",
		}, []string{"outcome"}),
		commandDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "robotsock_command_duration_seconds",
			Help:    "Device command handler latency",
			Buckets: prometheus.DefBuckets,
		}),
	}

	for _, c := range []prometheus.Collector{m.connections, m.connectionsTotal, m.emitted, m.commands, m.commandDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Connected(namespace string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(namespace).Inc()
	m.connectionsTotal.WithLabelValues(namespace).Inc()
}

func (m *Metrics) Disconnected(namespace string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(namespace).Dec()
}

func (m *Metrics) Emitted(namespace string) {
	if m == nil {
		return
	}
	m.emitted.WithLabelValues(namespace).Inc()
}

// Command records one dispatch. elapsed is ignored for unknown commands.
func (m *Metrics) Command(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(outcome).Inc()
	if outcome != OutcomeUnknownCommand {
		m.commandDuration.Observe(elapsed.Seconds())
	}
}
