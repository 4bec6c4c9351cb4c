package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ringkv/internal/address"
	"ringkv/internal/eventlog"
)

// Metrics holds every collector of a process. All nodes of a simulated
// cluster share one Metrics and are told apart by the node label.
type Metrics struct {
	registry *prometheus.Registry

	operations       *prometheus.CounterVec
	membershipEvents *prometheus.CounterVec
	members          *prometheus.GaugeVec
	ringSize         *prometheus.GaugeVec
	openTransactions *prometheus.GaugeVec
	storedKeys       *prometheus.GaugeVec
	stabilizations   *prometheus.CounterVec
	messages         *prometheus.CounterVec
	protocolErrors   *prometheus.CounterVec
}

// New creates a Metrics registered on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ringkv_operations_total",
			Help: "Completed key-value operations by side and outcome",
		}, []string{"node", "op", "side", "outcome"}),
		membershipEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ringkv_membership_events_total",
			Help: "Members added to or removed from a node's view",
		}, []string{"node", "event"}),
		members: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ringkv_members",
			Help: "Entries in the node's member table",
		}, []string{"node"}),
		ringSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ringkv_ring_size",
			Help: "Nodes on the node's current ring",
		}, []string{"node"}),
		openTransactions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ringkv_open_transactions",
			Help: "Transactions waiting for quorum",
		}, []string{"node"}),
		storedKeys: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ringkv_stored_keys",
			Help: "Keys held in the node's local table",
		}, []string{"node"}),
		stabilizations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ringkv_stabilizations_total",
			Help: "Stabilization passes run after a ring change",
		}, []string{"node"}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ringkv_messages_total",
			Help: "Messages handed to the transport, by result",
		}, []string{"result"}),
		protocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ringkv_protocol_errors_total",
			Help: "Inbound messages dropped because they could not be decoded",
		}, []string{"node"}),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NodeAdd implements eventlog.Logger.
func (m *Metrics) NodeAdd(observer, _ address.Address) {
	m.membershipEvents.WithLabelValues(observer.String(), "add").Inc()
}

// NodeRemove implements eventlog.Logger.
func (m *Metrics) NodeRemove(observer, _ address.Address) {
	m.membershipEvents.WithLabelValues(observer.String(), "remove").Inc()
}

// Operation implements eventlog.Logger.
func (m *Metrics) Operation(ev eventlog.OpEvent) {
	side := "replica"
	if ev.Coordinator {
		side = "coordinator"
	}
	outcome := "success"
	if !ev.Success {
		outcome = "fail"
	}
	m.operations.WithLabelValues(ev.Node.String(), ev.Op.String(), side, outcome).Inc()
}

// NodeStats is the per-tick snapshot a node reports.
type NodeStats struct {
	Members          int
	RingSize         int
	OpenTransactions int
	StoredKeys       int
}

// ObserveNode records a node's per-tick state.
func (m *Metrics) ObserveNode(node address.Address, s NodeStats) {
	label := node.String()
	m.members.WithLabelValues(label).Set(float64(s.Members))
	m.ringSize.WithLabelValues(label).Set(float64(s.RingSize))
	m.openTransactions.WithLabelValues(label).Set(float64(s.OpenTransactions))
	m.storedKeys.WithLabelValues(label).Set(float64(s.StoredKeys))
}

// Stabilized counts one stabilization pass.
func (m *Metrics) Stabilized(node address.Address) {
	m.stabilizations.WithLabelValues(node.String()).Inc()
}

// ProtocolError counts one undecodable inbound message.
func (m *Metrics) ProtocolError(node address.Address) {
	m.protocolErrors.WithLabelValues(node.String()).Inc()
}

// MessageSent counts a message accepted by the transport.
func (m *Metrics) MessageSent() {
	m.messages.WithLabelValues("sent").Inc()
}

// MessageDropped counts a message lost by the transport.
func (m *Metrics) MessageDropped() {
	m.messages.WithLabelValues("dropped").Inc()
}

var _ eventlog.Logger = (*Metrics)(nil)
