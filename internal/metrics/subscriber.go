// Package metrics holds the prometheus families and typed observers used
// across the pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/relaywatch/relaywatch-backend/internal/model"
)

var (
	rpcOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaywatch",
		Subsystem: "rpc_client",
		Name:      "operations_total",
		Help:      "Count of node RPC operations.",
	}, []string{"operation", "node", "status"})

	rpcOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relaywatch",
		Subsystem: "rpc_client",
		Name:      "operation_duration_seconds",
		Help:      "Duration of node RPC operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "node", "status"})

	subscriberConnectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relaywatch",
		Subsystem: "subscriber",
		Name:      "connection_status",
		Help:      "Connection state per node (0 connecting, 1 subscribed, 2 disconnected).",
	}, []string{"node"})

	subscriberHeadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaywatch",
		Subsystem: "subscriber",
		Name:      "heads_total",
		Help:      "Count of head notifications received.",
	}, []string{"node", "finality"})

	subscriberDecodeFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaywatch",
		Subsystem: "subscriber",
		Name:      "decode_failures_total",
		Help:      "Count of blocks skipped because their records did not decode.",
	}, []string{"node"})
)

// RPCClient tracks metrics for RPC calls against one node.
type RPCClient struct {
	node string
}

// NewRPCClient constructs a metrics collector for RPC calls.
func NewRPCClient(node string) *RPCClient {
	if node == "" {
		node = "unknown"
	}
	return &RPCClient{node: node}
}

// Observe records a single RPC call outcome and duration.
func (m RPCClient) Observe(operation string, err error, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	rpcOperationsTotal.WithLabelValues(operation, m.node, status).Inc()
	rpcOperationDuration.WithLabelValues(operation, m.node, status).Observe(time.Since(started).Seconds())
}

// Subscriber tracks subscription-level metrics.
type Subscriber struct{}

// NewSubscriber constructs a metrics collector for subscribers.
func NewSubscriber() *Subscriber {
	return &Subscriber{}
}

func (m Subscriber) SetConnectionStatus(node string, status model.SubscriptionStatus) {
	subscriberConnectionStatus.WithLabelValues(node).Set(float64(status))
}

func (m Subscriber) ObserveHead(node string, finalized bool) {
	finality := "best"
	if finalized {
		finality = "finalized"
	}
	subscriberHeadsTotal.WithLabelValues(node, finality).Inc()
}

func (m Subscriber) ObserveDecodeFailure(node string) {
	subscriberDecodeFailuresTotal.WithLabelValues(node).Inc()
}
