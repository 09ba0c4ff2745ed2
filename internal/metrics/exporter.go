package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/relaywatch/relaywatch-backend/internal/model"
)

var (
	exporterPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaywatch",
		Subsystem: "exporter",
		Name:      "published_total",
		Help:      "Count of metric events accepted by the exporter, by kind.",
	}, []string{"kind"})

	exporterDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relaywatch",
		Subsystem: "exporter",
		Name:      "dropped_total",
		Help:      "Count of metric events dropped under backpressure.",
	})
)

// Exporter tracks sink throughput.
type Exporter struct{}

// NewExporter constructs a metrics collector for sinks.
func NewExporter() *Exporter {
	return &Exporter{}
}

func (m Exporter) ObservePublished(kind model.MetricKind) {
	exporterPublishedTotal.WithLabelValues(kind.String()).Inc()
}

func (m Exporter) ObserveDropped(n int) {
	exporterDroppedTotal.Add(float64(n))
}
