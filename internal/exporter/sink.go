// Package exporter delivers derived metric events to external consumers.
package exporter

import (
	"github.com/relaywatch/relaywatch-backend/internal/model"
)

// Sink consumes derived metric events. Publish must not block the caller
// indefinitely; slow destinations sit behind Buffered.
type Sink interface {
	Publish(ev model.MetricEvent)
}

// Metrics records exporter throughput.
type Metrics interface {
	ObservePublished(kind model.MetricKind)
	ObserveDropped(n int)
}

// Multi fans one event out to several sinks.
type Multi []Sink

func (m Multi) Publish(ev model.MetricEvent) {
	for _, s := range m {
		s.Publish(ev)
	}
}
