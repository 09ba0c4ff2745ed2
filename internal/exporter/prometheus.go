package exporter

import (
	"github.com/relaywatch/relaywatch-backend/internal/model"
)

// DomainMetrics is the prometheus-facing surface for derived events.
type DomainMetrics interface {
	ObserveBacked(para model.ParaID)
	ObserveIncluded(para model.ParaID, latencyBlocks uint64)
	ObserveFinality(para model.ParaID, latencyBlocks uint64)
	ObserveTimedOut(para model.ParaID)
	ObserveDisputed(para model.ParaID, outcome model.DisputeOutcome, latencyBlocks uint64)
	ObserveSkippedSlot(para model.ParaID)
	ObserveSlowAvailability(para model.ParaID)
	ObserveLowBitfields(para model.ParaID)
	ObserveBlockTime(seconds float64)
}

// PrometheusSink translates metric events into prometheus families.
type PrometheusSink struct {
	metrics DomainMetrics
}

func NewPrometheusSink(metrics DomainMetrics) *PrometheusSink {
	return &PrometheusSink{metrics: metrics}
}

func (s *PrometheusSink) Publish(ev model.MetricEvent) {
	switch ev.Kind {
	case model.MetricBacked:
		s.metrics.ObserveBacked(ev.ParaID)
	case model.MetricIncluded:
		s.metrics.ObserveIncluded(ev.ParaID, ev.LatencyBlocks)
	case model.MetricFinality:
		s.metrics.ObserveFinality(ev.ParaID, ev.LatencyBlocks)
	case model.MetricTimedOut:
		s.metrics.ObserveTimedOut(ev.ParaID)
	case model.MetricDisputed:
		s.metrics.ObserveDisputed(ev.ParaID, ev.Outcome, ev.LatencyBlocks)
	case model.MetricSkippedSlot:
		s.metrics.ObserveSkippedSlot(ev.ParaID)
	case model.MetricSlowAvailability:
		s.metrics.ObserveSlowAvailability(ev.ParaID)
	case model.MetricLowBitfields:
		s.metrics.ObserveLowBitfields(ev.ParaID)
	case model.MetricBlockTime:
		s.metrics.ObserveBlockTime(ev.Seconds)
	}
}
