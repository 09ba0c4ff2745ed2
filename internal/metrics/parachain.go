package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/relaywatch/relaywatch-backend/internal/model"
)

// latencyBuckets cover candidate progress in relay blocks: most candidates
// finalize within a handful of blocks.
var latencyBuckets = []float64{1, 2, 3, 4, 5, 8, 12, 20, 32, 64}

var (
	parachainBackedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaywatch",
		Subsystem: "parachain",
		Name:      "backed_total",
		Help:      "Count of candidates backed.",
	}, []string{"para_id"})

	parachainIncludedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaywatch",
		Subsystem: "parachain",
		Name:      "included_total",
		Help:      "Count of candidates included.",
	}, []string{"para_id"})

	parachainInclusionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relaywatch",
		Subsystem: "parachain",
		Name:      "inclusion_latency_blocks",
		Help:      "Relay blocks between backing and inclusion.",
		Buckets:   latencyBuckets,
	}, []string{"para_id"})

	parachainFinalityLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relaywatch",
		Subsystem: "parachain",
		Name:      "finality_latency_blocks",
		Help:      "Relay blocks between backing and finalization.",
		Buckets:   latencyBuckets,
	}, []string{"para_id"})

	parachainTimedOutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaywatch",
		Subsystem: "parachain",
		Name:      "timed_out_total",
		Help:      "Count of candidates that timed out before inclusion.",
	}, []string{"para_id"})

	parachainDisputedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaywatch",
		Subsystem: "parachain",
		Name:      "disputed_total",
		Help:      "Count of disputed candidates, by outcome.",
	}, []string{"para_id", "outcome"})

	parachainSkippedSlotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaywatch",
		Subsystem: "parachain",
		Name:      "skipped_slots_total",
		Help:      "Finalized heights with no included candidate.",
	}, []string{"para_id"})

	parachainSlowAvailabilityTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaywatch",
		Subsystem: "parachain",
		Name:      "slow_availability_total",
		Help:      "Candidates included with under two-thirds availability bits.",
	}, []string{"para_id"})

	parachainLowBitfieldsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaywatch",
		Subsystem: "parachain",
		Name:      "low_bitfields_total",
		Help:      "Backed candidates with low bitfield propagation.",
	}, []string{"para_id"})

	relayBlockTimeSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "relaywatch",
		Subsystem: "relay",
		Name:      "block_time_seconds",
		Help:      "Wall time between consecutive relay chain heads.",
		Buckets:   []float64{2, 4, 6, 8, 10, 12, 15, 20, 30, 60},
	})
)

// Parachain tracks the per-parachain progress metric families.
type Parachain struct{}

// NewParachain constructs the domain metrics collector.
func NewParachain() *Parachain {
	return &Parachain{}
}

func paraLabel(para model.ParaID) string {
	return strconv.FormatUint(uint64(para), 10)
}

func (m Parachain) ObserveBacked(para model.ParaID) {
	parachainBackedTotal.WithLabelValues(paraLabel(para)).Inc()
}

func (m Parachain) ObserveIncluded(para model.ParaID, latencyBlocks uint64) {
	parachainIncludedTotal.WithLabelValues(paraLabel(para)).Inc()
	parachainInclusionLatency.WithLabelValues(paraLabel(para)).Observe(float64(latencyBlocks))
}

func (m Parachain) ObserveFinality(para model.ParaID, latencyBlocks uint64) {
	parachainFinalityLatency.WithLabelValues(paraLabel(para)).Observe(float64(latencyBlocks))
}

func (m Parachain) ObserveTimedOut(para model.ParaID) {
	parachainTimedOutTotal.WithLabelValues(paraLabel(para)).Inc()
}

func (m Parachain) ObserveDisputed(para model.ParaID, outcome model.DisputeOutcome, _ uint64) {
	parachainDisputedTotal.WithLabelValues(paraLabel(para), outcome.String()).Inc()
}

func (m Parachain) ObserveSkippedSlot(para model.ParaID) {
	parachainSkippedSlotsTotal.WithLabelValues(paraLabel(para)).Inc()
}

func (m Parachain) ObserveSlowAvailability(para model.ParaID) {
	parachainSlowAvailabilityTotal.WithLabelValues(paraLabel(para)).Inc()
}

func (m Parachain) ObserveLowBitfields(para model.ParaID) {
	parachainLowBitfieldsTotal.WithLabelValues(paraLabel(para)).Inc()
}

func (m Parachain) ObserveBlockTime(seconds float64) {
	relayBlockTimeSeconds.Observe(seconds)
}
