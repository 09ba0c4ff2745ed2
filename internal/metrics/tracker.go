package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/relaywatch/relaywatch-backend/internal/model"
)

var (
	trackerEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaywatch",
		Subsystem: "tracker",
		Name:      "events_total",
		Help:      "Count of progress events consumed, by kind.",
	}, []string{"kind"})

	trackerIgnoredTransitionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relaywatch",
		Subsystem: "tracker",
		Name:      "ignored_transitions_total",
		Help:      "Count of duplicate or illegal status transitions discarded.",
	})

	trackerBufferedEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relaywatch",
		Subsystem: "tracker",
		Name:      "buffered_events",
		Help:      "Events currently waiting for their parent block.",
	})

	trackerForksPrunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relaywatch",
		Subsystem: "tracker",
		Name:      "forks_pruned_total",
		Help:      "Count of candidates discarded from non-canonical forks.",
	})
)

// Tracker tracks state machine metrics.
type Tracker struct{}

// NewTracker constructs a metrics collector for the tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

func (m Tracker) ObserveEvent(kind model.EventKind) {
	trackerEventsTotal.WithLabelValues(kind.String()).Inc()
}

func (m Tracker) ObserveIgnoredTransition() {
	trackerIgnoredTransitionsTotal.Inc()
}

func (m Tracker) SetBufferedEvents(n int) {
	trackerBufferedEvents.Set(float64(n))
}

func (m Tracker) ObserveForkPruned(count int) {
	trackerForksPrunedTotal.Add(float64(count))
}
