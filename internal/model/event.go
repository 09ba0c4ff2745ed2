package model

// EventKind tags a ProgressEvent.
type EventKind uint8

const (
	EventNewCandidate EventKind = iota
	EventStatusChange
	EventFinalized
	EventDisconnected
	EventReorg
)

// String returns the kind name used in logs and metric labels.
func (k EventKind) String() string {
	switch k {
	case EventNewCandidate:
		return "new_candidate"
	case EventStatusChange:
		return "status_change"
	case EventFinalized:
		return "finalized"
	case EventDisconnected:
		return "disconnected"
	case EventReorg:
		return "reorg"
	default:
		return "unknown"
	}
}

// ProgressEvent is the unit passed from subscribers to the tracker.
// Which fields are set depends on Kind:
//   - EventNewCandidate / EventStatusChange: Relay (the relay parent) and Candidate
//   - EventFinalized: Relay (the finalized block)
//   - EventDisconnected: NodeURL
//   - EventReorg: Pruned
type ProgressEvent struct {
	Kind      EventKind
	Relay     BlockRef
	Candidate *CandidateRecord
	Pruned    []BlockRef
	NodeURL   string
}

// Priority lanes for ProgressEvents, ordered highest first. These are the
// lane indices of the pipeline's priority channel.
const (
	PriorityControl = iota
	PriorityFinalization
	PriorityUpdate
	PriorityTelemetry
	PriorityLanes // lane count, not a priority
)

// PersistedCheckpoint is the resumable per-parachain snapshot written at
// each finalization boundary.
type PersistedCheckpoint struct {
	ParaID              ParaID
	LastFinalizedHeight uint64
	Open                []CandidateRecord
}

// MetricKind tags a derived MetricEvent delivered to sinks.
type MetricKind uint8

const (
	MetricBacked MetricKind = iota
	MetricIncluded
	MetricTimedOut
	MetricDisputed
	MetricFinality
	MetricSkippedSlot
	MetricSlowAvailability
	MetricLowBitfields
	MetricBlockTime
)

// String returns the kind name used in logs and trace payloads.
func (k MetricKind) String() string {
	switch k {
	case MetricBacked:
		return "backed"
	case MetricIncluded:
		return "included"
	case MetricTimedOut:
		return "timed_out"
	case MetricDisputed:
		return "disputed"
	case MetricFinality:
		return "finality"
	case MetricSkippedSlot:
		return "skipped_slot"
	case MetricSlowAvailability:
		return "slow_availability"
	case MetricLowBitfields:
		return "low_bitfields"
	case MetricBlockTime:
		return "block_time"
	default:
		return "unknown"
	}
}

// MetricEvent is what the tracker derives for external visibility. All
// latencies are expressed in relay chain blocks, not wall time.
type MetricEvent struct {
	Kind          MetricKind
	ParaID        ParaID
	CandidateHash Hash
	RelayHeight   uint64
	LatencyBlocks uint64
	Outcome       DisputeOutcome
	Backers       []ValidatorIndex
	Seconds       float64 // block-time observations only
}
