package model

// CandidateStatus is the lifecycle stage of a parachain candidate.
type CandidateStatus uint8

const (
	StatusBacked CandidateStatus = iota
	StatusIncluded
	StatusTimedOut
	StatusDisputed
)

// String returns the stage name used in logs and metric labels.
func (s CandidateStatus) String() string {
	switch s {
	case StatusBacked:
		return "backed"
	case StatusIncluded:
		return "included"
	case StatusTimedOut:
		return "timed_out"
	case StatusDisputed:
		return "disputed"
	default:
		return "unknown"
	}
}

// DisputeOutcome is the conclusion of a candidate dispute.
type DisputeOutcome uint8

const (
	DisputeInvalid DisputeOutcome = iota
	DisputeValid
)

// String returns the outcome name used in metric labels.
func (o DisputeOutcome) String() string {
	if o == DisputeValid {
		return "valid"
	}
	return "invalid"
}

// CandidateRecord is everything observed about a single candidate at a
// single relay parent. Status transitions are monotonic: the tracker never
// moves a record backwards in the lifecycle.
type CandidateRecord struct {
	ParaID        ParaID
	CandidateHash Hash
	RelayParent   BlockRef
	Backers       []ValidatorIndex

	// Availability bitfield coverage: bits set vs the maximum possible
	// (the active validator count).
	AvailabilityBits uint32
	MaxBits          uint32

	Status  CandidateStatus
	Outcome DisputeOutcome // meaningful only when Status == StatusDisputed

	// Relay chain heights where the stage was first observed. Zero means
	// the stage has not been reached.
	BackedAt   uint64
	IncludedAt uint64

	// LocalTimeout marks a TimedOut status that was derived locally from
	// the timeout window rather than sourced from the chain.
	LocalTimeout bool
}

// DataAvailable reports whether more than 2/3 of availability bits are set.
func (c *CandidateRecord) DataAvailable() bool {
	return c.AvailabilityBits > (c.MaxBits/3)*2
}

// LowBitfieldPropagation reports a bitfield count at or below the 2/3
// threshold while the candidate is still waiting for inclusion.
func (c *CandidateRecord) LowBitfieldPropagation() bool {
	return c.MaxBits > 0 && c.Status == StatusBacked && c.AvailabilityBits <= (c.MaxBits/3)*2
}

// SubscriptionStatus is the connection state of one chain subscriber.
type SubscriptionStatus uint8

const (
	SubscriptionConnecting SubscriptionStatus = iota
	SubscriptionSubscribed
	SubscriptionDisconnected
)

// String returns the state name used in logs and metric labels.
func (s SubscriptionStatus) String() string {
	switch s {
	case SubscriptionConnecting:
		return "connecting"
	case SubscriptionSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

// SubscriptionState is owned exclusively by its subscriber instance.
type SubscriptionState struct {
	URL                 string
	LastSeenHeight      uint64
	LastFinalizedHeight uint64
	Status              SubscriptionStatus
}
