// Package subscriber maintains live head subscriptions against chain nodes
// and turns decoded on-chain records into pipeline events.
package subscriber

import (
	"context"
	"time"

	"github.com/relaywatch/relaywatch-backend/internal/model"
)

// Well-known storage keys read per block.
var (
	KeyCandidateEvents   = []byte(":parachains:candidate_events")
	KeySessionValidators = []byte(":session:validators")
)

// HeadEvent is one header notification from a node subscription. Ref.Hash
// may be zero when the notification carries only height and parent hash;
// the subscriber resolves it via BlockHash.
type HeadEvent struct {
	Ref       model.BlockRef
	Finalized bool
}

// Conn is one live node connection with both head subscriptions active.
type Conn interface {
	// Next blocks until the next head notification or a connection error.
	Next(ctx context.Context) (HeadEvent, error)
	// BlockHash resolves the canonical block hash at a height.
	BlockHash(ctx context.Context, height uint64) (model.Hash, error)
	// ReadStorage fetches a storage value at a block. A nil payload with a
	// nil error means the key is empty at that block.
	ReadStorage(ctx context.Context, key []byte, at model.Hash) ([]byte, error)
	Close() error
}

// Dialer opens node connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// RPCMetrics records per-call RPC outcomes.
type RPCMetrics interface {
	Observe(operation string, err error, started time.Time)
}

// Metrics records subscription-level observations.
type Metrics interface {
	SetConnectionStatus(url string, status model.SubscriptionStatus)
	ObserveHead(url string, finalized bool)
	ObserveDecodeFailure(url string)
}
